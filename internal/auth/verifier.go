package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"skylink.org/internal/keys"
)

// Verifier validates presented bearer tokens against the RS256 public key.
type Verifier struct {
	store    *keys.Store
	audience string
	now      func() time.Time
}

// NewVerifier builds a verifier bound to the configured audience.
func NewVerifier(store *keys.Store, audience string) *Verifier {
	return &Verifier{store: store, audience: audience, now: time.Now}
}

// WithClock overrides the time source. Useful for tests.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	if now != nil {
		v.now = now
	}
	return v
}

// VerifyHeader runs the ordered checks over an Authorization header value:
// presence, Bearer format, RS256 signature, expiry, audience. Each failure
// short-circuits with a client-safe *Error; key-store failures surface as
// keys.ErrKeyLoad so the caller can refuse traffic instead of failing open.
func (v *Verifier) VerifyHeader(authorization string) (*Claims, error) {
	token, err := extractBearerToken(authorization)
	if err != nil {
		return nil, err
	}
	return v.verify(token)
}

// extractBearerToken accepts exactly a case-insensitive Bearer scheme
// followed by one non-empty token.
func extractBearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", ErrMissingAuthHeader
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", ErrMalformedAuthHeader
	}
	return parts[1], nil
}

func (v *Verifier) verify(token string) (*Claims, error) {
	publicKey, err := v.store.Public()
	if err != nil {
		return nil, err
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		// The accepted algorithm is pinned here, never read from the
		// token header: alg=none and HS256 (including HMAC over the
		// public key bytes) fail before any claim is inspected.
		if t.Method != jwt.SigningMethodRS256 {
			return nil, ErrInvalidSignature
		}
		return publicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			return nil, ErrInvalidAudience
		default:
			// Malformed segments, bad signatures, wrong algorithms: one
			// undifferentiated failure so nothing about the token leaks.
			return nil, ErrInvalidSignature
		}
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidSignature
	}
	return claims, nil
}
