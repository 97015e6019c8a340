// Package auth implements RS256 access token issuance and verification for
// the gateway. The signing algorithm is pinned server-side; tokens are never
// logged and never echoed back to callers.
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"skylink.org/internal/keys"
)

// Claims carried by a gateway access token. The subject is the aircraft ID;
// role is optional and defaults verifier-side when absent.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs short-lived access tokens for aircraft identities.
type Issuer struct {
	store    *keys.Store
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewIssuer builds an issuer bound to the configured audience and lifetime.
func NewIssuer(store *keys.Store, audience string, ttl time.Duration) *Issuer {
	return &Issuer{store: store, audience: audience, ttl: ttl, now: time.Now}
}

// WithClock overrides the time source. Useful for tests.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	if now != nil {
		i.now = now
	}
	return i
}

// TTL returns the configured token lifetime.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue signs a token with claims {sub, aud, iat, exp} and, when role is
// non-empty, a role claim. exp-iat always equals the configured lifetime.
//
// Two calls for the same identity within the same second produce identical
// tokens (iat has second granularity and the claim set carries no nonce).
// Token uniqueness is only guaranteed when iat differs.
func (i *Issuer) Issue(identity, role string) (string, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return "", fmt.Errorf("auth: identity is required")
	}
	key, err := i.store.Private()
	if err != nil {
		// keys.ErrKeyLoad carries no key material; safe to propagate.
		return "", err
	}

	now := i.now().UTC()
	claims := Claims{
		Role: strings.TrimSpace(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		// Do not wrap the library error: it may reference key parameters.
		return "", fmt.Errorf("auth: sign token failed")
	}
	return signed, nil
}
