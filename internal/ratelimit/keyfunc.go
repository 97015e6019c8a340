package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// BestEffortKey resolves the rate accounting key for a request. It prefers
// the subject of the bearer token, read WITHOUT signature verification, and
// falls back to the connection's remote address when no subject is
// obtainable.
//
// The result is non-authoritative by construction and must only ever feed
// rate accounting, never a trust or authorization decision.
func BestEffortKey(r *http.Request) string {
	if sub := unverifiedSubject(r.Header.Get("Authorization")); sub != "" {
		return sub
	}
	return clientIP(r)
}

func unverifiedSubject(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(parts[1], claims); err != nil {
		return ""
	}
	sub, _ := claims["sub"].(string)
	return strings.TrimSpace(sub)
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientIP exposes the connection-derived address for audit actor fields.
func ClientIP(r *http.Request) string {
	return clientIP(r)
}
