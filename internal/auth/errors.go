package auth

import "fmt"

// Error is a pipeline rejection with a stable, client-safe code/message pair.
// The HTTP layer picks the terminal status from Status and never exposes
// anything beyond Code and Message.
type Error struct {
	Status  int    // terminal HTTP status (401, 403, 429)
	Code    string // machine-readable envelope code
	Message string // human-readable, client-safe
	Reason  string // audit reason, never sent to the client

	// RetryAfter is the number of seconds until the rate window resets.
	// Only set for rate limit rejections.
	RetryAfter int
}

func (e *Error) Error() string { return e.Message }

// Fixed taxonomy. Authentication failures (401) always precede
// authorization failures (403), which precede rate limiting (429).
var (
	ErrMissingAuthHeader = &Error{
		Status: 401, Code: "UNAUTHORIZED",
		Message: "Missing Authorization header",
		Reason:  "missing_header",
	}
	ErrMalformedAuthHeader = &Error{
		Status: 401, Code: "UNAUTHORIZED",
		Message: "Invalid Authorization header format (expected: Bearer <token>)",
		Reason:  "malformed_header",
	}
	// ErrInvalidSignature covers malformed tokens, wrong or unset
	// algorithms and tampered payloads alike.
	ErrInvalidSignature = &Error{
		Status: 401, Code: "UNAUTHORIZED",
		Message: "Invalid token",
		Reason:  "invalid_signature",
	}
	ErrTokenExpired = &Error{
		Status: 401, Code: "UNAUTHORIZED",
		Message: "Token has expired",
		Reason:  "token_expired",
	}
	ErrInvalidAudience = &Error{
		Status: 401, Code: "UNAUTHORIZED",
		Message: "Invalid token audience",
		Reason:  "invalid_audience",
	}
	ErrCertificateSubjectMismatch = &Error{
		Status: 403, Code: "FORBIDDEN",
		Message: "Certificate CN does not match token subject",
		Reason:  "cn_mismatch",
	}
	ErrRoleNotAllowed = &Error{
		Status: 403, Code: "FORBIDDEN",
		Message: "Role not authorized for this resource",
		Reason:  "role_not_allowed",
	}
)

// PermissionDenied names the first missing permission in the response body.
// Exposing the permission key is a deliberate debuggability tradeoff.
func PermissionDenied(missing string) *Error {
	return &Error{
		Status: 403, Code: "FORBIDDEN",
		Message: fmt.Sprintf("Permission denied: %s required", missing),
		Reason:  "permission_denied",
	}
}

// RateLimited carries the seconds remaining in the current window.
func RateLimited(retryAfter int) *Error {
	if retryAfter < 1 {
		retryAfter = 1
	}
	return &Error{
		Status: 429, Code: "RATE_LIMIT_EXCEEDED",
		Message:    "Rate limit exceeded",
		Reason:     "rate_limited",
		RetryAfter: retryAfter,
	}
}
