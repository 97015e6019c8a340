package httpapi

import (
	"errors"
	"net/http"

	"skylink.org/internal/auth"
	"skylink.org/internal/keys"
	"skylink.org/internal/mtls"
	"skylink.org/internal/obs"
	"skylink.org/internal/ratelimit"
	"skylink.org/internal/rbac"
)

var publicPaths = []string{
	"/auth/token",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/openapi.yaml",
	"/",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// withAuth runs the authentication stage of the pipeline on every protected
// path. Ordering is fixed: token verification first (401), then certificate
// correlation (403). Authorization and rate limiting run per route, after
// this middleware, so a 401 always wins over a 403 and a 403 over a 429.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ip := ratelimit.ClientIP(r)
		claims, err := a.verifier.VerifyHeader(r.Header.Get("Authorization"))
		if err != nil {
			var authErr *auth.Error
			if errors.As(err, &authErr) {
				obs.AuthFailure(authErr.Reason)
				switch authErr {
				case auth.ErrTokenExpired:
					a.recorder.TokenExpired(r.Context(), ip, traceID(r))
				default:
					a.recorder.TokenInvalid(r.Context(), ip, traceID(r), authErr.Reason)
				}
				writeAuthError(w, authErr)
				return
			}
			if errors.Is(err, keys.ErrKeyLoad) {
				// Fail closed: with no public key there is no way to admit
				// anyone.
				obs.Logger().Error().Err(err).Msg("key store unavailable")
				a.recorder.PipelineError(r.Context(), r.URL.Path, ip, traceID(r))
				writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Service unavailable")
				return
			}
			a.recorder.PipelineError(r.Context(), r.URL.Path, ip, traceID(r))
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Authentication error")
			return
		}

		if cn := mtls.PeerCommonName(r); cn != "" {
			if err := mtls.Correlate(cn, claims.Subject); err != nil {
				obs.AuthFailure("cn_mismatch")
				a.recorder.CNMismatch(r.Context(), claims.Subject, cn, ip, traceID(r))
				var authErr *auth.Error
				if errors.As(err, &authErr) {
					writeAuthError(w, authErr)
				} else {
					writeError(w, http.StatusForbidden, "FORBIDDEN", "Certificate CN does not match token subject")
				}
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(auth.ContextWithClaims(r.Context(), claims)))
	})
}

// secure wraps a protected handler with the authorization and rate limit
// stages. Required permissions are checked first; the rate budget is only
// consumed by requests that passed every earlier gate.
func (a *API) secure(h http.HandlerFunc, required ...rbac.Permission) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			writeAuthError(w, auth.ErrMissingAuthHeader)
			return
		}
		ip := ratelimit.ClientIP(r)

		role := rbac.RoleFromString(claims.Role)
		if missing := a.rbac.RequirePermissions(role, required...); len(missing) > 0 {
			a.recorder.AuthzFailure(r.Context(), claims.Subject, string(role), string(missing[0]), r.URL.Path, ip, traceID(r))
			writeAuthError(w, auth.PermissionDenied(string(missing[0])))
			return
		}

		if allowed, retryAfter := a.limiter.Allow(ratelimit.BestEffortKey(r)); !allowed {
			obs.RateLimitExceeded(r.URL.Path, r.Method)
			a.recorder.RateLimitExceeded(r.Context(), claims.Subject, r.URL.Path, a.limitDescription, ip, traceID(r))
			writeAuthError(w, auth.RateLimited(retryAfter))
			return
		}

		h(w, r)
	}
}
