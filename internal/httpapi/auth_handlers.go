package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"skylink.org/internal/keys"
	"skylink.org/internal/obs"
	"skylink.org/internal/ratelimit"
)

type tokenRequest struct {
	Identity string `json:"identity"`
	Role     string `json:"role"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// handleAuthToken issues a short-lived RS256 access token for an aircraft
// identity. The request body is strict: unknown fields are rejected and the
// identity must be a UUID. The token itself never reaches a log or audit
// record.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	ip := ratelimit.ClientIP(r)

	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errBodyTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
			return
		}
		a.recorder.AuthFailure(r.Context(), "", ip, traceID(r), "invalid_request_body")
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	identity := strings.TrimSpace(req.Identity)
	if identity == "" {
		a.recorder.AuthFailure(r.Context(), "", ip, traceID(r), "missing_identity")
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "identity is required")
		return
	}
	if _, err := uuid.Parse(identity); err != nil {
		a.recorder.AuthFailure(r.Context(), "", ip, traceID(r), "invalid_identity")
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "identity must be a UUID")
		return
	}

	token, err := a.issuer.Issue(identity, strings.TrimSpace(req.Role))
	if err != nil {
		if errors.Is(err, keys.ErrKeyLoad) {
			obs.Logger().Error().Err(err).Msg("key store unavailable")
		}
		a.recorder.AuthFailure(r.Context(), identity, ip, traceID(r), "issuance_failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Token issuance failed")
		return
	}

	a.recorder.AuthSuccess(r.Context(), identity, ip, traceID(r))
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(a.issuer.TTL().Seconds()),
	})
}
