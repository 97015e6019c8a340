package httpapi

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"

	"skylink.org/internal/auth"
	"skylink.org/internal/proxy"
	"skylink.org/internal/ratelimit"
)

var langPattern = regexp.MustCompile(`^[a-z]{2}(-[A-Za-z]{2})?$`)

// handleWeather validates coordinates and relays the request to the weather
// service. The downstream body is passed back untouched.
func (a *API) handleWeather(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	q := r.URL.Query()
	lat, err := parseCoordinate(q.Get("lat"), 90)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "lat must be a number between -90 and 90")
		return
	}
	lon, err := parseCoordinate(q.Get("lon"), 180)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "lon must be a number between -180 and 180")
		return
	}
	query := url.Values{}
	query.Set("lat", q.Get("lat"))
	query.Set("lon", q.Get("lon"))
	if lang := q.Get("lang"); lang != "" {
		if !langPattern.MatchString(lang) {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "lang must be a language code like en or en-US")
			return
		}
		query.Set("lang", lang)
	}

	resp, err := a.weather.Forward(r.Context(), proxy.Request{
		Method: http.MethodGet,
		Path:   "/weather/current",
		Query:  query,
		Header: r.Header,
	})
	if err != nil {
		writeUpstreamError(w, err, "weather")
		return
	}

	if sub, ok := auth.SubjectFromContext(r.Context()); ok {
		a.recorder.WeatherAccessed(r.Context(), sub, lat, lon, ratelimit.ClientIP(r), traceID(r))
	}
	relay(w, resp)
}

// handleContacts relays the emergency contact list. The gateway never parses
// the list; only the access itself is recorded.
func (a *API) handleContacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	resp, err := a.contacts.Forward(r.Context(), proxy.Request{
		Method: http.MethodGet,
		Path:   "/contacts",
		Query:  r.URL.Query(),
		Header: r.Header,
	})
	if err != nil {
		writeUpstreamError(w, err, "contacts")
		return
	}

	if sub, ok := auth.SubjectFromContext(r.Context()); ok {
		a.recorder.ContactsAccessed(r.Context(), sub, ratelimit.ClientIP(r), traceID(r))
	}
	relay(w, resp)
}

// handleTelemetry relays a telemetry batch downstream as opaque bytes.
func (a *API) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "failed to read request body")
		return
	}

	resp, err := a.telemetry.Forward(r.Context(), proxy.Request{
		Method: http.MethodPost,
		Path:   "/telemetry/events",
		Header: r.Header,
		Body:   body,
	})
	if err != nil {
		writeUpstreamError(w, err, "telemetry")
		return
	}

	if sub, ok := auth.SubjectFromContext(r.Context()); ok {
		a.recorder.TelemetryForwarded(r.Context(), sub, resp.Status, ratelimit.ClientIP(r), traceID(r))
	}
	relay(w, resp)
}

func parseCoordinate(raw string, bound float64) (float64, error) {
	if raw == "" {
		return 0, errors.New("missing")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < -bound || v > bound {
		return 0, errors.New("out of range")
	}
	return v, nil
}

func writeUpstreamError(w http.ResponseWriter, err error, service string) {
	switch {
	case errors.Is(err, proxy.ErrUpstreamTimeout):
		writeError(w, http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT", service+" service timed out")
	default:
		writeError(w, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", service+" service is unavailable")
	}
}

func relay(w http.ResponseWriter, resp *proxy.Response) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}
