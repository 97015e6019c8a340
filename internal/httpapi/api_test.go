package httpapi

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"skylink.org/internal/audit"
	"skylink.org/internal/auth"
	"skylink.org/internal/keys"
	"skylink.org/internal/proxy"
	"skylink.org/internal/ratelimit"
	"skylink.org/internal/rbac"
)

const testAudience = "skylink"

type stubForwarder struct {
	status int
	body   string
	err    error
	last   proxy.Request
	calls  int
}

func (s *stubForwarder) Forward(_ context.Context, req proxy.Request) (*proxy.Response, error) {
	s.last = req
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &proxy.Response{Status: s.status, ContentType: "application/json", Body: []byte(s.body)}, nil
}

type testEnv struct {
	t        *testing.T
	baseURL  string
	client   *http.Client
	api      *API
	issuer   *auth.Issuer
	weather  *stubForwarder
	contacts *stubForwarder
	telem    *stubForwarder
	auditLog *bytes.Buffer
}

func newTestEnv(t *testing.T, perMinute int) *testEnv {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	privatePEM := string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	publicPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pub}))
	store := keys.NewStore(privatePEM, publicPEM)

	env := &testEnv{
		t:        t,
		issuer:   auth.NewIssuer(store, testAudience, 15*time.Minute),
		weather:  &stubForwarder{status: http.StatusOK, body: `{"temp_c":-40}`},
		contacts: &stubForwarder{status: http.StatusOK, body: `{"contacts":[]}`},
		telem:    &stubForwarder{status: http.StatusAccepted, body: `{"accepted":1}`},
		auditLog: &bytes.Buffer{},
	}

	api := New(Options{
		Issuer:           env.issuer,
		Verifier:         auth.NewVerifier(store, testAudience),
		RBAC:             rbac.NewEvaluator(),
		Limiter:          ratelimit.New(perMinute, time.Minute),
		Recorder:         audit.NewRecorder("skylink-gateway", audit.NewLogSink(env.auditLog)),
		Weather:          env.weather,
		Contacts:         env.contacts,
		Telemetry:        env.telem,
		Version:          "test",
		LimitDescription: "60/min",
	})

	env.api = api
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	env.baseURL = srv.URL
	env.client = srv.Client()
	return env
}

func (e *testEnv) token(role string) string {
	e.t.Helper()
	token, err := e.issuer.Issue(uuid.NewString(), role)
	if err != nil {
		e.t.Fatalf("issue token: %v", err)
	}
	return token
}

func (e *testEnv) do(method, path string, body []byte, headers map[string]string) *http.Response {
	e.t.Helper()
	req, err := http.NewRequest(method, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		e.t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeError(t *testing.T, resp *http.Response) (code, message string) {
	t.Helper()
	defer resp.Body.Close()
	var envl struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envl); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return envl.Error.Code, envl.Error.Message
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestTokenEndpointIssuesToken(t *testing.T) {
	env := newTestEnv(t, 60)

	body, _ := json.Marshal(map[string]string{
		"identity": uuid.NewString(),
		"role":     "aircraft_premium",
	})
	resp := env.do(http.MethodPost, "/auth/token", body, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tr.AccessToken == "" || tr.TokenType != "Bearer" {
		t.Fatalf("unexpected response: %+v", tr)
	}
	if tr.ExpiresIn != 900 {
		t.Fatalf("expires_in = %d, want 900", tr.ExpiresIn)
	}
	if env.auditLog.Len() == 0 {
		t.Fatalf("expected an audit record for token issuance")
	}
	if bytes.Contains(env.auditLog.Bytes(), []byte(tr.AccessToken)) {
		t.Fatalf("audit trail must not contain the issued token")
	}
}

func TestTokenEndpointValidation(t *testing.T) {
	env := newTestEnv(t, 60)

	cases := []struct {
		name string
		body string
	}{
		{"missing identity", `{}`},
		{"not a uuid", `{"identity":"tail-number-42"}`},
		{"unknown field", `{"identity":"` + uuid.NewString() + `","pilot":"x"}`},
		{"not json", `identity=42`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.do(http.MethodPost, "/auth/token", []byte(tc.body), nil)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			code, _ := decodeError(t, resp)
			if code != "VALIDATION_ERROR" {
				t.Fatalf("code = %q", code)
			}
		})
	}

	resp := env.do(http.MethodGet, "/auth/token", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d, want 405", resp.StatusCode)
	}
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	env := newTestEnv(t, 60)

	resp := env.do(http.MethodGet, "/weather/current?lat=1&lon=2", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") != "Bearer" {
		t.Fatalf("missing WWW-Authenticate header")
	}
	code, msg := decodeError(t, resp)
	if code != "UNAUTHORIZED" || msg != "Missing Authorization header" {
		t.Fatalf("got %q / %q", code, msg)
	}
	if env.weather.calls != 0 {
		t.Fatalf("upstream must not be called")
	}
}

func TestMalformedAuthorizationHeader(t *testing.T) {
	env := newTestEnv(t, 60)

	resp := env.do(http.MethodGet, "/contacts", nil, map[string]string{"Authorization": "Token abc"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	_, msg := decodeError(t, resp)
	if msg != "Invalid Authorization header format (expected: Bearer <token>)" {
		t.Fatalf("message = %q", msg)
	}
}

func TestAuthenticationPrecedesAuthorization(t *testing.T) {
	env := newTestEnv(t, 60)

	// An invalid token on a route the caller would also lack permission for
	// must produce 401, never 403.
	resp := env.do(http.MethodGet, "/contacts", nil, bearer("not.a.token"))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	code, msg := decodeError(t, resp)
	if code != "UNAUTHORIZED" || msg != "Invalid token" {
		t.Fatalf("got %q / %q", code, msg)
	}
}

func TestAuthorizationDeniesMissingPermission(t *testing.T) {
	env := newTestEnv(t, 60)

	resp := env.do(http.MethodGet, "/contacts", nil, bearer(env.token("aircraft_standard")))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	code, msg := decodeError(t, resp)
	if code != "FORBIDDEN" {
		t.Fatalf("code = %q", code)
	}
	if msg != "Permission denied: contacts:read required" {
		t.Fatalf("message = %q", msg)
	}
	if env.contacts.calls != 0 {
		t.Fatalf("upstream must not be called")
	}
}

func TestUnknownRoleGetsLeastPrivilege(t *testing.T) {
	env := newTestEnv(t, 60)

	// weather:read is granted to the default role
	resp := env.do(http.MethodGet, "/weather/current?lat=1&lon=2", nil, bearer(env.token("superuser")))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("weather status = %d, want 200", resp.StatusCode)
	}

	// contacts:read is not
	resp = env.do(http.MethodGet, "/contacts", nil, bearer(env.token("superuser")))
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("contacts status = %d, want 403", resp.StatusCode)
	}
}

func TestRateLimitReturnsRetryAfter(t *testing.T) {
	env := newTestEnv(t, 1)
	token := env.token("aircraft_standard")

	resp := env.do(http.MethodGet, "/weather/current?lat=1&lon=2", nil, bearer(token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first request status = %d", resp.StatusCode)
	}

	resp = env.do(http.MethodGet, "/weather/current?lat=1&lon=2", nil, bearer(token))
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After header")
	}
	code, _ := decodeError(t, resp)
	if code != "RATE_LIMIT_EXCEEDED" {
		t.Fatalf("code = %q", code)
	}
	if env.weather.calls != 1 {
		t.Fatalf("denied request must not reach the upstream, calls = %d", env.weather.calls)
	}
}

func TestAuthorizationFailureDoesNotConsumeRateBudget(t *testing.T) {
	env := newTestEnv(t, 1)
	token := env.token("aircraft_standard")

	// Two denied authorization attempts, then an authorized request: the
	// budget must still be intact.
	for i := 0; i < 2; i++ {
		resp := env.do(http.MethodGet, "/contacts", nil, bearer(token))
		resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("attempt %d status = %d, want 403", i+1, resp.StatusCode)
		}
	}
	resp := env.do(http.MethodGet, "/weather/current?lat=1&lon=2", nil, bearer(token))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authorized request status = %d, want 200", resp.StatusCode)
	}
}

func TestWeatherValidation(t *testing.T) {
	env := newTestEnv(t, 60)
	token := env.token("aircraft_standard")

	cases := []string{
		"/weather/current",
		"/weather/current?lat=91&lon=0",
		"/weather/current?lat=0&lon=181",
		"/weather/current?lat=abc&lon=0",
		"/weather/current?lat=0&lon=0&lang=english!",
	}
	for _, path := range cases {
		resp := env.do(http.MethodGet, path, nil, bearer(token))
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s status = %d, want 400", path, resp.StatusCode)
		}
		code, _ := decodeError(t, resp)
		if code != "VALIDATION_ERROR" {
			t.Fatalf("%s code = %q", path, code)
		}
	}
	if env.weather.calls != 0 {
		t.Fatalf("invalid requests must not reach the upstream")
	}
}

func TestWeatherRelaysUpstreamResponse(t *testing.T) {
	env := newTestEnv(t, 60)

	resp := env.do(http.MethodGet, "/weather/current?lat=51.5&lon=-0.1&lang=en", nil, bearer(env.token("aircraft_standard")))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"temp_c":-40}` {
		t.Fatalf("body = %q", body)
	}
	if env.weather.last.Query.Get("lat") != "51.5" || env.weather.last.Query.Get("lang") != "en" {
		t.Fatalf("query not forwarded: %v", env.weather.last.Query)
	}
	if !bytes.Contains(env.auditLog.Bytes(), []byte("WEATHER_ACCESSED")) {
		t.Fatalf("expected WEATHER_ACCESSED audit event")
	}
}

func TestWeatherUpstreamErrors(t *testing.T) {
	env := newTestEnv(t, 60)
	token := env.token("aircraft_standard")

	env.weather.err = proxy.ErrUpstreamTimeout
	resp := env.do(http.MethodGet, "/weather/current?lat=1&lon=2", nil, bearer(token))
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("timeout status = %d, want 504", resp.StatusCode)
	}
	code, _ := decodeError(t, resp)
	if code != "UPSTREAM_TIMEOUT" {
		t.Fatalf("code = %q", code)
	}

	env.weather.err = proxy.ErrUpstreamUnreachable
	resp = env.do(http.MethodGet, "/weather/current?lat=1&lon=2", nil, bearer(token))
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("unreachable status = %d, want 502", resp.StatusCode)
	}
	code, _ = decodeError(t, resp)
	if code != "UPSTREAM_UNAVAILABLE" {
		t.Fatalf("code = %q", code)
	}
}

func TestTelemetryForwardsBody(t *testing.T) {
	env := newTestEnv(t, 60)

	payload := []byte(`{"events":[{"kind":"position"}]}`)
	resp := env.do(http.MethodPost, "/telemetry/events", payload, bearer(env.token("aircraft_standard")))
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if string(env.telem.last.Body) != string(payload) {
		t.Fatalf("body not relayed: %q", env.telem.last.Body)
	}
	if !bytes.Contains(env.auditLog.Bytes(), []byte("TELEMETRY_FORWARDED")) {
		t.Fatalf("expected TELEMETRY_FORWARDED audit event")
	}
}

func TestTelemetryBodyCap(t *testing.T) {
	env := newTestEnv(t, 60)

	oversized := bytes.Repeat([]byte("x"), maxBodyBytes+1)
	resp := env.do(http.MethodPost, "/telemetry/events", oversized, bearer(env.token("aircraft_standard")))
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", resp.StatusCode)
	}
	code, _ := decodeError(t, resp)
	if code != "PAYLOAD_TOO_LARGE" {
		t.Fatalf("code = %q", code)
	}
	if env.telem.calls != 0 {
		t.Fatalf("oversized body must not be forwarded")
	}
}

func TestContactsAllowedForPremium(t *testing.T) {
	env := newTestEnv(t, 60)

	resp := env.do(http.MethodGet, "/contacts", nil, bearer(env.token("aircraft_premium")))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"contacts":[]}` {
		t.Fatalf("body = %q", body)
	}
}

func TestTraceIDPropagation(t *testing.T) {
	env := newTestEnv(t, 60)

	resp := env.do(http.MethodGet, "/weather/current?lat=1&lon=2", nil, func() map[string]string {
		h := bearer(env.token("aircraft_standard"))
		h["X-Trace-Id"] = "trace-from-caller"
		return h
	}())
	resp.Body.Close()
	if got := resp.Header.Get("X-Trace-Id"); got != "trace-from-caller" {
		t.Fatalf("response trace id = %q", got)
	}
	if got := env.weather.last.Header.Get("X-Trace-Id"); got != "trace-from-caller" {
		t.Fatalf("forwarded trace id = %q", got)
	}
}

func TestTraceIDGeneratedWhenAbsent(t *testing.T) {
	env := newTestEnv(t, 60)

	resp := env.do(http.MethodGet, "/healthz", nil, nil)
	resp.Body.Close()
	if resp.Header.Get("X-Trace-Id") == "" {
		t.Fatalf("expected generated X-Trace-Id")
	}
}

func TestOperationalEndpointsArePublic(t *testing.T) {
	env := newTestEnv(t, 60)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info", "/openapi.yaml", "/metrics"} {
		resp := env.do(http.MethodGet, path, nil, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	env := newTestEnv(t, 60)

	resp := env.do(http.MethodGet, "/healthz", nil, nil)
	resp.Body.Close()
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing X-Content-Type-Options")
	}
	if resp.Header.Get("X-Frame-Options") != "DENY" {
		t.Fatalf("missing X-Frame-Options")
	}
}

func TestCertificateSubjectMismatch(t *testing.T) {
	env := newTestEnv(t, 60)
	handler := env.api.Handler()

	token, err := env.issuer.Issue("aircraft-42", "aircraft_standard")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/weather/current?lat=1&lon=2", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.TLS = &tls.ConnectionState{
		PeerCertificates: []*x509.Certificate{
			{Subject: pkix.Name{CommonName: "aircraft-43"}},
		},
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
	if env.weather.calls != 0 {
		t.Fatalf("mismatched certificate must not reach the upstream")
	}
	if !bytes.Contains(env.auditLog.Bytes(), []byte("MTLS_CN_MISMATCH")) {
		t.Fatalf("expected MTLS_CN_MISMATCH audit event")
	}

	// Matching CN proceeds.
	req = httptest.NewRequest(http.MethodGet, "/weather/current?lat=1&lon=2", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.TLS = &tls.ConnectionState{
		PeerCertificates: []*x509.Certificate{
			{Subject: pkix.Name{CommonName: "aircraft-42"}},
		},
	}
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("matching CN status = %d, want 200", rr.Code)
	}
}

func TestUnknownPathBehindAuth(t *testing.T) {
	env := newTestEnv(t, 60)

	// Unknown paths sit behind the same gate as everything else.
	resp := env.do(http.MethodGet, "/nope", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	resp = env.do(http.MethodGet, "/nope", nil, bearer(env.token("admin")))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("authenticated status = %d, want 404", resp.StatusCode)
	}
	code, _ := decodeError(t, resp)
	if code != "NOT_FOUND" {
		t.Fatalf("code = %q", code)
	}
}
