// Package httpapi is the HTTP surface of the gateway: the token endpoint,
// the gated downstream routes and the operational endpoints. Every protected
// request passes the same ordered pipeline before anything is forwarded.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"

	"skylink.org/internal/audit"
	"skylink.org/internal/auth"
	"skylink.org/internal/obs"
	"skylink.org/internal/proxy"
	"skylink.org/internal/ratelimit"
	"skylink.org/internal/rbac"
)

// 64 KiB is generous for token requests and telemetry batches alike.
const maxBodyBytes = 64 << 10

// ReadyProbe checks dependencies for /readyz (audit DB ping when configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options carries the wired dependencies for the HTTP layer.
type Options struct {
	Issuer   *auth.Issuer
	Verifier *auth.Verifier
	RBAC     *rbac.Evaluator
	Limiter  *ratelimit.Limiter
	Recorder *audit.Recorder

	Weather   proxy.Forwarder
	Contacts  proxy.Forwarder
	Telemetry proxy.Forwarder

	ReadyProbe ReadyProbe
	Version    string

	// LimitDescription is the human-readable limit recorded on 429 audit
	// events, e.g. "60/min".
	LimitDescription string
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	issuer     *auth.Issuer
	verifier   *auth.Verifier
	rbac       *rbac.Evaluator
	limiter    *ratelimit.Limiter
	recorder   *audit.Recorder
	weather    proxy.Forwarder
	contacts   proxy.Forwarder
	telemetry  proxy.Forwarder
	readyProbe ReadyProbe
	version    string

	limitDescription string
}

func New(opts Options) *API {
	a := &API{
		mux:              http.NewServeMux(),
		issuer:           opts.Issuer,
		verifier:         opts.Verifier,
		rbac:             opts.RBAC,
		limiter:          opts.Limiter,
		recorder:         opts.Recorder,
		weather:          opts.Weather,
		contacts:         opts.Contacts,
		telemetry:        opts.Telemetry,
		readyProbe:       opts.ReadyProbe,
		version:          opts.Version,
		limitDescription: opts.LimitDescription,
	}
	if a.rbac == nil {
		a.rbac = rbac.NewEvaluator()
	}

	// token issuance
	a.mux.HandleFunc("/auth/token", a.handleAuthToken)

	// gated downstream routes
	a.mux.HandleFunc("/weather/current", a.secure(a.handleWeather, rbac.PermWeatherRead))
	a.mux.HandleFunc("/contacts", a.secure(a.handleContacts, rbac.PermContactsRead))
	a.mux.HandleFunc("/telemetry/events", a.secure(a.handleTelemetry, rbac.PermTelemetryWrite))

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// OpenAPI YAML
	a.mux.HandleFunc("/openapi.yaml", a.OpenAPISpec)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, maxBodyBytes)
	h = Logging(h)
	h = SecurityHeaders(h)
	h = Trace(h)
	return obs.Instrument(h)
}
