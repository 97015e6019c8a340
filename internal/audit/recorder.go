package audit

import (
	"context"
	"math"
	"time"

	"skylink.org/internal/ids"
	"skylink.org/internal/obs"
)

// Recorder builds events and hands them to the sink. A sink failure never
// fails the request being audited; it is reported to the operational log.
type Recorder struct {
	service string
	sink    Sink
	now     func() time.Time
}

// NewRecorder builds a recorder for the named service.
func NewRecorder(service string, sink Sink) *Recorder {
	return &Recorder{service: service, sink: sink, now: time.Now}
}

// WithClock overrides the time source. Useful for tests.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	if now != nil {
		r.now = now
	}
	return r
}

// Log emits one event, filling id, timestamp, service and the default
// category/severity for the event type. Returns the generated event id.
func (r *Recorder) Log(ctx context.Context, e Event) string {
	e.EventID = ids.NewEvent()
	e.Timestamp = r.now().UTC()
	e.Service = r.service
	if e.Category == "" || e.Severity == "" {
		cat, sev := metadataFor(e.EventType)
		if e.Category == "" {
			e.Category = cat
		}
		if e.Severity == "" {
			e.Severity = sev
		}
	}
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	if e.Action == "" {
		e.Action = "access"
	}
	if r.sink != nil {
		if err := r.sink.Write(ctx, e); err != nil {
			obs.Logger().Error().Err(err).Str("event_type", string(e.EventType)).Msg("audit sink write failed")
		}
	}
	return e.EventID
}

// AuthSuccess records a successful token issuance.
func (r *Recorder) AuthSuccess(ctx context.Context, actorID, ip, traceID string) string {
	return r.Log(ctx, Event{
		EventType: EventAuthSuccess,
		Actor:     Actor{Type: ActorAircraft, ID: actorID, IP: ip},
		Resource:  Resource{Type: ResourceToken},
		Action:    "create",
		Outcome:   OutcomeSuccess,
		Details:   map[string]any{"method": "jwt_rs256"},
		TraceID:   traceID,
	})
}

// AuthFailure records a failed token issuance attempt.
func (r *Recorder) AuthFailure(ctx context.Context, actorID, ip, traceID, reason string) string {
	actorType := ActorUnknown
	if actorID != "" {
		actorType = ActorAircraft
	}
	return r.Log(ctx, Event{
		EventType: EventAuthFailure,
		Actor:     Actor{Type: actorType, ID: actorID, IP: ip},
		Resource:  Resource{Type: ResourceToken},
		Action:    "create",
		Outcome:   OutcomeFailure,
		Details:   map[string]any{"reason": reason},
		TraceID:   traceID,
	})
}

// TokenExpired records rejection of an expired token.
func (r *Recorder) TokenExpired(ctx context.Context, ip, traceID string) string {
	return r.Log(ctx, Event{
		EventType: EventAuthTokenExpired,
		Actor:     Actor{Type: ActorUnknown, IP: ip},
		Resource:  Resource{Type: ResourceToken},
		Action:    "validate",
		Outcome:   OutcomeDenied,
		Details:   map[string]any{"reason": "token_expired"},
		TraceID:   traceID,
	})
}

// TokenInvalid records rejection of a token for the given reason. The token
// itself is never part of the event.
func (r *Recorder) TokenInvalid(ctx context.Context, ip, traceID, reason string) string {
	return r.Log(ctx, Event{
		EventType: EventAuthTokenInvalid,
		Actor:     Actor{Type: ActorUnknown, IP: ip},
		Resource:  Resource{Type: ResourceToken},
		Action:    "validate",
		Outcome:   OutcomeDenied,
		Details:   map[string]any{"reason": reason},
		TraceID:   traceID,
	})
}

// CNMismatch records a certificate/token identity disagreement.
func (r *Recorder) CNMismatch(ctx context.Context, tokenSubject, certCN, ip, traceID string) string {
	return r.Log(ctx, Event{
		EventType: EventMTLSCNMismatch,
		Actor:     Actor{Type: ActorUnknown, IP: ip},
		Resource:  Resource{Type: ResourceCertificate},
		Action:    "validate",
		Outcome:   OutcomeDenied,
		Details:   map[string]any{"jwt_sub": tokenSubject, "cert_cn": certCN},
		TraceID:   traceID,
	})
}

// AuthzFailure records a denied permission or role check.
func (r *Recorder) AuthzFailure(ctx context.Context, actorID, role, required, endpoint, ip, traceID string) string {
	return r.Log(ctx, Event{
		EventType: EventAuthzFailure,
		Actor:     Actor{Type: ActorAircraft, ID: actorID, IP: ip},
		Resource:  Resource{Type: ResourceRoute, ID: endpoint},
		Action:    "access",
		Outcome:   OutcomeDenied,
		Details:   map[string]any{"role": role, "required": required},
		TraceID:   traceID,
	})
}

// RateLimitExceeded records a 429.
func (r *Recorder) RateLimitExceeded(ctx context.Context, actorID, endpoint, limit, ip, traceID string) string {
	return r.Log(ctx, Event{
		EventType: EventRateLimitExceeded,
		Actor:     Actor{Type: ActorAircraft, ID: actorID, IP: ip},
		Resource:  Resource{Type: ResourceRoute, ID: endpoint},
		Action:    "access",
		Outcome:   OutcomeDenied,
		Details:   map[string]any{"endpoint": endpoint, "limit": limit},
		TraceID:   traceID,
	})
}

// WeatherAccessed records a weather read. Coordinates are rounded to two
// decimals so precise positions stay out of the trail.
func (r *Recorder) WeatherAccessed(ctx context.Context, actorID string, lat, lon float64, ip, traceID string) string {
	return r.Log(ctx, Event{
		EventType: EventWeatherAccessed,
		Actor:     Actor{Type: ActorAircraft, ID: actorID, IP: ip},
		Resource:  Resource{Type: ResourceWeather},
		Action:    "read",
		Outcome:   OutcomeSuccess,
		Details:   map[string]any{"lat": round2(lat), "lon": round2(lon)},
		TraceID:   traceID,
	})
}

// ContactsAccessed records a contacts read. The body is opaque to the
// gateway, so no contact data can appear here.
func (r *Recorder) ContactsAccessed(ctx context.Context, actorID, ip, traceID string) string {
	return r.Log(ctx, Event{
		EventType: EventContactsAccessed,
		Actor:     Actor{Type: ActorAircraft, ID: actorID, IP: ip},
		Resource:  Resource{Type: ResourceContact},
		Action:    "read",
		Outcome:   OutcomeSuccess,
		TraceID:   traceID,
	})
}

// TelemetryForwarded records a telemetry write relayed downstream.
func (r *Recorder) TelemetryForwarded(ctx context.Context, actorID string, status int, ip, traceID string) string {
	return r.Log(ctx, Event{
		EventType: EventTelemetryForward,
		Actor:     Actor{Type: ActorAircraft, ID: actorID, IP: ip},
		Resource:  Resource{Type: ResourceTelemetry},
		Action:    "create",
		Outcome:   OutcomeSuccess,
		Details:   map[string]any{"upstream_status": status},
		TraceID:   traceID,
	})
}

// PipelineError records an unclassified failure inside the gating pipeline.
func (r *Recorder) PipelineError(ctx context.Context, endpoint, ip, traceID string) string {
	return r.Log(ctx, Event{
		EventType: EventPipelineError,
		Actor:     Actor{Type: ActorUnknown, IP: ip},
		Resource:  Resource{Type: ResourceRoute, ID: endpoint},
		Action:    "access",
		Outcome:   OutcomeError,
		Details:   map[string]any{"reason": "unclassified_error"},
		TraceID:   traceID,
	})
}

// ServiceStarted records process startup.
func (r *Recorder) ServiceStarted(ctx context.Context, version string) string {
	details := map[string]any{}
	if version != "" {
		details["version"] = version
	}
	return r.Log(ctx, Event{
		EventType: EventServiceStarted,
		Actor:     Actor{Type: ActorSystem},
		Resource:  Resource{Type: ResourceService, ID: r.service},
		Action:    "start",
		Outcome:   OutcomeSuccess,
		Details:   details,
	})
}

// ServiceStopped records process shutdown.
func (r *Recorder) ServiceStopped(ctx context.Context, reason string) string {
	return r.Log(ctx, Event{
		EventType: EventServiceStopped,
		Actor:     Actor{Type: ActorSystem},
		Resource:  Resource{Type: ResourceService, ID: r.service},
		Action:    "stop",
		Outcome:   OutcomeSuccess,
		Details:   map[string]any{"reason": reason},
	})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
