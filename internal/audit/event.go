// Package audit emits the structured security trail for the gating
// pipeline. Events are write-once and append-only; they carry opaque
// identifiers only, never tokens, key material, names or emails.
package audit

import "time"

// EventType names a security-relevant operation.
type EventType string

const (
	EventAuthSuccess       EventType = "AUTH_SUCCESS"
	EventAuthFailure       EventType = "AUTH_FAILURE"
	EventAuthTokenExpired  EventType = "AUTH_TOKEN_EXPIRED"
	EventAuthTokenInvalid  EventType = "AUTH_TOKEN_INVALID"
	EventMTLSCNMismatch    EventType = "MTLS_CN_MISMATCH"
	EventAuthzFailure      EventType = "AUTHZ_FAILURE"
	EventRateLimitExceeded EventType = "RATE_LIMIT_EXCEEDED"
	EventWeatherAccessed   EventType = "WEATHER_ACCESSED"
	EventContactsAccessed  EventType = "CONTACTS_ACCESSED"
	EventTelemetryForward  EventType = "TELEMETRY_FORWARDED"
	EventServiceStarted    EventType = "SERVICE_STARTED"
	EventServiceStopped    EventType = "SERVICE_STOPPED"
	EventPipelineError     EventType = "PIPELINE_ERROR"
)

// Category groups events for downstream filtering.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategorySecurity       Category = "security"
	CategoryData           Category = "data"
	CategorySystem         Category = "system"
)

// Severity grades events.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Outcome records how the audited action ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
	OutcomeError   Outcome = "error"
)

// ActorType identifies what kind of caller acted.
type ActorType string

const (
	ActorAircraft ActorType = "aircraft"
	ActorSystem   ActorType = "system"
	ActorUnknown  ActorType = "unknown"
)

// ResourceType identifies what was acted on.
type ResourceType string

const (
	ResourceToken       ResourceType = "token"
	ResourceCertificate ResourceType = "certificate"
	ResourceWeather     ResourceType = "weather"
	ResourceContact     ResourceType = "contact"
	ResourceTelemetry   ResourceType = "telemetry"
	ResourceService     ResourceType = "service"
	ResourceRoute       ResourceType = "route"
)

// Actor is who performed the action. ID is an opaque identifier, never a
// name or email.
type Actor struct {
	Type ActorType `json:"type"`
	ID   string    `json:"id,omitempty"`
	IP   string    `json:"ip,omitempty"`
}

// Resource is what the action targeted.
type Resource struct {
	Type ResourceType `json:"type,omitempty"`
	ID   string       `json:"id,omitempty"`
}

// Event is one append-only audit record.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	EventID   string         `json:"event_id"`
	EventType EventType      `json:"event_type"`
	Category  Category       `json:"event_category"`
	Severity  Severity       `json:"severity"`
	Actor     Actor          `json:"actor"`
	Resource  Resource       `json:"resource"`
	Action    string         `json:"action"`
	Outcome   Outcome        `json:"outcome"`
	Details   map[string]any `json:"details"`
	TraceID   string         `json:"trace_id,omitempty"`
	Service   string         `json:"service"`
}

// eventMetadata fixes the default category and severity per event type.
var eventMetadata = map[EventType]struct {
	category Category
	severity Severity
}{
	EventAuthSuccess:       {CategoryAuthentication, SeverityInfo},
	EventAuthFailure:       {CategoryAuthentication, SeverityWarning},
	EventAuthTokenExpired:  {CategoryAuthentication, SeverityInfo},
	EventAuthTokenInvalid:  {CategoryAuthentication, SeverityWarning},
	EventMTLSCNMismatch:    {CategoryAuthentication, SeverityWarning},
	EventAuthzFailure:      {CategoryAuthorization, SeverityWarning},
	EventRateLimitExceeded: {CategorySecurity, SeverityWarning},
	EventWeatherAccessed:   {CategoryData, SeverityInfo},
	EventContactsAccessed:  {CategoryData, SeverityInfo},
	EventTelemetryForward:  {CategoryData, SeverityInfo},
	EventServiceStarted:    {CategorySystem, SeverityInfo},
	EventServiceStopped:    {CategorySystem, SeverityInfo},
	EventPipelineError:     {CategorySecurity, SeverityError},
}

func metadataFor(t EventType) (Category, Severity) {
	if m, ok := eventMetadata[t]; ok {
		return m.category, m.severity
	}
	return CategorySystem, SeverityInfo
}
