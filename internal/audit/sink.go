package audit

import (
	"context"
	"io"

	"github.com/rs/zerolog"
)

// Sink receives audit events. Implementations must be safe for concurrent
// use; events are never read back through this interface.
type Sink interface {
	Write(ctx context.Context, e Event) error
}

// LogSink emits events as single-line JSON records.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink writes audit records to w, one JSON object per line.
func NewLogSink(w io.Writer) *LogSink {
	return &LogSink{logger: zerolog.New(w)}
}

func (s *LogSink) Write(_ context.Context, e Event) error {
	actor := zerolog.Dict().Str("type", string(e.Actor.Type))
	if e.Actor.ID != "" {
		actor = actor.Str("id", e.Actor.ID)
	}
	if e.Actor.IP != "" {
		actor = actor.Str("ip", e.Actor.IP)
	}
	resource := zerolog.Dict()
	if e.Resource.Type != "" {
		resource = resource.Str("type", string(e.Resource.Type))
	}
	if e.Resource.ID != "" {
		resource = resource.Str("id", e.Resource.ID)
	}

	s.logger.Log().
		Time("timestamp", e.Timestamp).
		Str("event_id", e.EventID).
		Str("event_type", string(e.EventType)).
		Str("event_category", string(e.Category)).
		Str("severity", string(e.Severity)).
		Dict("actor", actor).
		Dict("resource", resource).
		Str("action", e.Action).
		Str("outcome", string(e.Outcome)).
		Interface("details", e.Details).
		Str("trace_id", e.TraceID).
		Str("service", e.Service).
		Msg("audit")
	return nil
}

// MultiSink fans one event out to several sinks. The first error is
// returned after every sink has seen the event.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, e Event) error {
	var first error
	for _, s := range m {
		if err := s.Write(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
