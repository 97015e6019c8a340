package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const insertEvent = `INSERT INTO audit_events
	(event_id, occurred_at, event_type, event_category, severity,
	 actor_type, actor_id, actor_ip, resource_type, resource_id,
	 action, outcome, details, trace_id, service)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`

// PGSink appends events to the audit_events table. The table is append-only;
// nothing in the gateway ever updates or deletes rows.
type PGSink struct {
	db *sql.DB
}

// NewPGSink wraps an open database handle (pgx stdlib driver).
func NewPGSink(db *sql.DB) (*PGSink, error) {
	if db == nil {
		return nil, errors.New("audit: db handle is required")
	}
	return &PGSink{db: db}, nil
}

func (s *PGSink) Write(ctx context.Context, e Event) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("audit: marshal details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, insertEvent,
		e.EventID,
		e.Timestamp,
		string(e.EventType),
		string(e.Category),
		string(e.Severity),
		string(e.Actor.Type),
		nullable(e.Actor.ID),
		nullable(e.Actor.IP),
		nullable(string(e.Resource.Type)),
		nullable(e.Resource.ID),
		e.Action,
		string(e.Outcome),
		details,
		nullable(e.TraceID),
		e.Service,
	)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
