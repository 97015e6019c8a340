package audit

import (
	"context"
	"database/sql"
	"fmt"
)

const createAuditTable = `CREATE TABLE IF NOT EXISTS audit_events (
	event_id       text PRIMARY KEY,
	occurred_at    timestamptz NOT NULL,
	event_type     text NOT NULL,
	event_category text NOT NULL,
	severity       text NOT NULL,
	actor_type     text NOT NULL,
	actor_id       text,
	actor_ip       text,
	resource_type  text,
	resource_id    text,
	action         text NOT NULL,
	outcome        text NOT NULL,
	details        jsonb NOT NULL DEFAULT '{}',
	trace_id       text,
	service        text NOT NULL
)`

const createAuditIndexes = `CREATE INDEX IF NOT EXISTS audit_events_occurred_at_idx
	ON audit_events (occurred_at)`

// EnsureSchema creates the audit table when it does not exist. There is no
// down path: the trail is append-only and is never dropped by the gateway.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range []string{createAuditTable, createAuditIndexes} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("audit: ensure schema: %w", err)
		}
	}
	return nil
}
