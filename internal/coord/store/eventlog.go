package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/aiswarm/aiswarm/internal/coord/errs"
	"github.com/aiswarm/aiswarm/internal/coord/models"
)

const eventLogColumns = `id, event_type, timestamp, actor, correlation_id,
	entity_id, entity_type, severity, payload, tags`

// AppendEventLog appends one audit row. The log is append-only and never
// consulted for routing decisions.
func (w *WriteScope) AppendEventLog(ctx context.Context, entry *models.EventLogEntry) error {
	_, err := w.ext.ExecContext(ctx, `
		INSERT INTO event_logs (
			id, event_type, timestamp, actor, correlation_id,
			entity_id, entity_type, severity, payload, tags
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.EventType, entry.Timestamp, entry.Actor, entry.CorrelationID,
		entry.EntityID, entry.EntityType, entry.Severity, entry.Payload, entry.Tags)
	if err != nil {
		return errs.Internal(err, "failed to append event log %s", entry.EventType)
	}
	return nil
}

// RecentEventLogs returns the latest entries, newest first.
func (q *queries) RecentEventLogs(ctx context.Context, limit int) ([]*models.EventLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []*models.EventLogEntry
	err := sqlx.SelectContext(ctx, q.ext, &entries,
		`SELECT `+eventLogColumns+` FROM event_logs ORDER BY timestamp DESC, id DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, errs.Internal(err, "failed to list event logs")
	}
	return entries, nil
}
