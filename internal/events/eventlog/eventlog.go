// Package eventlog appends significant coordination events to the
// durable event log. Services record each event exactly once,
// synchronously inside the transaction that performs the mutation the
// event describes. The log is audit-only; nothing routes on it.
package eventlog

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/aiswarm/aiswarm/internal/common/clock"
	"github.com/aiswarm/aiswarm/internal/coord/models"
	"github.com/aiswarm/aiswarm/internal/coord/store"
	"github.com/aiswarm/aiswarm/internal/events/notify"
)

// severityByType maps event kinds to log severities. Unlisted kinds
// default to information.
var severityByType = map[string]models.EventSeverity{
	string(notify.TaskFailed):         models.SeverityWarning,
	string(notify.AgentKilled):        models.SeverityWarning,
	string(notify.AgentStatusChanged): models.SeverityWarning,
}

// severityFor returns the mapped severity for an event type.
func severityFor(eventType string) models.EventSeverity {
	if sev, ok := severityByType[eventType]; ok {
		return sev
	}
	return models.SeverityInformation
}

// Entry describes one event to record.
type Entry struct {
	EventType     string
	Actor         string
	CorrelationID string
	EntityID      string
	EntityType    string
	Payload       any
	Tags          string
}

// Logger writes event log rows.
type Logger struct {
	store *store.Store
	clock clock.Clock
}

// New creates an event logger over the store.
func New(st *store.Store, clk clock.Clock) *Logger {
	if clk == nil {
		clk = clock.System{}
	}
	return &Logger{store: st, clock: clk}
}

// Append writes one row inside the caller's transaction, making the log
// entry durable with the mutation it describes.
func (l *Logger) Append(ctx context.Context, ws *store.WriteScope, e Entry) error {
	row, err := l.buildRow(e)
	if err != nil {
		return err
	}
	return ws.AppendEventLog(ctx, row)
}

func (l *Logger) buildRow(e Entry) (*models.EventLogEntry, error) {
	payload := "{}"
	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, err
		}
		payload = string(raw)
	}
	return &models.EventLogEntry{
		ID:            uuid.New().String(),
		EventType:     e.EventType,
		Timestamp:     l.clock.Now(),
		Actor:         e.Actor,
		CorrelationID: e.CorrelationID,
		EntityID:      e.EntityID,
		EntityType:    e.EntityType,
		Severity:      severityFor(e.EventType),
		Payload:       payload,
		Tags:          e.Tags,
	}, nil
}
