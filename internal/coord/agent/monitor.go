package agent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aiswarm/aiswarm/internal/coord/models"
	"github.com/aiswarm/aiswarm/internal/events/eventlog"
	"github.com/aiswarm/aiswarm/internal/events/notify"
)

// Monitor periodically flips Running agents whose heartbeat has gone
// stale to Unhealthy, emitting AgentStatusChanged for each.
type Monitor struct {
	service  *Service
	timeout  time.Duration
	interval time.Duration
}

// NewMonitor creates a health monitor. timeout is the Running→Unhealthy
// threshold; interval is the sweep period.
func NewMonitor(service *Service, timeout, interval time.Duration) *Monitor {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{service: service, timeout: timeout, interval: interval}
}

// Run sweeps until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				m.service.logger.Warn("heartbeat sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs one pass: mark stale agents unhealthy, log, notify.
func (m *Monitor) Sweep(ctx context.Context) error {
	s := m.service
	op, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = op.Close() }()

	cutoff := s.clock.Now().Add(-m.timeout)
	ids, err := op.Write().MarkStaleAgentsUnhealthy(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return op.Close()
	}

	for _, id := range ids {
		if err := s.events.Append(ctx, op.Write(), eventlog.Entry{
			EventType:  string(notify.AgentStatusChanged),
			EntityID:   id,
			EntityType: "agent",
			Payload:    map[string]string{"agent_id": id, "status": string(models.AgentUnhealthy)},
		}); err != nil {
			return err
		}
	}

	stale := ids
	op.OnCommit(func(ctx context.Context) {
		for _, id := range stale {
			if err := s.notifier.Publish(ctx, notify.AgentStatusChanged, notify.AgentEvent{
				AgentID: id,
				Status:  models.AgentUnhealthy,
			}); err != nil {
				s.logger.Warn("failed to publish unhealthy transition", zap.Error(err))
			}
		}
	})

	if err := op.Commit(ctx); err != nil {
		return err
	}
	s.logger.Warn("agents marked unhealthy", zap.Strings("agent_ids", ids))
	return nil
}
