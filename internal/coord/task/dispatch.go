package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aiswarm/aiswarm/internal/coord/models"
	"github.com/aiswarm/aiswarm/internal/events/bus"
	"github.com/aiswarm/aiswarm/internal/events/eventlog"
	"github.com/aiswarm/aiswarm/internal/events/notify"
)

// DispatchConfig tunes the get_next_task long-poll.
type DispatchConfig struct {
	// Wait is the total time to hold the poll open before returning the
	// requery shape.
	Wait time.Duration
	// PollInterval is the fallback re-check period while waiting.
	PollInterval time.Duration
}

// Dispatch is the shaped result of a get_next_task call. A timeout is
// not an error: it returns success with a synthetic requery task id that
// instructs the client to call the tool again.
type Dispatch struct {
	Success     bool   `json:"success"`
	TaskID      string `json:"taskId"`
	PersonaID   string `json:"personaId,omitempty"`
	Description string `json:"description"`
	Message     string `json:"message"`
	TimedOut    bool   `json:"-"`
}

const (
	claimedMessage = "Task claimed. Work on it now, report the outcome with report_task_completion, then call get_next_task again for more work."
	requeryMessage = "No tasks were available before the wait expired. Call this tool again to keep polling for work."
)

// noTasksAvailable builds the timeout shape. The "system:requery:<uuid>"
// task id is a protocol convention clients depend on; keep it verbatim.
func noTasksAvailable() *Dispatch {
	return &Dispatch{
		Success:     true,
		TaskID:      "system:requery:" + uuid.New().String(),
		Description: "No tasks available at this time.",
		Message:     requeryMessage,
		TimedOut:    true,
	}
}

// GetNext attempts to atomically claim the best eligible pending task
// for the agent, long-polling on TaskCreated events until one appears or
// the configured wait expires. Events are only wakeups: every attempt
// re-checks the store. Client cancellation is treated as "no task".
func (s *Service) GetNext(ctx context.Context, agentID string, cfg DispatchConfig) (*Dispatch, error) {
	agent, err := s.store.Read().GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if cfg.Wait <= 0 {
		cfg.Wait = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	if d, err := s.tryClaim(ctx, agent); err != nil || d != nil {
		return d, err
	}

	sub, err := s.notifier.SubscribeForDispatch(ctx, agent.ID, agent.PersonaID)
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	waitCtx, cancel := context.WithTimeout(ctx, cfg.Wait)
	defer cancel()

	for {
		// Race the next event against the poll tick; both paths end in a
		// fresh claim attempt against the store.
		pollCtx, cancelPoll := context.WithTimeout(waitCtx, cfg.PollInterval)
		_, err := sub.Next(pollCtx)
		cancelPoll()

		switch {
		case err == nil:
			// event wakeup
		case errors.Is(err, bus.ErrSubscriptionClosed):
			return noTasksAvailable(), nil
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
			if waitCtx.Err() != nil {
				// overall wait expired or caller cancelled
				return noTasksAvailable(), nil
			}
			// poll tick
		default:
			return nil, err
		}

		if d, err := s.tryClaim(ctx, agent); err != nil || d != nil {
			return d, err
		}
	}
}

// tryClaim runs one atomic claim attempt in its own transaction.
// Returns nil, nil when no task is eligible.
func (s *Service) tryClaim(ctx context.Context, agent *models.Agent) (*Dispatch, error) {
	op, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = op.Close() }()

	t, err := op.Write().ClaimNextTask(ctx, agent.ID, agent.PersonaID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, nil
	}

	if err := s.events.Append(ctx, op.Write(), eventlog.Entry{
		EventType:  string(notify.TaskClaimed),
		Actor:      agent.ID,
		EntityID:   t.ID,
		EntityType: "task",
		Payload:    t,
	}); err != nil {
		return nil, err
	}

	claimed := t
	op.OnCommit(func(ctx context.Context) {
		persona := ""
		if claimed.PersonaID != nil {
			persona = *claimed.PersonaID
		}
		if err := s.notifier.PublishTaskClaimed(ctx, claimed.ID, agent.ID, persona); err != nil {
			s.logger.Warn("failed to publish task claimed", zap.Error(err))
		}
	})
	if err := op.Commit(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("task claimed",
		zap.String("task_id", t.ID),
		zap.String("agent_id", agent.ID))

	persona := ""
	if t.PersonaID != nil {
		persona = *t.PersonaID
	}
	return &Dispatch{
		Success:     true,
		TaskID:      t.ID,
		PersonaID:   persona,
		Description: t.Description,
		Message:     fmt.Sprintf("%s (task %s)", claimedMessage, t.ID),
	}, nil
}
