// Package task implements work-item dispatch: creation, atomic claim,
// long-poll get-next, and terminal reporting with persona routing.
package task

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aiswarm/aiswarm/internal/common/clock"
	"github.com/aiswarm/aiswarm/internal/common/logger"
	"github.com/aiswarm/aiswarm/internal/coord/errs"
	"github.com/aiswarm/aiswarm/internal/coord/models"
	"github.com/aiswarm/aiswarm/internal/coord/store"
	"github.com/aiswarm/aiswarm/internal/events/eventlog"
	"github.com/aiswarm/aiswarm/internal/events/notify"
)

// CreateRequest carries the fields for a new work item.
type CreateRequest struct {
	AgentID     string
	PersonaID   string
	Description string
	Priority    models.TaskPriority
}

// Service coordinates work-item state.
type Service struct {
	store    *store.Store
	notifier *notify.TaskNotifier
	events   *eventlog.Logger
	clock    clock.Clock
	logger   *logger.Logger
}

// NewService creates the task service.
func NewService(st *store.Store, notifier *notify.TaskNotifier, events *eventlog.Logger, clk clock.Clock, log *logger.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &Service{store: st, notifier: notifier, events: events, clock: clk, logger: log}
}

// Create persists a pending work item and emits TaskCreated after
// commit. When AgentID is set the target agent must exist and be active;
// a persona-only task is unclaimed but persona-tagged.
func (s *Service) Create(ctx context.Context, op *store.Operation, req CreateRequest) (*models.Task, error) {
	if strings.TrimSpace(req.Description) == "" {
		return nil, errs.InvalidInput("description is required")
	}
	if req.Priority == 0 {
		req.Priority = models.PriorityNormal
	}

	var agentID *string
	if strings.TrimSpace(req.AgentID) != "" {
		agent, err := op.Write().GetAgent(ctx, req.AgentID)
		if err != nil {
			return nil, err
		}
		if !agent.Status.Active() {
			return nil, errs.InvalidState("Agent is not running: %s (status: %s)", req.AgentID, agent.Status)
		}
		id := req.AgentID
		agentID = &id
	}

	var personaID *string
	if strings.TrimSpace(req.PersonaID) != "" {
		p := strings.TrimSpace(req.PersonaID)
		personaID = &p
	}

	t := &models.Task{
		ID:          uuid.New().String(),
		AgentID:     agentID,
		Status:      models.TaskPending,
		PersonaID:   personaID,
		Description: req.Description,
		Priority:    req.Priority,
		CreatedAt:   s.clock.Now(),
	}
	if err := op.Write().InsertTask(ctx, t); err != nil {
		return nil, err
	}
	if err := s.events.Append(ctx, op.Write(), eventlog.Entry{
		EventType:  string(notify.TaskCreated),
		Actor:      req.AgentID,
		EntityID:   t.ID,
		EntityType: "task",
		Payload:    t,
	}); err != nil {
		return nil, err
	}

	op.OnCommit(func(ctx context.Context) {
		if err := s.notifier.PublishTaskCreated(ctx, t.ID, req.AgentID, strings.TrimSpace(req.PersonaID), t.Description); err != nil {
			s.logger.Warn("failed to publish task created", zap.Error(err))
		}
	})

	s.logger.Info("task created",
		zap.String("task_id", t.ID),
		zap.String("persona", strings.TrimSpace(req.PersonaID)),
		zap.Int("priority", int(t.Priority)))
	return t, nil
}

// ReportCompletion transitions an in-progress task claimed by agentID to
// Completed or Failed. Terminal tasks reject further mutation.
func (s *Service) ReportCompletion(ctx context.Context, op *store.Operation, taskID, agentID, result string, success bool) (*models.Task, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, errs.InvalidInput("taskId is required")
	}
	if strings.TrimSpace(agentID) == "" {
		return nil, errs.InvalidInput("agentId is required")
	}

	t, err := op.Write().FinishTask(ctx, taskID, agentID, result, success, s.clock.Now())
	if err != nil {
		return nil, err
	}

	eventType := string(notify.TaskCompleted)
	if !success {
		eventType = string(notify.TaskFailed)
	}
	if err := s.events.Append(ctx, op.Write(), eventlog.Entry{
		EventType:  eventType,
		Actor:      agentID,
		EntityID:   taskID,
		EntityType: "task",
		Payload:    t,
	}); err != nil {
		return nil, err
	}

	op.OnCommit(func(ctx context.Context) {
		if err := s.notifier.PublishTaskFinished(ctx, taskID, agentID, success); err != nil {
			s.logger.Warn("failed to publish task finished", zap.Error(err))
		}
	})

	s.logger.Info("task finished",
		zap.String("task_id", taskID),
		zap.String("agent_id", agentID),
		zap.Bool("success", success))
	return t, nil
}

// GetStatus returns one task.
func (s *Service) GetStatus(ctx context.Context, taskID string) (*models.Task, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, errs.InvalidInput("taskId is required")
	}
	return s.store.Read().GetTask(ctx, taskID)
}

// GetByStatus returns tasks in the given status, dispatch order.
func (s *Service) GetByStatus(ctx context.Context, status models.TaskStatus) ([]*models.Task, error) {
	return s.store.Read().ListTasksByStatus(ctx, status)
}
