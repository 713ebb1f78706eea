// Package agent implements agent lifecycle management: registration,
// heartbeats, kills, and the background health sweep.
package agent

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

// RegisterRequest carries the fields needed to register an agent.
type RegisterRequest struct {
	PersonaID        string
	AgentType        string
	WorkingDirectory string
	Model            string
	WorktreeName     string
	ProcessID        *int
}

// Service coordinates agent lifecycle state.
type Service struct {
	store    *store.Store
	notifier *notify.AgentNotifier
	events   *eventlog.Logger
	clock    clock.Clock
	logger   *logger.Logger
}

// NewService creates the agent service.
func NewService(st *store.Store, notifier *notify.AgentNotifier, events *eventlog.Logger, clk clock.Clock, log *logger.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &Service{store: st, notifier: notifier, events: events, clock: clk, logger: log}
}

// Register persists a new agent in Starting state and emits
// AgentRegistered after the operation commits.
func (s *Service) Register(ctx context.Context, op *store.Operation, req RegisterRequest) (*models.Agent, error) {
	if strings.TrimSpace(req.PersonaID) == "" {
		return nil, errs.InvalidInput("persona is required")
	}
	if strings.TrimSpace(req.AgentType) == "" {
		return nil, errs.InvalidInput("agentType is required")
	}
	if strings.TrimSpace(req.WorkingDirectory) == "" {
		return nil, errs.InvalidInput("workingDirectory is required")
	}

	now := s.clock.Now()
	agent := &models.Agent{
		ID:               uuid.New().String(),
		PersonaID:        strings.TrimSpace(req.PersonaID),
		AgentType:        strings.TrimSpace(req.AgentType),
		WorkingDirectory: req.WorkingDirectory,
		Status:           models.AgentStarting,
		ProcessID:        req.ProcessID,
		Model:            req.Model,
		WorktreeName:     req.WorktreeName,
		RegisteredAt:     now,
		LastHeartbeat:    now,
		StartedAt:        now,
	}

	if err := op.Write().InsertAgent(ctx, agent); err != nil {
		return nil, err
	}
	if err := s.events.Append(ctx, op.Write(), eventlog.Entry{
		EventType:  string(notify.AgentRegistered),
		Actor:      agent.ID,
		EntityID:   agent.ID,
		EntityType: "agent",
		Payload:    agent,
	}); err != nil {
		return nil, err
	}

	op.OnCommit(func(ctx context.Context) {
		if err := s.notifier.Publish(ctx, notify.AgentRegistered, notify.AgentEvent{
			AgentID:   agent.ID,
			PersonaID: agent.PersonaID,
			Status:    agent.Status,
		}); err != nil {
			s.logger.Warn("failed to publish agent registered", zap.Error(err))
		}
	})

	s.logger.Info("agent registered",
		zap.String("agent_id", agent.ID),
		zap.String("persona", agent.PersonaID),
		zap.String("agent_type", agent.AgentType))
	return agent, nil
}

// Heartbeat records liveness for the agent and promotes Starting to
// Running. Idempotent; returns false when the agent does not exist.
func (s *Service) Heartbeat(ctx context.Context, op *store.Operation, agentID string) (bool, error) {
	if strings.TrimSpace(agentID) == "" {
		return false, errs.InvalidInput("agentId is required")
	}
	agent, err := op.Write().GetAgent(ctx, agentID)
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	if agent.Status.Terminal() {
		// Terminal agents are read-only; report the heartbeat as missed.
		return false, nil
	}

	prev := agent.Status
	status, err := op.Write().TouchHeartbeat(ctx, agentID, s.clock.Now())
	if err != nil {
		return false, err
	}
	if status != prev {
		if err := s.events.Append(ctx, op.Write(), eventlog.Entry{
			EventType:  string(notify.AgentStatusChanged),
			Actor:      agentID,
			EntityID:   agentID,
			EntityType: "agent",
			Payload:    map[string]string{"agent_id": agentID, "previous_status": string(prev), "status": string(status)},
		}); err != nil {
			return false, err
		}
		op.OnCommit(func(ctx context.Context) {
			if err := s.notifier.Publish(ctx, notify.AgentStatusChanged, notify.AgentEvent{
				AgentID:   agentID,
				PersonaID: agent.PersonaID,
				Status:    status,
			}); err != nil {
				s.logger.Warn("failed to publish agent status change", zap.Error(err))
			}
		})
	}
	return true, nil
}

// Kill transitions an active agent to Killed. Killing an already
// terminal agent is a no-op success.
func (s *Service) Kill(ctx context.Context, op *store.Operation, agentID string) error {
	if strings.TrimSpace(agentID) == "" {
		return errs.InvalidInput("agentId is required")
	}
	agent, err := op.Write().GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if agent.Status.Terminal() {
		return nil
	}
	if !agent.Status.Active() {
		return errs.InvalidState("Agent %s cannot be killed from status %s", agentID, agent.Status)
	}

	now := s.clock.Now()
	if err := op.Write().SetAgentStatus(ctx, agentID, models.AgentKilled, now); err != nil {
		return err
	}
	if err := s.events.Append(ctx, op.Write(), eventlog.Entry{
		EventType:  string(notify.AgentKilled),
		Actor:      agentID,
		EntityID:   agentID,
		EntityType: "agent",
		Payload:    map[string]string{"agent_id": agentID, "previous_status": string(agent.Status)},
	}); err != nil {
		return err
	}

	op.OnCommit(func(ctx context.Context) {
		if err := s.notifier.Publish(ctx, notify.AgentKilled, notify.AgentEvent{
			AgentID:   agentID,
			PersonaID: agent.PersonaID,
			Status:    models.AgentKilled,
		}); err != nil {
			s.logger.Warn("failed to publish agent killed", zap.Error(err))
		}
	})

	s.logger.Info("agent killed", zap.String("agent_id", agentID))
	return nil
}

// Get returns one agent.
func (s *Service) Get(ctx context.Context, agentID string) (*models.Agent, error) {
	return s.store.Read().GetAgent(ctx, agentID)
}

// List returns a snapshot of agents matching the filter.
func (s *Service) List(ctx context.Context, filter store.AgentFilter) ([]*models.Agent, error) {
	return s.store.Read().ListAgents(ctx, filter)
}
