package notify

import (
	"context"
	"strings"

	"github.com/aiswarm/aiswarm/internal/common/logger"
	"github.com/aiswarm/aiswarm/internal/coord/errs"
	"github.com/aiswarm/aiswarm/internal/coord/models"
	"github.com/aiswarm/aiswarm/internal/events/bus"
)

// AgentEventKind enumerates agent lifecycle events.
type AgentEventKind string

const (
	AgentRegistered    AgentEventKind = "agent.registered"
	AgentKilled        AgentEventKind = "agent.killed"
	AgentStatusChanged AgentEventKind = "agent.status_changed"
)

// AgentEvent is the payload for agent notifications.
type AgentEvent struct {
	AgentID   string
	PersonaID string
	Status    models.AgentStatus
}

// AgentNotifier publishes and routes agent lifecycle events.
type AgentNotifier struct {
	bus    *bus.Bus[AgentEventKind, AgentEvent]
	logger *logger.Logger
}

// NewAgentNotifier creates the agent notifier on its own bus instance.
func NewAgentNotifier(opts bus.Options, log *logger.Logger) *AgentNotifier {
	return &AgentNotifier{
		bus:    bus.New[AgentEventKind, AgentEvent]("agents", opts, log),
		logger: log,
	}
}

// Publish announces an agent lifecycle transition.
func (n *AgentNotifier) Publish(ctx context.Context, kind AgentEventKind, ev AgentEvent) error {
	return n.bus.Publish(ctx, kind, ev)
}

// SubscribeForAgent delivers events for one agent.
func (n *AgentNotifier) SubscribeForAgent(ctx context.Context, agentID string, kinds ...AgentEventKind) (*bus.Subscription[AgentEventKind, AgentEvent], error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, errs.InvalidInput("agent id must not be empty")
	}
	return n.bus.Subscribe(ctx, bus.Filter[AgentEventKind, AgentEvent]{
		Kinds: kinds,
		Match: func(ev AgentEvent) bool { return ev.AgentID == agentID },
	})
}

// SubscribeAll delivers every agent event (broadcast scope).
func (n *AgentNotifier) SubscribeAll(ctx context.Context, kinds ...AgentEventKind) (*bus.Subscription[AgentEventKind, AgentEvent], error) {
	return n.bus.Subscribe(ctx, bus.Filter[AgentEventKind, AgentEvent]{Kinds: kinds})
}

// Close shuts down the underlying bus.
func (n *AgentNotifier) Close() { n.bus.Close() }
