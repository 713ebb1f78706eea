// Package notify provides the typed notification services that route
// coordination events to per-agent and per-persona subscribers. Each
// notifier binds one closed kind enum to its payload type on a dedicated
// bus instance; events are triggers for subscribers to re-check the
// store, never a source of truth.
package notify

import (
	"context"
	"strings"

	"github.com/aiswarm/aiswarm/internal/common/logger"
	"github.com/aiswarm/aiswarm/internal/coord/errs"
	"github.com/aiswarm/aiswarm/internal/events/bus"
)

// TaskEventKind enumerates work-item lifecycle events.
type TaskEventKind string

const (
	TaskCreated   TaskEventKind = "task.created"
	TaskClaimed   TaskEventKind = "task.claimed"
	TaskCompleted TaskEventKind = "task.completed"
	TaskFailed    TaskEventKind = "task.failed"
)

// TaskEvent is the payload for task notifications. AgentID is empty for
// unassigned work; PersonaID carries the routing tag when present.
type TaskEvent struct {
	TaskID      string
	AgentID     string
	PersonaID   string
	Description string
}

// TaskNotifier publishes and routes work-item events.
type TaskNotifier struct {
	bus    *bus.Bus[TaskEventKind, TaskEvent]
	logger *logger.Logger
}

// NewTaskNotifier creates the task notifier on its own bus instance.
func NewTaskNotifier(opts bus.Options, log *logger.Logger) *TaskNotifier {
	return &TaskNotifier{
		bus:    bus.New[TaskEventKind, TaskEvent]("tasks", opts, log),
		logger: log,
	}
}

// PublishTaskCreated announces a new pending task. When both agentID and
// personaID are set the event is delivered once to each matching
// subscription kind (dual delivery).
func (n *TaskNotifier) PublishTaskCreated(ctx context.Context, taskID, agentID, personaID, description string) error {
	return n.bus.Publish(ctx, TaskCreated, TaskEvent{
		TaskID:      taskID,
		AgentID:     agentID,
		PersonaID:   personaID,
		Description: description,
	})
}

// PublishTaskClaimed announces an atomic claim.
func (n *TaskNotifier) PublishTaskClaimed(ctx context.Context, taskID, agentID, personaID string) error {
	return n.bus.Publish(ctx, TaskClaimed, TaskEvent{TaskID: taskID, AgentID: agentID, PersonaID: personaID})
}

// PublishTaskFinished announces a terminal transition.
func (n *TaskNotifier) PublishTaskFinished(ctx context.Context, taskID, agentID string, success bool) error {
	kind := TaskCompleted
	if !success {
		kind = TaskFailed
	}
	return n.bus.Publish(ctx, kind, TaskEvent{TaskID: taskID, AgentID: agentID})
}

// SubscribeForAgent delivers events explicitly mentioning the agent.
func (n *TaskNotifier) SubscribeForAgent(ctx context.Context, agentID string, kinds ...TaskEventKind) (*bus.Subscription[TaskEventKind, TaskEvent], error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, errs.InvalidInput("agent id must not be empty")
	}
	return n.bus.Subscribe(ctx, bus.Filter[TaskEventKind, TaskEvent]{
		Kinds: kinds,
		Match: func(ev TaskEvent) bool { return ev.AgentID == agentID },
	})
}

// SubscribeForPersona delivers events for unassigned work tagged with the
// persona (case-insensitive). Events that were agent-assigned at publish
// time bypass persona broadcasts.
func (n *TaskNotifier) SubscribeForPersona(ctx context.Context, personaID string, kinds ...TaskEventKind) (*bus.Subscription[TaskEventKind, TaskEvent], error) {
	personaLC := strings.ToLower(strings.TrimSpace(personaID))
	if personaLC == "" {
		return nil, errs.InvalidInput("persona id must not be empty")
	}
	return n.bus.Subscribe(ctx, bus.Filter[TaskEventKind, TaskEvent]{
		Kinds: kinds,
		Match: func(ev TaskEvent) bool {
			if ev.AgentID != "" {
				return false
			}
			return ev.PersonaID == "" || strings.ToLower(ev.PersonaID) == personaLC
		},
	})
}

// SubscribeForDispatch combines the agent and persona scopes for a
// get_next_task long-poll: the agent wakes for tasks targeted at it and
// for unassigned work matching (or not constraining) its persona.
func (n *TaskNotifier) SubscribeForDispatch(ctx context.Context, agentID, personaID string) (*bus.Subscription[TaskEventKind, TaskEvent], error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, errs.InvalidInput("agent id must not be empty")
	}
	personaLC := strings.ToLower(strings.TrimSpace(personaID))
	return n.bus.Subscribe(ctx, bus.Filter[TaskEventKind, TaskEvent]{
		Kinds: []TaskEventKind{TaskCreated},
		Match: func(ev TaskEvent) bool {
			if ev.AgentID != "" {
				return ev.AgentID == agentID
			}
			return ev.PersonaID == "" || strings.ToLower(ev.PersonaID) == personaLC
		},
	})
}

// SubscribeAll delivers every task event; used by the event logger.
func (n *TaskNotifier) SubscribeAll(ctx context.Context) (*bus.Subscription[TaskEventKind, TaskEvent], error) {
	return n.bus.Subscribe(ctx, bus.Filter[TaskEventKind, TaskEvent]{})
}

// Close shuts down the underlying bus.
func (n *TaskNotifier) Close() { n.bus.Close() }
