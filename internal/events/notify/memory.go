package notify

import (
	"context"
	"strings"

	"github.com/aiswarm/aiswarm/internal/common/logger"
	"github.com/aiswarm/aiswarm/internal/coord/errs"
	"github.com/aiswarm/aiswarm/internal/events/bus"
)

// MemoryEventKind enumerates shared-memory events.
type MemoryEventKind string

const (
	MemorySaved   MemoryEventKind = "memory.saved"
	MemoryUpdated MemoryEventKind = "memory.updated"
)

// MemoryEvent is the payload for memory notifications. It intentionally
// omits the value: waiters re-read the store on wakeup.
type MemoryEvent struct {
	Namespace string
	Key       string
}

// MemoryNotifier publishes and routes shared-memory events.
type MemoryNotifier struct {
	bus    *bus.Bus[MemoryEventKind, MemoryEvent]
	logger *logger.Logger
}

// NewMemoryNotifier creates the memory notifier on its own bus instance.
func NewMemoryNotifier(opts bus.Options, log *logger.Logger) *MemoryNotifier {
	return &MemoryNotifier{
		bus:    bus.New[MemoryEventKind, MemoryEvent]("memory", opts, log),
		logger: log,
	}
}

// PublishSaved announces a write to (namespace, key). updated selects
// MemoryUpdated for upserts that replaced an existing entry.
func (n *MemoryNotifier) PublishSaved(ctx context.Context, namespace, key string, updated bool) error {
	kind := MemorySaved
	if updated {
		kind = MemoryUpdated
	}
	return n.bus.Publish(ctx, kind, MemoryEvent{Namespace: namespace, Key: key})
}

// SubscribeForKey delivers events for one (namespace, key).
func (n *MemoryNotifier) SubscribeForKey(ctx context.Context, namespace, key string) (*bus.Subscription[MemoryEventKind, MemoryEvent], error) {
	if strings.TrimSpace(key) == "" {
		return nil, errs.InvalidInput("memory key must not be empty")
	}
	return n.bus.Subscribe(ctx, bus.Filter[MemoryEventKind, MemoryEvent]{
		Match: func(ev MemoryEvent) bool {
			return ev.Namespace == namespace && ev.Key == key
		},
	})
}

// SubscribeForNamespace delivers events for every key in a namespace.
func (n *MemoryNotifier) SubscribeForNamespace(ctx context.Context, namespace string) (*bus.Subscription[MemoryEventKind, MemoryEvent], error) {
	if strings.TrimSpace(namespace) == "" {
		return nil, errs.InvalidInput("namespace must not be empty")
	}
	return n.bus.Subscribe(ctx, bus.Filter[MemoryEventKind, MemoryEvent]{
		Match: func(ev MemoryEvent) bool { return ev.Namespace == namespace },
	})
}

// SubscribeAll delivers every memory event; used by the event logger.
func (n *MemoryNotifier) SubscribeAll(ctx context.Context) (*bus.Subscription[MemoryEventKind, MemoryEvent], error) {
	return n.bus.Subscribe(ctx, bus.Filter[MemoryEventKind, MemoryEvent]{})
}

// Close shuts down the underlying bus.
func (n *MemoryNotifier) Close() { n.bus.Close() }
