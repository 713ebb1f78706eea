// Package bus provides the typed in-process event bus used by the
// coordination services. Each bus instance is generic over a closed kind
// enum and a payload type, so exhaustive matching stays possible at the
// subscriber side. Every subscriber owns its own bounded FIFO queue with
// an explicit overflow policy; publishers never share a queue.
package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aiswarm/aiswarm/internal/common/logger"
)

// ErrBusClosed is returned by Publish and Subscribe after Close.
var ErrBusClosed = errors.New("event bus is closed")

// ErrSubscriptionClosed is returned by Next once a subscription has been
// cancelled or the bus has been closed and its queue drained. It is the
// graceful termination signal, not a failure.
var ErrSubscriptionClosed = errors.New("subscription closed")

// FullMode selects what Publish does when a subscriber queue is full.
type FullMode int

const (
	// FullModeWait blocks the publisher until the subscriber makes room
	// or the publish context is cancelled.
	FullModeWait FullMode = iota
	// FullModeDropOldest evicts the oldest queued envelope to make room.
	FullModeDropOldest
	// FullModeDropNewest evicts the newest queued envelope to make room.
	FullModeDropNewest
	// FullModeDropWrite discards the envelope being published.
	FullModeDropWrite
)

// ParseFullMode maps a configuration string to a FullMode.
func ParseFullMode(s string) (FullMode, bool) {
	switch s {
	case "", "wait":
		return FullModeWait, true
	case "drop_oldest":
		return FullModeDropOldest, true
	case "drop_newest":
		return FullModeDropNewest, true
	case "drop_write":
		return FullModeDropWrite, true
	}
	return 0, false
}

// DefaultCapacity is the per-subscriber queue size when none is configured.
const DefaultCapacity = 1024

// Envelope wraps a published event with its kind and delivery metadata.
type Envelope[K comparable, P any] struct {
	Kind          K
	Payload       P
	Timestamp     time.Time
	CorrelationID string
}

// Filter selects which envelopes a subscription receives. A nil Match
// accepts every payload; an empty Kinds set accepts every kind.
type Filter[K comparable, P any] struct {
	Kinds []K
	Match func(P) bool
}

func (f Filter[K, P]) accepts(kind K, payload P) bool {
	if len(f.Kinds) > 0 {
		ok := false
		for _, k := range f.Kinds {
			if k == kind {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Match != nil {
		return f.Match(payload)
	}
	return true
}

// Options configures a bus instance.
type Options struct {
	// Capacity is the per-subscriber bounded queue size. Zero or negative
	// means DefaultCapacity.
	Capacity int
	// FullMode is the overflow policy applied to every subscriber queue.
	FullMode FullMode
}

// Bus is a typed multi-subscriber fan-out. Delivery to any single
// subscriber is strictly FIFO in publish order; there is no ordering
// guarantee across subscribers.
type Bus[K comparable, P any] struct {
	name   string
	opts   Options
	logger *logger.Logger

	mu     sync.Mutex
	subs   map[uint64]*Subscription[K, P]
	nextID uint64
	closed bool
}

// New creates a bus. The name is used only for logging.
func New[K comparable, P any](name string, opts Options, log *logger.Logger) *Bus[K, P] {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if log == nil {
		log = logger.Default()
	}
	return &Bus[K, P]{
		name:   name,
		opts:   opts,
		logger: log.WithFields(zap.String("bus", name)),
		subs:   make(map[uint64]*Subscription[K, P]),
	}
}

// Publish delivers the event to every current subscriber whose filter
// matches. Under FullModeWait it blocks while any matching queue is full;
// under the drop policies it never blocks. Publish after Close fails with
// ErrBusClosed.
func (b *Bus[K, P]) Publish(ctx context.Context, kind K, payload P) error {
	env := Envelope[K, P]{
		Kind:          kind,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
		CorrelationID: uuid.New().String(),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	matching := make([]*Subscription[K, P], 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.filter.accepts(kind, payload) {
			matching = append(matching, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range matching {
		if err := sub.enqueue(ctx, env); err != nil {
			// Subscribers that already received the envelope keep it;
			// the cancelled publish does not reach the rest.
			return err
		}
	}
	return nil
}

// Subscribe registers a new subscription. The queue is created now and
// destroyed when the subscription is cancelled (via ctx or Unsubscribe)
// or the bus is closed. Cancellation completes the subscription
// gracefully.
func (b *Bus[K, P]) Subscribe(ctx context.Context, filter Filter[K, P]) (*Subscription[K, P], error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}
	b.nextID++
	sub := &Subscription[K, P]{
		bus:      b,
		id:       b.nextID,
		filter:   filter,
		capacity: b.opts.Capacity,
		mode:     b.opts.FullMode,
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	b.subs[sub.id] = sub
	b.mu.Unlock()

	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				sub.Unsubscribe()
			case <-sub.done:
			}
		}()
	}
	return sub, nil
}

// Close shuts the bus down. All active subscriptions complete gracefully
// after draining their queues; subsequent Publish and Subscribe calls
// fail with ErrBusClosed.
func (b *Bus[K, P]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription[K, P], 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[uint64]*Subscription[K, P])
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	b.logger.Debug("event bus closed")
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus[K, P]) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bus[K, P]) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}
