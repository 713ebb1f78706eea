// Package memory implements the shared keyed memory store with
// wait-for-key semantics.
package memory

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aiswarm/aiswarm/internal/common/clock"
	"github.com/aiswarm/aiswarm/internal/common/logger"
	"github.com/aiswarm/aiswarm/internal/coord/errs"
	"github.com/aiswarm/aiswarm/internal/coord/models"
	"github.com/aiswarm/aiswarm/internal/coord/store"
	"github.com/aiswarm/aiswarm/internal/events/bus"
	"github.com/aiswarm/aiswarm/internal/events/eventlog"
	"github.com/aiswarm/aiswarm/internal/events/notify"
)

// DefaultNamespace is used when a tool call omits the namespace.
const DefaultNamespace = "default"

// SaveRequest carries the fields for a memory upsert.
type SaveRequest struct {
	Key       string
	Value     string
	Namespace string
	Type      string
	Metadata  string
}

// Service coordinates the shared memory store.
type Service struct {
	store    *store.Store
	notifier *notify.MemoryNotifier
	events   *eventlog.Logger
	clock    clock.Clock
	logger   *logger.Logger
}

// NewService creates the memory service.
func NewService(st *store.Store, notifier *notify.MemoryNotifier, events *eventlog.Logger, clk clock.Clock, log *logger.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &Service{store: st, notifier: notifier, events: events, clock: clk, logger: log}
}

func normalizeNamespace(ns string) string {
	ns = strings.TrimSpace(ns)
	if ns == "" {
		return DefaultNamespace
	}
	return ns
}

// Save upserts the value under (namespace, key) and emits MemorySaved or
// MemoryUpdated after commit.
func (s *Service) Save(ctx context.Context, op *store.Operation, req SaveRequest) (*models.MemoryEntry, error) {
	if strings.TrimSpace(req.Key) == "" {
		return nil, errs.InvalidInput("key is required")
	}
	if req.Value == "" {
		return nil, errs.InvalidInput("value is required")
	}
	ns := normalizeNamespace(req.Namespace)
	entryType := req.Type
	if entryType == "" {
		entryType = "json"
	}

	entry := &models.MemoryEntry{
		ID:        uuid.New().String(),
		Namespace: ns,
		Key:       req.Key,
		Value:     req.Value,
		Type:      entryType,
		Metadata:  req.Metadata,
	}
	saved, updated, err := op.Write().UpsertMemoryEntry(ctx, entry, s.clock.Now())
	if err != nil {
		return nil, err
	}

	eventType := string(notify.MemorySaved)
	if updated {
		eventType = string(notify.MemoryUpdated)
	}
	if err := s.events.Append(ctx, op.Write(), eventlog.Entry{
		EventType:  eventType,
		EntityID:   ns + "/" + req.Key,
		EntityType: "memory",
		Payload:    map[string]any{"namespace": ns, "key": req.Key, "size": saved.Size},
	}); err != nil {
		return nil, err
	}

	op.OnCommit(func(ctx context.Context) {
		if err := s.notifier.PublishSaved(ctx, ns, req.Key, updated); err != nil {
			s.logger.Warn("failed to publish memory saved", zap.Error(err))
		}
	})

	s.logger.Debug("memory saved",
		zap.String("namespace", ns),
		zap.String("key", req.Key),
		zap.Bool("updated", updated))
	return saved, nil
}

// Read returns the entry for (namespace, key), recording the access.
// A missing key returns nil, nil rather than an error.
func (s *Service) Read(ctx context.Context, op *store.Operation, key, namespace string) (*models.MemoryEntry, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errs.InvalidInput("key is required")
	}
	ns := normalizeNamespace(namespace)

	entry, err := op.Write().GetMemoryEntry(ctx, ns, key)
	if err != nil || entry == nil {
		return nil, err
	}

	now := s.clock.Now()
	if err := op.Write().TouchMemoryAccess(ctx, ns, key, now); err != nil {
		return nil, err
	}
	entry.AccessedAt = &now
	entry.AccessCount++
	return entry, nil
}

// List returns a snapshot of the namespace (or everything when empty).
func (s *Service) List(ctx context.Context, namespace string) ([]*models.MemoryEntry, error) {
	return s.store.Read().ListMemoryEntries(ctx, strings.TrimSpace(namespace))
}

// Delete removes the entry for (namespace, key). Returns whether an
// entry existed.
func (s *Service) Delete(ctx context.Context, op *store.Operation, key, namespace string) (bool, error) {
	if strings.TrimSpace(key) == "" {
		return false, errs.InvalidInput("key is required")
	}
	return op.Write().DeleteMemoryEntry(ctx, normalizeNamespace(namespace), key)
}

// WaitForKey reads (namespace, key) and, when absent, long-polls on
// memory events until the key appears or the timeout expires. Events are
// triggers only: every wakeup re-reads the store, and a fallback poll
// tick re-reads even when no event arrives. Timeout yields a Timeout
// error kind.
func (s *Service) WaitForKey(ctx context.Context, key, namespace string, timeout, pollInterval time.Duration) (*models.MemoryEntry, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errs.InvalidInput("key is required")
	}
	ns := normalizeNamespace(namespace)
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	if entry, err := s.readOnce(ctx, ns, key); err != nil || entry != nil {
		return entry, err
	}

	sub, err := s.notifier.SubscribeForKey(ctx, ns, key)
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	// A save that commits between the first read and the subscription is
	// published to nobody; the subscription only covers later publishes,
	// so check the store again before blocking.
	if entry, err := s.readOnce(ctx, ns, key); err != nil || entry != nil {
		return entry, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		pollCtx, cancelPoll := context.WithTimeout(waitCtx, pollInterval)
		_, err := sub.Next(pollCtx)
		cancelPoll()

		switch {
		case err == nil:
			// saved event; fall through to re-read
		case errors.Is(err, bus.ErrSubscriptionClosed):
			return nil, errs.Timeout("Timed out waiting for memory key %s/%s", ns, key)
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
			if waitCtx.Err() != nil {
				if ctx.Err() != nil {
					return nil, errs.Cancelled("Cancelled while waiting for memory key %s/%s", ns, key)
				}
				return nil, errs.Timeout("Timed out waiting for memory key %s/%s", ns, key)
			}
			// poll tick; fall through to re-read
		default:
			return nil, err
		}

		if entry, err := s.readOnce(ctx, ns, key); err != nil || entry != nil {
			return entry, err
		}
	}
}

// readOnce performs one read-with-access-touch in its own transaction.
func (s *Service) readOnce(ctx context.Context, ns, key string) (*models.MemoryEntry, error) {
	op, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = op.Close() }()

	entry, err := s.Read(ctx, op, key, ns)
	if err != nil || entry == nil {
		return nil, err
	}
	if err := op.Commit(ctx); err != nil {
		return nil, err
	}
	return entry, nil
}
