package bus

import (
	"context"
	"sync"
)

// Subscription is one subscriber's bounded FIFO queue on a bus. Envelopes
// are consumed with Next; a subscription that is no longer wanted must be
// cancelled via Unsubscribe (or the context passed to Subscribe) so its
// queue is released.
type Subscription[K comparable, P any] struct {
	bus      *Bus[K, P]
	id       uint64
	filter   Filter[K, P]
	capacity int
	mode     FullMode

	mu    sync.Mutex
	queue []Envelope[K, P]

	// notEmpty and notFull are capacity-1 signal channels; receivers
	// always re-check queue state under the lock after waking.
	notEmpty chan struct{}
	notFull  chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// Next blocks until an envelope is available, the subscription is closed,
// or ctx is cancelled. A closed subscription first drains its remaining
// queue, then returns ErrSubscriptionClosed.
func (s *Subscription[K, P]) Next(ctx context.Context) (Envelope[K, P], error) {
	var zero Envelope[K, P]
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			env := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			signal(s.notFull)
			return env, nil
		}
		s.mu.Unlock()

		select {
		case <-s.notEmpty:
		case <-s.done:
			// Drain anything enqueued between the length check and close.
			s.mu.Lock()
			if len(s.queue) > 0 {
				env := s.queue[0]
				s.queue = s.queue[1:]
				s.mu.Unlock()
				return env, nil
			}
			s.mu.Unlock()
			return zero, ErrSubscriptionClosed
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Done is closed when the subscription has been cancelled or the bus shut
// down. Useful in select loops alongside other wake sources.
func (s *Subscription[K, P]) Done() <-chan struct{} { return s.done }

// Unsubscribe cancels the subscription and removes its queue from the
// bus. It is safe to call multiple times.
func (s *Subscription[K, P]) Unsubscribe() {
	s.bus.remove(s.id)
	s.close()
}

// Len returns the number of queued envelopes.
func (s *Subscription[K, P]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Subscription[K, P]) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// enqueue appends an envelope according to the queue's overflow policy.
// Only FullModeWait can block; the drop policies complete immediately.
func (s *Subscription[K, P]) enqueue(ctx context.Context, env Envelope[K, P]) error {
	for {
		s.mu.Lock()
		select {
		case <-s.done:
			s.mu.Unlock()
			return nil // subscriber gone, nothing to deliver to
		default:
		}

		if len(s.queue) < s.capacity {
			s.queue = append(s.queue, env)
			s.mu.Unlock()
			signal(s.notEmpty)
			return nil
		}

		switch s.mode {
		case FullModeDropOldest:
			s.queue = append(s.queue[1:], env)
			s.mu.Unlock()
			signal(s.notEmpty)
			return nil
		case FullModeDropNewest:
			s.queue[len(s.queue)-1] = env
			s.mu.Unlock()
			signal(s.notEmpty)
			return nil
		case FullModeDropWrite:
			s.mu.Unlock()
			return nil
		}

		// FullModeWait: block until the consumer makes room.
		s.mu.Unlock()
		select {
		case <-s.notFull:
		case <-s.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// signal performs a non-blocking send on a capacity-1 signal channel.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
