package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testKind string

const (
	kindA testKind = "a"
	kindB testKind = "b"
)

func newTestBus(t *testing.T, opts Options) *Bus[testKind, int] {
	t.Helper()
	b := New[testKind, int]("test", opts, nil)
	t.Cleanup(b.Close)
	return b
}

func TestPublishDeliversInFIFOOrder(t *testing.T) {
	b := newTestBus(t, Options{})
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, Filter[testKind, int]{})
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		require.NoError(t, b.Publish(ctx, kindA, i))
	}

	for i := 1; i <= 5; i++ {
		env, err := sub.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, env.Payload)
		assert.Equal(t, kindA, env.Kind)
		assert.NotEmpty(t, env.CorrelationID)
	}
}

func TestFilterByKindAndMatch(t *testing.T) {
	b := newTestBus(t, Options{})
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, Filter[testKind, int]{
		Kinds: []testKind{kindA},
		Match: func(p int) bool { return p%2 == 0 },
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, kindA, 1)) // odd, filtered
	require.NoError(t, b.Publish(ctx, kindB, 2)) // wrong kind
	require.NoError(t, b.Publish(ctx, kindA, 4)) // delivered

	env, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, env.Payload)
	assert.Equal(t, 0, sub.Len())
}

func TestDropOldestEvictsHead(t *testing.T) {
	b := newTestBus(t, Options{Capacity: 2, FullMode: FullModeDropOldest})
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, Filter[testKind, int]{})
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		require.NoError(t, b.Publish(ctx, kindA, i))
	}

	env, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, env.Payload)
	env, err = sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, env.Payload)
}

func TestDropNewestReplacesTail(t *testing.T) {
	b := newTestBus(t, Options{Capacity: 2, FullMode: FullModeDropNewest})
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, Filter[testKind, int]{})
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		require.NoError(t, b.Publish(ctx, kindA, i))
	}

	env, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, env.Payload)
	env, err = sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, env.Payload)
}

func TestDropWriteDiscardsPublish(t *testing.T) {
	b := newTestBus(t, Options{Capacity: 2, FullMode: FullModeDropWrite})
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, Filter[testKind, int]{})
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		require.NoError(t, b.Publish(ctx, kindA, i))
	}

	env, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, env.Payload)
	env, err = sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, env.Payload)
	assert.Equal(t, 0, sub.Len())
}

func TestWaitModeBlocksPublisherUntilConsumed(t *testing.T) {
	b := newTestBus(t, Options{Capacity: 1, FullMode: FullModeWait})
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, Filter[testKind, int]{})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, kindA, 1))

	published := make(chan error, 1)
	go func() {
		published <- b.Publish(ctx, kindA, 2)
	}()

	select {
	case <-published:
		t.Fatal("publish completed against a full queue")
	case <-time.After(50 * time.Millisecond):
	}

	env, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, env.Payload)

	select {
	case err := <-published:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publisher was not unblocked by the consumer")
	}

	env, err = sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, env.Payload)
}

func TestWaitModePublishHonorsContextCancel(t *testing.T) {
	b := newTestBus(t, Options{Capacity: 1, FullMode: FullModeWait})

	sub, err := b.Subscribe(context.Background(), Filter[testKind, int]{})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, b.Publish(context.Background(), kindA, 1))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = b.Publish(ctx, kindA, 2)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNextHonorsContextCancel(t *testing.T) {
	b := newTestBus(t, Options{})

	sub, err := b.Subscribe(context.Background(), Filter[testKind, int]{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = sub.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubscribeContextCancelCompletesSubscription(t *testing.T) {
	b := newTestBus(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := b.Subscribe(ctx, Filter[testKind, int]{})
	require.NoError(t, err)

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription was not completed by context cancellation")
	}

	_, err = sub.Next(context.Background())
	require.ErrorIs(t, err, ErrSubscriptionClosed)

	// The bus eventually forgets the subscription.
	assert.Eventually(t, func() bool {
		return b.SubscriberCount() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestCloseDrainsQueueThenCompletes(t *testing.T) {
	b := New[testKind, int]("test", Options{}, nil)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, Filter[testKind, int]{})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, kindA, 1))
	require.NoError(t, b.Publish(ctx, kindA, 2))
	b.Close()

	env, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, env.Payload)
	env, err = sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, env.Payload)

	_, err = sub.Next(ctx)
	require.ErrorIs(t, err, ErrSubscriptionClosed)
}

func TestPublishAndSubscribeAfterClose(t *testing.T) {
	b := New[testKind, int]("test", Options{}, nil)
	b.Close()

	err := b.Publish(context.Background(), kindA, 1)
	require.ErrorIs(t, err, ErrBusClosed)

	_, err = b.Subscribe(context.Background(), Filter[testKind, int]{})
	require.ErrorIs(t, err, ErrBusClosed)
}

func TestUnsubscribeRemovesQueue(t *testing.T) {
	b := newTestBus(t, Options{})
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, Filter[testKind, int]{})
	require.NoError(t, err)
	require.Equal(t, 1, b.SubscriberCount())

	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent
	assert.Equal(t, 0, b.SubscriberCount())

	// Publishing after unsubscribe does not reach the old queue.
	require.NoError(t, b.Publish(ctx, kindA, 1))
	assert.Equal(t, 0, sub.Len())
}

func TestParseFullMode(t *testing.T) {
	cases := []struct {
		in   string
		want FullMode
		ok   bool
	}{
		{"", FullModeWait, true},
		{"wait", FullModeWait, true},
		{"drop_oldest", FullModeDropOldest, true},
		{"drop_newest", FullModeDropNewest, true},
		{"drop_write", FullModeDropWrite, true},
		{"bogus", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseFullMode(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		if ok {
			assert.Equal(t, tc.want, got, tc.in)
		}
	}
}
