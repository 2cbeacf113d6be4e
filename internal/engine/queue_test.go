package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()

	for _, name := range []string{"A", "B", "C"} {
		require.True(t, q.Enqueue(Event{Name: name}))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"A", "B", "C"} {
		e, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, e.Name)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestEventQueue_EnqueueAfterClose(t *testing.T) {
	q := newEventQueue()
	q.Close()
	q.Close()

	assert.False(t, q.Enqueue(Event{Name: "late"}))
	assert.True(t, q.Closed())
}

func TestEventQueue_ConcurrentEnqueue(t *testing.T) {
	q := newEventQueue()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Enqueue(Event{Name: "e", Data: i})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 100, q.Len())
}

func TestHub_FilteredSubscribers(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	all := hub.Subscribe()
	orders := hub.Subscribe("orders")
	defer all.Close()
	defer orders.Close()

	require.NoError(t, hub.Broadcast(ctx, "orders", 1))
	require.NoError(t, hub.Broadcast(ctx, "users", nil))

	assert.Equal(t, 2, all.Pending())
	assert.Equal(t, 1, orders.Pending())

	e, err := orders.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, Event{Name: "orders", Data: 1}, e)
}

func TestSubscription_NextBlocksUntilBroadcast(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	sub := hub.Subscribe()
	defer sub.Close()

	got := make(chan Event, 1)
	go func() {
		e, err := sub.Next(ctx)
		if err == nil {
			got <- e
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, hub.Broadcast(ctx, "ping", nil))

	select {
	case e := <-got:
		assert.Equal(t, "ping", e.Name)
	case <-time.After(time.Second):
		t.Fatal("Next did not wake up")
	}
}

func TestSubscription_Close(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	sub := hub.Subscribe()

	require.NoError(t, hub.Broadcast(ctx, "before", nil))
	sub.Close()
	require.NoError(t, hub.Broadcast(ctx, "after", nil))

	// queued events survive Close
	e, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "before", e.Name)

	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
}

func TestSubscription_NextHonorsContext(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe()
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
