package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dbwork/internal/session"
	"github.com/roach88/dbwork/internal/testutil"
)

func TestDispatchLock_Serializes(t *testing.T) {
	ctx := context.Background()
	d := newDispatchLock()

	release, err := d.acquire(ctx, "q")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = d.acquire(waitCtx, "q")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, d.inflight(), "a timed-out waiter drops its reference")

	release()
	release() // idempotent
	assert.Equal(t, 0, d.inflight())
}

func TestDispatchLock_CloseDrains(t *testing.T) {
	ctx := context.Background()
	d := newDispatchLock()

	release, err := d.acquire(ctx, "q")
	require.NoError(t, err)

	closed := make(chan struct{})
	go func() {
		d.close(ctx)
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("close returned with a reference outstanding")
	case <-time.After(20 * time.Millisecond):
	}

	_, err = d.acquire(ctx, "q")
	assert.True(t, IsStateError(err), "no new references while closing")

	release()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("close did not return after drain")
	}

	first, err := d.close(ctx)
	require.NoError(t, err)
	assert.False(t, first)
}

func TestConn_QueriesDoNotInterleave(t *testing.T) {
	ctx := context.Background()
	f := testutil.NewFakeSession()

	var mu sync.Mutex
	active, maxActive := 0, 0
	f.OnQuery = func(string, []any) (*session.Result, error) {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return &session.Result{}, nil
	}
	c := NewConn(f)
	defer c.Close(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Query(ctx, "SELECT 1")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive)
	assert.Equal(t, 10, f.Count("query"))
}
