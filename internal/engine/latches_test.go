package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatches_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	l := NewLatches()

	unlockA, err := l.Lock(ctx, "a")
	require.NoError(t, err)
	assert.True(t, l.Held("a"))

	// a different name is independent
	unlockB, err := l.Lock(ctx, "b")
	require.NoError(t, err)

	unlockA()
	unlockA() // idempotent
	assert.False(t, l.Held("a"))
	assert.True(t, l.Held("b"))

	unlockA, err = l.Lock(ctx, "a")
	require.NoError(t, err)
	unlockA()
	unlockB()
}

func TestLatches_WaitsForRelease(t *testing.T) {
	ctx := context.Background()
	l := NewLatches()

	unlock, err := l.Lock(ctx, "k")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := l.Lock(ctx, "k")
		if err == nil {
			close(acquired)
			u()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock succeeded while held")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter not woken after release")
	}
}

func TestLatches_ContextCancel(t *testing.T) {
	l := NewLatches()
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLatches_MutualExclusion(t *testing.T) {
	ctx := context.Background()
	l := NewLatches()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "shared")
			if err != nil {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.False(t, l.Held("shared"))
}
