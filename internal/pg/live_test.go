package pg

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dbwork/internal/engine"
)

func testPool(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()
	pool, err := pgxpool.New(ctx, testDSN(t))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestNotifier_RelayLive(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool := testPool(t, ctx)

	n := NewNotifier(pool, "dbwork_test_events", nil)
	hub := engine.NewHub()
	sub := hub.Subscribe("orders.changed")
	defer sub.Close()

	relayCtx, stopRelay := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- n.Relay(relayCtx, hub) }()

	// LISTEN may not be active yet; keep publishing until one arrives.
	go func() {
		for relayCtx.Err() == nil {
			n.Broadcast(relayCtx, "orders.changed", map[string]any{"id": 1})
			time.Sleep(50 * time.Millisecond)
		}
	}()

	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "orders.changed", ev.Name)
	assert.Equal(t, map[string]any{"id": float64(1)}, ev.Data)

	stopRelay()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestAdvisoryLocks_Live(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	locks := NewAdvisoryLocks(testPool(t, ctx), nil)

	unlock, err := locks.Lock(ctx, "dbwork-test")
	require.NoError(t, err)

	acquired := make(chan func(), 1)
	go func() {
		u, err := locks.Lock(ctx, "dbwork-test")
		if err == nil {
			acquired <- u
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock succeeded while the first was held")
	case <-time.After(200 * time.Millisecond):
	}

	unlock()
	unlock() // idempotent

	select {
	case u := <-acquired:
		u()
	case <-ctx.Done():
		t.Fatal("second Lock never acquired")
	}
}

func TestAdvisoryLocks_CanceledWait(t *testing.T) {
	ctx := context.Background()
	locks := NewAdvisoryLocks(testPool(t, ctx), nil)

	unlock, err := locks.Lock(ctx, "dbwork-cancel")
	require.NoError(t, err)
	defer unlock()

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(waitCtx, "dbwork-cancel")
	assert.Error(t, err)
}
