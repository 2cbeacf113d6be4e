package pg

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/dbwork/internal/engine"
)

// AdvisoryLocks implements engine.MutexService with session-level advisory
// locks, so Works in different processes serialize on the same name. Each
// held lock pins one pooled connection until it is unlocked.
type AdvisoryLocks struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ engine.MutexService = (*AdvisoryLocks)(nil)

// NewAdvisoryLocks takes locks on connections drawn from pool.
func NewAdvisoryLocks(pool *pgxpool.Pool, logger *slog.Logger) *AdvisoryLocks {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdvisoryLocks{pool: pool, logger: logger}
}

// Lock blocks until the advisory lock for name is granted or ctx ends.
func (a *AdvisoryLocks) Lock(ctx context.Context, name string) (func(), error) {
	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("advisory lock %q: %w", name, err)
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtext($1))`, name); err != nil {
		conn.Release()
		return nil, mapError("advisory lock", err)
	}

	bg := context.WithoutCancel(ctx)
	var once sync.Once
	return func() {
		once.Do(func() {
			var held bool
			err := conn.QueryRow(bg, `SELECT pg_advisory_unlock(hashtext($1))`, name).Scan(&held)
			if err != nil || !held {
				// The lock may still be attached to this backend; drop the
				// connection instead of returning it to the pool.
				a.logger.Warn("advisory unlock failed", "name", name, "error", err)
				conn.Conn().Close(bg)
			}
			conn.Release()
		})
	}, nil
}
