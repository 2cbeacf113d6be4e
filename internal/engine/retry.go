package engine

import (
	"context"

	"github.com/cenkalti/backoff/v4"

	"github.com/roach88/dbwork/internal/session"
)

// RunOptions configures RunInWork.
type RunOptions struct {
	Work WorkOptions

	// AutoRetry replays the whole Work on serialization failures and
	// deadlocks.
	AutoRetry bool

	// MaxRetries bounds the replays. Zero means DefaultMaxRetries.
	MaxRetries int
}

// RunInWork runs fn inside a fresh Work and commits it.
//
// When fn or the commit fails, the Work is rolled back (rollback errors are
// swallowed) and the original error is returned, unless it is retryable,
// AutoRetry is set and retries remain. Then RunInWork sleeps and starts over
// from BeginWork. The sleep is not cancellable.
func (c *Conn) RunInWork(ctx context.Context, fn func(ctx context.Context, w *Work) error, opts RunOptions) error {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	var b backoff.BackOff
	for attempt := 0; ; attempt++ {
		err := c.runOnce(ctx, fn, opts.Work)
		if err == nil {
			return nil
		}
		if !opts.AutoRetry || !session.IsRetryable(err) || attempt >= maxRetries {
			return err
		}

		if b == nil {
			b = c.newBackoff()
		}
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return err
		}

		c.stats.retries.Add(1)
		c.logger.Info("retrying work",
			"attempt", attempt+1,
			"code", session.Code(err),
			"delay", delay,
		)
		c.sleep(delay)
	}
}

func (c *Conn) runOnce(ctx context.Context, fn func(ctx context.Context, w *Work) error, opts WorkOptions) error {
	w, err := c.BeginWork(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if rbErr := w.RollbackIfOpen(ctx); rbErr != nil {
			c.logger.Debug("rollback after failed work", "error", rbErr)
		}
	}()

	if err := fn(ctx, w); err != nil {
		return err
	}
	return w.Commit(ctx)
}
