package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/dbwork/internal/blob"
	"github.com/roach88/dbwork/internal/config"
	"github.com/roach88/dbwork/internal/engine"
	"github.com/roach88/dbwork/internal/pg"
	"github.com/roach88/dbwork/internal/store"
	"github.com/roach88/dbwork/internal/typereg"
)

// backend is an open connection plus everything it was built from.
type backend struct {
	cfg      *config.Config
	logger   *slog.Logger
	conn     *engine.Conn
	blobs    *blob.Store
	registry *typereg.Registry // postgres only

	store *store.Store  // sqlite only
	pool  *pgxpool.Pool // postgres only
	hub   *engine.Hub
}

// openBackend connects according to cfg. SQLite yields a minimal
// connection; PostgreSQL a typed one with NOTIFY broadcasting and advisory
// locks.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	blobs, err := blob.NewStore(cfg.DataRoot, blob.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	b := &backend{cfg: cfg, logger: logger, blobs: blobs, hub: engine.NewHub()}
	connOpts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithBlobStore(blobs),
		engine.WithReadOnly(cfg.ReadOnly),
		engine.WithRetryBackoff(retryBackoff(cfg.Retry)),
	}

	switch cfg.Backend {
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open pool: %w", err)
		}
		sess, err := pg.Connect(ctx, cfg.DSN, pg.WithLogger(logger), pg.WithBlobResolver(blobs))
		if err != nil {
			pool.Close()
			return nil, err
		}
		b.pool = pool
		b.registry = sess.Registry()
		connOpts = append(connOpts,
			engine.WithBroadcaster(pg.NewNotifier(pool, cfg.Notify.Channel, logger)),
			engine.WithMutexes(pg.NewAdvisoryLocks(pool, logger)),
		)
		b.conn = engine.NewConn(sess, connOpts...)

	default:
		st, err := openStore(cfg, logger)
		if err != nil {
			return nil, err
		}
		sess, err := st.Session(ctx)
		if err != nil {
			st.Close()
			return nil, err
		}
		b.store = st
		connOpts = append(connOpts, engine.WithBroadcaster(b.hub))
		b.conn = engine.NewConn(sess, connOpts...)
	}

	logger.Debug("backend open", "backend", cfg.Backend, "data_root", blobs.Root(), "read_only", cfg.ReadOnly)
	return b, nil
}

// runOptions builds RunInWork options from flags and config.
func (b *backend) runOptions(wo engine.WorkOptions, retry bool) engine.RunOptions {
	return engine.RunOptions{
		Work:       wo,
		AutoRetry:  retry,
		MaxRetries: b.cfg.Retry.MaxRetries,
	}
}

func (b *backend) Close(ctx context.Context) error {
	err := b.conn.Close(ctx)
	if b.store != nil {
		err = errors.Join(err, b.store.Close())
	}
	if b.pool != nil {
		b.pool.Close()
	}
	return err
}

// openStore opens the SQLite database, creating its directory.
func openStore(cfg *config.Config, logger *slog.Logger) (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	return store.Open(cfg.DSN, store.WithLogger(logger))
}

func retryBackoff(rc config.RetryConfig) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = rc.InitialInterval
		b.MaxInterval = rc.MaxInterval
		b.Multiplier = 2
		b.RandomizationFactor = 0.5
		b.MaxElapsedTime = 0
		b.Reset()
		return b
	}
}

// withBackend opens the configured backend, runs fn and closes it.
func withBackend(ctx context.Context, opts *RootOptions, fn func(b *backend) error) error {
	b, err := openBackend(ctx, opts.Config, opts.Logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if cerr := b.Close(ctx); cerr != nil {
			opts.Logger.Error("error closing database", "error", cerr)
		}
	}()
	return fn(b)
}
