package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/roach88/dbwork/internal/blob"
	"github.com/roach88/dbwork/internal/session"
)

// ConnState is the lifecycle state of a connection.
type ConnState int

const (
	// ConnIdle is connected with no open Work.
	ConnIdle ConnState = iota
	// ConnOpen has an open Work.
	ConnOpen
	// ConnClosed has released its session.
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnIdle:
		return "idle"
	case ConnOpen:
		return "open"
	case ConnClosed:
		return "closed"
	}
	return fmt.Sprintf("ConnState(%d)", int(s))
}

// Default retry tuning for RunInWork.
const (
	DefaultMaxRetries      = 10
	DefaultInitialInterval = 50 * time.Millisecond
	DefaultMaxInterval     = 2 * time.Second
)

// Conn owns one physical session and at most one open Work.
//
// All wire calls are serialized through a reference-counted dispatch lock,
// so concurrent callers queue instead of interleaving on the wire, and Close
// waits for in-flight calls before releasing the session.
type Conn struct {
	sess     session.Session
	dispatch *dispatchLock

	logger      *slog.Logger
	mutexes     MutexService
	broadcaster Broadcaster
	blobs       *blob.Store
	readOnly    bool
	newBackoff  func() backoff.BackOff
	sleep       func(time.Duration)

	mu     sync.Mutex
	work   *Work
	closed bool

	stats stats
}

// Option configures a Conn.
type Option func(*Conn)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Conn) {
		c.logger = l
	}
}

// WithMutexes sets the named-mutex service used by WorkOptions.Mutexes.
// Defaults to a Latches table shared by every Conn in the process, so two
// connections naming the same mutex serialize.
func WithMutexes(m MutexService) Option {
	return func(c *Conn) {
		c.mutexes = m
	}
}

// WithBroadcaster sets where committed events go. Without one, events are
// dropped.
func WithBroadcaster(b Broadcaster) Option {
	return func(c *Conn) {
		c.broadcaster = b
	}
}

// WithBlobStore enables UploadBlob.
func WithBlobStore(s *blob.Store) Option {
	return func(c *Conn) {
		c.blobs = s
	}
}

// WithReadOnly makes every Work read-only and rejects blob uploads and
// sequence allocation.
func WithReadOnly(ro bool) Option {
	return func(c *Conn) {
		c.readOnly = ro
	}
}

// WithRetryBackoff overrides the delay policy between RunInWork attempts.
// The factory is called once per RunInWork call.
func WithRetryBackoff(f func() backoff.BackOff) Option {
	return func(c *Conn) {
		c.newBackoff = f
	}
}

// WithSleep overrides how RunInWork waits between attempts.
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Conn) {
		c.sleep = sleep
	}
}

var processLatches = NewLatches()

// NewConn wraps an established session.
func NewConn(sess session.Session, opts ...Option) *Conn {
	c := &Conn{
		sess:       sess,
		dispatch:   newDispatchLock(),
		logger:     slog.Default(),
		newBackoff: DefaultBackoff,
		sleep:      time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.mutexes == nil {
		c.mutexes = processLatches
	}
	return c
}

// DefaultBackoff grows from DefaultInitialInterval toward DefaultMaxInterval
// with ±50% jitter and never gives up on its own.
func DefaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = DefaultInitialInterval
	b.MaxInterval = DefaultMaxInterval
	b.RandomizationFactor = 0.5
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// State returns the connection's lifecycle state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return ConnClosed
	case c.work != nil:
		return ConnOpen
	}
	return ConnIdle
}

// ReadOnly reports whether the connection was opened read-only.
func (c *Conn) ReadOnly() bool {
	return c.readOnly
}

// BlobStore returns the configured blob store, or nil.
func (c *Conn) BlobStore() *blob.Store {
	return c.blobs
}

// Logger returns the connection's logger.
func (c *Conn) Logger() *slog.Logger {
	return c.logger
}

// CurrentWork returns the open Work, or nil.
func (c *Conn) CurrentWork() *Work {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.work
}

// Query runs a statement, inside the open Work if there is one.
func (c *Conn) Query(ctx context.Context, sql string, args ...any) (*session.Result, error) {
	release, err := c.dispatch.acquire(ctx, "query")
	if err != nil {
		return nil, err
	}
	defer release()
	return c.sess.Query(ctx, sql, args...)
}

// Exec runs a statement and discards its rows.
func (c *Conn) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := c.Query(ctx, sql, args...)
	return err
}

// NextVals allocates n values from the sequence behind field
// ("table.column").
func (c *Conn) NextVals(ctx context.Context, field string, n int) ([]int64, error) {
	if c.readOnly {
		return nil, &session.ReadOnlyError{Op: "nextval"}
	}
	release, err := c.dispatch.acquire(ctx, "nextval")
	if err != nil {
		return nil, err
	}
	defer release()
	return c.sess.NextVals(ctx, field, n)
}

// UploadBlob uploads src inside the open Work. See Work.UploadBlob.
func (c *Conn) UploadBlob(ctx context.Context, src any) (*blob.Handle, error) {
	w := c.CurrentWork()
	if w == nil {
		return nil, newStateError("upload blob", StateWorkOpen, StateNoWork)
	}
	return w.UploadBlob(ctx, src)
}

// CommitWork commits the open Work.
func (c *Conn) CommitWork(ctx context.Context) error {
	w := c.CurrentWork()
	if w == nil {
		return newStateError("commit", StateWorkOpen, StateNoWork)
	}
	return w.Commit(ctx)
}

// RollbackWork rolls back the open Work.
func (c *Conn) RollbackWork(ctx context.Context) error {
	w := c.CurrentWork()
	if w == nil {
		return newStateError("rollback", StateWorkOpen, StateNoWork)
	}
	return w.Rollback(ctx)
}

// Close rolls back any open Work, waits for in-flight calls and closes the
// session. Closing twice is a no-op.
func (c *Conn) Close(ctx context.Context) error {
	if w := c.CurrentWork(); w != nil {
		if err := w.RollbackIfOpen(ctx); err != nil {
			c.logger.Warn("rollback on close failed", "error", err)
		}
	}

	first, err := c.dispatch.close(ctx)
	if err != nil {
		return fmt.Errorf("close: waiting for in-flight calls: %w", err)
	}
	if !first {
		return nil
	}

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	if err := c.sess.Close(ctx); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	c.logger.Debug("connection closed")
	return nil
}

// Stats returns a snapshot of the connection's counters.
func (c *Conn) Stats() Stats {
	return c.stats.snapshot()
}

// wire helpers used by Work; each takes the dispatch lock.

func (c *Conn) begin(ctx context.Context, opts session.TxOptions) error {
	release, err := c.dispatch.acquire(ctx, "begin")
	if err != nil {
		return err
	}
	defer release()
	return c.sess.Begin(ctx, opts)
}

func (c *Conn) commit(ctx context.Context) (string, error) {
	release, err := c.dispatch.acquire(ctx, "commit")
	if err != nil {
		return "", err
	}
	defer release()
	return c.sess.Commit(ctx)
}

func (c *Conn) rollback(ctx context.Context) error {
	release, err := c.dispatch.acquire(ctx, "rollback")
	if err != nil {
		return err
	}
	defer release()
	return c.sess.Rollback(ctx)
}

// clearWork drops the open-work pointer if it still refers to w.
func (c *Conn) clearWork(w *Work) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.work == w {
		c.work = nil
	}
}
