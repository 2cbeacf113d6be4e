package engine

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/dbwork/internal/blob"
	"github.com/roach88/dbwork/internal/session"
)

// WorkState is the lifecycle state of a Work.
type WorkState int

const (
	WorkOpen WorkState = iota
	WorkCommitting
	WorkClosed
)

func (s WorkState) String() string {
	switch s {
	case WorkOpen:
		return "open"
	case WorkCommitting:
		return "committing"
	case WorkClosed:
		return "closed"
	}
	return fmt.Sprintf("WorkState(%d)", int(s))
}

// WorkOptions configures BeginWork.
type WorkOptions struct {
	// Isolation defaults to session.DefaultIsolation.
	Isolation session.IsolationLevel

	// ReadOnly begins a read-only transaction. Always set on read-only
	// connections.
	ReadOnly bool

	// Mutexes are acquired in order before the transaction begins and
	// released in reverse order when it ends.
	Mutexes []string
}

// FinishHandler holds callbacks run when a Work ends. Any of them may be nil.
type FinishHandler struct {
	// BeforeCommit runs before COMMIT is sent. An error aborts the commit
	// and rolls the Work back.
	BeforeCommit func(ctx context.Context) error

	// Commit runs after the engine confirmed the commit.
	Commit func(ctx context.Context) error

	// Rollback runs after the transaction was rolled back.
	Rollback func(ctx context.Context) error
}

type phase int

const (
	phaseBeforeCommit phase = iota
	phaseCommit
	phaseRollback
)

func (h *FinishHandler) callback(p phase) func(context.Context) error {
	switch p {
	case phaseBeforeCommit:
		return h.BeforeCommit
	case phaseCommit:
		return h.Commit
	}
	return h.Rollback
}

type queuedEvent struct {
	name string
	data any
}

type heldMutex struct {
	name   string
	unlock func()
}

// Work is one transaction on a Conn plus its finish-handler state.
//
// A Work is created by BeginWork and ends at Commit or Rollback. Callers
// that open a Work directly should defer RollbackIfOpen.
type Work struct {
	conn      *Conn
	isolation session.IsolationLevel
	readOnly  bool

	mu       sync.Mutex
	state    WorkState
	handlers []*FinishHandler
	tagged   map[string]*FinishHandler
	unique   []string
	seen     map[string]bool
	events   []queuedEvent
	mutexes  []heldMutex
}

// BeginWork opens a Work.
//
// The isolation level is validated before any I/O. Named mutexes are acquired
// before the open-work check, so callers can use a mutex to serialize
// concurrent BeginWork calls on one connection.
func (c *Conn) BeginWork(ctx context.Context, opts WorkOptions) (*Work, error) {
	iso, err := session.ParseIsolationLevel(string(opts.Isolation))
	if err != nil {
		return nil, fmt.Errorf("begin work: %w", err)
	}

	w := &Work{
		conn:      c,
		isolation: iso,
		readOnly:  opts.ReadOnly || c.readOnly,
		tagged:    make(map[string]*FinishHandler),
		seen:      make(map[string]bool),
	}

	for _, name := range opts.Mutexes {
		unlock, err := c.mutexes.Lock(ctx, name)
		if err != nil {
			w.releaseMutexes()
			return nil, fmt.Errorf("begin work: acquire mutex %q: %w", name, err)
		}
		w.mutexes = append(w.mutexes, heldMutex{name: name, unlock: unlock})
	}

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		w.releaseMutexes()
		return nil, newStateError("begin work", StateConnOpen, StateConnClosed)
	case c.work != nil:
		c.mu.Unlock()
		w.releaseMutexes()
		return nil, newStateError("begin work", StateNoWork, StateWorkOpen)
	}
	c.work = w
	c.mu.Unlock()

	if err := c.begin(ctx, session.TxOptions{Isolation: iso, ReadOnly: w.readOnly}); err != nil {
		c.clearWork(w)
		w.releaseMutexes()
		return nil, fmt.Errorf("begin work: %w", err)
	}

	c.stats.begins.Add(1)
	c.logger.Debug("work begun", "isolation", string(iso), "read_only", w.readOnly, "mutexes", len(w.mutexes))
	return w, nil
}

// Isolation returns the Work's isolation level.
func (w *Work) Isolation() session.IsolationLevel {
	return w.isolation
}

// ReadOnly reports whether the Work is read-only.
func (w *Work) ReadOnly() bool {
	return w.readOnly
}

// State returns the Work's lifecycle state.
func (w *Work) State() WorkState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Conn returns the connection that owns the Work.
func (w *Work) Conn() *Conn {
	return w.conn
}

func (w *Work) checkOpen(op string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.checkOpenLocked(op)
}

// checkOpenLocked accepts a Work that is open or running its BeforeCommit
// handlers, which may still use the Work. w.mu must be held.
func (w *Work) checkOpenLocked(op string) error {
	if w.state != WorkOpen && w.state != WorkCommitting {
		return newStateError(op, StateWorkOpen, "work "+w.state.String())
	}
	return nil
}

// OnFinish registers h. A non-empty tag makes registration idempotent: if a
// handler is already stored under tag, that handler is returned and h is
// discarded.
func (w *Work) OnFinish(h *FinishHandler, tag string) (*FinishHandler, error) {
	if h == nil {
		return nil, fmt.Errorf("on finish: nil handler")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpenLocked("on finish"); err != nil {
		return nil, err
	}
	if tag != "" {
		if existing, ok := w.tagged[tag]; ok {
			return existing, nil
		}
		w.tagged[tag] = h
	}
	w.handlers = append(w.handlers, h)
	return h, nil
}

// BroadcastOnCommit queues an event for delivery after a successful commit.
// With nil data the event is unique: queuing the same name again is a no-op.
// With data, every call queues one delivery.
func (w *Work) BroadcastOnCommit(event string, data any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpenLocked("broadcast on commit"); err != nil {
		return err
	}
	if data == nil {
		if !w.seen[event] {
			w.seen[event] = true
			w.unique = append(w.unique, event)
		}
		return nil
	}
	w.events = append(w.events, queuedEvent{name: event, data: data})
	return nil
}

// Query runs a statement inside the Work.
func (w *Work) Query(ctx context.Context, sql string, args ...any) (*session.Result, error) {
	if err := w.checkOpen("query"); err != nil {
		return nil, err
	}
	return w.conn.Query(ctx, sql, args...)
}

// Exec runs a statement inside the Work. It satisfies blob.Execer.
func (w *Work) Exec(ctx context.Context, sql string, args ...any) error {
	if err := w.checkOpen("exec"); err != nil {
		return err
	}
	return w.conn.Exec(ctx, sql, args...)
}

// NextVals allocates sequence values inside the Work.
func (w *Work) NextVals(ctx context.Context, field string, n int) ([]int64, error) {
	if err := w.checkOpen("nextval"); err != nil {
		return nil, err
	}
	if w.readOnly {
		return nil, &session.ReadOnlyError{Op: "nextval"}
	}
	return w.conn.NextVals(ctx, field, n)
}

// UploadBlob stores src and inserts its registry row inside the Work.
//
// A *blob.Source uploaded here is forgotten by the dedup cache if the Work
// rolls back, since its registry row never becomes visible.
func (w *Work) UploadBlob(ctx context.Context, src any) (*blob.Handle, error) {
	if err := w.checkOpen("upload blob"); err != nil {
		return nil, err
	}
	if w.readOnly {
		return nil, &session.ReadOnlyError{Op: "upload blob"}
	}
	store := w.conn.blobs
	if store == nil {
		return nil, ErrNoBlobStore
	}

	source, isSource := src.(*blob.Source)
	var cached bool
	if isSource {
		_, cached = store.Cached(source)
	}

	h, err := store.Upload(ctx, w, src)
	if err != nil {
		return nil, err
	}

	if isSource && !cached && h != nil {
		forget := &FinishHandler{Rollback: func(context.Context) error {
			store.Forget(source)
			return nil
		}}
		if _, err := w.OnFinish(forget, "blob.forget:"+h.ID()); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Commit runs the commit protocol:
//
//  1. run BeforeCommit handlers concurrently; on failure roll back and
//     return the handler error. The Work stays usable here, and handlers
//     registered meanwhile get their own BeforeCommit round
//  2. mark the Work closed
//  3. send COMMIT and check the engine really committed
//  4. broadcast unique events, then queued events
//  5. run Commit handlers concurrently
//  6. clear the connection's open Work and release mutexes in reverse
//     order, even if step 5 fails
func (w *Work) Commit(ctx context.Context) error {
	w.mu.Lock()
	if w.state != WorkOpen {
		w.mu.Unlock()
		return newStateError("commit", StateWorkOpen, "work "+w.state.String())
	}
	w.state = WorkCommitting
	w.mu.Unlock()

	for ran := 0; ; {
		w.mu.Lock()
		pending := append([]*FinishHandler(nil), w.handlers[ran:]...)
		ran = len(w.handlers)
		w.mu.Unlock()
		if len(pending) == 0 {
			break
		}

		if err := runHandlers(ctx, pending, phaseBeforeCommit); err != nil {
			w.mu.Lock()
			w.state = WorkOpen
			w.mu.Unlock()
			if rbErr := w.Rollback(ctx); rbErr != nil {
				w.conn.logger.Warn("rollback after failed before-commit handler", "error", rbErr)
			}
			return err
		}
	}

	w.mu.Lock()
	w.state = WorkClosed
	handlers := append([]*FinishHandler(nil), w.handlers...)
	w.mu.Unlock()
	defer w.finish()

	tag, err := w.conn.commit(ctx)
	if err == nil && tag == "ROLLBACK" {
		err = &session.DatabaseError{
			Code:    session.CodeInFailedTransaction,
			Message: "transaction was aborted: COMMIT reported ROLLBACK",
		}
	}
	if err != nil {
		// a failed COMMIT can leave the transaction open on some engines
		if rbErr := w.conn.rollback(context.WithoutCancel(ctx)); rbErr != nil {
			w.conn.logger.Debug("rollback after failed commit", "error", rbErr)
		}
		if hErr := runHandlers(ctx, handlers, phaseRollback); hErr != nil {
			w.conn.logger.Warn("rollback handler failed", "error", hErr)
		}
		w.conn.stats.rollbacks.Add(1)
		return fmt.Errorf("commit: %w", err)
	}
	w.conn.stats.commits.Add(1)

	w.broadcast(ctx)

	if err := runHandlers(ctx, handlers, phaseCommit); err != nil {
		return fmt.Errorf("commit handler: %w", err)
	}
	return nil
}

// Rollback runs the rollback protocol: mark closed, send ROLLBACK, run
// Rollback handlers, clear the open Work and release mutexes. ROLLBACK is
// sent even if ctx is already canceled, since the Work is dropped either way.
func (w *Work) Rollback(ctx context.Context) error {
	w.mu.Lock()
	if w.state != WorkOpen {
		w.mu.Unlock()
		return newStateError("rollback", StateWorkOpen, "work "+w.state.String())
	}
	w.state = WorkClosed
	handlers := append([]*FinishHandler(nil), w.handlers...)
	w.mu.Unlock()
	defer w.finish()

	w.conn.stats.rollbacks.Add(1)
	err := w.conn.rollback(context.WithoutCancel(ctx))
	hErr := runHandlers(ctx, handlers, phaseRollback)
	if err != nil {
		if hErr != nil {
			w.conn.logger.Warn("rollback handler failed", "error", hErr)
		}
		return fmt.Errorf("rollback: %w", err)
	}
	if hErr != nil {
		return fmt.Errorf("rollback handler: %w", hErr)
	}
	return nil
}

// RollbackIfOpen rolls back the Work if it is still open. It is meant to be
// deferred right after BeginWork.
func (w *Work) RollbackIfOpen(ctx context.Context) error {
	if w.State() != WorkOpen {
		return nil
	}
	return w.Rollback(context.WithoutCancel(ctx))
}

func (w *Work) broadcast(ctx context.Context) {
	b := w.conn.broadcaster
	if b == nil {
		return
	}

	w.mu.Lock()
	unique := w.unique
	events := w.events
	w.unique, w.events = nil, nil
	w.mu.Unlock()

	for _, name := range unique {
		if err := b.Broadcast(ctx, name, nil); err != nil {
			w.conn.logger.Warn("broadcast failed", "event", name, "error", err)
		}
	}
	for _, e := range events {
		if err := b.Broadcast(ctx, e.name, e.data); err != nil {
			w.conn.logger.Warn("broadcast failed", "event", e.name, "error", err)
		}
	}
}

// finish clears the connection's open-work pointer, then releases mutexes
// in reverse acquisition order.
func (w *Work) finish() {
	w.conn.clearWork(w)
	w.releaseMutexes()
}

func (w *Work) releaseMutexes() {
	w.mu.Lock()
	held := w.mutexes
	w.mutexes = nil
	w.mu.Unlock()

	for i := len(held) - 1; i >= 0; i-- {
		held[i].unlock()
	}
}

// runHandlers runs one phase of every handler concurrently and returns the
// first error after all of them finished.
func runHandlers(ctx context.Context, handlers []*FinishHandler, p phase) error {
	var g errgroup.Group
	for _, h := range handlers {
		fn := h.callback(p)
		if fn == nil {
			continue
		}
		g.Go(func() error {
			return fn(ctx)
		})
	}
	return g.Wait()
}
