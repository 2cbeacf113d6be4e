package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/dbwork/internal/session"
)

// Call records one method invocation on a FakeSession.
type Call struct {
	Op   string
	SQL  string
	Args []any
	Opts session.TxOptions
}

// FakeSession is a scripted session.Session for engine tests.
//
// Hooks receive the 1-based count of calls of their kind. A nil hook
// succeeds. Thread-safety: all methods are safe for concurrent use.
type FakeSession struct {
	OnBegin    func(n int, opts session.TxOptions) error
	OnCommit   func(n int) (string, error)
	OnRollback func(n int) error
	OnQuery    func(sql string, args []any) (*session.Result, error)

	mu        sync.Mutex
	calls     []Call
	counts    map[string]int
	inTx      bool
	closed    bool
	sequences map[string]int64
}

var _ session.Session = (*FakeSession)(nil)

// NewFakeSession creates a session whose calls all succeed.
func NewFakeSession() *FakeSession {
	return &FakeSession{
		counts:    make(map[string]int),
		sequences: make(map[string]int64),
	}
}

func (f *FakeSession) record(c Call) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	f.counts[c.Op]++
	return f.counts[c.Op]
}

func (f *FakeSession) Begin(ctx context.Context, opts session.TxOptions) error {
	n := f.record(Call{Op: "begin", Opts: opts})
	if f.OnBegin != nil {
		if err := f.OnBegin(n, opts); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inTx {
		return errors.New("fake session: transaction already open")
	}
	f.inTx = true
	return nil
}

func (f *FakeSession) Commit(ctx context.Context) (string, error) {
	n := f.record(Call{Op: "commit"})
	f.mu.Lock()
	f.inTx = false
	f.mu.Unlock()
	if f.OnCommit != nil {
		return f.OnCommit(n)
	}
	return "COMMIT", nil
}

func (f *FakeSession) Rollback(ctx context.Context) error {
	n := f.record(Call{Op: "rollback"})
	f.mu.Lock()
	f.inTx = false
	f.mu.Unlock()
	if f.OnRollback != nil {
		return f.OnRollback(n)
	}
	return nil
}

func (f *FakeSession) Query(ctx context.Context, sql string, args ...any) (*session.Result, error) {
	f.record(Call{Op: "query", SQL: sql, Args: args})
	if f.OnQuery != nil {
		return f.OnQuery(sql, args)
	}
	return &session.Result{Command: "SELECT 0"}, nil
}

// NextVals hands out consecutive values per field, starting at 1.
func (f *FakeSession) NextVals(ctx context.Context, field string, n int) ([]int64, error) {
	f.record(Call{Op: "nextval", SQL: field})
	f.mu.Lock()
	defer f.mu.Unlock()
	vals := make([]int64, n)
	for i := range vals {
		f.sequences[field]++
		vals[i] = f.sequences[field]
	}
	return vals, nil
}

func (f *FakeSession) Close(ctx context.Context) error {
	f.record(Call{Op: "close"})
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Count returns how many times op ("begin", "commit", "rollback", "query",
// "nextval", "close") was called.
func (f *FakeSession) Count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[op]
}

// Calls returns a copy of the recorded calls.
func (f *FakeSession) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Ops returns the recorded operation names in order.
func (f *FakeSession) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ops := make([]string, len(f.calls))
	for i, c := range f.calls {
		ops[i] = c.Op
	}
	return ops
}

// Closed reports whether Close was called.
func (f *FakeSession) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// InTx reports whether a transaction is open.
func (f *FakeSession) InTx() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inTx
}
