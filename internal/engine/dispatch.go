package engine

import (
	"context"
	"sync"
)

// dispatchLock serializes wire calls on one connection and keeps the
// session alive while any call holds a reference.
//
// Every call takes a reference, then the single dispatch slot. Closing stops
// new references and waits until the outstanding ones drain.
type dispatchLock struct {
	slot chan struct{} // capacity 1

	mu      sync.Mutex
	refs    int
	closing bool
	drained chan struct{}
	once    sync.Once
}

func newDispatchLock() *dispatchLock {
	return &dispatchLock{
		slot:    make(chan struct{}, 1),
		drained: make(chan struct{}),
	}
}

// acquire waits for the dispatch slot. The returned release must be called
// exactly once.
func (d *dispatchLock) acquire(ctx context.Context, op string) (func(), error) {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return nil, newStateError(op, StateConnOpen, StateConnClosed)
	}
	d.refs++
	d.mu.Unlock()

	select {
	case d.slot <- struct{}{}:
	case <-ctx.Done():
		d.unref()
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-d.slot
			d.unref()
		})
	}, nil
}

func (d *dispatchLock) unref() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refs--
	if d.closing && d.refs == 0 {
		d.once.Do(func() { close(d.drained) })
	}
}

// close refuses new references and waits for outstanding ones. It reports
// false if the lock was already closing.
func (d *dispatchLock) close(ctx context.Context) (bool, error) {
	d.mu.Lock()
	first := !d.closing
	d.closing = true
	if d.refs == 0 {
		d.once.Do(func() { close(d.drained) })
	}
	d.mu.Unlock()

	select {
	case <-d.drained:
		return first, nil
	case <-ctx.Done():
		return first, ctx.Err()
	}
}

// inflight reports the number of outstanding references.
func (d *dispatchLock) inflight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.refs
}
