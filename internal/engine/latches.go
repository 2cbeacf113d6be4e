package engine

import (
	"context"
	"sync"
)

// MutexService provides named, cross-transaction mutexes. Lock blocks until
// the named mutex is free or ctx is done; the returned unlock releases it and
// is safe to call more than once.
type MutexService interface {
	Lock(ctx context.Context, name string) (unlock func(), err error)
}

// Latches is the in-process MutexService.
//
// Latching is implemented using a single map from name to a channel that is
// closed on release. Waiters block on the channel and then race to install
// their own; access to the map is guarded by one mutex.
type Latches struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

var _ MutexService = (*Latches)(nil)

// NewLatches creates an empty latch table. There should be one per process
// (or per database) shared by every connection.
func NewLatches() *Latches {
	return &Latches{held: make(map[string]chan struct{})}
}

// Lock acquires the latch for name.
func (l *Latches) Lock(ctx context.Context, name string) (func(), error) {
	for {
		l.mu.Lock()
		wait, busy := l.held[name]
		if !busy {
			mine := make(chan struct{})
			l.held[name] = mine
			l.mu.Unlock()

			var once sync.Once
			return func() {
				once.Do(func() { l.release(name, mine) })
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *Latches) release(name string, mine chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] == mine {
		delete(l.held, name)
	}
	close(mine)
}

// Held reports whether name is currently latched.
func (l *Latches) Held(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[name]
	return ok
}
