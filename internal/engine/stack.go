package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Opener opens a fresh connection for nested work.
type Opener func(ctx context.Context) (*Conn, error)

// Stack tracks the ambient connection for a call chain. StashWork swaps in a
// new connection so independent work can run while the current one (and its
// possibly open Work) waits; PopWork restores it.
type Stack struct {
	open Opener

	mu      sync.Mutex
	current *Conn
	stashed []*Conn
}

// NewStack starts a stack at root. The caller keeps ownership of root.
func NewStack(root *Conn, open Opener) *Stack {
	return &Stack{open: open, current: root}
}

// Current returns the ambient connection.
func (s *Stack) Current() *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Depth returns the number of stashed connections.
func (s *Stack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stashed)
}

// StashWork pushes the ambient connection and makes a new one current.
func (s *Stack) StashWork(ctx context.Context) (*Conn, error) {
	c, err := s.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("stash work: %w", err)
	}

	s.mu.Lock()
	s.stashed = append(s.stashed, s.current)
	s.current = c
	s.mu.Unlock()
	return c, nil
}

// PopWork closes the current connection, rolling back any Work still open
// on it, and restores the most recently stashed one.
func (s *Stack) PopWork(ctx context.Context) error {
	s.mu.Lock()
	if len(s.stashed) == 0 {
		s.mu.Unlock()
		return newStateError("pop work", "stashed connection", "empty stack")
	}
	top := s.current
	s.current = s.stashed[len(s.stashed)-1]
	s.stashed = s.stashed[:len(s.stashed)-1]
	s.mu.Unlock()

	if err := top.Close(ctx); err != nil {
		return fmt.Errorf("pop work: %w", err)
	}
	return nil
}

// Close force-closes every connection this stack opened and restores the
// root. It is meant for abnormal teardown; a balanced call chain pops
// everything itself.
func (s *Stack) Close(ctx context.Context) error {
	var errs []error
	for s.Depth() > 0 {
		if err := s.PopWork(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
