package engine

import (
	"context"
	"errors"
	"sync"
)

// Broadcaster delivers committed events. It is invoked after COMMIT
// succeeds, once per unique event and once per queued (event, data) pair.
type Broadcaster interface {
	Broadcast(ctx context.Context, event string, data any) error
}

// ErrSubscriptionClosed is returned by Next after Close.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Hub is the in-process Broadcaster. Subscribers receive events on their
// own unbounded queue, so a slow subscriber never blocks a commit.
type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

var _ Broadcaster = (*Hub)(nil)

// NewHub creates a hub with no subscribers.
func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

// Broadcast fans the event out to every matching subscriber.
func (h *Hub) Broadcast(ctx context.Context, event string, data any) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if s.matches(event) {
			s.queue.Enqueue(Event{Name: event, Data: data})
		}
	}
	return nil
}

// Subscribe registers a subscriber for the named events, or for every event
// when none are named.
func (h *Hub) Subscribe(events ...string) *Subscription {
	s := &Subscription{hub: h, queue: newEventQueue()}
	if len(events) > 0 {
		s.filter = make(map[string]bool, len(events))
		for _, e := range events {
			s.filter[e] = true
		}
	}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) unsubscribe(s *Subscription) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

// Subscription is one listener on a Hub.
type Subscription struct {
	hub    *Hub
	filter map[string]bool
	queue  *eventQueue
}

func (s *Subscription) matches(event string) bool {
	return s.filter == nil || s.filter[event]
}

// Next blocks until an event arrives, ctx is done, or the subscription is
// closed. Events already queued are still delivered after Close.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		if e, ok := s.queue.TryDequeue(); ok {
			return e, nil
		}
		if s.queue.Closed() {
			return Event{}, ErrSubscriptionClosed
		}
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.queue.Wait():
		}
	}
}

// Pending returns the number of undelivered events.
func (s *Subscription) Pending() int {
	return s.queue.Len()
}

// Close detaches the subscription from its hub.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
	s.queue.Close()
}
