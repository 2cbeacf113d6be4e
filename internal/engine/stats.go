package engine

import "sync/atomic"

// Stats is a snapshot of a connection's transaction counters.
type Stats struct {
	Begins    int64 `json:"begins"`
	Commits   int64 `json:"commits"`
	Rollbacks int64 `json:"rollbacks"`
	Retries   int64 `json:"retries"`
}

// stats holds the live counters. Safe for concurrent use.
type stats struct {
	begins    atomic.Int64
	commits   atomic.Int64
	rollbacks atomic.Int64
	retries   atomic.Int64
}

func (s *stats) snapshot() Stats {
	return Stats{
		Begins:    s.begins.Load(),
		Commits:   s.commits.Load(),
		Rollbacks: s.rollbacks.Load(),
		Retries:   s.retries.Load(),
	}
}
