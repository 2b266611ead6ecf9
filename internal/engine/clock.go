package engine

import "sync/atomic"

// LogicalClock stamps audit log rows with strictly increasing sequence
// numbers. Implemented by Clock (production) and by the resettable test
// clock in testutil.
type LogicalClock interface {
	Next() int64
	Current() int64
}

// Clock is the monotonic logical clock that orders audit log rows.
//
// Every log row is stamped with a strictly increasing seq from this clock.
// This ensures:
// - Deterministic ordering (no wall-clock race conditions)
// - A replayed scenario produces an identical log
// - Causal relationships between recomputations are explicit
//
// Thread-safety: Clock is safe for concurrent use (atomic operations),
// though propagation runs single-threaded inside one session.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific sequence number.
// Used to resume logging after the highest seq already in the store.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
// Calls are linearizable - each call returns a unique, increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
