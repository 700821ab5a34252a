package engine

import "sync/atomic"

// IDSource hands out write ids. Ids must strictly increase: the write
// tree layers writes in id order.
// Implemented by Clock (production) and testutil.DeterministicClock (tests).
type IDSource interface {
	Next() int64
	Current() int64
	AdvanceTo(seq int64)
}

// Clock is the monotonic logical clock that numbers user writes.
//
// Write ids come from this clock, never from wall time, so a scenario
// replayed against a fresh engine produces the same ids.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// The engine additionally serializes Next with enqueueing so ids reach
// the run loop in increasing order.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific sequence number.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next write id and increments the clock.
// Calls are linearizable - each call returns a unique, increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last id handed out without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// AdvanceTo moves the clock forward to seq. It never moves it back.
// Used after restoring persisted writes so new ids sort after them.
func (c *Clock) AdvanceTo(seq int64) {
	for {
		cur := c.seq.Load()
		if seq <= cur || c.seq.CompareAndSwap(cur, seq) {
			return
		}
	}
}
