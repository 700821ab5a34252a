// Package testutil holds test doubles shared by the package tests: a
// resettable write id clock, a fixed session id generator, a recording
// event registration and a fake listen provider.
package testutil

import "sync"

// DeterministicClock hands out write ids for tests.
//
// Unlike engine.Clock, DeterministicClock can be reset so the same scenario
// can run several times with identical write ids.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu  sync.Mutex
	seq int64
}

// NewDeterministicClock creates a clock starting at 0.
//
// The first call to Next() returns 1, the first write id.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Next increments and returns the next write id.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the last id handed out, 0 before the first Next().
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// AdvanceTo moves the clock forward so the next id is above seq. It never
// moves the clock back.
//
// The engine calls it after restoring persisted writes.
func (c *DeterministicClock) AdvanceTo(seq int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq > c.seq {
		c.seq = seq
	}
}

// Reset resets the clock to 0.
//
// After Reset(), the next call to Next() returns 1.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}
