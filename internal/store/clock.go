package store

import "sync/atomic"

// Clock is the store's Lamport clock.
//
// Every local write is stamped with Next(). Observing a remote stamp moves
// the clock forward so that later local writes outrank everything already
// seen. Creation sequences come from the same clock.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific sequence number.
// Used on open to resume past every stamp on disk.
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

// Observe advances the clock to at least n.
func (c *Clock) Observe(n int64) {
	for {
		cur := c.seq.Load()
		if n <= cur {
			return
		}
		if c.seq.CompareAndSwap(cur, n) {
			return
		}
	}
}
