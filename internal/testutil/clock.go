package testutil

import (
	"sync"
	"time"
)

// Epoch is the first instant a DeterministicClock reports.
var Epoch = time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

// DeterministicClock is a wall clock for tests that starts at Epoch and
// advances by a fixed step on every call to Now.
//
// This enables the same test scenario to run multiple times with identical
// timestamps. Reset rewinds it for reuse.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewDeterministicClock creates a clock at Epoch advancing one day per Now.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{now: Epoch, step: 24 * time.Hour}
}

// NewDeterministicClockStep creates a clock at Epoch advancing by step.
func NewDeterministicClockStep(step time.Duration) *DeterministicClock {
	return &DeterministicClock{now: Epoch, step: step}
}

// Now returns the current instant and advances the clock.
//
// The first call returns Epoch.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the instant the next Now will report, without advancing.
func (c *DeterministicClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Reset rewinds the clock to Epoch.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = Epoch
}
