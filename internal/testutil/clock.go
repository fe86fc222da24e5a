package testutil

import (
	"sync"
	"time"
)

// DefaultStep is the time a DeterministicClock advances per reading.
const DefaultStep = 10 * time.Millisecond

// Epoch is the first time a DeterministicClock returns.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock is a clock for tests that advances a fixed step on
// every reading, so measured durations are reproducible.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu   sync.Mutex
	seq  int64
	step time.Duration
}

// NewDeterministicClock returns a clock advancing DefaultStep per reading.
func NewDeterministicClock() *DeterministicClock {
	return NewStepClock(DefaultStep)
}

// NewStepClock returns a clock advancing step per reading.
func NewStepClock(step time.Duration) *DeterministicClock {
	return &DeterministicClock{step: step}
}

// Now returns Epoch plus one step per previous reading.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := Epoch.Add(time.Duration(c.seq) * c.step)
	c.seq++
	return t
}

// Readings returns how many times Now has been called.
func (c *DeterministicClock) Readings() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset rewinds the clock to Epoch.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}
