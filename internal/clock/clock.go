// Package clock provides time abstraction for testability.
//
// Instead of calling time.Now() directly, components that care about time
// take a Clock in their constructor. Production code passes RealClock;
// tests inject FixedClock or StepClock to simulate clock anomalies
// (backward jumps, stalled milliseconds) deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// RealClock uses the actual system time.
type RealClock struct{}

// Now returns the current UTC time.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock returns a predetermined time. Useful for unit tests.
type FixedClock struct {
	Time time.Time
}

// Now returns the fixed time.
func (c FixedClock) Now() time.Time {
	return c.Time
}

// StepClock replays a scripted sequence of times, one per Now() call.
// Once the script is exhausted it keeps returning the last entry,
// advanced by Tail on every further call. This lets tests simulate a
// backward jump followed by a recovering clock.
type StepClock struct {
	mu    sync.Mutex
	Steps []time.Time
	Tail  time.Duration

	idx  int
	last time.Time
}

// Now returns the next scripted time.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.idx < len(c.Steps) {
		c.last = c.Steps[c.idx]
		c.idx++
		return c.last
	}
	c.last = c.last.Add(c.Tail)
	return c.last
}
