package testutil

import (
	"sync"
	"time"
)

// ClockBase is the first instant a DeterministicClock reports. It lies after
// every modify_time in the fixture store.
var ClockBase = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock advances one second per reading so the modification
// times a twin stamps are reproducible. Safe for concurrent use.
type DeterministicClock struct {
	mu   sync.Mutex
	tick time.Duration
}

func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Now advances the clock and returns the new instant.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick += time.Second
	return ClockBase.Add(c.tick)
}

// Reset rewinds the clock; the next Now is ClockBase+1s again.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	c.tick = 0
	c.mu.Unlock()
}
