package scheduler

import (
	"sync"
	"time"
)

// fakeClock lets tests run the tick loop without depending on wall-clock
// sleeps, per SPEC_FULL.md §6's Clock injection point. Sleep advances the
// clock instantly instead of blocking, so tests complete in milliseconds
// regardless of the configured ticks-per-second.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(0, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
