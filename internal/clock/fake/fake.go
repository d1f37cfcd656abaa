// Package fake provides a manually advanced clock and a recording sleeper so
// backoff and politeness delays can be asserted without real time passing.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Clock is a settable clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock starting at now.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sleeper records requested sleeps and advances the linked clock instead of blocking.
type Sleeper struct {
	mu     sync.Mutex
	clock  *Clock
	sleeps []time.Duration
}

// NewSleeper returns a Sleeper that advances clock, which may be nil.
func NewSleeper(clock *Clock) *Sleeper {
	return &Sleeper{clock: clock}
}

// Sleep records d and advances the clock.
func (s *Sleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sleep interrupted: %w", err)
	}
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	s.mu.Unlock()
	if s.clock != nil && d > 0 {
		s.clock.Advance(d)
	}
	return nil
}

// Sleeps returns every recorded duration in call order.
func (s *Sleeper) Sleeps() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

// Total returns the sum of recorded sleeps.
func (s *Sleeper) Total() time.Duration {
	var total time.Duration
	for _, d := range s.Sleeps() {
		total += d
	}
	return total
}
