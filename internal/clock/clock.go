// Package clock abstracts the source of wall-clock time so that
// time-dependent rules can be tested deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// System is a Clock backed by the operating system time.
type System struct{}

// Now returns the current system time.
func (System) Now() time.Time { return time.Now() }

// Manual provides a controllable clock for testing time-dependent behavior.
type Manual struct {
	mu      sync.RWMutex
	current time.Time
}

// NewManual creates a Manual clock set to a default time.
// The default is January 1, 2020, 00:00:00 UTC, which is after the Ripple epoch.
func NewManual() *Manual {
	return &Manual{current: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// NewManualAt creates a Manual clock set to the specified time.
func NewManualAt(t time.Time) *Manual {
	return &Manual{current: t}
}

// Now returns the current time on the clock.
func (c *Manual) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Advance moves the clock forward by the specified duration.
func (c *Manual) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Set sets the clock to a specific time.
func (c *Manual) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}
