// Package engine decides when the machine has been idle long enough to take
// the configured power action.
package engine

import (
	"errors"
	"fmt"
	"time"
)

// ErrClockAnomaly reports that the monotonic clock went backwards between two
// observations. The idle window is restarted at the new reading.
var ErrClockAnomaly = errors.New("clock anomaly")

// IdleClock tracks the time since the last observed activity, in monotonic
// milliseconds. The zero value is uninitialized; the first Observe seeds it.
type IdleClock struct {
	last        uint64
	current     uint64
	initialized bool
}

// Reset starts a new idle window at now.
func (c *IdleClock) Reset(now uint64) {
	c.last = now
	c.current = now
	c.initialized = true
}

// Observe advances the clock to now. A reading older than the previous one
// restarts the window at now and returns an error wrapping ErrClockAnomaly.
func (c *IdleClock) Observe(now uint64) error {
	if !c.initialized {
		c.Reset(now)
		return nil
	}
	if now < c.current || now < c.last {
		prev := c.current
		c.Reset(now)
		return fmt.Errorf("%w: clock moved from %d to %d", ErrClockAnomaly, prev, now)
	}
	c.current = now
	return nil
}

// MarkActivity records activity at the most recent observation.
func (c *IdleClock) MarkActivity() {
	c.last = c.current
}

// Idle returns current - last, or zero before the first observation.
func (c *IdleClock) Idle() time.Duration {
	if !c.initialized || c.current < c.last {
		return 0
	}
	return time.Duration(c.current-c.last) * time.Millisecond
}

// IdleAt returns the idle time as of now without observing it.
func (c *IdleClock) IdleAt(now uint64) time.Duration {
	if !c.initialized || now < c.last {
		return 0
	}
	return time.Duration(now-c.last) * time.Millisecond
}

// LastActivity returns the monotonic stamp of the last activity.
func (c *IdleClock) LastActivity() uint64 {
	return c.last
}

// Initialized reports whether the clock has been seeded.
func (c *IdleClock) Initialized() bool {
	return c.initialized
}
