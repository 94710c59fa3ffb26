// Package clock provides the epoch-seconds time source that fills the time
// field of join and time responses, and that leaf nodes correct from the
// gateway's answers.
package clock

import (
	"sync"
	"time"
)

// Clock returns UNIX epoch seconds as uint32, the width used on the wire.
// It can be stepped to an externally supplied time, after which it keeps
// advancing with the host's monotonic clock.
type Clock struct {
	mu         sync.Mutex
	offset     time.Duration
	synced     bool
	lastUnique uint32
	now        func() time.Time // overridable for testing
}

// New creates a Clock that follows the system clock until Set is called.
func New() *Clock {
	return &Clock{now: time.Now}
}

// NewWithSource creates a Clock that reads wall time from now.
func NewWithSource(now func() time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the current time in epoch seconds.
func (c *Clock) Now() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epochLocked()
}

// Set steps the clock so that Now returns epoch at this instant.
func (c *Clock) Set(epoch uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wall := c.now()
	c.offset = time.Unix(int64(epoch), 0).Sub(wall.Truncate(time.Second))
	c.synced = true
}

// Synced reports whether Set has been called.
func (c *Clock) Synced() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.synced
}

// NowUnique returns a strictly increasing timestamp. If the clock has not
// advanced past the last value handed out, the last value is bumped by one.
func (c *Clock) NowUnique() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.epochLocked()
	if t <= c.lastUnique {
		c.lastUnique++
		return c.lastUnique
	}
	c.lastUnique = t
	return t
}

func (c *Clock) epochLocked() uint32 {
	return uint32(c.now().Add(c.offset).Unix())
}
