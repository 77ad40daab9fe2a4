package testutil

import (
	"sync/atomic"
	"time"
)

// DefaultClockStart is where NewClock starts when no time is given.
var DefaultClockStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Clock is a manually driven time source. Pass Clock.Now wherever a
// component accepts a func() time.Time.
type Clock struct {
	start time.Time
	nanos atomic.Int64
}

// NewClock returns a Clock set to now, or to DefaultClockStart.
func NewClock(now ...time.Time) *Clock {
	start := DefaultClockStart
	if len(now) > 0 {
		start = now[0].UTC()
	}
	c := &Clock{start: start}
	c.nanos.Store(start.UnixNano())
	return c
}

// Now returns the current fake time in UTC.
func (c *Clock) Now() time.Time {
	return time.Unix(0, c.nanos.Load()).UTC()
}

// Advance moves the clock forward by d and returns the new time.
func (c *Clock) Advance(d time.Duration) time.Time {
	return time.Unix(0, c.nanos.Add(int64(d))).UTC()
}

// Set jumps to t.
func (c *Clock) Set(t time.Time) {
	c.nanos.Store(t.UnixNano())
}

// Elapsed is the fake time passed since the clock was created.
func (c *Clock) Elapsed() time.Duration {
	return c.Now().Sub(c.start)
}
