// Package clock provides the millisecond time source used by the executor loop.
//
// System is the production clock. Manual is a settable clock for tests and for
// replaying recorded tick sequences.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock returns monotonic milliseconds.
// Implementations must be safe for concurrent use.
type Clock interface {
	CurrentTimeInMillis() int64
}

type systemClock struct {
	anchor   time.Time
	anchorMS int64
}

// System returns a clock that starts at the current wall time and then advances
// by the monotonic reading, so wall-clock adjustments never move it backwards.
func System() Clock {
	now := time.Now()
	return &systemClock{anchor: now, anchorMS: now.UnixMilli()}
}

func (c *systemClock) CurrentTimeInMillis() int64 {
	return c.anchorMS + time.Since(c.anchor).Milliseconds()
}

// Manual is a clock that only moves when told to.
type Manual struct {
	now atomic.Int64
}

func NewManual(start int64) *Manual {
	m := &Manual{}
	m.now.Store(start)
	return m
}

func (m *Manual) CurrentTimeInMillis() int64 { return m.now.Load() }

// Set jumps to an absolute time.
func (m *Manual) Set(ms int64) { m.now.Store(ms) }

// Advance moves the clock forward by d (truncated to milliseconds) and returns the new time.
func (m *Manual) Advance(d time.Duration) int64 {
	return m.now.Add(d.Milliseconds())
}
