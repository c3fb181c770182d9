// Package metronome paces the executor loop.
//
// A Metronome blocks its caller until the next period boundary. Boundaries are
// anchored at the first Pause and spaced by the configured period. When the caller
// has already run past a boundary, the schedule is re-anchored at now+period so
// missed ticks are dropped rather than replayed back-to-back.
//
// None of the strategies are exact. They trade CPU for accuracy:
//   - Busy spins on the monotonic clock (most accurate, burns a core).
//   - Park parks the goroutine on a runtime timer until the deadline.
//   - Sleep issues one OS sleep truncated to whole milliseconds (cheapest, coarsest).
package metronome

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidPeriod   = errors.New("metronome: period must be > 0")
	ErrUnknownStrategy = errors.New("metronome: unknown strategy")
)

type Strategy int

const (
	Busy Strategy = iota
	Sleep
	Park
)

func (s Strategy) String() string {
	switch s {
	case Busy:
		return "busy"
	case Sleep:
		return "sleep"
	case Park:
		return "park"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy accepts "busy", "sleep" or "park" (case-insensitive).
// An empty string selects Park.
func ParseStrategy(raw string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "busy", "spin":
		return Busy, nil
	case "sleep":
		return Sleep, nil
	case "park", "":
		return Park, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, raw)
	}
}

// Metronome blocks the calling goroutine until the next tick boundary.
// A Metronome is used by one goroutine at a time.
type Metronome interface {
	Pause()
	Period() time.Duration
}

// New returns a metronome using the given strategy and period.
func New(strategy Strategy, period time.Duration) (Metronome, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	b := boundary{period: period}
	switch strategy {
	case Busy:
		return &busy{b: b}, nil
	case Sleep:
		return &sleeper{b: b}, nil
	case Park:
		return &parker{b: b}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, strategy)
	}
}

// boundary tracks the next deadline.
type boundary struct {
	period time.Duration
	next   time.Time
}

// deadline returns the boundary to wait for and advances the schedule past it.
func (b *boundary) deadline(now time.Time) time.Time {
	if b.next.IsZero() {
		b.next = now.Add(b.period)
	}
	if !now.Before(b.next) {
		// Overrun: skip the missed ticks.
		b.next = now.Add(b.period)
	}
	d := b.next
	b.next = b.next.Add(b.period)
	return d
}

type busy struct{ b boundary }

func (m *busy) Period() time.Duration { return m.b.period }

func (m *busy) Pause() {
	d := m.b.deadline(time.Now())
	for time.Now().Before(d) { // spin
	}
}

type sleeper struct{ b boundary }

func (m *sleeper) Period() time.Duration { return m.b.period }

func (m *sleeper) Pause() {
	now := time.Now()
	d := m.b.deadline(now)
	if wait := d.Sub(now).Truncate(time.Millisecond); wait > 0 {
		time.Sleep(wait)
	}
}

type parker struct {
	b     boundary
	timer *time.Timer
}

func (m *parker) Period() time.Duration { return m.b.period }

func (m *parker) Pause() {
	now := time.Now()
	wait := m.b.deadline(now).Sub(now)
	if wait <= 0 {
		return
	}
	if m.timer == nil {
		m.timer = time.NewTimer(wait)
	} else {
		m.timer.Reset(wait)
	}
	<-m.timer.C
}
