package trigger

import (
	"hash/fnv"
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"
)

const maxSpread = 30 * time.Second

// spreadSchedule defers the first activation of base to first.
type spreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *spreadSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

func withSpread(base cron.Schedule, every time.Duration, now time.Time, name string) cron.Schedule {
	window := min(every, maxSpread)
	if window <= 0 {
		return base
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	rng := rand.New(rand.NewPCG(h.Sum64(), uint64(now.UnixNano())))
	return &spreadSchedule{base: base, first: now.Add(every + time.Duration(rng.Int64N(int64(window))))}
}
