package trigger

import (
	"bytes"
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cadence/internal/command"
	"cadence/internal/scheduler"
	logx "cadence/pkg/logx"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		raw    string
		kind   Kind
		source string
		every  time.Duration
		expr   string
	}{
		{name: "cron", raw: "*/5 * * * *", kind: KindCron, source: "cron", expr: "*/5 * * * *"},
		{name: "descriptor", raw: "@hourly", kind: KindCron, source: "cron", expr: "@hourly"},
		{name: "prefixed cron", raw: "CRON: 0 0 * * *", kind: KindCron, source: "cron", expr: "0 0 * * *"},
		{name: "duration", raw: "10m", kind: KindInterval, source: "duration", every: 10 * time.Minute, expr: "@every 10m0s"},
		{name: "prefixed interval", raw: "interval:45s", kind: KindInterval, source: "duration", every: 45 * time.Second, expr: "@every 45s"},
		{name: "every prefix hhmm", raw: "every: 00:05", kind: KindInterval, source: "hhmm", every: 5 * time.Minute, expr: "@every 5m0s"},
		{name: "hhmm", raw: "01:30", kind: KindInterval, source: "hhmm", every: 90 * time.Minute, expr: "@every 1h30m0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.source, got.Source)
			assert.Equal(t, tt.every, got.Every)
			assert.Equal(t, tt.expr, got.Expr())
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "  ", "not-a-schedule", "cron:", "interval:", "00:00", "01:75", "-5m", "every:soon"} {
		_, err := ParseSchedule(raw)
		assert.ErrorIs(t, err, ErrInvalidSchedule, raw)
	}
}

func TestAddValidates(t *testing.T) {
	s := New(Config{}, scheduler.New(), logx.Nop())
	factory := func() command.Command { return command.Run("x", nil) }

	assert.ErrorIs(t, s.Add(" ", "1m", factory), ErrNameRequired)
	assert.ErrorIs(t, s.Add("a", "1m", nil), ErrNoFactory)
	assert.ErrorIs(t, s.Add("a", "bogus", factory), ErrInvalidSchedule)
	assert.ErrorIs(t, s.Add("a", "61 * * * *", factory), ErrInvalidSchedule)
	assert.Empty(t, s.Snapshot().Triggers)
}

func TestAddReplacesByName(t *testing.T) {
	s := New(Config{Timezone: "UTC"}, scheduler.New(), logx.Nop())
	factory := func() command.Command { return command.Run("x", nil) }
	require.NoError(t, s.Add("sweep", "1m", factory))
	require.NoError(t, s.Add("sweep", "@daily", factory))
	require.NoError(t, s.Add("other", "30s", factory))

	snap := s.Snapshot()
	require.Len(t, snap.Triggers, 2)
	assert.Equal(t, "@daily", snap.Triggers[0].Spec)
	assert.Equal(t, "UTC", snap.Timezone)
	assert.False(t, snap.Running)

	assert.True(t, s.Remove("sweep"))
	assert.False(t, s.Remove("sweep"))
	assert.Len(t, s.Snapshot().Triggers, 1)
}

func TestFireSkipsWhilePreviousCommandLive(t *testing.T) {
	sched := scheduler.New()
	s := New(Config{}, sched, logx.Nop())
	var built atomic.Int32
	require.NoError(t, s.Add("lift", "1h", func() command.Command {
		built.Add(1)
		return command.Ticks("lift", 2)
	}))

	require.NoError(t, s.Fire("lift"))
	assert.ErrorIs(t, s.Fire("lift"), ErrStillRunning)

	require.NoError(t, sched.Execute(0))
	require.NoError(t, sched.Execute(20))
	require.True(t, sched.IsEmpty())

	require.NoError(t, s.Fire("lift"))
	assert.Equal(t, int32(2), built.Load())

	info := s.Snapshot().Triggers[0]
	assert.Equal(t, uint64(2), info.Fired)
	assert.Equal(t, uint64(1), info.Skipped)
	assert.Zero(t, info.Failed)

	assert.ErrorIs(t, s.Fire("missing"), ErrUnknownTrigger)
}

func TestFireAllowOverlap(t *testing.T) {
	sched := scheduler.New()
	s := New(Config{}, sched, logx.Nop())
	require.NoError(t, s.AddOpt("spin", "1h", Options{AllowOverlap: true}, func() command.Command {
		return command.Until("spin", func() bool { return false })
	}))
	require.NoError(t, s.Fire("spin"))
	require.NoError(t, s.Fire("spin"))
	assert.Equal(t, int64(2), sched.Snapshot().Queued)
}

type failingSubmitter struct{ calls atomic.Int32 }

func (f *failingSubmitter) Submit(command.Command) (scheduler.Handle, error) {
	f.calls.Add(1)
	return scheduler.Handle{}, scheduler.ErrInvalidComposition
}

func TestSubmitFailuresAreCountedAndThrottled(t *testing.T) {
	var buf bytes.Buffer
	sub := &failingSubmitter{}
	s := New(Config{}, sub, logx.New(zerolog.New(&buf)))
	require.NoError(t, s.Add("bad", "1h", func() command.Command { return command.Run("x", nil) }))
	require.NoError(t, s.Add("nil", "1h", func() command.Command { return nil }))
	require.NoError(t, s.Add("panics", "1h", func() command.Command { panic("boom") }))

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, s.Fire("bad"), scheduler.ErrInvalidComposition)
	}
	assert.Error(t, s.Fire("nil"))
	err := s.Fire("panics")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	assert.Equal(t, int32(3), sub.calls.Load())
	assert.Equal(t, 3, strings.Count(buf.String(), "trigger failed to submit command"))
	for _, it := range s.Snapshot().Triggers {
		if it.Name == "bad" {
			assert.Equal(t, uint64(3), it.Failed)
		}
	}
}

func TestStartFiresIntervalTriggers(t *testing.T) {
	sched := scheduler.New()
	s := New(Config{}, sched, logx.Nop())
	var built atomic.Int32
	require.NoError(t, s.AddOpt("tick", "every:1s", Options{AllowOverlap: true}, func() command.Command {
		built.Add(1)
		return command.Run("tick", nil)
	}))
	s.Start()
	s.Start()

	snap := s.Snapshot()
	require.True(t, snap.Running)
	assert.False(t, snap.Triggers[0].Next.IsZero())

	require.Eventually(t, func() bool { return built.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.False(t, s.Snapshot().Running)
	s.Stop(ctx)
}

func TestSpreadDefersFirstActivation(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	every := time.Minute
	sched := withSpread(constant(every), every, now, "x")

	first := sched.Next(now)
	assert.False(t, first.Before(now.Add(every)))
	assert.True(t, first.Before(now.Add(every+maxSpread)))
	assert.Equal(t, first.Add(every), sched.Next(first))
}

type constant time.Duration

func (c constant) Next(t time.Time) time.Time { return t.Add(time.Duration(c)) }

func TestValidateMatchesAdd(t *testing.T) {
	s := New(Config{}, scheduler.New(), logx.Nop())
	assert.NoError(t, s.Validate("0 3 * * *"))
	assert.NoError(t, s.Validate("*/10 * * * * *"))
	assert.NoError(t, s.Validate("every:30s"))
	assert.ErrorIs(t, s.Validate("61 * * * *"), ErrInvalidSchedule)
	assert.ErrorIs(t, s.Validate("soon"), ErrInvalidSchedule)
}
