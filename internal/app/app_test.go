package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cadence/internal/command"
	"cadence/internal/config"
	"cadence/internal/scheduler"
	"cadence/internal/trigger"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cadence.yaml")
	logPath := filepath.Join(dir, "cadence.log")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n  file:\n    enabled: true\n    path: "+logPath+"\n"+body), 0o644))
	return path
}

type recorder struct {
	mu   sync.Mutex
	seen map[string][]scheduler.State
}

func (r *recorder) Record(cmd command.Command, state scheduler.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = map[string][]scheduler.State{}
	}
	name := command.Describe(cmd)
	r.seen[name] = append(r.seen[name], state)
}

func (r *recorder) states(name string) []scheduler.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]scheduler.State(nil), r.seen[name]...)
}

func stopApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx, StopAppStop))
}

func TestTriggeredCommandRunsToCompletion(t *testing.T) {
	path := writeConfig(t, `
executor:
  period: 5ms
metrics:
  enabled: true
triggers:
  - name: probe
    schedule: every:1s
    command: probe
`)
	var built atomic.Int32
	rec := &recorder{}
	a, err := New(path,
		WithListener(rec),
		WithCommand("probe", func(string) (command.Command, error) {
			return command.Run("probe", func() { built.Add(1) }), nil
		}),
	)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	require.Eventually(t, func() bool {
		s := rec.states("probe")
		return len(s) >= 2 && s[1] == scheduler.Complete
	}, 4*time.Second, 10*time.Millisecond)
	assert.Equal(t, scheduler.Running, rec.states("probe")[0])
	assert.GreaterOrEqual(t, built.Load(), int32(1))

	mfs, err := a.Gatherer().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["cadence_executor_cycles_total"])
	assert.True(t, names["cadence_scheduler_transitions_total"])

	stopApp(t, a)
	assert.False(t, a.Executor().Running())
	assert.NoError(t, a.Err())
}

func TestStopInterruptsLiveCommands(t *testing.T) {
	a, err := New(writeConfig(t, "executor:\n  period: 5ms\n"))
	require.NoError(t, err)
	assert.Nil(t, a.Gatherer())
	require.NoError(t, a.Start(context.Background()))

	h, err := a.Scheduler().Submit(command.Until("forever", func() bool { return false }))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.State() == scheduler.Running }, 2*time.Second, 5*time.Millisecond)

	stopApp(t, a)
	assert.Equal(t, scheduler.Interrupted, h.State())
	assert.True(t, a.Scheduler().IsEmpty())
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	a, err := New(writeConfig(t, ""))
	require.NoError(t, err)
	require.NoError(t, a.Stop(context.Background(), StopUnknown))
	select {
	case <-a.Done():
	default:
		t.Fatal("Done must be closed before Start")
	}
}

func TestNewRejectsBadTriggers(t *testing.T) {
	_, err := New(writeConfig(t, "triggers:\n  - name: x\n    schedule: 1m\n    command: bogus\n"))
	assert.ErrorIs(t, err, ErrUnknownCommand)

	_, err = New(writeConfig(t, "triggers:\n  - name: x\n    schedule: \"61 * * * *\"\n    command: noop\n"))
	assert.ErrorIs(t, err, trigger.ErrInvalidSchedule)
}

func TestApplyReconcilesTriggersAndExecutor(t *testing.T) {
	path := writeConfig(t, `
triggers:
  - name: keep
    schedule: 1h
    command: noop
  - name: drop
    schedule: 1h
    command: noop
`)
	a, err := New(path)
	require.NoError(t, err)
	old := a.cfgm.Get()

	next := *old
	next.Executor = config.ExecutorConfig{Period: "10ms", Metronome: "sleep"}
	next.Scheduler.Timezone = "UTC"
	next.Triggers = []config.TriggerConfig{
		{Name: "keep", Schedule: "2h", Command: "noop"},
		{Name: "added", Schedule: "@daily", Command: "log:hello"},
		{Name: "broken", Schedule: "1h", Command: "bogus"},
	}
	a.apply(old, &next)

	snap := a.Triggers().Snapshot()
	specs := map[string]string{}
	for _, it := range snap.Triggers {
		specs[it.Name] = it.Spec
	}
	assert.Equal(t, map[string]string{"keep": "@every 2h0m0s", "added": "@daily"}, specs)
	assert.Equal(t, "UTC", snap.Timezone)
	assert.Equal(t, 10*time.Millisecond, a.Executor().Snapshot().Period)
}

func TestLatestKeepsNewest(t *testing.T) {
	ch := make(chan *config.Config, 3)
	a, b, c := &config.Config{}, &config.Config{}, &config.Config{}
	ch <- b
	ch <- c
	assert.Same(t, c, latest(ch, a))
	assert.Same(t, a, latest(ch, a))
}

func TestCheck(t *testing.T) {
	cfg, err := Check(writeConfig(t, "triggers:\n  - name: x\n    schedule: \"0 3 * * *\"\n    command: log:nightly + pause:1s\n"))
	require.NoError(t, err)
	assert.Len(t, cfg.Triggers, 1)

	_, err = Check(writeConfig(t, "triggers:\n  - name: x\n    schedule: 1m\n    command: custom\n"))
	assert.ErrorIs(t, err, ErrUnknownCommand)

	_, err = Check(writeConfig(t, "triggers:\n  - name: x\n    schedule: 1m\n    command: custom\n"),
		WithCommand("custom", func(string) (command.Command, error) { return command.Run("custom", nil), nil }))
	assert.NoError(t, err)

	_, err = Check(writeConfig(t, "executor:\n  metronome: warp\n"))
	assert.Error(t, err)

	_, err = Check(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
