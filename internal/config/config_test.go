package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cadence/internal/metronome"
	logx "cadence/pkg/logx"
)

const sampleJSON = `{
  "logging": {"level": "debug", "console": true},
  "executor": {"period": "10ms", "metronome": "sleep", "error_log_rate": 2, "error_log_burst": 4},
  "scheduler": {"timezone": "UTC"},
  "triggers": [{"name": "sweep", "schedule": "every:1m", "command": "noop", "spread": true}],
  "systemd": {"notify": true},
  "metrics": {"enabled": true}
}`

const sampleYAML = `
logging:
  level: debug
  console: true
executor:
  period: 10ms
  metronome: sleep
  error_log_rate: 2
  error_log_burst: 4
scheduler:
  timezone: UTC
triggers:
  - name: sweep
    schedule: every:1m
    command: noop
    spread: true
systemd:
  notify: true
metrics:
  enabled: true
`

const sampleTOML = `
[logging]
level = "debug"
console = true

[executor]
period = "10ms"
metronome = "sleep"
error_log_rate = 2.0
error_log_burst = 4

[scheduler]
timezone = "UTC"

[[triggers]]
name = "sweep"
schedule = "every:1m"
command = "noop"
spread = true

[systemd]
notify = true

[metrics]
enabled = true
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadEveryFormat(t *testing.T) {
	for name, body := range map[string]string{
		"cadence.json": sampleJSON,
		"cadence.yaml": sampleYAML,
		"cadence.toml": sampleTOML,
	} {
		t.Run(name, func(t *testing.T) {
			m := NewManager(writeFile(t, t.TempDir(), name, body), logx.Nop())
			cfg, err := m.Load()
			require.NoError(t, err)
			assert.Same(t, cfg, m.Get())

			want := &Config{
				Logging:   LoggingConfig{Level: "debug", Console: true},
				Executor:  ExecutorConfig{Period: "10ms", Metronome: "sleep", ErrorLogRate: 2, ErrorLogBurst: 4},
				Scheduler: SchedulerConfig{Timezone: "UTC"},
				Triggers:  []TriggerConfig{{Name: "sweep", Schedule: "every:1m", Command: "noop", Spread: true}},
				Systemd:   SystemdConfig{Notify: true},
				Metrics:   MetricsConfig{Enabled: true},
			}
			if diff := cmp.Diff(want, cfg); diff != "" {
				t.Errorf("config mismatch (-want +got):\n%s", diff)
			}

			p, err := cfg.Executor.PeriodOrDefault()
			require.NoError(t, err)
			assert.Equal(t, 10*time.Millisecond, p)
			st, err := cfg.Executor.Strategy()
			require.NoError(t, err)
			assert.Equal(t, metronome.Sleep, st)
		})
	}
}

func TestDecodeIsStrict(t *testing.T) {
	_, err := Decode(FormatJSON, []byte(`{"executor": {"perod": "10ms"}}`))
	assert.ErrorContains(t, err, "unknown field")

	_, err = Decode(FormatYAML, []byte("bogus: 1\n"))
	assert.ErrorContains(t, err, "unknown field")

	_, err = Decode(FormatJSON, []byte(`{} {}`))
	assert.ErrorContains(t, err, "trailing data")

	_, err = Decode(FormatTOML, []byte("[executor\n"))
	assert.ErrorContains(t, err, "toml")
}

func TestDefaults(t *testing.T) {
	cfg, err := Decode(FormatJSON, []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	p, err := cfg.Executor.PeriodOrDefault()
	require.NoError(t, err)
	assert.Equal(t, DefaultPeriod, p)
	st, err := cfg.Executor.Strategy()
	require.NoError(t, err)
	assert.Equal(t, metronome.Park, st)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := &Config{
		Executor:  ExecutorConfig{Period: "-1s", Metronome: "warp", ErrorLogRate: -1},
		Scheduler: SchedulerConfig{Timezone: "Mars/Olympus"},
		Triggers: []TriggerConfig{
			{Name: "", Schedule: "1m", Command: "noop"},
			{Name: "a", Schedule: "", Command: "noop"},
			{Name: "b", Schedule: "1m"},
			{Name: "c", Schedule: "1m", Command: "noop"},
			{Name: "c", Schedule: "2m", Command: "noop"},
		},
	}
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"executor.period",
		"executor.metronome",
		"executor.error_log_rate",
		"scheduler.timezone",
		"triggers[0]: name required",
		`triggers[1] "a": schedule required`,
		`triggers[2] "b": command required`,
		`triggers[4]: duplicate name "c"`,
	} {
		assert.ErrorContains(t, err, want)
	}

	var nilCfg *Config
	assert.Error(t, nilCfg.Validate())
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("x", " 1.5s ")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)

	d, err = ParseDuration("x", "")
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = ParseDuration("x.y", "soon")
	assert.ErrorContains(t, err, "x.y: invalid duration")

	d, err = ParseDurationOrDefault("x", "0s", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)
}

func TestSummarize(t *testing.T) {
	old, err := Decode(FormatJSON, []byte(sampleJSON))
	require.NoError(t, err)
	next, err := Decode(FormatJSON, []byte(sampleJSON))
	require.NoError(t, err)

	changed, attrs, triggers := Summarize(old, next)
	assert.Empty(t, changed)
	assert.Empty(t, attrs)
	assert.Empty(t, triggers)

	next.Executor.Metronome = "busy"
	next.Metrics.Enabled = false
	next.Triggers[0].Schedule = "every:2m"
	next.Triggers = append(next.Triggers, TriggerConfig{Name: "added", Schedule: "1h", Command: "noop"})

	changed, attrs, triggers = Summarize(old, next)
	assert.Equal(t, []string{"executor", "metrics", "triggers"}, changed)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"added", "sweep"}, triggers)

	changed, _, triggers = Summarize(nil, &Config{Systemd: SystemdConfig{Watchdog: true}})
	assert.Equal(t, []string{"systemd"}, changed)
	assert.Empty(t, triggers)
}

func TestSubscribeDropsOldest(t *testing.T) {
	m := NewManager("unused.json", logx.Nop())
	ch := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	assert.Same(t, b, <-ch)

	m.Unsubscribe(ch)
	m.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
	assert.NotPanics(t, func() { m.publish(a) })
}

func TestReload(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cadence.json", sampleJSON)
	m := NewManager(path, logx.Nop())
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(4)
	ctx := context.Background()

	published, err := m.Reload(ctx)
	require.NoError(t, err)
	assert.False(t, published, "unchanged content is not republished")

	writeFile(t, dir, "cadence.json", `{"executor": {"metronome": "warp"}}`)
	_, err = m.Reload(ctx)
	assert.ErrorContains(t, err, "executor.metronome")

	writeFile(t, dir, "cadence.json", `{"metrics": {"enabled": true}}`)
	m.SetValidator(func(context.Context, *Config) error { return errors.New("vetoed") })
	_, err = m.Reload(ctx)
	assert.ErrorContains(t, err, "vetoed")
	assert.Len(t, m.Get().Triggers, 1, "rejected configs are not committed")

	m.SetValidator(nil)
	published, err = m.Reload(ctx)
	require.NoError(t, err)
	assert.True(t, published)
	got := <-ch
	assert.True(t, got.Metrics.Enabled)
	assert.Same(t, got, m.Get())
}

func TestWatchPublishesFileChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cadence.yaml", sampleYAML)
	m := NewManager(path, logx.Nop())
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	var got *Config
	// The watcher may not be registered yet, so keep rewriting. The tick is
	// longer than the reload debounce.
	require.Eventually(t, func() bool {
		select {
		case got = <-ch:
			return true
		default:
			writeFile(t, dir, "cadence.yaml", "logging:\n  level: warn\n")
			return false
		}
	}, 8*time.Second, 600*time.Millisecond)
	assert.Equal(t, "warn", got.Logging.Level)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
