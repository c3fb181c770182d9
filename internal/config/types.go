package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cadence/internal/metronome"
	logx "cadence/pkg/logx"
)

// DefaultPeriod is the executor period when executor.period is omitted.
const DefaultPeriod = 20 * time.Millisecond

// Config is the on-disk configuration. Durations are Go duration strings
// ("20ms", "1s"). JSON, YAML and TOML files are accepted; unknown keys are errors.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Executor  ExecutorConfig  `json:"executor"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Triggers  []TriggerConfig `json:"triggers,omitempty"`
	Systemd   SystemdConfig   `json:"systemd"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

func (l LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
	}
}

// ExecutorConfig controls the periodic loop.
//
// Defaults: period "20ms", metronome "park", error_log_rate 1/s with burst 5.
type ExecutorConfig struct {
	Period    string `json:"period,omitempty"`
	Metronome string `json:"metronome,omitempty"` // busy | sleep | park

	// ErrorLogRate caps task failure log lines per second. Failures past the
	// cap are still counted.
	ErrorLogRate  float64 `json:"error_log_rate,omitempty"`
	ErrorLogBurst int     `json:"error_log_burst,omitempty"`
}

func (e ExecutorConfig) PeriodOrDefault() (time.Duration, error) {
	return ParseDurationOrDefault("executor.period", e.Period, DefaultPeriod)
}

func (e ExecutorConfig) Strategy() (metronome.Strategy, error) {
	s, err := metronome.ParseStrategy(e.Metronome)
	if err != nil {
		return 0, fmt.Errorf("executor.metronome: %w", err)
	}
	return s, nil
}

type SchedulerConfig struct {
	// Timezone is an IANA name used for calendar triggers. Empty means local.
	Timezone string `json:"timezone,omitempty"`
}

// TriggerConfig submits a catalog command on a schedule.
type TriggerConfig struct {
	Name         string `json:"name"`
	Schedule     string `json:"schedule"`
	Command      string `json:"command"`
	AllowOverlap bool   `json:"allow_overlap,omitempty"`
	Spread       bool   `json:"spread,omitempty"`
}

type SystemdConfig struct {
	// Notify sends READY/STOPPING/STATUS over the notify socket.
	Notify bool `json:"notify"`
	// Watchdog pings the systemd watchdog from the executor loop when the unit
	// sets WatchdogSec.
	Watchdog bool `json:"watchdog"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// Validate checks everything that can be checked without the command catalog.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if _, err := c.Executor.PeriodOrDefault(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Executor.Strategy(); err != nil {
		errs = append(errs, err)
	}
	if c.Executor.ErrorLogRate < 0 {
		errs = append(errs, errors.New("executor.error_log_rate must be >= 0"))
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	seen := map[string]struct{}{}
	for i, t := range c.Triggers {
		name := strings.TrimSpace(t.Name)
		switch {
		case name == "":
			errs = append(errs, fmt.Errorf("triggers[%d]: name required", i))
		case strings.TrimSpace(t.Schedule) == "":
			errs = append(errs, fmt.Errorf("triggers[%d] %q: schedule required", i, name))
		case strings.TrimSpace(t.Command) == "":
			errs = append(errs, fmt.Errorf("triggers[%d] %q: command required", i, name))
		}
		if _, dup := seen[name]; dup && name != "" {
			errs = append(errs, fmt.Errorf("triggers[%d]: duplicate name %q", i, name))
		}
		seen[name] = struct{}{}
	}
	return errors.Join(errs...)
}
