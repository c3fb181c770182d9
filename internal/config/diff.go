package config

import (
	"reflect"
	"sort"
	"strings"

	logx "cadence/pkg/logx"
)

// Summarize returns the sorted names of sections that differ between old and
// new, plus fields describing the new values of those sections for logging.
// It also returns the names of triggers that were added, removed or edited.
func Summarize(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Executor != newCfg.Executor {
		changed = append(changed, "executor")
		p, _ := newCfg.Executor.PeriodOrDefault()
		st, _ := newCfg.Executor.Strategy()
		attrs = append(attrs,
			logx.Duration("executor.period", p),
			logx.String("executor.metronome", st.String()),
			logx.Any("executor.error_log_rate", newCfg.Executor.ErrorLogRate),
		)
	}

	if strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)))
	}

	triggers := diffTriggers(oldCfg.Triggers, newCfg.Triggers)
	if len(triggers) > 0 {
		changed = append(changed, "triggers")
		attrs = append(attrs,
			logx.Int("triggers.changed_count", len(triggers)),
			logx.Int("triggers.count", len(newCfg.Triggers)),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs,
			logx.Bool("systemd.notify", newCfg.Systemd.Notify),
			logx.Bool("systemd.watchdog", newCfg.Systemd.Watchdog),
		)
	}

	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs, logx.Bool("metrics.enabled", newCfg.Metrics.Enabled))
	}

	sort.Strings(changed)
	return changed, attrs, triggers
}

func diffTriggers(oldT, newT []TriggerConfig) []string {
	index := func(ts []TriggerConfig) map[string]TriggerConfig {
		m := make(map[string]TriggerConfig, len(ts))
		for _, t := range ts {
			m[strings.TrimSpace(t.Name)] = t
		}
		return m
	}
	om, nm := index(oldT), index(newT)

	set := map[string]struct{}{}
	for k := range om {
		set[k] = struct{}{}
	}
	for k := range nm {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, inOld := om[name]
		n, inNew := nm[name]
		if inOld != inNew || !reflect.DeepEqual(o, n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
