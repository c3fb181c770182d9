package app

import (
	"context"
	"slices"
	"strings"

	"cadence/internal/config"
	"cadence/internal/systemd"
	"cadence/internal/trigger"
	logx "cadence/pkg/logx"
)

// reloadLoop applies published configs until ctx is done.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			newCfg = latest(sub, newCfg)
			a.apply(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// latest drains sub without blocking and returns the newest config seen.
func latest(sub <-chan *config.Config, cfg *config.Config) *config.Config {
	for {
		select {
		case newer, ok := <-sub:
			if !ok {
				return cfg
			}
			if newer != nil {
				cfg = newer
			}
		default:
			return cfg
		}
	}
}

func (a *App) apply(oldCfg, newCfg *config.Config) {
	sections, attrs, triggers := config.Summarize(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if newCfg.Systemd.Notify {
		notify(a.log, "reloading", systemd.NotifyReloading)
	}

	if err := a.logs.Apply(newCfg.Logging.Logx()); err != nil {
		a.log.Warn("logging config not applied; keeping previous sinks", logx.Err(err))
	}

	if slices.Contains(sections, "executor") {
		if m, err := newMetronome(newCfg.Executor); err != nil {
			a.log.Warn("invalid executor config; keeping previous", logx.Err(err))
		} else {
			a.exec.SetMetronome(m)
		}
		if oldCfg.Executor.ErrorLogRate != newCfg.Executor.ErrorLogRate || oldCfg.Executor.ErrorLogBurst != newCfg.Executor.ErrorLogBurst {
			a.log.Warn("executor error log rate changed; restart required for changes to take effect")
		}
	}

	if slices.Contains(sections, "scheduler") {
		a.triggers.Apply(trigger.Config{Timezone: newCfg.Scheduler.Timezone})
	}
	a.applyTriggers(newCfg, triggers)

	for _, s := range []string{"systemd", "metrics"} {
		if slices.Contains(sections, s) {
			a.log.Warn(s+" config changed; restart required for changes to take effect")
		}
	}

	if newCfg.Systemd.Notify {
		notify(a.log, "ready", systemd.NotifyReady)
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// applyTriggers removes, replaces or adds the named triggers to match cfg.
func (a *App) applyTriggers(cfg *config.Config, names []string) {
	for _, name := range names {
		idx := slices.IndexFunc(cfg.Triggers, func(tc config.TriggerConfig) bool {
			return strings.TrimSpace(tc.Name) == name
		})
		if idx < 0 {
			a.triggers.Remove(name)
			continue
		}
		if err := a.addTrigger(cfg.Triggers[idx]); err != nil {
			a.log.Warn("trigger update failed", logx.String("trigger", name), logx.Err(err))
		}
	}
}
