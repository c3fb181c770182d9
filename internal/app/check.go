package app

import (
	"cadence/internal/config"
	"cadence/internal/scheduler"
	"cadence/internal/trigger"
	logx "cadence/pkg/logx"
)

// Check loads and validates the config at path, including every trigger's
// schedule and command expression, without starting anything.
func Check(path string, opts ...Option) (*config.Config, error) {
	var o options
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	cfg, err := config.NewManager(path, logx.Nop()).Load()
	if err != nil {
		return nil, err
	}
	if _, err := newMetronome(cfg.Executor); err != nil {
		return cfg, err
	}
	sched := scheduler.New()
	catalog, err := newCatalog(logx.Nop(), sched, o.commands)
	if err != nil {
		return cfg, err
	}
	triggers := trigger.New(trigger.Config{Timezone: cfg.Scheduler.Timezone}, sched, logx.Nop())
	return cfg, validateTriggers(cfg, catalog, triggers)
}
