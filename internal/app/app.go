// Package app assembles cadence: config, logging, metrics, the executor loop,
// the command scheduler, triggers and the systemd integration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"cadence/internal/clock"
	"cadence/internal/config"
	"cadence/internal/eventbus"
	"cadence/internal/executor"
	"cadence/internal/metronome"
	"cadence/internal/observability"
	"cadence/internal/runtime/supervisor"
	"cadence/internal/scheduler"
	"cadence/internal/systemd"
	"cadence/internal/trigger"
	logx "cadence/pkg/logx"
)

const (
	defaultErrorLogRate  = 1
	defaultErrorLogBurst = 5
	drainPoll            = 10 * time.Millisecond
)

type Option func(*options)

type options struct {
	clock     clock.Clock
	listeners []scheduler.Listener
	commands  map[string]Builder
}

// WithClock replaces the executor's time source.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithListener adds a scheduler listener next to the event bus.
func WithListener(l scheduler.Listener) Option {
	return func(o *options) {
		if l != nil {
			o.listeners = append(o.listeners, l)
		}
	}
}

// WithCommand makes name usable in trigger command expressions.
func WithCommand(name string, b Builder) Option {
	return func(o *options) {
		if o.commands == nil {
			o.commands = map[string]Builder{}
		}
		o.commands[name] = b
	}
}

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	reg     *prometheus.Registry
	metrics *observability.Metrics

	exec     *executor.Executor
	sched    *scheduler.Scheduler
	triggers *trigger.Service
	catalog  *Catalog
	watchdog *systemd.Watchdog
}

func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}

	cfgm := config.NewManager(cfgPath, logx.Nop())
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.NewService(cfg.Logging.Logx())
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	a := &App{cfgm: cfgm, log: log, logs: logSvc, bus: eventbus.New()}

	if cfg.Metrics.Enabled {
		a.reg = prometheus.NewRegistry()
		a.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		a.metrics = observability.NewMetrics(a.reg)
	}

	m, err := newMetronome(cfg.Executor)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	limit, burst := errorLogRate(cfg.Executor)
	a.exec = executor.New(o.clock, m,
		executor.WithLogger(root.With(logx.String("comp", "executor"))),
		executor.WithMetrics(a.metrics),
		executor.WithErrorLogRate(limit, burst),
	)

	listeners := append([]scheduler.Listener{eventbus.Listener(a.bus)}, o.listeners...)
	a.sched = scheduler.New(
		scheduler.WithListener(scheduler.Listeners(listeners...)),
		scheduler.WithLogger(root.With(logx.String("comp", "scheduler"))),
		scheduler.WithMetrics(a.metrics),
	)
	a.exec.Register(a.sched)

	a.catalog, err = newCatalog(root, a.sched, o.commands)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	a.triggers = trigger.New(trigger.Config{Timezone: cfg.Scheduler.Timezone}, a.sched, root.With(logx.String("comp", "trigger")))
	for _, tc := range cfg.Triggers {
		if err := a.addTrigger(tc); err != nil {
			_ = logSvc.Close()
			return nil, err
		}
	}

	if cfg.Systemd.Watchdog {
		wd, err := systemd.NewWatchdog(root.With(logx.String("comp", "systemd")))
		if err != nil || wd == nil {
			log.Info("systemd watchdog not active", logx.Err(err))
		} else {
			a.watchdog = wd
			a.exec.Register(wd)
		}
	}
	return a, nil
}

func newCatalog(root logx.Logger, sched *scheduler.Scheduler, extra map[string]Builder) (*Catalog, error) {
	c := NewCatalog(root.With(logx.String("comp", "command")), sched)
	for name, b := range extra {
		if err := c.Register(name, b); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func newMetronome(cfg config.ExecutorConfig) (metronome.Metronome, error) {
	period, err := cfg.PeriodOrDefault()
	if err != nil {
		return nil, err
	}
	st, err := cfg.Strategy()
	if err != nil {
		return nil, err
	}
	return metronome.New(st, period)
}

func errorLogRate(cfg config.ExecutorConfig) (rate.Limit, int) {
	limit := rate.Limit(defaultErrorLogRate)
	if cfg.ErrorLogRate > 0 {
		limit = rate.Limit(cfg.ErrorLogRate)
	}
	burst := defaultErrorLogBurst
	if cfg.ErrorLogBurst > 0 {
		burst = cfg.ErrorLogBurst
	}
	return limit, burst
}

func (a *App) addTrigger(tc config.TriggerConfig) error {
	factory, err := a.catalog.Resolve(tc.Command)
	if err != nil {
		return fmt.Errorf("trigger %q: %w", tc.Name, err)
	}
	opt := trigger.Options{AllowOverlap: tc.AllowOverlap, Spread: tc.Spread}
	if err := a.triggers.AddOpt(tc.Name, tc.Schedule, opt, factory); err != nil {
		return fmt.Errorf("trigger %q: %w", tc.Name, err)
	}
	return nil
}

func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }
func (a *App) Executor() *executor.Executor    { return a.exec }
func (a *App) Triggers() *trigger.Service      { return a.triggers }
func (a *App) Catalog() *Catalog               { return a.catalog }
func (a *App) Bus() eventbus.Bus               { return a.bus }

// Gatherer exposes the metrics registry, or nil when metrics are disabled.
func (a *App) Gatherer() prometheus.Gatherer {
	if a.reg == nil {
		return nil
	}
	return a.reg
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	// transactional config reload: validate before commit/publish
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateTriggers(cfg, a.catalog, a.triggers)
	})

	a.exec.Start()
	a.triggers.Start()

	events, unsub := a.bus.Subscribe(256, eventbus.TypeTransition)
	a.sup.Go("events.log", func(c context.Context) error {
		defer unsub()
		a.logEvents(c, events)
		return nil
	})

	// A panicking apply restarts the loop with a fresh subscription.
	a.sup.GoRestart("config.reload", func(c context.Context) error {
		sub := a.cfgm.Subscribe(8)
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	}, time.Second, 30*time.Second)
	a.sup.Go("config.watch", a.cfgm.Watch)

	cfg := a.cfgm.Get()
	if cfg.Systemd.Notify {
		notify(a.log, "ready", systemd.NotifyReady)
		notify(a.log, "status", func() (bool, error) {
			return systemd.NotifyStatus("running, %d triggers", len(cfg.Triggers))
		})
	}
	a.log.Info("app started", logx.Int("triggers", len(cfg.Triggers)), logx.Bool("watchdog", a.watchdog != nil), logx.Bool("metrics", a.reg != nil))
	return nil
}

func notify(log logx.Logger, what string, fn func() (bool, error)) {
	sent, err := fn()
	if err != nil {
		log.Warn("systemd notify failed", logx.String("state", what), logx.Err(err))
		return
	}
	log.Debug("systemd notify", logx.String("state", what), logx.Bool("sent", sent))
}

// logEvents reports interrupted commands. Completions stay at the scheduler's
// debug level.
func (a *App) logEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			tr, ok := e.Data.(eventbus.Transition)
			if !ok || tr.State != scheduler.Interrupted {
				continue
			}
			a.log.Info("command interrupted", logx.String("command", tr.Command))
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.cfgm.Get().Systemd.Notify {
		notify(a.log, "stopping", systemd.NotifyStopping)
	}

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Err(stepCtx.Err()), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Triggers first so nothing new is submitted while commands drain.
	step("triggers", 2*time.Second, func(c context.Context) error { a.triggers.Stop(c); return nil })
	step("commands", 2*time.Second, a.drainCommands)
	step("executor", 2*time.Second, func(c context.Context) error {
		a.exec.Stop()
		return a.exec.Wait(c)
	})
	step("supervisor", 2*time.Second, a.sup.Wait)

	snap := a.exec.Snapshot()
	a.log.Info("stopped",
		logx.Uint64("cycles", snap.Cycles),
		logx.Uint64("task_failures", snap.TaskFailures),
		logx.Uint64("overruns", snap.Overruns),
		logx.Uint64("commands_submitted", a.sched.Snapshot().Submitted),
	)
	return a.logs.Close()
}

// drainCommands interrupts every live command and waits for the loop to
// process it. Interrupted hooks run on the loop goroutine, so the executor
// must still be running.
func (a *App) drainCommands(ctx context.Context) error {
	if !a.exec.Running() {
		return nil
	}
	a.sched.KillAll()
	t := time.NewTicker(drainPoll)
	defer t.Stop()
	for !a.sched.IsEmpty() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("commands still live: %w", ctx.Err())
		case <-t.C:
		}
	}
	return nil
}

// validateTriggers resolves every trigger against the catalog and parses its
// schedule, so a reload never half-applies.
func validateTriggers(cfg *config.Config, catalog *Catalog, triggers *trigger.Service) error {
	var errs []error
	for _, tc := range cfg.Triggers {
		if err := triggers.Validate(tc.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("trigger %q: %w", tc.Name, err))
		}
		if _, err := catalog.Resolve(tc.Command); err != nil {
			errs = append(errs, fmt.Errorf("trigger %q: %w", tc.Name, err))
		}
	}
	return errors.Join(errs...)
}
