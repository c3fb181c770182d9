package app

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"cadence/internal/command"
	"cadence/internal/systemd"
	"cadence/internal/trigger"
	logx "cadence/pkg/logx"
)

// unitJobTimeout bounds how long a unit command waits for systemd.
const unitJobTimeout = 2 * time.Minute

var (
	ErrUnknownCommand   = errors.New("unknown command")
	ErrDuplicateCommand = errors.New("command already registered")
	ErrBadCommandName   = errors.New("invalid command name")
)

// Builder makes a fresh command from the argument that follows "name:" in a
// trigger's command expression. It is called once per firing and once more
// when the expression is resolved, so it must be cheap and free of side effects.
type Builder func(arg string) (command.Command, error)

// Killer stops every running command. *scheduler.Scheduler satisfies it.
type Killer interface {
	KillAll()
}

// Catalog resolves trigger command expressions.
//
// An expression is one or more steps joined by "+", each "name" or
// "name:arg". Several steps run as a sequential group:
//
//	log:nightly sweep + pause:2s + sweep
type Catalog struct {
	mu       sync.RWMutex
	builders map[string]Builder

	unitsMu sync.Mutex
	units   map[string]*command.Requirable
}

// NewCatalog returns a catalog holding the built-in commands:
//
//	noop         finishes immediately
//	pause:<dur>  waits for a Go duration
//	log:<msg>    logs msg at info level
//	kill-all     interrupts every running command
//
// and start-unit, stop-unit and restart-unit, which take a systemd unit name.
// Unit commands on the same unit require the same resource, so a newer one
// preempts an older one still waiting on systemd.
func NewCatalog(log logx.Logger, killer Killer) *Catalog {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Catalog{builders: map[string]Builder{}, units: map[string]*command.Requirable{}}
	c.builders["noop"] = func(string) (command.Command, error) {
		return command.Run("noop", nil), nil
	}
	c.builders["pause"] = func(arg string) (command.Command, error) {
		d, err := time.ParseDuration(strings.TrimSpace(arg))
		if err != nil {
			return nil, fmt.Errorf("pause: %w", err)
		}
		if d < 0 {
			return nil, fmt.Errorf("pause: negative duration %s", d)
		}
		return command.Pause(d), nil
	}
	c.builders["log"] = func(arg string) (command.Command, error) {
		msg := strings.TrimSpace(arg)
		if msg == "" {
			return nil, errors.New("log: message required")
		}
		return command.Run("log", func() { log.Info(msg) }), nil
	}
	for _, op := range []systemd.UnitOp{systemd.UnitStart, systemd.UnitStop, systemd.UnitRestart} {
		c.builders[string(op)+"-unit"] = func(arg string) (command.Command, error) {
			unit := systemd.UnitName(arg)
			if unit == "" || strings.ContainsAny(unit, " \t/") {
				return nil, fmt.Errorf("%s-unit: invalid unit name %q", op, arg)
			}
			return systemd.NewUnitCommand(op, unit, log, command.Requires(c.unitLock(unit)), command.WithTimeout(unitJobTimeout)), nil
		}
	}
	if killer != nil {
		c.builders["kill-all"] = func(string) (command.Command, error) {
			return command.Run("kill-all", killer.KillAll), nil
		}
	}
	return c
}

func (c *Catalog) unitLock(unit string) *command.Requirable {
	c.unitsMu.Lock()
	defer c.unitsMu.Unlock()
	r, ok := c.units[unit]
	if !ok {
		r = command.NewRequirable("unit " + unit)
		c.units[unit] = r
	}
	return r
}

// Register adds a named builder.
func (c *Catalog) Register(name string, b Builder) error {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, ":+") {
		return fmt.Errorf("%w: %q", ErrBadCommandName, name)
	}
	if b == nil {
		return fmt.Errorf("%w: %q has no builder", ErrBadCommandName, name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.builders[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCommand, name)
	}
	c.builders[name] = b
	return nil
}

func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.builders))
	for name := range c.builders {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

type step struct {
	build Builder
	arg   string
}

// Resolve checks expr and returns a factory producing a new command per call.
func (c *Catalog) Resolve(expr string) (trigger.Factory, error) {
	parts := strings.Split(expr, "+")
	steps := make([]step, 0, len(parts))
	c.mu.RLock()
	for _, p := range parts {
		name, arg, _ := strings.Cut(strings.TrimSpace(p), ":")
		name = strings.TrimSpace(name)
		b, ok := c.builders[name]
		if !ok {
			c.mu.RUnlock()
			if name == "" {
				return nil, fmt.Errorf("%w: empty step in %q", ErrUnknownCommand, expr)
			}
			return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
		}
		steps = append(steps, step{build: b, arg: arg})
	}
	c.mu.RUnlock()

	if _, err := buildSteps(steps); err != nil {
		return nil, err
	}
	return func() command.Command {
		// Validated above; builders are deterministic in their argument.
		cmd, _ := buildSteps(steps)
		return cmd
	}, nil
}

func buildSteps(steps []step) (command.Command, error) {
	cmds := make([]command.Command, 0, len(steps))
	for _, s := range steps {
		cmd, err := s.build(s.arg)
		if err != nil {
			return nil, err
		}
		if cmd == nil {
			return nil, errors.New("builder returned nil command")
		}
		cmds = append(cmds, cmd)
	}
	if len(cmds) == 1 {
		return cmds[0], nil
	}
	return command.Sequential(cmds...), nil
}
