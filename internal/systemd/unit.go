package systemd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cadence/internal/command"
	logx "cadence/pkg/logx"
)

// ErrUnsupported is returned by unit jobs on platforms without systemd.
var ErrUnsupported = errors.New("systemd unit control is not supported on this platform")

type UnitOp string

const (
	UnitStart   UnitOp = "start"
	UnitStop    UnitOp = "stop"
	UnitRestart UnitOp = "restart"
)

// UnitName appends ".service" to bare names.
func UnitName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, ".") {
		return name
	}
	return name + ".service"
}

// unitJob runs op against unit and returns once systemd reports the job result.
type unitJob func(ctx context.Context, op UnitOp, unit string) error

// UnitCommand queues a systemd job and finishes when the job does. The job runs
// on its own goroutine; the command only polls for its result, so it never
// blocks the loop. Interrupting or timing out the command abandons the wait.
type UnitCommand struct {
	command.Base
	op   UnitOp
	unit string
	run  unitJob
	log  logx.Logger

	cancel context.CancelFunc
	done   chan error
	err    error
}

func NewUnitCommand(op UnitOp, unit string, log logx.Logger, opts ...command.Option) *UnitCommand {
	return newUnitCommand(op, unit, runUnitJob, log, opts...)
}

func newUnitCommand(op UnitOp, unit string, run unitJob, log logx.Logger, opts ...command.Option) *UnitCommand {
	if log.IsZero() {
		log = logx.Nop()
	}
	unit = UnitName(unit)
	return &UnitCommand{
		Base: command.NewBase(string(op)+"-unit("+unit+")", opts...),
		op:   op,
		unit: unit,
		run:  run,
		log:  log,
	}
}

func (c *UnitCommand) Initialize() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	c.cancel, c.done, c.err = cancel, done, nil
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("unit job panicked: %v", r)
			}
		}()
		done <- c.run(ctx, c.op, c.unit)
	}()
}

func (c *UnitCommand) Execute() bool {
	select {
	case err := <-c.done:
		c.err = err
		if err != nil {
			c.log.Warn("unit job failed", logx.String("unit", c.unit), logx.String("op", string(c.op)), logx.Err(err))
		} else {
			c.log.Info("unit job done", logx.String("unit", c.unit), logx.String("op", string(c.op)))
		}
		return true
	default:
		return false
	}
}

func (c *UnitCommand) End() { c.stop() }

func (c *UnitCommand) Interrupted() {
	c.stop()
	c.log.Info("unit job abandoned", logx.String("unit", c.unit), logx.String("op", string(c.op)))
}

func (c *UnitCommand) stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// Err is the job result once the command has completed.
func (c *UnitCommand) Err() error { return c.err }
