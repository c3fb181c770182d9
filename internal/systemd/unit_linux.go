//go:build linux

package systemd

import (
	"context"
	"fmt"

	"github.com/coreos/go-systemd/v22/dbus"
)

const jobDone = "done"

func runUnitJob(ctx context.Context, op UnitOp, unit string) error {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to systemd: %w", err)
	}
	defer conn.Close()

	var call func(context.Context, string, string, chan<- string) (int, error)
	switch op {
	case UnitStart:
		call = conn.StartUnitContext
	case UnitStop:
		call = conn.StopUnitContext
	case UnitRestart:
		call = conn.RestartUnitContext
	default:
		return fmt.Errorf("unknown unit operation %q", op)
	}

	result := make(chan string, 1)
	if _, err := call(ctx, unit, "replace", result); err != nil {
		return fmt.Errorf("failed to %s %s: %w", op, unit, err)
	}
	select {
	case r := <-result:
		if r != jobDone {
			return fmt.Errorf("%s %s: job %s", op, unit, r)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
