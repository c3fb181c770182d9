//go:build !linux

package systemd

import "context"

func runUnitJob(context.Context, UnitOp, string) error { return ErrUnsupported }
