package trigger

import "errors"

var (
	ErrInvalidSchedule = errors.New("invalid schedule")
	ErrNameRequired    = errors.New("trigger name required")
	ErrNoFactory       = errors.New("trigger factory required")
	ErrUnknownTrigger  = errors.New("unknown trigger")
	// ErrStillRunning is reported when a firing is skipped because the command
	// from the previous firing has not finished.
	ErrStillRunning = errors.New("previous command still running")
)
