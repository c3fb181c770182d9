package scheduler

import "errors"

// ErrInvalidComposition is returned by Submit when a command tree cannot be
// built: an unknown group mode, a fork without exactly one child, a nil child,
// or parallel branches that require the same resource.
var ErrInvalidComposition = errors.New("invalid command composition")
