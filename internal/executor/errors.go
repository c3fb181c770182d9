package executor

import (
	"errors"
	"fmt"
)

var ErrTaskPanic = errors.New("task panicked")

type panicError struct {
	value any
	stack string
}

func (e *panicError) Error() string { return fmt.Sprintf("%v: %v", ErrTaskPanic, e.value) }
func (e *panicError) Unwrap() error { return ErrTaskPanic }
