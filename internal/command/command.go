// Package command defines the units of work run by the scheduler and the groups
// used to compose them.
//
// A Command is driven entirely from the scheduler's loop goroutine: Initialize
// once, Execute every tick until it reports true, then exactly one of End or
// Interrupted. Implementations need no locking unless they share state with
// other goroutines themselves.
package command

import (
	"fmt"
	"reflect"
	"time"
)

type Command interface {
	Initialize()
	// Execute runs one tick of work and reports whether the command is finished.
	Execute() bool
	End()
	Interrupted()
	// Requirements lists the resources the command needs exclusive use of.
	Requirements() []*Requirable
}

// Timed is implemented by commands with a deadline. Once Timeout has elapsed
// since Initialize the command is ended normally, as if Execute had returned true.
// A zero or negative timeout means none.
type Timed interface {
	Timeout() time.Duration
}

// Uninterruptible is implemented by commands that may refuse to be preempted by
// a conflicting submission. KillAll and explicit cancellation still apply.
type Uninterruptible interface {
	Interruptible() bool
}

// Named is implemented by commands that carry a label for logs and listeners.
type Named interface {
	Name() string
}

// Requirable is an exclusive resource identity, such as a drivetrain or an arm.
// Identity is the pointer; two Requirables with the same name are distinct.
type Requirable struct {
	name string
}

func NewRequirable(name string) *Requirable {
	return &Requirable{name: name}
}

func (r *Requirable) Name() string {
	if r == nil {
		return ""
	}
	return r.name
}

func (r *Requirable) String() string { return r.Name() }

// Interruptible reports whether c may be preempted by a conflicting submission.
func Interruptible(c Command) bool {
	if u, ok := c.(Uninterruptible); ok {
		return u.Interruptible()
	}
	return true
}

// TimeoutOf returns c's deadline, or 0 if it has none.
func TimeoutOf(c Command) time.Duration {
	if t, ok := c.(Timed); ok {
		if d := t.Timeout(); d > 0 {
			return d
		}
	}
	return 0
}

// IsNil reports whether c is nil or an interface holding a nil pointer.
func IsNil(c Command) bool {
	if c == nil {
		return true
	}
	v := reflect.ValueOf(c)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.Interface, reflect.Slice:
		return v.IsNil()
	}
	return false
}

// Describe returns a label for c.
func Describe(c Command) string {
	if IsNil(c) {
		return "<nil>"
	}
	switch v := c.(type) {
	case fmt.Stringer:
		return v.String()
	case Named:
		if n := v.Name(); n != "" {
			return n
		}
	}
	return fmt.Sprintf("%T", c)
}
