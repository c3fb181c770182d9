package executor

import (
	"fmt"
	"reflect"
)

// Executable is a periodic task. Execute is called once per cycle with the time
// captured at the start of that cycle. It must return promptly: there is no
// preemption, so a slow task stretches the whole cycle.
type Executable interface {
	Execute(timeInMillis int64) error
}

// Named is implemented by tasks that want a stable label in logs and metrics.
type Named interface {
	Name() string
}

// FuncTask adapts a function to Executable. Always use it by pointer (see Func):
// registration dedups by identity, and func values are not comparable.
type FuncTask struct {
	name string
	fn   func(timeInMillis int64) error
}

// Func wraps fn as a registrable task.
func Func(name string, fn func(timeInMillis int64) error) *FuncTask {
	return &FuncTask{name: name, fn: fn}
}

func (f *FuncTask) Execute(timeInMillis int64) error {
	if f == nil || f.fn == nil {
		return nil
	}
	return f.fn(timeInMillis)
}

func (f *FuncTask) Name() string { return f.name }

// taskName returns the label used for a task in logs and metrics.
func taskName(t Executable) string {
	if n, ok := t.(Named); ok {
		if name := n.Name(); name != "" {
			return name
		}
	}
	return fmt.Sprintf("%T", t)
}

// registrable reports whether t can be tracked by identity: not nil, not a typed
// nil pointer, and of a comparable dynamic type.
func registrable(t Executable) bool {
	if t == nil {
		return false
	}
	v := reflect.ValueOf(t)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.Interface, reflect.Slice:
		if v.IsNil() {
			return false
		}
	}
	return v.Type().Comparable()
}
