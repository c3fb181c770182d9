package command

import (
	"fmt"
	"time"
)

// Action is a function-backed command.
type Action struct {
	Base
	init    func()
	execute func() bool
}

// Run executes fn once and finishes.
func Run(name string, fn func(), opts ...Option) *Action {
	return &Action{
		Base: NewBase(name, opts...),
		execute: func() bool {
			if fn != nil {
				fn()
			}
			return true
		},
	}
}

// Until calls fn every tick until it returns true.
func Until(name string, fn func() bool, opts ...Option) *Action {
	return &Action{
		Base: NewBase(name, opts...),
		execute: func() bool {
			return fn == nil || fn()
		},
	}
}

// Pause does nothing for d and then finishes. It relies on the scheduler's
// timeout, so it completes on the first tick at least d after it started.
func Pause(d time.Duration) *Action {
	a := &Action{
		Base:    NewBase(fmt.Sprintf("pause(%s)", d), WithTimeout(d)),
		execute: func() bool { return false },
	}
	if d <= 0 {
		a.execute = func() bool { return true }
	}
	return a
}

// Ticks finishes on its n-th execution. The count restarts on every Initialize,
// so the same instance can be submitted again.
func Ticks(name string, n int, opts ...Option) *Action {
	var count int
	return &Action{
		Base: NewBase(name, opts...),
		init: func() { count = 0 },
		execute: func() bool {
			count++
			return count >= n
		},
	}
}

func (a *Action) Initialize() {
	if a.init != nil {
		a.init()
	}
}

func (a *Action) Execute() bool {
	if a.execute == nil {
		return true
	}
	return a.execute()
}
