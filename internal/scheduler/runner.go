package scheduler

import (
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"cadence/internal/command"
	"cadence/internal/observability"
	logx "cadence/pkg/logx"
)

type kind uint8

const (
	leafKind kind = iota
	parallelKind
	forkKind
)

// tree is one submission: a root runner plus the subtrees its forks detached.
// Everything except the atomics is owned by the loop goroutine.
type tree struct {
	id       uuid.UUID
	cmd      command.Command
	root     *runner
	forks    []*runner
	requires []*command.Requirable

	listener Listener
	log      logx.Logger
	metrics  *observability.Metrics
	now      int64

	state    atomic.Int32 // RUNNING once anything started, then the root's final state
	cancel   atomic.Bool
	finished atomic.Bool  // root and every fork are terminal
}

// runner is a node of the runtime tree. A leaf wraps one command, a parallel
// runner owns its branches, and a fork runner owns the detached subtree it
// starts. pred is the runner that must be terminal before this one may start.
type runner struct {
	kind     kind
	cmd      command.Command
	pred     *runner
	children []*runner
	inner    *runner
	timeout  int64 // ms, leaves only
	started  int64
	state    State
	tree     *tree
	label    string // command.Describe(cmd), cached on first transition
}

func (t *tree) step(now int64) {
	t.now = now
	if t.cancel.Load() {
		t.interrupt()
	}
	t.root.step()
	// Forks started during this pass are appended and stepped in the same tick.
	for i := 0; i < len(t.forks); i++ {
		t.forks[i].step()
	}
}

func (t *tree) interrupt() {
	t.root.interrupt()
	for i := 0; i < len(t.forks); i++ {
		t.forks[i].interrupt()
	}
}

// done reports whether nothing in the tree can run again.
func (t *tree) done() bool {
	if !t.root.state.Terminal() {
		return false
	}
	for _, f := range t.forks {
		if !f.state.Terminal() {
			return false
		}
	}
	return true
}

// interruptible reports whether every live command in the tree may be preempted.
func (t *tree) interruptible() bool {
	ok := true
	visit := func(r *runner) {
		if ok && r.kind == leafKind && !r.state.Terminal() && !t.guardBool("interruptible", r.cmd, func() bool { return command.Interruptible(r.cmd) }, true) {
			ok = false
		}
	}
	t.root.walk(visit)
	return ok
}

func (r *runner) step() {
	switch r.state {
	case Pending:
		if r.pred != nil && !r.pred.state.Terminal() {
			r.pred.step()
			return
		}
		r.start()
	case Running:
		r.advance()
	}
}

func (r *runner) start() {
	t := r.tree
	r.started = t.now
	switch r.kind {
	case parallelKind:
		r.transition(Running)
		r.advance()
	case forkKind:
		r.transition(Running)
		t.forks = append(t.forks, r.inner)
	default:
		if !t.guard("initialize", r.cmd, r.cmd.Initialize) {
			t.guard("interrupted", r.cmd, r.cmd.Interrupted)
			r.transition(Interrupted)
			return
		}
		r.transition(Running)
		r.advance()
	}
}

func (r *runner) advance() {
	t := r.tree
	switch r.kind {
	case parallelKind:
		finished := true
		for _, c := range r.children {
			c.step()
			if !c.state.Terminal() {
				finished = false
			}
		}
		if finished {
			r.transition(Complete)
		}
	case forkKind:
		r.transition(Complete)
	default:
		done := false
		if !t.guard("execute", r.cmd, func() { done = r.cmd.Execute() }) {
			r.interrupt()
			return
		}
		if done || (r.timeout > 0 && t.now-r.started >= r.timeout) {
			t.guard("end", r.cmd, r.cmd.End)
			r.transition(Complete)
		}
	}
}

// interrupt forces r and everything it waits on or owns into INTERRUPTED. Only a
// leaf that was RUNNING gets its Interrupted hook. The subtree of a fork that
// never started goes with it; detached ones are reached by tree.interrupt.
func (r *runner) interrupt() {
	if r.state.Terminal() {
		return
	}
	if r.pred != nil {
		r.pred.interrupt()
	}
	for _, c := range r.children {
		c.interrupt()
	}
	if r.kind == forkKind && r.state == Pending && r.inner != nil {
		r.inner.interrupt()
	}
	if r.kind == leafKind && r.state == Running {
		r.tree.guard("interrupted", r.cmd, r.cmd.Interrupted)
	}
	r.transition(Interrupted)
}

func (r *runner) transition(s State) {
	r.state = s
	t := r.tree
	if r == t.root {
		t.state.Store(int32(s))
	} else if s == Running {
		t.state.CompareAndSwap(int32(Pending), int32(Running))
	}
	t.metrics.Transition(s.String())
	label := r.describe()
	if t.log.Enabled(logx.LevelDebug) {
		t.log.Debug("command transition", logx.String("command", label), logx.String("state", s.String()), logx.Int64("time_ms", t.now))
	}
	t.guard("listener", r.cmd, func() { record(t.listener, r.cmd, label, s) })
}

func (r *runner) describe() (label string) {
	if r.label != "" {
		return r.label
	}
	defer func() {
		if recover() != nil {
			label = fmt.Sprintf("%T", r.cmd)
		}
		r.label = label
	}()
	return command.Describe(r.cmd)
}

// walk visits r, its predecessors, its branches and its fork subtree.
func (r *runner) walk(fn func(*runner)) {
	for cur := r; cur != nil; cur = cur.pred {
		fn(cur)
		for _, c := range cur.children {
			c.walk(fn)
		}
		if cur.inner != nil {
			cur.inner.walk(fn)
		}
	}
}

// guard runs a user hook and reports whether it returned without panicking.
func (t *tree) guard(hook string, cmd command.Command, fn func()) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
			t.log.Error("command hook panicked",
				logx.String("hook", hook),
				logx.String("command", command.Describe(cmd)),
				logx.String("tree", t.id.String()),
				logx.Any("panic", rec),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()
	fn()
	return true
}

func (t *tree) guardBool(hook string, cmd command.Command, fn func() bool, fallback bool) bool {
	v := fallback
	t.guard(hook, cmd, func() { v = fn() })
	return v
}

func millis(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	if ms == 0 {
		ms = 1
	}
	return ms
}
