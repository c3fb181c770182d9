package command

import (
	"fmt"
	"strings"
)

// Mode is how a Group composes its children.
type Mode uint8

const (
	// ModeSequential runs children one after another, each starting on the tick
	// after its predecessor finished.
	ModeSequential Mode = iota + 1
	// ModeParallel starts all children together and finishes when the last does.
	ModeParallel
	// ModeFork starts its single child detached and finishes on the next tick.
	ModeFork
)

func (m Mode) String() string {
	switch m {
	case ModeSequential:
		return "sequential"
	case ModeParallel:
		return "parallel"
	case ModeFork:
		return "fork"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Group is an immutable composition of commands. It is expanded into a runner
// tree when submitted, so its own lifecycle hooks are never driven by the
// scheduler; they exist so groups nest anywhere a Command is accepted.
type Group struct {
	mode     Mode
	children []Command
}

// NewGroup does not validate: a fork without exactly one child, a nil child or
// an unknown mode is reported when the group is submitted.
func NewGroup(mode Mode, cmds ...Command) *Group {
	children := make([]Command, len(cmds))
	copy(children, cmds)
	return &Group{mode: mode, children: children}
}

func Sequential(cmds ...Command) *Group { return NewGroup(ModeSequential, cmds...) }
func Parallel(cmds ...Command) *Group   { return NewGroup(ModeParallel, cmds...) }
func Fork(cmd Command) *Group           { return NewGroup(ModeFork, cmd) }

func (g *Group) Mode() Mode { return g.mode }

// Commands returns a copy of the children.
func (g *Group) Commands() []Command {
	out := make([]Command, len(g.children))
	copy(out, g.children)
	return out
}

func (g *Group) Len() int { return len(g.children) }

func (g *Group) Initialize()   {}
func (g *Group) Execute() bool { return true }
func (g *Group) End()          {}
func (g *Group) Interrupted()  {}

// Requirements is the union of the children's requirements, in first-seen order.
func (g *Group) Requirements() []*Requirable {
	var out []*Requirable
	seen := map[*Requirable]struct{}{}
	for _, c := range g.children {
		if IsNil(c) {
			continue
		}
		for _, r := range c.Requirements() {
			if r == nil {
				continue
			}
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

func (g *Group) String() string {
	parts := make([]string, 0, len(g.children))
	for _, c := range g.children {
		parts = append(parts, Describe(c))
	}
	return g.mode.String() + "(" + strings.Join(parts, ", ") + ")"
}
