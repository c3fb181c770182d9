package scheduler

import (
	"fmt"

	"cadence/internal/command"
)

// build expands cmd into runners attached to t. pred is the runner the result
// must wait on; for a sequential group every child waits on the one before it
// and the last child becomes the runner returned to the caller.
func build(t *tree, cmd command.Command, pred *runner) (*runner, error) {
	if command.IsNil(cmd) {
		return nil, fmt.Errorf("%w: nil command", ErrInvalidComposition)
	}
	g, ok := cmd.(*command.Group)
	if !ok {
		return &runner{kind: leafKind, cmd: cmd, pred: pred, timeout: millis(command.TimeoutOf(cmd)), tree: t}, nil
	}

	children := g.Commands()
	switch g.Mode() {
	case command.ModeSequential:
		if len(children) == 0 {
			return emptyGroup(t, g, pred), nil
		}
		last := pred
		for i, c := range children {
			r, err := build(t, c, last)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", g.Mode(), i, err)
			}
			last = r
		}
		return last, nil

	case command.ModeParallel:
		if len(children) == 0 {
			return emptyGroup(t, g, pred), nil
		}
		r := &runner{kind: parallelKind, cmd: g, pred: pred, tree: t}
		owner := map[*command.Requirable]int{}
		for i, c := range children {
			branch, err := build(t, c, nil)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", g.Mode(), i, err)
			}
			for _, req := range requirements(branch) {
				if j, dup := owner[req]; dup {
					return nil, fmt.Errorf("%w: parallel branches %d and %d both require %q", ErrInvalidComposition, j, i, req.Name())
				}
				owner[req] = i
			}
			r.children = append(r.children, branch)
		}
		return r, nil

	case command.ModeFork:
		if len(children) != 1 {
			return nil, fmt.Errorf("%w: fork needs exactly one command, got %d", ErrInvalidComposition, len(children))
		}
		inner, err := build(t, children[0], nil)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", g.Mode(), err)
		}
		return &runner{kind: forkKind, cmd: g, pred: pred, inner: inner, tree: t}, nil

	default:
		return nil, fmt.Errorf("%w: unknown mode %s", ErrInvalidComposition, g.Mode())
	}
}

// An empty group is a leaf that finishes on the tick it starts.
func emptyGroup(t *tree, g *command.Group, pred *runner) *runner {
	return &runner{kind: leafKind, cmd: g, pred: pred, tree: t}
}

// requirements collects the distinct resources required by leaves reachable
// from r, in walk order.
func requirements(r *runner) []*command.Requirable {
	var out []*command.Requirable
	seen := map[*command.Requirable]struct{}{}
	r.walk(func(n *runner) {
		if n.kind != leafKind {
			return
		}
		for _, req := range n.cmd.Requirements() {
			if req == nil {
				continue
			}
			if _, ok := seen[req]; ok {
				continue
			}
			seen[req] = struct{}{}
			out = append(out, req)
		}
	})
	return out
}
