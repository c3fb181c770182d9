package scheduler

import (
	"sync/atomic"

	"cadence/internal/command"
	"cadence/internal/observability"
	logx "cadence/pkg/logx"
)

// commands is the registry of live trees. It is only touched by the loop
// goroutine, except for live which IsEmpty reads.
type commands struct {
	trees   []*tree
	owners  map[*command.Requirable]*tree
	live    atomic.Int64
	log     logx.Logger
	metrics *observability.Metrics
}

func newCommands(log logx.Logger, m *observability.Metrics) *commands {
	return &commands{owners: map[*command.Requirable]*tree{}, log: log, metrics: m}
}

// admit adds t, first interrupting every live tree that holds one of its
// resources. If any holder refuses preemption t is rejected and never runs.
func (c *commands) admit(t *tree, now int64) bool {
	var holders []*tree
	for _, req := range t.requires {
		h, ok := c.owners[req]
		if !ok || h.done() || containsTree(holders, h) {
			continue
		}
		holders = append(holders, h)
	}

	for _, h := range holders {
		if !h.interruptible() {
			t.now = now
			t.interrupt()
			t.finished.Store(true)
			c.metrics.Rejected()
			c.log.Warn("command rejected: resource held by uninterruptible command",
				logx.String("command", command.Describe(t.cmd)),
				logx.String("holder", command.Describe(h.cmd)),
				logx.String("tree", t.id.String()),
			)
			return false
		}
	}

	for _, h := range holders {
		h.now = now
		h.interrupt()
		c.log.Info("command preempted",
			logx.String("command", command.Describe(h.cmd)),
			logx.String("by", command.Describe(t.cmd)),
			logx.String("tree", h.id.String()),
		)
	}
	for _, req := range t.requires {
		c.owners[req] = t
	}
	c.trees = append(c.trees, t)
	c.setLive()
	return true
}

// step advances every tree once, then evicts the trees that became done.
func (c *commands) step(now int64) {
	for _, t := range c.trees {
		t.step(now)
	}

	kept := c.trees[:0]
	for _, t := range c.trees {
		if !t.done() {
			kept = append(kept, t)
			continue
		}
		for _, req := range t.requires {
			if c.owners[req] == t {
				delete(c.owners, req)
			}
		}
		t.finished.Store(true)
	}
	for i := len(kept); i < len(c.trees); i++ {
		c.trees[i] = nil
	}
	c.trees = kept
	c.setLive()
}

// killAll interrupts every live tree. They are evicted by the next step.
func (c *commands) killAll(now int64) {
	for _, t := range c.trees {
		t.now = now
		t.interrupt()
	}
}

func (c *commands) isEmpty() bool { return c.live.Load() == 0 }

func (c *commands) setLive() {
	c.live.Store(int64(len(c.trees)))
	c.metrics.SetLiveCommands(len(c.trees))
}

func containsTree(ts []*tree, t *tree) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}
	return false
}
