package command

import "time"

type Option func(*Base)

// Requires declares exclusive resources.
func Requires(rs ...*Requirable) Option {
	return func(b *Base) {
		for _, r := range rs {
			if r != nil {
				b.requires = append(b.requires, r)
			}
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(b *Base) { b.timeout = d }
}

// WithInterruptible(false) keeps the command running when a newer submission
// claims one of its resources; the newer submission is rejected instead.
func WithInterruptible(v bool) Option {
	return func(b *Base) { b.pinned = !v }
}

// Base carries the bookkeeping most commands need and no-op hooks. Embed it and
// override the hooks you care about:
//
//	type Drive struct {
//		command.Base
//		speed float64
//	}
//
//	d := &Drive{Base: command.NewBase("drive", command.Requires(drivetrain))}
//
// Base's own Execute finishes immediately.
type Base struct {
	name     string
	requires []*Requirable
	timeout  time.Duration
	pinned   bool
}

func NewBase(name string, opts ...Option) Base {
	b := Base{name: name}
	for _, o := range opts {
		if o != nil {
			o(&b)
		}
	}
	return b
}

func (b *Base) Initialize()   {}
func (b *Base) Execute() bool { return true }
func (b *Base) End()          {}
func (b *Base) Interrupted()  {}

func (b *Base) Requirements() []*Requirable {
	if len(b.requires) == 0 {
		return nil
	}
	out := make([]*Requirable, len(b.requires))
	copy(out, b.requires)
	return out
}

func (b *Base) Name() string           { return b.name }
func (b *Base) Timeout() time.Duration { return b.timeout }
func (b *Base) Interruptible() bool    { return !b.pinned }
