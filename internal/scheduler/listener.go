package scheduler

import "cadence/internal/command"

// Listener receives every runner state transition. It is called on the loop
// goroutine and must return promptly.
type Listener interface {
	Record(cmd command.Command, state State)
}

// LabelListener is a Listener that also accepts the command's label. The
// scheduler describes each runner's command once and passes the cached label on
// every later transition, so implementations need not call command.Describe.
type LabelListener interface {
	Listener
	RecordLabel(cmd command.Command, label string, state State)
}

func record(l Listener, cmd command.Command, label string, state State) {
	if ll, ok := l.(LabelListener); ok {
		ll.RecordLabel(cmd, label, state)
		return
	}
	l.Record(cmd, state)
}

type ListenerFunc func(cmd command.Command, state State)

func (f ListenerFunc) Record(cmd command.Command, state State) { f(cmd, state) }

type NopListener struct{}

func (NopListener) Record(command.Command, State) {}

// Listeners fans a transition out to every non-nil listener in order.
func Listeners(ls ...Listener) Listener {
	out := make(multiListener, 0, len(ls))
	for _, l := range ls {
		if l != nil {
			out = append(out, l)
		}
	}
	switch len(out) {
	case 0:
		return NopListener{}
	case 1:
		return out[0]
	}
	return out
}

type multiListener []Listener

func (m multiListener) Record(cmd command.Command, state State) {
	for _, l := range m {
		l.Record(cmd, state)
	}
}

func (m multiListener) RecordLabel(cmd command.Command, label string, state State) {
	for _, l := range m {
		record(l, cmd, label, state)
	}
}
