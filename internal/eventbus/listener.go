package eventbus

import (
	"time"

	"cadence/internal/command"
	"cadence/internal/scheduler"
)

// TypeTransition is published for every command runner state change.
const TypeTransition = "command.transition"

// Transition is the Data of a TypeTransition event.
type Transition struct {
	Command string
	State   scheduler.State
	At      time.Time
}

// Listener adapts bus to scheduler.Listener. Commands are reduced to their
// label so subscribers never hold on to live command values.
func Listener(bus Bus) scheduler.Listener {
	return busListener{bus: bus}
}

type busListener struct {
	bus Bus
}

func (l busListener) Record(cmd command.Command, state scheduler.State) {
	l.RecordLabel(cmd, command.Describe(cmd), state)
}

// RecordLabel publishes the scheduler's cached label.
func (l busListener) RecordLabel(_ command.Command, label string, state scheduler.State) {
	now := time.Now()
	l.bus.Publish(Event{
		Type: TypeTransition,
		Time: now,
		Data: Transition{Command: label, State: state, At: now},
	})
}
