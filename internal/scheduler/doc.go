// Package scheduler runs command trees on a periodic tick.
//
// Submit expands a command, recursively through groups, into a tree of runners
// and queues it. Execute, called once per tick from a single goroutine
// (normally as the only task of an executor), admits queued trees, resolves
// resource conflicts and steps every live tree. All command hooks and listener
// callbacks run on that goroutine; Submit, KillAll and Handle methods are safe
// from any goroutine and never wait for a tick.
//
// Runner lifecycle:
//
//	PENDING -> RUNNING -> COMPLETE
//	   |          |
//	   +----------+----> INTERRUPTED
//
// A sequential group is a chain: each runner waits for its predecessor to be
// terminal and starts on the following tick. A parallel group starts all
// branches together and completes when the last branch is terminal. A fork
// starts its child as a detached subtree and completes on its next step.
//
// Resource conflicts are resolved at admission: the newest submission wins and
// every live tree holding one of its resources is interrupted before it
// initializes. If a holder is not interruptible the newcomer is rejected.
package scheduler
