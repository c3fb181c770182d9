// Package trigger submits commands to the scheduler on a calendar or interval.
//
// It is trigger-only: each firing builds a fresh command from the trigger's
// factory and hands it to a Submitter. Running the command is the scheduler's
// job, on the executor loop.
package trigger
