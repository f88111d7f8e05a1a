// Package api
//
// Executor contract for running callbacks on a worker pool instead of the
// goroutine that submits them. internal/concurrency.Executor implements it;
// the scheduler's alarms and the flooding overlay's Trickle timers do not
// go through it.

package api

// Executor dispatches submitted callbacks onto a small worker pool.
type Executor interface {
	// Submit schedules task for execution.
	Submit(task func()) error

	// NumWorkers returns the current number of active worker goroutines.
	NumWorkers() int
}
