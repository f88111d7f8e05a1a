// Package api
//
// Timer-scheduling contract backing the per-channel scheduler's alarms
// (§4.5 asynchronous mode) and the flooding overlay's Trickle timers
// (§4.3). This is the low-level timer primitive; the higher-level
// scheduler.Scheduler (owner of the Socket and the schedule modes) is
// built on top of it.

package api

// Scheduler abstracts timer scheduling for alarms and Trickle intervals.
type Scheduler interface {
	// Schedule runs fn once after delayNanos elapses.
	Schedule(delayNanos int64, fn func()) (Cancelable, error)

	// Cancel aborts a previously scheduled callback if it has not yet
	// fired.
	Cancel(c Cancelable) error

	// Now returns monotonic time in nanoseconds.
	Now() int64
}

// Cancelable is a handle to a scheduled, possibly still-pending callback.
type Cancelable interface {
	// Cancel aborts the operation if still pending.
	Cancel() error

	// Done returns a channel closed when the operation fires or is
	// canceled.
	Done() <-chan struct{}
}
