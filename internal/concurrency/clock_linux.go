//go:build linux

// File: internal/concurrency/clock_linux.go
//
// Grounded on the teacher's affinity_linux.go/affinity_other.go GOOS split:
// same build-tag pairing, retargeted from CPU affinity syscalls to a
// monotonic clock read.
package concurrency

import "golang.org/x/sys/unix"

type systemClock struct{}

// NewClock returns a Clock backed by CLOCK_MONOTONIC.
func NewClock() Clock {
	return systemClock{}
}

func (systemClock) NowNanos() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return fallbackNowNanos()
	}
	return ts.Sec*1e9 + ts.Nsec
}
