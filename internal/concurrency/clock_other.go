//go:build !linux

// File: internal/concurrency/clock_other.go
//
// Fallback Clock for platforms without CLOCK_MONOTONIC access through
// golang.org/x/sys/unix. Mirrors the teacher's affinity_other.go no-op
// fallback shape, retargeted to time.Now().
package concurrency

type systemClock struct{}

// NewClock returns a Clock backed by time.Now().
func NewClock() Clock {
	return systemClock{}
}

func (systemClock) NowNanos() int64 {
	return fallbackNowNanos()
}
