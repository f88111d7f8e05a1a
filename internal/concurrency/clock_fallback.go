// File: internal/concurrency/clock_fallback.go
//
// Shared time.Now()-based reading used by clock_linux.go when the
// ClockGettime syscall fails, and directly by clock_other.go.
package concurrency

import "time"

var monotonicOrigin = time.Now()

func fallbackNowNanos() int64 {
	return int64(time.Since(monotonicOrigin))
}
