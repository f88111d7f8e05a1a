// File: internal/concurrency/doc.go
//
// Concurrency primitives shared by the orchestrator, scheduler and network
// overlays: a lock-free MPMC ring buffer, a small queue-backed worker pool,
// a container/heap timer scheduler, and a monotonic clock with a
// platform-split implementation.
package concurrency
