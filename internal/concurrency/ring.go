// File: internal/concurrency/ring.go
//
// RingBuffer is a bounded, lock-free MPMC ring buffer with per-cell
// sequence numbers (a Vyukov-style queue), padded to keep head and tail on
// separate cache lines. It implements api.Ring[T].
//
// Grounded on core/concurrency/ring.go from the teacher repo: that file
// (along with two SPSC-only variants elsewhere in the teacher tree) is the
// origin of this CAS-loop technique. The CAS variant was chosen, over the
// simpler atomic-counter SPSC variants, specifically because §3 requires
// either a fully MPMC-safe ring or a documented outer-lock discipline for
// multi-producer use (the orchestrator's task queue, and a channel's send
// queue when several overlays forward into it concurrently, are both
// multi-producer) — this buffer satisfies the former, so no outer lock is
// required anywhere it is used.
package concurrency

import (
	"sync/atomic"

	"github.com/meshwire/cuttlefish/api"
)

var _ api.Ring[any] = (*RingBuffer[any])(nil)

// ErrOverflow is returned by Push when the buffer is at capacity.
var ErrOverflow = api.NewError(api.ErrCodeRingBuffer, "ring buffer overflow")

// ErrUnderflow is returned by Pop when the buffer is empty.
var ErrUnderflow = api.NewError(api.ErrCodeRingBuffer, "ring buffer underflow")

type cell[T any] struct {
	sequence atomic.Uint64
	data     T
}

// RingBuffer is a fixed-capacity, lock-free FIFO safe for concurrent use by
// any number of producers and consumers.
type RingBuffer[T any] struct {
	logicalCap uint64
	head       uint64
	_          [64]byte
	tail       uint64
	_          [64]byte
	mask       uint64
	cells      []cell[T]
}

// NewRingBuffer allocates a ring buffer able to hold at least capacity
// items (capacity >= 1, per §3's "Fixed capacity N >= 1"). Internally the
// backing array is rounded up to a power of two; Cap() still reports the
// internal (rounded) capacity so Len() == Cap() correctly detects full.
func NewRingBuffer[T any](capacity uint64) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	size := capacity
	if size&(size-1) != 0 {
		n := size - 1
		n |= n >> 1
		n |= n >> 2
		n |= n >> 4
		n |= n >> 8
		n |= n >> 16
		n |= n >> 32
		size = n + 1
	}
	r := &RingBuffer[T]{
		logicalCap: size,
		mask:       size - 1,
		cells:      make([]cell[T], size),
	}
	for i := range r.cells {
		r.cells[i].sequence.Store(uint64(i))
	}
	return r
}

// Push adds item to the tail; returns ErrOverflow if full.
func (r *RingBuffer[T]) Push(item T) error {
	for {
		tail := atomic.LoadUint64(&r.tail)
		c := &r.cells[tail&r.mask]
		seq := c.sequence.Load()
		diff := int64(seq) - int64(tail)

		switch {
		case diff == 0:
			if atomic.CompareAndSwapUint64(&r.tail, tail, tail+1) {
				c.data = item
				c.sequence.Store(tail + 1)
				return nil
			}
		case diff < 0:
			return ErrOverflow
		}
	}
}

// Pop removes and returns the head item; returns ErrUnderflow if empty.
func (r *RingBuffer[T]) Pop() (T, error) {
	for {
		head := atomic.LoadUint64(&r.head)
		c := &r.cells[head&r.mask]
		seq := c.sequence.Load()
		diff := int64(seq) - int64(head+1)

		switch {
		case diff == 0:
			if atomic.CompareAndSwapUint64(&r.head, head, head+1) {
				item := c.data
				var zero T
				c.data = zero
				c.sequence.Store(head + r.mask + 1)
				return item, nil
			}
		case diff < 0:
			var zero T
			return zero, ErrUnderflow
		}
	}
}

// Clear drains the buffer by popping until empty; it is not atomic with
// concurrent Push/Pop.
func (r *RingBuffer[T]) Clear() {
	for {
		if _, err := r.Pop(); err != nil {
			return
		}
	}
}

// Len returns the number of items currently buffered.
func (r *RingBuffer[T]) Len() int {
	head := atomic.LoadUint64(&r.head)
	tail := atomic.LoadUint64(&r.tail)
	return int(tail - head)
}

// Cap returns the (power-of-two-rounded) buffer capacity.
func (r *RingBuffer[T]) Cap() int {
	return int(r.logicalCap)
}
