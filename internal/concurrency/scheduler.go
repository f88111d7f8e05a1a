// File: internal/concurrency/scheduler.go
//
// Scheduler is a container/heap-backed timer queue implementing
// api.Scheduler. It backs both the per-channel scheduler's asynchronous
// alarms (§4.5) and the flooding overlay's Trickle transmit/interval
// alarms (§4.3).
//
// Grounded on internal/concurrency/scheduler.go from the teacher repo: that
// file's doc comment promised a "high-precision scheduler with prefetch
// optimizations" driven by a container/heap timerQ, but its body never
// defined taskHeap and referenced an undeclared unsafe.Pointer prefetch —
// it could not have compiled. This is a from-scratch implementation of the
// documented intent (a min-heap of deadlines, woken by a notify channel
// whenever a nearer deadline is scheduled) rather than a copy of the
// broken stub; the cpu-prefetch micro-optimization is dropped along with
// it, since there is no hot per-task-pointer loop left to prefetch for.
package concurrency

import (
	"container/heap"
	"sync"
	"time"

	"github.com/meshwire/cuttlefish/api"
)

var _ api.Scheduler = (*Scheduler)(nil)

type timerTask struct {
	deadline int64 // nanoseconds, monotonic
	fn       func()
	index    int
	canceled bool
	done     chan struct{}
}

// Cancel marks the task canceled; Done() closes once fired or canceled.
func (t *timerTask) Cancel() error {
	select {
	case <-t.done:
		return nil
	default:
	}
	t.canceled = true
	return nil
}

func (t *timerTask) Done() <-chan struct{} { return t.done }

type taskHeap []*timerTask

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return h[i].deadline < h[j].deadline }
func (h taskHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *taskHeap) Push(x any)        { t := x.(*timerTask); t.index = len(*h); *h = append(*h, t) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Scheduler runs callbacks at scheduled deadlines on a single background
// goroutine, ordered by a min-heap.
type Scheduler struct {
	clock Clock

	mu     sync.Mutex
	timerQ taskHeap
	notify chan struct{}
	stop   chan struct{}
	once   sync.Once
}

// NewScheduler starts the run loop using the platform's monotonic Clock.
func NewScheduler() *Scheduler {
	s := &Scheduler{
		clock:  NewClock(),
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Now returns monotonic time in nanoseconds.
func (s *Scheduler) Now() int64 {
	return s.clock.NowNanos()
}

// Schedule runs fn once after delayNanos elapses.
func (s *Scheduler) Schedule(delayNanos int64, fn func()) (api.Cancelable, error) {
	if fn == nil {
		return nil, api.ErrInvalidArgument
	}
	t := &timerTask{
		deadline: s.Now() + delayNanos,
		fn:       fn,
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	heap.Push(&s.timerQ, t)
	wake := s.timerQ[0] == t
	s.mu.Unlock()

	if wake {
		s.wake()
	}
	return t, nil
}

// Cancel aborts c if it has not yet fired.
func (s *Scheduler) Cancel(c api.Cancelable) error {
	return c.Cancel()
}

// Close stops the run loop. Pending tasks are discarded.
func (s *Scheduler) Close() {
	s.once.Do(func() { close(s.stop) })
}

func (s *Scheduler) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if s.timerQ.Len() == 0 {
			s.mu.Unlock()
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			select {
			case <-s.notify:
				continue
			case <-s.stop:
				return
			}
		}

		next := s.timerQ[0]
		delay := time.Duration(next.deadline - s.Now())
		s.mu.Unlock()

		if delay <= 0 {
			s.fireDue()
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(delay)

		select {
		case <-timer.C:
			s.fireDue()
		case <-s.notify:
			// a nearer deadline may have been scheduled; loop and re-check
		case <-s.stop:
			return
		}
	}
}

// fireDue pops and runs every task whose deadline has passed.
func (s *Scheduler) fireDue() {
	now := s.Now()
	for {
		s.mu.Lock()
		if s.timerQ.Len() == 0 || s.timerQ[0].deadline > now {
			s.mu.Unlock()
			return
		}
		t := heap.Pop(&s.timerQ).(*timerTask)
		s.mu.Unlock()

		if t.canceled {
			close(t.done)
			continue
		}
		t.fn()
		close(t.done)
	}
}
