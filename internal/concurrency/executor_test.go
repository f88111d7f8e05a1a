package concurrency

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestExecutor_RunsSubmittedTasks(t *testing.T) {
	e := NewExecutor(4)
	defer e.Close()

	var count int32
	n := 200
	for i := 0; i < n; i++ {
		if err := e.Submit(func() { atomic.AddInt32(&count, 1) }); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&count) == int32(n) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected %d completed tasks, got %d", n, atomic.LoadInt32(&count))
}

func TestExecutor_NumWorkers(t *testing.T) {
	e := NewExecutor(6)
	defer e.Close()
	if e.NumWorkers() != 6 {
		t.Fatalf("expected 6 workers, got %d", e.NumWorkers())
	}
}

func TestExecutor_RejectsAfterClose(t *testing.T) {
	e := NewExecutor(2)
	e.Close()
	if err := e.Submit(func() {}); err != ErrExecutorClosed {
		t.Fatalf("expected ErrExecutorClosed, got %v", err)
	}
}
