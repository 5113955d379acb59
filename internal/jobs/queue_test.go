package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vunnix/vunnix/internal/common/logger"
)

func noop(context.Context) error { return nil }

func TestQueuePriorityOrdering(t *testing.T) {
	q := NewQueue(0)

	low := NewJob("dispatch", 1, noop)
	high := NewJob("dispatch", 10, noop)
	mid := NewJob("dispatch", 5, noop)

	for _, j := range []*Job{low, high, mid} {
		if err := q.Enqueue(j); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	for _, want := range []*Job{high, mid, low} {
		got := q.Dequeue()
		if got == nil || got.ID != want.ID {
			t.Fatalf("dequeue order wrong: got %v, want %v", got, want)
		}
	}
	if q.Dequeue() != nil {
		t.Fatal("expected empty queue")
	}
}

func TestQueueFIFOWithinPriority(t *testing.T) {
	q := NewQueue(0)

	first := NewJob("a", 5, noop)
	first.QueuedAt = time.Now().Add(-time.Second)
	second := NewJob("b", 5, noop)

	q.Enqueue(second)
	q.Enqueue(first)

	if got := q.Dequeue(); got.ID != first.ID {
		t.Fatalf("expected earlier job first, got %s", got.Kind)
	}
}

func TestQueueCapacity(t *testing.T) {
	q := NewQueue(2)

	q.Enqueue(NewJob("a", 1, noop))
	q.Enqueue(NewJob("b", 1, noop))
	if err := q.Enqueue(NewJob("c", 1, noop)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestPoolRunsJobs(t *testing.T) {
	p := NewPool(2, 0, logger.NewNop())
	p.Start()
	defer p.Stop()

	var ran atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		err := p.Enqueue(NewJob("work", i%3, func(context.Context) error {
			ran.Add(1)
			wg.Done()
			return nil
		}))
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for jobs")
	}
	if ran.Load() != 20 {
		t.Fatalf("ran %d jobs, want 20", ran.Load())
	}
}

func TestPoolRejectsAfterStop(t *testing.T) {
	p := NewPool(1, 0, logger.NewNop())
	p.Start()
	p.Stop()

	if err := p.Enqueue(NewJob("late", 1, noop)); !errors.Is(err, ErrRunnerClosed) {
		t.Fatalf("expected ErrRunnerClosed, got %v", err)
	}
}

func TestInlineRunsSynchronously(t *testing.T) {
	r := NewInline(logger.NewNop())

	ran := false
	r.Enqueue(NewJob("sync", 1, func(context.Context) error {
		ran = true
		return nil
	}))
	if !ran {
		t.Fatal("inline job did not run before Enqueue returned")
	}
}
