// Package jobs runs the asynchronous side of the orchestrator: task
// dispatch, reconciliation fan-out and background correlation. Webhook and
// result intake stay synchronous; everything that talks to GitLab after the
// HTTP response goes through here.
package jobs

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrQueueFull is returned when the queue is at max capacity
	ErrQueueFull = errors.New("queue is full")
	// ErrRunnerClosed is returned when enqueueing after shutdown
	ErrRunnerClosed = errors.New("job runner is closed")
)

// Job is one unit of background work.
type Job struct {
	ID       string
	Kind     string
	Priority int // Higher priority = processed first
	QueuedAt time.Time
	Fn       func(ctx context.Context) error
	index    int // Index in the heap (used by container/heap)
}

// NewJob wraps fn as a job of the given kind and priority.
func NewJob(kind string, priority int, fn func(ctx context.Context) error) *Job {
	return &Job{
		ID:       uuid.NewString(),
		Kind:     kind,
		Priority: priority,
		Fn:       fn,
	}
}

// jobHeap implements heap.Interface for priority ordering
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	// Higher priority first, then earlier queued time
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].QueuedAt.Before(h[j].QueuedAt)
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x interface{}) {
	n := len(*h)
	item := x.(*Job)
	item.index = n
	*h = append(*h, item)
}

func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // avoid memory leak
	item.index = -1 // for safety
	*h = old[0 : n-1]
	return item
}

// Queue is a bounded priority queue of jobs.
type Queue struct {
	mu      sync.Mutex
	heap    jobHeap
	maxSize int
}

// NewQueue creates a queue. maxSize of 0 means unbounded.
func NewQueue(maxSize int) *Queue {
	q := &Queue{
		heap:    make(jobHeap, 0),
		maxSize: maxSize,
	}
	heap.Init(&q.heap)
	return q
}

// Enqueue adds a job. Returns ErrQueueFull at capacity.
func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxSize > 0 && len(q.heap) >= q.maxSize {
		return ErrQueueFull
	}
	if job.QueuedAt.IsZero() {
		job.QueuedAt = time.Now()
	}
	heap.Push(&q.heap, job)
	return nil
}

// Dequeue removes and returns the highest priority job, or nil when empty.
func (q *Queue) Dequeue() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return nil
	}
	return heap.Pop(&q.heap).(*Job)
}

// Len returns the number of queued jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}
