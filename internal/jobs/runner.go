package jobs

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/vunnix/vunnix/internal/common/logger"
)

// Runner accepts jobs for execution.
type Runner interface {
	Enqueue(job *Job) error
}

// Pool runs jobs on a fixed set of workers, highest priority first.
type Pool struct {
	queue   *Queue
	workers int
	logger  *logger.Logger

	mu     sync.Mutex
	wake   chan struct{}
	closed bool
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewPool creates a worker pool. Call Start before enqueueing.
func NewPool(workers, queueMax int, log *logger.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		queue:   NewQueue(queueMax),
		workers: workers,
		logger:  log,
		wake:    make(chan struct{}, 1),
	}
}

// Start launches the workers. They run until Stop is called.
func (p *Pool) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Info("job pool started", zap.Int("workers", p.workers))
}

// Stop cancels running jobs and waits for workers to exit. Queued jobs that
// never started are dropped.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Enqueue adds a job for asynchronous execution.
func (p *Pool) Enqueue(job *Job) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrRunnerClosed
	}
	p.mu.Unlock()

	if err := p.queue.Enqueue(job); err != nil {
		return err
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		job := p.queue.Dequeue()
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-p.wake:
				continue
			}
		}

		// Re-signal so siblings drain the queue too.
		select {
		case p.wake <- struct{}{}:
		default:
		}

		if err := job.Fn(ctx); err != nil {
			p.logger.Warn("job failed",
				zap.String("job_id", job.ID),
				zap.String("kind", job.Kind),
				zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// Inline executes jobs synchronously on the caller's goroutine. Used in
// tests and single-request deployments where ordering must be deterministic.
type Inline struct {
	logger *logger.Logger
}

func NewInline(log *logger.Logger) *Inline {
	return &Inline{logger: log}
}

func (r *Inline) Enqueue(job *Job) error {
	if err := job.Fn(context.Background()); err != nil {
		r.logger.Warn("job failed",
			zap.String("job_id", job.ID),
			zap.String("kind", job.Kind),
			zap.Error(err))
	}
	return nil
}
