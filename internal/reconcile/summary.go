package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vunnix/vunnix/internal/common/logger"
	"github.com/vunnix/vunnix/internal/gitlab"
	"github.com/vunnix/vunnix/internal/metrics"
	"github.com/vunnix/vunnix/internal/task/models"
	"github.com/vunnix/vunnix/internal/task/repository"
	v1 "github.com/vunnix/vunnix/pkg/api/v1"
)

// SummaryPoster creates or updates the single summary comment on the MR.
// Updates to the same comment are serialized so concurrent reconciliations
// cannot interleave.
type SummaryPoster struct {
	client gitlab.Client
	repo   repository.Repository
	logger *logger.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewSummaryPoster(client gitlab.Client, repo repository.Repository, log *logger.Logger) *SummaryPoster {
	return &SummaryPoster{
		client: client,
		repo:   repo,
		logger: log,
		now:    time.Now,
		locks:  make(map[int64]*sync.Mutex),
	}
}

// Post renders the review summary and writes it to the MR. When the task
// already carries a comment id (placeholder, or a prior review's summary),
// that comment is updated in place; otherwise a fresh one is created and
// its id stored on the task.
func (p *SummaryPoster) Post(ctx context.Context, task *models.Task, result *v1.CodeReviewResult) error {
	if task.MRIID == nil {
		return nil
	}

	incremental := false
	if task.CommentID != nil {
		var err error
		incremental, err = p.repo.HasCompletedReviewWithComment(
			ctx, task.ProjectID, *task.MRIID, *task.CommentID, task.ID)
		if err != nil {
			p.logger.Warn("incremental detection failed", zap.Int64("task_id", task.ID), zap.Error(err))
		}
	}

	body := renderSummary(result, incremental, p.now())

	if task.CommentID != nil {
		unlock := p.lockComment(*task.CommentID)
		defer unlock()

		_, err := p.client.UpdateMRNote(ctx, task.GitLabProject, *task.MRIID, *task.CommentID, body)
		if err != nil && !gitlab.IsIdempotencyError(err) {
			return fmt.Errorf("update summary comment: %w", err)
		}
		metrics.ReconcileActions.WithLabelValues("summary_update").Inc()
		return nil
	}

	note, err := p.client.CreateMRNote(ctx, task.GitLabProject, *task.MRIID, body)
	if err != nil {
		return fmt.Errorf("create summary comment: %w", err)
	}
	task.CommentID = &note.ID
	if err := p.repo.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("persist comment id: %w", err)
	}
	metrics.ReconcileActions.WithLabelValues("summary_create").Inc()
	return nil
}

// PostFailure replaces the placeholder with a failure note so the MR never
// shows "in progress" forever.
func (p *SummaryPoster) PostFailure(ctx context.Context, task *models.Task) error {
	if task.MRIID == nil || task.CommentID == nil {
		return nil
	}
	unlock := p.lockComment(*task.CommentID)
	defer unlock()

	_, err := p.client.UpdateMRNote(ctx, task.GitLabProject, *task.MRIID, *task.CommentID,
		renderFailure(task.ErrorReason))
	if err != nil && !gitlab.IsIdempotencyError(err) {
		return fmt.Errorf("update failure comment: %w", err)
	}
	metrics.ReconcileActions.WithLabelValues("summary_failure").Inc()
	return nil
}

func (p *SummaryPoster) lockComment(commentID int64) func() {
	p.mu.Lock()
	lock, ok := p.locks[commentID]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[commentID] = lock
	}
	p.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
