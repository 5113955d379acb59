package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/vunnix/vunnix/internal/common/logger"
	"github.com/vunnix/vunnix/internal/gitlab"
	"github.com/vunnix/vunnix/internal/projectcfg"
	"github.com/vunnix/vunnix/internal/task/models"
	"github.com/vunnix/vunnix/internal/task/repository"
	"github.com/vunnix/vunnix/internal/webhook"
	v1 "github.com/vunnix/vunnix/pkg/api/v1"
)

// Coordinator fans a completed task's result out to the type-specific
// posters. For reviews, the summary poster runs serialized per comment
// while threads and labels run concurrently; they touch disjoint GitLab
// resources.
type Coordinator struct {
	repo    repository.Repository
	client  gitlab.Client
	cfg     projectcfg.Resolver
	summary *SummaryPoster
	threads *ThreadPoster
	labels  *LabelStatusPoster
	logger  *logger.Logger
}

func NewCoordinator(repo repository.Repository, client gitlab.Client, cfg projectcfg.Resolver, log *logger.Logger) *Coordinator {
	return &Coordinator{
		repo:    repo,
		client:  client,
		cfg:     cfg,
		summary: NewSummaryPoster(client, repo, log),
		threads: NewThreadPoster(client, log),
		labels:  NewLabelStatusPoster(client),
		logger:  log,
	}
}

// ReconcileCompleted runs the artifact fan-out for a completed task. Poster
// failures are logged, never propagated into the task's state: the task is
// already completed and reconciliation is best effort against GitLab.
func (c *Coordinator) ReconcileCompleted(ctx context.Context, task *models.Task) error {
	switch task.Type {
	case v1.TaskTypeCodeReview:
		return c.reconcileReview(ctx, task)
	case v1.TaskTypeFeatureDev:
		return c.reconcileFeatureDev(ctx, task)
	case v1.TaskTypeIssueDiscussion:
		return c.reconcileAnswer(ctx, task)
	}
	return nil
}

// ReconcileFailed swaps the placeholder for a failure note.
func (c *Coordinator) ReconcileFailed(ctx context.Context, task *models.Task) error {
	return c.summary.PostFailure(ctx, task)
}

func (c *Coordinator) reconcileReview(ctx context.Context, task *models.Task) error {
	result, err := decodeReviewResult(task.Result)
	if err != nil {
		return fmt.Errorf("decode review result: %w", err)
	}

	var wg sync.WaitGroup
	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				c.logger.Warn("reconciliation step failed",
					zap.String("step", name),
					zap.Int64("task_id", task.ID),
					zap.Error(err))
			}
		}()
	}

	run("summary", func() error { return c.summary.Post(ctx, task, result) })
	run("threads", func() error { return c.threads.Post(ctx, task, result) })
	run("labels", func() error { return c.labels.Post(ctx, task, result) })
	wg.Wait()
	return nil
}

func (c *Coordinator) reconcileFeatureDev(ctx context.Context, task *models.Task) error {
	var result v1.FeatureDevResult
	if err := decodeResult(task.Result, &result); err != nil {
		return fmt.Errorf("decode feature dev result: %w", err)
	}
	if result.Branch == "" {
		return fmt.Errorf("feature dev result has no branch")
	}

	target := result.TargetBranch
	if target == "" {
		target, _ = c.cfg.Get(task.GitLabProject, projectcfg.KeyTargetBranch)
	}
	if target == "" {
		target = "main"
	}
	mr, err := c.client.CreateMergeRequest(ctx, task.GitLabProject,
		result.Branch, target, result.MRTitle, result.MRDescription)
	if err != nil && !gitlab.IsIdempotencyError(err) {
		return fmt.Errorf("create merge request: %w", err)
	}

	if task.IssueIID != nil && mr != nil {
		_, err := c.client.CreateIssueNote(ctx, task.GitLabProject, *task.IssueIID,
			renderFeatureDevSummary(&result, mr.WebURL))
		if err != nil && !gitlab.IsIdempotencyError(err) {
			c.logger.Warn("post issue summary failed",
				zap.Int64("task_id", task.ID), zap.Error(err))
		}
	}
	return nil
}

func (c *Coordinator) reconcileAnswer(ctx context.Context, task *models.Task) error {
	var result v1.AskResult
	if err := decodeResult(task.Result, &result); err != nil {
		return fmt.Errorf("decode ask result: %w", err)
	}
	if result.Answer == "" {
		return fmt.Errorf("ask result has no answer")
	}
	body := renderAnswer(result.Question, result.Answer)

	var err error
	switch {
	case task.IssueIID != nil:
		_, err = c.client.CreateIssueNote(ctx, task.GitLabProject, *task.IssueIID, body)
	case task.MRIID != nil:
		_, err = c.client.CreateMRNote(ctx, task.GitLabProject, *task.MRIID, body)
	default:
		return nil
	}
	if err != nil && !gitlab.IsIdempotencyError(err) {
		return fmt.Errorf("post answer: %w", err)
	}
	return nil
}

// PostHelp answers @ai help with the command reference.
func (c *Coordinator) PostHelp(ctx context.Context, ev *webhook.Event) error {
	if ev.Note == nil {
		return nil
	}
	var err error
	switch {
	case ev.Note.NoteableType == webhook.NoteableMergeRequest && ev.Note.MRIID != 0:
		_, err = c.client.CreateMRNote(ctx, ev.ProjectID, ev.Note.MRIID, helpText)
	case ev.Note.NoteableType == webhook.NoteableIssue && ev.Note.IssueIID != 0:
		_, err = c.client.CreateIssueNote(ctx, ev.ProjectID, ev.Note.IssueIID, helpText)
	}
	if err != nil && !gitlab.IsIdempotencyError(err) {
		return fmt.Errorf("post help: %w", err)
	}
	return nil
}

func decodeReviewResult(raw map[string]interface{}) (*v1.CodeReviewResult, error) {
	var result v1.CodeReviewResult
	if err := decodeResult(raw, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// decodeResult converts the opaque stored payload into its typed shape.
func decodeResult(raw map[string]interface{}, out interface{}) error {
	if raw == nil {
		return fmt.Errorf("task has no result payload")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
