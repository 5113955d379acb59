package dispatch

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/vunnix/vunnix/internal/common/logger"
	"github.com/vunnix/vunnix/internal/events/bus"
	"github.com/vunnix/vunnix/internal/gitlab"
	"github.com/vunnix/vunnix/internal/metrics"
	"github.com/vunnix/vunnix/internal/projectcfg"
	"github.com/vunnix/vunnix/internal/task/models"
	"github.com/vunnix/vunnix/internal/task/repository"
	"github.com/vunnix/vunnix/internal/task/token"
	"github.com/vunnix/vunnix/internal/webhook"
	v1 "github.com/vunnix/vunnix/pkg/api/v1"
)

// Pipeline variables handed to the external runner.
const (
	VarTaskID   = "VUNNIX_TASK_ID"
	VarTaskType = "VUNNIX_TASK_TYPE"
	VarIntent   = "VUNNIX_INTENT"
	VarToken    = "VUNNIX_TOKEN"
	VarStrategy = "VUNNIX_STRATEGY"
	VarIssueIID = "VUNNIX_ISSUE_IID"
	VarQuestion = "VUNNIX_QUESTION"
)

const placeholderBody = "🤖 **AI review in progress...**\n\nI'm analyzing the changes in this merge request. The summary will appear here shortly."

// Dispatcher takes a queued task and hands it to the external pipeline
// runner: resolve strategy, post the placeholder, mint the token, trigger
// the pipeline, move the task to running.
type Dispatcher struct {
	repo     repository.Repository
	client   gitlab.Client
	tokens   *token.Service
	strategy StrategyResolver
	eventBus bus.EventBus
	cfg      projectcfg.Resolver
	logger   *logger.Logger
}

func NewDispatcher(repo repository.Repository, client gitlab.Client, tokens *token.Service, eventBus bus.EventBus, cfg projectcfg.Resolver, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		repo:     repo,
		client:   client,
		tokens:   tokens,
		eventBus: eventBus,
		cfg:      cfg,
		logger:   log,
	}
}

// Dispatch runs the full dispatch sequence for a queued task. question is
// the free-text of an ask command, empty for every other intent.
func (d *Dispatcher) Dispatch(ctx context.Context, task *models.Task, question string) error {
	if task.Status != v1.TaskStatusQueued {
		return fmt.Errorf("task %d is %s, not queued", task.ID, task.Status)
	}

	strategy := v1.StrategyBackendReview
	ref, _ := d.cfg.Get(task.GitLabProject, projectcfg.KeyPipelineRef)
	if ref == "" {
		ref = "main"
	}

	if task.Type == v1.TaskTypeCodeReview && task.MRIID != nil {
		mr, err := d.client.GetMergeRequest(ctx, task.GitLabProject, *task.MRIID)
		if err != nil {
			return fmt.Errorf("resolve merge request: %w", err)
		}
		ref = mr.SourceBranch

		changes, err := d.client.GetMRChanges(ctx, task.GitLabProject, *task.MRIID)
		if err != nil {
			return fmt.Errorf("fetch changed files: %w", err)
		}
		paths := make([]string, 0, len(changes))
		for _, ch := range changes {
			paths = append(paths, ch.NewPath)
		}
		strategy = d.strategy.Resolve(paths)

		if err := d.ensurePlaceholder(ctx, task); err != nil {
			return err
		}
	}

	variables := map[string]string{
		VarTaskID:   strconv.FormatInt(task.ID, 10),
		VarTaskType: string(task.Type),
		VarIntent:   task.Intent,
		VarToken:    d.tokens.Mint(task.ID),
		VarStrategy: string(strategy),
	}
	if task.IssueIID != nil {
		variables[VarIssueIID] = strconv.FormatInt(*task.IssueIID, 10)
	}
	if question != "" {
		variables[VarQuestion] = question
	}

	pipeline, err := d.client.TriggerPipeline(ctx, task.GitLabProject, ref, variables)
	if err != nil {
		return fmt.Errorf("trigger pipeline: %w", err)
	}

	task.PipelineID = &pipeline.ID
	if err := task.TransitionTo(v1.TaskStatusRunning, ""); err != nil {
		return err
	}
	if err := d.repo.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("persist running task: %w", err)
	}

	metrics.TasksDispatched.WithLabelValues(string(task.Type)).Inc()
	d.publishStatus(ctx, task)
	d.logger.Info("task dispatched",
		zap.Int64("task_id", task.ID),
		zap.String("intent", task.Intent),
		zap.String("strategy", string(strategy)),
		zap.Int64("pipeline_id", pipeline.ID))
	return nil
}

// ensurePlaceholder reuses the most recent prior review comment for the MR,
// or posts a fresh placeholder note. Incremental reviews of the same MR end
// up updating one comment instead of stacking new ones.
func (d *Dispatcher) ensurePlaceholder(ctx context.Context, task *models.Task) error {
	if !needsPlaceholder(task.Intent) || task.MRIID == nil {
		return nil
	}
	if task.CommentID != nil {
		return nil
	}

	prior, err := d.repo.LatestCommentID(ctx, task.ProjectID, *task.MRIID, task.ID)
	if err != nil {
		return fmt.Errorf("look up prior comment: %w", err)
	}
	if prior != nil {
		task.CommentID = prior
		return nil
	}

	note, err := d.client.CreateMRNote(ctx, task.GitLabProject, *task.MRIID, placeholderBody)
	if err != nil {
		return fmt.Errorf("post placeholder: %w", err)
	}
	task.CommentID = &note.ID
	return nil
}

// needsPlaceholder reports whether the intent shows visible progress on the
// MR. Ask, issue discussion and feature dev post nothing up front.
func needsPlaceholder(intent string) bool {
	switch intent {
	case webhook.IntentAutoReview, webhook.IntentOnDemandReview,
		webhook.IntentImprove, webhook.IntentIncrementalReview:
		return true
	}
	return false
}

func (d *Dispatcher) publishStatus(ctx context.Context, task *models.Task) {
	if d.eventBus == nil {
		return
	}
	event := bus.NewEvent("task.status.changed", map[string]interface{}{
		"task_id": task.ID,
		"status":  string(task.Status),
		"intent":  task.Intent,
	})
	_ = d.eventBus.Publish(ctx, bus.SubjectTaskStatusChanged, event)
}
