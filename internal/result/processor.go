package result

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/vunnix/vunnix/internal/common/logger"
	"github.com/vunnix/vunnix/internal/events/bus"
	"github.com/vunnix/vunnix/internal/jobs"
	"github.com/vunnix/vunnix/internal/metrics"
	"github.com/vunnix/vunnix/internal/task/models"
	"github.com/vunnix/vunnix/internal/task/repository"
	v1 "github.com/vunnix/vunnix/pkg/api/v1"
)

// Reconciler turns a terminal task into externally visible artifacts.
type Reconciler interface {
	ReconcileCompleted(ctx context.Context, task *models.Task) error
	ReconcileFailed(ctx context.Context, task *models.Task) error
}

// Processor applies a validated result submission to its task.
type Processor struct {
	repo       repository.Repository
	reconciler Reconciler
	runner     jobs.Runner
	pricing    Pricing
	eventBus   bus.EventBus
	logger     *logger.Logger
}

func NewProcessor(repo repository.Repository, reconciler Reconciler, runner jobs.Runner, pricing Pricing, eventBus bus.EventBus, log *logger.Logger) *Processor {
	return &Processor{
		repo:       repo,
		reconciler: reconciler,
		runner:     runner,
		pricing:    pricing,
		eventBus:   eventBus,
		logger:     log,
	}
}

// Process transitions the task per the submission and schedules the
// reconciliation fan-out. The returned status is what the worker sees:
// "failed" immediately, or "processing" while reconciliation runs in the
// background.
func (p *Processor) Process(ctx context.Context, task *models.Task, sub *v1.ResultSubmission) (string, error) {
	p.applyUsage(task, sub)

	if sub.Status == v1.ResultStatusFailed {
		reason := sub.Error
		if reason == "" {
			reason = sub.ErrorMessage
		}
		if reason == "" {
			reason = "pipeline reported failure"
		}
		if err := task.TransitionTo(v1.TaskStatusFailed, reason); err != nil {
			return "", err
		}
		// Guarded write: a concurrent submission that already moved the task
		// out of running surfaces as ErrStateConflict, not a double apply.
		if err := p.repo.UpdateTaskIfStatus(ctx, task, v1.TaskStatusRunning); err != nil {
			if errors.Is(err, repository.ErrStateConflict) {
				return "", err
			}
			return "", fmt.Errorf("persist failed task: %w", err)
		}
		metrics.TasksCompleted.WithLabelValues(string(v1.TaskStatusFailed)).Inc()
		p.publishStatus(ctx, task)

		p.enqueue("reconcile_failed", task.ID, func(jctx context.Context, t *models.Task) error {
			return p.reconciler.ReconcileFailed(jctx, t)
		})
		return string(v1.TaskStatusFailed), nil
	}

	task.Result = sub.Result
	if err := task.TransitionTo(v1.TaskStatusCompleted, ""); err != nil {
		return "", err
	}
	if err := p.repo.UpdateTaskIfStatus(ctx, task, v1.TaskStatusRunning); err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			return "", err
		}
		return "", fmt.Errorf("persist completed task: %w", err)
	}
	metrics.TasksCompleted.WithLabelValues(string(v1.TaskStatusCompleted)).Inc()
	metrics.TokensUsed.Add(float64(task.TokensUsed))
	p.publishStatus(ctx, task)

	p.enqueue("reconcile_completed", task.ID, func(jctx context.Context, t *models.Task) error {
		return p.reconciler.ReconcileCompleted(jctx, t)
	})
	return "processing", nil
}

func (p *Processor) applyUsage(task *models.Task, sub *v1.ResultSubmission) {
	task.TokensUsed = TotalTokens(sub.Tokens)
	if sub.Tokens != nil {
		if sub.Tokens.Input != nil {
			task.InputTokens = *sub.Tokens.Input
		}
		if sub.Tokens.Output != nil {
			task.OutputTokens = *sub.Tokens.Output
		}
	}
	task.Cost = p.pricing.Cost(sub.Tokens)
	if sub.DurationSeconds != nil {
		task.DurationSeconds = *sub.DurationSeconds
	}
	task.PromptVersion = sub.PromptVersion
}

// enqueue schedules one reconciliation job. The task is re-read inside the
// job so reconciliation always sees the persisted terminal state.
func (p *Processor) enqueue(kind string, taskID int64, fn func(ctx context.Context, task *models.Task) error) {
	job := jobs.NewJob(kind, v1.TaskPriorityHigh.Weight(), func(jctx context.Context) error {
		task, err := p.repo.GetTask(jctx, taskID)
		if err != nil {
			return err
		}
		return fn(jctx, task)
	})
	if err := p.runner.Enqueue(job); err != nil {
		p.logger.Warn("enqueue reconciliation failed",
			zap.String("kind", kind),
			zap.Int64("task_id", taskID),
			zap.Error(err))
	}
}

func (p *Processor) publishStatus(ctx context.Context, task *models.Task) {
	if p.eventBus == nil {
		return
	}
	event := bus.NewEvent("task.status.changed", map[string]interface{}{
		"task_id": task.ID,
		"status":  string(task.Status),
		"intent":  task.Intent,
		"cost":    task.Cost,
	})
	_ = p.eventBus.Publish(ctx, bus.SubjectTaskStatusChanged, event)
}

// ValidateSubmission checks the structural rules for a result payload and
// returns per-field messages, empty when valid.
func ValidateSubmission(sub *v1.ResultSubmission) map[string][]string {
	fields := make(map[string][]string)

	switch sub.Status {
	case v1.ResultStatusCompleted, v1.ResultStatusFailed:
	case "":
		fields["status"] = append(fields["status"], "The status field is required.")
	default:
		fields["status"] = append(fields["status"], "The status must be one of: completed, failed.")
	}

	if sub.Tokens == nil {
		fields["tokens"] = append(fields["tokens"], "The tokens field is required.")
	}
	if sub.DurationSeconds == nil {
		fields["duration_seconds"] = append(fields["duration_seconds"], "The duration_seconds field is required.")
	}
	if sub.PromptVersion == nil {
		fields["prompt_version"] = append(fields["prompt_version"], "The prompt_version field is required.")
	}
	if sub.Status == v1.ResultStatusCompleted && sub.Result == nil {
		fields["result"] = append(fields["result"], "The result field is required when status is completed.")
	}

	if len(fields) == 0 {
		return nil
	}
	return fields
}
