package result

import (
	"context"
	"errors"
	"testing"

	"github.com/vunnix/vunnix/internal/common/logger"
	"github.com/vunnix/vunnix/internal/jobs"
	"github.com/vunnix/vunnix/internal/task/models"
	"github.com/vunnix/vunnix/internal/task/repository"
	v1 "github.com/vunnix/vunnix/pkg/api/v1"
)

type countingReconciler struct {
	completed int
	failed    int
}

func (r *countingReconciler) ReconcileCompleted(context.Context, *models.Task) error {
	r.completed++
	return nil
}

func (r *countingReconciler) ReconcileFailed(context.Context, *models.Task) error {
	r.failed++
	return nil
}

func runningTask(t *testing.T, repo repository.Repository) *models.Task {
	t.Helper()
	mrIID := int64(5)
	task := &models.Task{
		Type:          v1.TaskTypeCodeReview,
		Status:        v1.TaskStatusQueued,
		Priority:      v1.TaskPriorityNormal,
		Origin:        v1.TaskOriginWebhook,
		Intent:        "auto_review",
		ProjectID:     1,
		GitLabProject: 1,
		MRIID:         &mrIID,
	}
	if err := repo.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := task.TransitionTo(v1.TaskStatusRunning, ""); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpdateTask(context.Background(), task); err != nil {
		t.Fatalf("persist running task: %v", err)
	}
	return task
}

func completedSubmission() *v1.ResultSubmission {
	input, output := int64(1000), int64(200)
	duration := int64(30)
	return &v1.ResultSubmission{
		Status:          v1.ResultStatusCompleted,
		Result:          map[string]interface{}{"summary": map[string]interface{}{"risk_level": "low"}},
		Tokens:          &v1.TokenCounts{Input: &input, Output: &output},
		DurationSeconds: &duration,
		PromptVersion:   &v1.PromptVersion{Skill: "review-v1"},
	}
}

// Two callbacks for the same task racing past the handler's state pre-check
// must not both apply: the second write hits the status guard and conflicts,
// and reconciliation runs once.
func TestProcessConcurrentSubmissionsConflict(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	reconciler := &countingReconciler{}
	p := NewProcessor(repo, reconciler, jobs.NewInline(logger.NewNop()), DefaultPricing, nil, logger.NewNop())

	task := runningTask(t, repo)

	// Both callers fetched the task while it was still running.
	first, err := repo.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := repo.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}

	status, err := p.Process(ctx, first, completedSubmission())
	if err != nil {
		t.Fatalf("first submission: %v", err)
	}
	if status != "processing" {
		t.Errorf("first status = %q, want processing", status)
	}

	_, err = p.Process(ctx, second, completedSubmission())
	if !errors.Is(err, repository.ErrStateConflict) {
		t.Fatalf("second submission err = %v, want ErrStateConflict", err)
	}

	if reconciler.completed != 1 {
		t.Errorf("reconciliations = %d, want 1", reconciler.completed)
	}
	stored, err := repo.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != v1.TaskStatusCompleted {
		t.Errorf("stored status = %s, want completed", stored.Status)
	}
}

func TestProcessFailedAfterCompletedConflicts(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	reconciler := &countingReconciler{}
	p := NewProcessor(repo, reconciler, jobs.NewInline(logger.NewNop()), DefaultPricing, nil, logger.NewNop())

	task := runningTask(t, repo)

	first, _ := repo.GetTask(ctx, task.ID)
	second, _ := repo.GetTask(ctx, task.ID)

	if _, err := p.Process(ctx, first, completedSubmission()); err != nil {
		t.Fatalf("completed submission: %v", err)
	}

	duration := int64(5)
	failed := &v1.ResultSubmission{
		Status:          v1.ResultStatusFailed,
		Error:           "executor crashed",
		Tokens:          &v1.TokenCounts{},
		DurationSeconds: &duration,
		PromptVersion:   &v1.PromptVersion{Skill: "review-v1"},
	}
	if _, err := p.Process(ctx, second, failed); !errors.Is(err, repository.ErrStateConflict) {
		t.Fatalf("failed submission err = %v, want ErrStateConflict", err)
	}

	if reconciler.failed != 0 {
		t.Errorf("failed reconciliations = %d, want 0", reconciler.failed)
	}
	stored, _ := repo.GetTask(ctx, task.ID)
	if stored.Status != v1.TaskStatusCompleted {
		t.Errorf("stored status = %s, want completed", stored.Status)
	}
}
