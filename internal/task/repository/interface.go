package repository

import (
	"context"
	"errors"

	"github.com/vunnix/vunnix/internal/task/models"
	v1 "github.com/vunnix/vunnix/pkg/api/v1"
)

// ErrDuplicateEvent is returned when a webhook event UUID was already
// recorded. The unique constraint is the last line of defense against two
// concurrent deliveries racing past the existence check.
var ErrDuplicateEvent = errors.New("webhook event already recorded")

// ErrTaskNotFound is returned when a task id does not exist.
var ErrTaskNotFound = errors.New("task not found")

// ErrStateConflict is returned by a guarded update when the stored task is
// no longer in the expected state. A concurrent writer got there first.
var ErrStateConflict = errors.New("task state conflict")

// Repository defines the storage operations used by the orchestration core.
type Repository interface {
	// Task operations
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id int64) (*models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error
	ListTasksByProject(ctx context.Context, projectID int64) ([]*models.Task, error)

	// UpdateTaskIfStatus writes the task only while the stored row is still
	// in the expected status (compare-and-set). Returns ErrStateConflict when
	// a concurrent writer already moved the task out of that status.
	UpdateTaskIfStatus(ctx context.Context, task *models.Task, expected v1.TaskStatus) error

	// HasActiveTaskForCommit reports whether a non-terminal task already
	// exists for the same project + MR + commit SHA.
	HasActiveTaskForCommit(ctx context.Context, projectID, mrIID int64, commitSHA string) (bool, error)

	// SupersedeActiveTasks marks every queued/running task for the MR as
	// superseded by newTaskID and returns them (callers cancel their
	// pipelines best-effort). A newTaskID of 0 records supersession by an
	// event whose own task does not exist yet.
	SupersedeActiveTasks(ctx context.Context, projectID, mrIID, newTaskID int64) ([]*models.Task, error)

	// LatestCommentID returns the summary/placeholder note id of the most
	// recent earlier review task on the MR, or nil when none exists.
	LatestCommentID(ctx context.Context, projectID, mrIID, beforeTaskID int64) (*int64, error)

	// HasCompletedReviewWithComment reports whether an earlier completed
	// review task on the MR shares the given comment id. This is how an
	// incremental review is detected.
	HasCompletedReviewWithComment(ctx context.Context, projectID, mrIID, commentID, excludeTaskID int64) (bool, error)

	// CompletedReviewTasks lists completed code review tasks for an MR,
	// oldest first. Used by acceptance tracking on merge.
	CompletedReviewTasks(ctx context.Context, projectID, mrIID int64) ([]*models.Task, error)

	// Webhook event records
	CreateWebhookEvent(ctx context.Context, rec *models.WebhookEventRecord) error
	WebhookEventExists(ctx context.Context, eventUUID string) (bool, error)

	// Close closes the repository (for database connections)
	Close() error
}
