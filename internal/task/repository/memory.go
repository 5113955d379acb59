package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vunnix/vunnix/internal/task/models"
	v1 "github.com/vunnix/vunnix/pkg/api/v1"
)

// MemoryRepository provides in-memory storage. Used by tests and the
// sync-mode single-process deployment.
type MemoryRepository struct {
	mu      sync.RWMutex
	tasks   map[int64]*models.Task
	events  map[string]*models.WebhookEventRecord
	nextID  int64
	nextRec int64
}

// Ensure MemoryRepository implements Repository interface
var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates a new in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tasks:  make(map[int64]*models.Task),
		events: make(map[string]*models.WebhookEventRecord),
	}
}

// Close is a no-op for the in-memory repository.
func (r *MemoryRepository) Close() error { return nil }

// CreateTask creates a new task, assigning a monotonically increasing id.
func (r *MemoryRepository) CreateTask(ctx context.Context, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	task.ID = r.nextID
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	cp := *task
	r.tasks[task.ID] = &cp
	return nil
}

// GetTask retrieves a task by id.
func (r *MemoryRepository) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	cp := *task
	return &cp, nil
}

// UpdateTask overwrites an existing task.
func (r *MemoryRepository) UpdateTask(ctx context.Context, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[task.ID]; !ok {
		return ErrTaskNotFound
	}
	task.UpdatedAt = time.Now().UTC()
	cp := *task
	r.tasks[task.ID] = &cp
	return nil
}

// UpdateTaskIfStatus writes the task only while the stored copy still has
// the expected status (compare-and-set under the lock).
func (r *MemoryRepository) UpdateTaskIfStatus(ctx context.Context, task *models.Task, expected v1.TaskStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.tasks[task.ID]
	if !ok {
		return ErrTaskNotFound
	}
	if stored.Status != expected {
		return ErrStateConflict
	}
	task.UpdatedAt = time.Now().UTC()
	cp := *task
	r.tasks[task.ID] = &cp
	return nil
}

// ListTasksByProject returns tasks for a project, newest first.
func (r *MemoryRepository) ListTasksByProject(ctx context.Context, projectID int64) ([]*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Task
	for _, task := range r.tasks {
		if task.ProjectID == projectID {
			cp := *task
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// HasActiveTaskForCommit reports a non-terminal task for project+MR+SHA.
func (r *MemoryRepository) HasActiveTaskForCommit(ctx context.Context, projectID, mrIID int64, commitSHA string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, task := range r.tasks {
		if task.ProjectID == projectID &&
			task.MRIID != nil && *task.MRIID == mrIID &&
			task.CommitSHA == commitSHA &&
			!task.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

// SupersedeActiveTasks marks queued/running tasks for the MR superseded.
func (r *MemoryRepository) SupersedeActiveTasks(ctx context.Context, projectID, mrIID, newTaskID int64) ([]*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var superseded []*models.Task
	for _, task := range r.tasks {
		if task.ProjectID != projectID || task.MRIID == nil || *task.MRIID != mrIID {
			continue
		}
		if task.ID == newTaskID || task.IsTerminal() {
			continue
		}
		if newTaskID != 0 {
			id := newTaskID
			task.SupersededByID = &id
		}
		if err := task.TransitionTo(v1.TaskStatusSuperseded, ""); err != nil {
			continue
		}
		cp := *task
		superseded = append(superseded, &cp)
	}
	sort.Slice(superseded, func(i, j int) bool { return superseded[i].ID < superseded[j].ID })
	return superseded, nil
}

// LatestCommentID finds the newest earlier review task carrying a comment id.
func (r *MemoryRepository) LatestCommentID(ctx context.Context, projectID, mrIID, beforeTaskID int64) (*int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *models.Task
	for _, task := range r.tasks {
		if task.ProjectID != projectID || task.MRIID == nil || *task.MRIID != mrIID {
			continue
		}
		if task.Type != v1.TaskTypeCodeReview || task.CommentID == nil {
			continue
		}
		if beforeTaskID != 0 && task.ID >= beforeTaskID {
			continue
		}
		if best == nil || task.ID > best.ID {
			best = task
		}
	}
	if best == nil {
		return nil, nil
	}
	id := *best.CommentID
	return &id, nil
}

// HasCompletedReviewWithComment detects an incremental review.
func (r *MemoryRepository) HasCompletedReviewWithComment(ctx context.Context, projectID, mrIID, commentID, excludeTaskID int64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, task := range r.tasks {
		if task.ProjectID == projectID &&
			task.MRIID != nil && *task.MRIID == mrIID &&
			task.Type == v1.TaskTypeCodeReview &&
			task.Status == v1.TaskStatusCompleted &&
			task.ID != excludeTaskID &&
			task.CommentID != nil && *task.CommentID == commentID {
			return true, nil
		}
	}
	return false, nil
}

// CompletedReviewTasks lists completed review tasks for an MR, oldest first.
func (r *MemoryRepository) CompletedReviewTasks(ctx context.Context, projectID, mrIID int64) ([]*models.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Task
	for _, task := range r.tasks {
		if task.ProjectID == projectID &&
			task.MRIID != nil && *task.MRIID == mrIID &&
			task.Type == v1.TaskTypeCodeReview &&
			task.Status == v1.TaskStatusCompleted {
			cp := *task
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateWebhookEvent records an accepted event UUID.
func (r *MemoryRepository) CreateWebhookEvent(ctx context.Context, rec *models.WebhookEventRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.events[rec.EventUUID]; exists {
		return ErrDuplicateEvent
	}
	r.nextRec++
	rec.ID = r.nextRec
	rec.ReceivedAt = time.Now().UTC()
	cp := *rec
	r.events[rec.EventUUID] = &cp
	return nil
}

// WebhookEventExists reports whether the event UUID was already processed.
func (r *MemoryRepository) WebhookEventExists(ctx context.Context, eventUUID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.events[eventUUID]
	return exists, nil
}
