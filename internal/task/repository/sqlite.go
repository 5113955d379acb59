package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/vunnix/vunnix/internal/task/models"
	v1 "github.com/vunnix/vunnix/pkg/api/v1"
)

// SQLiteRepository provides SQLite-based storage for single-node deployments.
type SQLiteRepository struct {
	db *sql.DB
}

// Ensure SQLiteRepository implements Repository interface
var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository opens (and if needed initializes) a SQLite database.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	repo := &SQLiteRepository{db: db}

	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

// initSchema creates the database tables if they don't exist.
func (r *SQLiteRepository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'queued',
		priority TEXT NOT NULL DEFAULT 'normal',
		origin TEXT NOT NULL DEFAULT 'webhook',
		intent TEXT DEFAULT '',
		project_id INTEGER NOT NULL,
		gitlab_project_id INTEGER NOT NULL DEFAULT 0,
		user_id INTEGER,
		mr_iid INTEGER,
		issue_iid INTEGER,
		commit_sha TEXT DEFAULT '',
		conversation_id INTEGER,
		comment_id INTEGER,
		pipeline_id INTEGER,
		result TEXT,
		tokens_used INTEGER DEFAULT 0,
		input_tokens INTEGER DEFAULT 0,
		output_tokens INTEGER DEFAULT 0,
		cost REAL DEFAULT 0,
		duration_seconds INTEGER DEFAULT 0,
		error_reason TEXT DEFAULT '',
		retry_count INTEGER DEFAULT 0,
		prompt_version TEXT,
		superseded_by_id INTEGER,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		started_at DATETIME,
		completed_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS webhook_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_uuid TEXT NOT NULL UNIQUE,
		project_id INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		intent TEXT DEFAULT '',
		mr_iid INTEGER,
		commit_sha TEXT DEFAULT '',
		superseded_count INTEGER DEFAULT 0,
		received_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_project_mr ON tasks(project_id, mr_iid);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	`

	_, err := r.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

const taskColumns = `id, type, status, priority, origin, intent, project_id,
	gitlab_project_id, user_id, mr_iid, issue_iid, commit_sha, conversation_id,
	comment_id, pipeline_id, result, tokens_used, input_tokens, output_tokens,
	cost, duration_seconds, error_reason, retry_count, prompt_version,
	superseded_by_id, created_at, updated_at, started_at, completed_at`

// CreateTask inserts a new task and assigns its id.
func (r *SQLiteRepository) CreateTask(ctx context.Context, task *models.Task) error {
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	result, promptVersion := marshalTaskJSON(task)

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO tasks (type, status, priority, origin, intent, project_id,
			gitlab_project_id, user_id, mr_iid, issue_iid, commit_sha, conversation_id,
			comment_id, pipeline_id, result, tokens_used, input_tokens, output_tokens,
			cost, duration_seconds, error_reason, retry_count, prompt_version,
			superseded_by_id, created_at, updated_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.Type, task.Status, task.Priority, task.Origin, task.Intent,
		task.ProjectID, task.GitLabProject, task.UserID, task.MRIID, task.IssueIID,
		task.CommitSHA, task.ConversationID, task.CommentID, task.PipelineID,
		result, task.TokensUsed, task.InputTokens, task.OutputTokens,
		task.Cost, task.DurationSeconds, task.ErrorReason, task.RetryCount,
		promptVersion, task.SupersededByID, task.CreatedAt, task.UpdatedAt,
		task.StartedAt, task.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("task id: %w", err)
	}
	task.ID = id
	return nil
}

// GetTask retrieves a task by id.
func (r *SQLiteRepository) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return task, err
}

// UpdateTask overwrites a task's mutable fields.
func (r *SQLiteRepository) UpdateTask(ctx context.Context, task *models.Task) error {
	task.UpdatedAt = time.Now().UTC()
	result, promptVersion := marshalTaskJSON(task)

	res, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, user_id = ?, mr_iid = ?, commit_sha = ?,
			comment_id = ?, pipeline_id = ?, result = ?, tokens_used = ?,
			input_tokens = ?, output_tokens = ?, cost = ?, duration_seconds = ?,
			error_reason = ?, retry_count = ?, prompt_version = ?,
			superseded_by_id = ?, updated_at = ?, started_at = ?, completed_at = ?
		WHERE id = ?`,
		task.Status, task.UserID, task.MRIID, task.CommitSHA,
		task.CommentID, task.PipelineID, result, task.TokensUsed,
		task.InputTokens, task.OutputTokens, task.Cost, task.DurationSeconds,
		task.ErrorReason, task.RetryCount, promptVersion,
		task.SupersededByID, task.UpdatedAt, task.StartedAt, task.CompletedAt,
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// UpdateTaskIfStatus writes the task only while the stored row still has the
// expected status. The status predicate in the WHERE clause is what makes
// the terminal transition a compare-and-set, same as SupersedeActiveTasks.
func (r *SQLiteRepository) UpdateTaskIfStatus(ctx context.Context, task *models.Task, expected v1.TaskStatus) error {
	task.UpdatedAt = time.Now().UTC()
	result, promptVersion := marshalTaskJSON(task)

	res, err := r.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, user_id = ?, mr_iid = ?, commit_sha = ?,
			comment_id = ?, pipeline_id = ?, result = ?, tokens_used = ?,
			input_tokens = ?, output_tokens = ?, cost = ?, duration_seconds = ?,
			error_reason = ?, retry_count = ?, prompt_version = ?,
			superseded_by_id = ?, updated_at = ?, started_at = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		task.Status, task.UserID, task.MRIID, task.CommitSHA,
		task.CommentID, task.PipelineID, result, task.TokensUsed,
		task.InputTokens, task.OutputTokens, task.Cost, task.DurationSeconds,
		task.ErrorReason, task.RetryCount, promptVersion,
		task.SupersededByID, task.UpdatedAt, task.StartedAt, task.CompletedAt,
		task.ID, expected,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetTask(ctx, task.ID); errors.Is(err, ErrTaskNotFound) {
			return ErrTaskNotFound
		}
		return ErrStateConflict
	}
	return nil
}

// ListTasksByProject returns tasks for a project, newest first.
func (r *SQLiteRepository) ListTasksByProject(ctx context.Context, projectID int64) ([]*models.Task, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE project_id = ? ORDER BY id DESC`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// HasActiveTaskForCommit reports a non-terminal task for project+MR+SHA.
func (r *SQLiteRepository) HasActiveTaskForCommit(ctx context.Context, projectID, mrIID int64, commitSHA string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM tasks
		WHERE project_id = ? AND mr_iid = ? AND commit_sha = ?
		  AND status IN ('queued', 'running')`,
		projectID, mrIID, commitSHA).Scan(&n)
	return n > 0, err
}

// SupersedeActiveTasks marks queued/running tasks for the MR superseded and
// returns them.
func (r *SQLiteRepository) SupersedeActiveTasks(ctx context.Context, projectID, mrIID, newTaskID int64) ([]*models.Task, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE project_id = ? AND mr_iid = ? AND id != ?
		   AND status IN ('queued', 'running')
		 ORDER BY id`,
		projectID, mrIID, newTaskID)
	if err != nil {
		return nil, fmt.Errorf("select active tasks: %w", err)
	}
	tasks, err := scanTasks(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for _, task := range tasks {
		var supersededBy *int64
		if newTaskID != 0 {
			supersededBy = &newTaskID
		}
		_, err := r.db.ExecContext(ctx, `
			UPDATE tasks SET status = ?, superseded_by_id = ?, updated_at = ?
			WHERE id = ? AND status IN ('queued', 'running')`,
			v1.TaskStatusSuperseded, supersededBy, now, task.ID)
		if err != nil {
			return nil, fmt.Errorf("supersede task %d: %w", task.ID, err)
		}
		task.Status = v1.TaskStatusSuperseded
		task.SupersededByID = supersededBy
	}
	return tasks, nil
}

// LatestCommentID finds the newest earlier review task carrying a comment id.
func (r *SQLiteRepository) LatestCommentID(ctx context.Context, projectID, mrIID, beforeTaskID int64) (*int64, error) {
	query := `SELECT comment_id FROM tasks
		WHERE project_id = ? AND mr_iid = ? AND type = ?
		  AND comment_id IS NOT NULL`
	args := []interface{}{projectID, mrIID, v1.TaskTypeCodeReview}
	if beforeTaskID != 0 {
		query += ` AND id < ?`
		args = append(args, beforeTaskID)
	}
	query += ` ORDER BY id DESC LIMIT 1`

	var commentID int64
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&commentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &commentID, nil
}

// HasCompletedReviewWithComment detects an incremental review.
func (r *SQLiteRepository) HasCompletedReviewWithComment(ctx context.Context, projectID, mrIID, commentID, excludeTaskID int64) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM tasks
		WHERE project_id = ? AND mr_iid = ? AND type = ? AND status = ?
		  AND comment_id = ? AND id != ?`,
		projectID, mrIID, v1.TaskTypeCodeReview, v1.TaskStatusCompleted,
		commentID, excludeTaskID).Scan(&n)
	return n > 0, err
}

// CompletedReviewTasks lists completed review tasks for an MR, oldest first.
func (r *SQLiteRepository) CompletedReviewTasks(ctx context.Context, projectID, mrIID int64) ([]*models.Task, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE project_id = ? AND mr_iid = ? AND type = ? AND status = ?
		 ORDER BY id`,
		projectID, mrIID, v1.TaskTypeCodeReview, v1.TaskStatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("list completed reviews: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// CreateWebhookEvent records an accepted event UUID.
func (r *SQLiteRepository) CreateWebhookEvent(ctx context.Context, rec *models.WebhookEventRecord) error {
	rec.ReceivedAt = time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_events (event_uuid, project_id, event_type, intent,
			mr_iid, commit_sha, superseded_count, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.EventUUID, rec.ProjectID, rec.EventType, rec.Intent,
		rec.MRIID, rec.CommitSHA, rec.SupersededCount, rec.ReceivedAt,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrDuplicateEvent
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("insert webhook event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("webhook event id: %w", err)
	}
	rec.ID = id
	return nil
}

// WebhookEventExists reports whether the event UUID was already processed.
func (r *SQLiteRepository) WebhookEventExists(ctx context.Context, eventUUID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM webhook_events WHERE event_uuid = ?`,
		eventUUID).Scan(&n)
	return n > 0, err
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(s scanner) (*models.Task, error) {
	var (
		task         models.Task
		resultJSON   sql.NullString
		promptJSON   sql.NullString
		userID       sql.NullInt64
		mrIID        sql.NullInt64
		issueIID     sql.NullInt64
		convID       sql.NullInt64
		commentID    sql.NullInt64
		pipelineID   sql.NullInt64
		supersededBy sql.NullInt64
		startedAt    sql.NullTime
		completedAt  sql.NullTime
	)

	err := s.Scan(&task.ID, &task.Type, &task.Status, &task.Priority, &task.Origin,
		&task.Intent, &task.ProjectID, &task.GitLabProject, &userID, &mrIID,
		&issueIID, &task.CommitSHA, &convID, &commentID, &pipelineID,
		&resultJSON, &task.TokensUsed, &task.InputTokens, &task.OutputTokens,
		&task.Cost, &task.DurationSeconds, &task.ErrorReason, &task.RetryCount,
		&promptJSON, &supersededBy, &task.CreatedAt, &task.UpdatedAt,
		&startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	task.UserID = nullableInt(userID)
	task.MRIID = nullableInt(mrIID)
	task.IssueIID = nullableInt(issueIID)
	task.ConversationID = nullableInt(convID)
	task.CommentID = nullableInt(commentID)
	task.PipelineID = nullableInt(pipelineID)
	task.SupersededByID = nullableInt(supersededBy)
	if startedAt.Valid {
		t := startedAt.Time
		task.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		task.CompletedAt = &t
	}
	if resultJSON.Valid && resultJSON.String != "" {
		_ = json.Unmarshal([]byte(resultJSON.String), &task.Result)
	}
	if promptJSON.Valid && promptJSON.String != "" {
		var pv v1.PromptVersion
		if json.Unmarshal([]byte(promptJSON.String), &pv) == nil {
			task.PromptVersion = &pv
		}
	}
	return &task, nil
}

func scanTasks(rows *sql.Rows) ([]*models.Task, error) {
	var out []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func nullableInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

// marshalTaskJSON serializes the opaque result and prompt version blobs at
// the storage boundary.
func marshalTaskJSON(task *models.Task) (result, promptVersion sql.NullString) {
	if task.Result != nil {
		if b, err := json.Marshal(task.Result); err == nil {
			result = sql.NullString{String: string(b), Valid: true}
		}
	}
	if task.PromptVersion != nil {
		if b, err := json.Marshal(task.PromptVersion); err == nil {
			promptVersion = sql.NullString{String: string(b), Valid: true}
		}
	}
	return result, promptVersion
}
