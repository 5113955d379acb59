package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vunnix/vunnix/internal/task/models"
	v1 "github.com/vunnix/vunnix/pkg/api/v1"
)

// PostgresRepository provides Postgres-based storage via a pgx pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// Ensure PostgresRepository implements Repository interface
var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository connects to Postgres and ensures the schema exists.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &PostgresRepository{pool: pool}
	if err := repo.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return repo, nil
}

func (r *PostgresRepository) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id BIGSERIAL PRIMARY KEY,
		type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'queued',
		priority TEXT NOT NULL DEFAULT 'normal',
		origin TEXT NOT NULL DEFAULT 'webhook',
		intent TEXT DEFAULT '',
		project_id BIGINT NOT NULL,
		gitlab_project_id BIGINT NOT NULL DEFAULT 0,
		user_id BIGINT,
		mr_iid BIGINT,
		issue_iid BIGINT,
		commit_sha TEXT DEFAULT '',
		conversation_id BIGINT,
		comment_id BIGINT,
		pipeline_id BIGINT,
		result JSONB,
		tokens_used BIGINT DEFAULT 0,
		input_tokens BIGINT DEFAULT 0,
		output_tokens BIGINT DEFAULT 0,
		cost DOUBLE PRECISION DEFAULT 0,
		duration_seconds BIGINT DEFAULT 0,
		error_reason TEXT DEFAULT '',
		retry_count INTEGER DEFAULT 0,
		prompt_version JSONB,
		superseded_by_id BIGINT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS webhook_events (
		id BIGSERIAL PRIMARY KEY,
		event_uuid TEXT NOT NULL UNIQUE,
		project_id BIGINT NOT NULL,
		event_type TEXT NOT NULL,
		intent TEXT DEFAULT '',
		mr_iid BIGINT,
		commit_sha TEXT DEFAULT '',
		superseded_count INTEGER DEFAULT 0,
		received_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_project_mr ON tasks(project_id, mr_iid);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	`
	_, err := r.pool.Exec(ctx, schema)
	return err
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateTask inserts a new task and assigns its id.
func (r *PostgresRepository) CreateTask(ctx context.Context, task *models.Task) error {
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	result, promptVersion := marshalTaskJSON(task)

	err := r.pool.QueryRow(ctx, `
		INSERT INTO tasks (type, status, priority, origin, intent, project_id,
			gitlab_project_id, user_id, mr_iid, issue_iid, commit_sha, conversation_id,
			comment_id, pipeline_id, result, tokens_used, input_tokens, output_tokens,
			cost, duration_seconds, error_reason, retry_count, prompt_version,
			superseded_by_id, created_at, updated_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28)
		RETURNING id`,
		task.Type, task.Status, task.Priority, task.Origin, task.Intent,
		task.ProjectID, task.GitLabProject, task.UserID, task.MRIID, task.IssueIID,
		task.CommitSHA, task.ConversationID, task.CommentID, task.PipelineID,
		jsonOrNil(result), task.TokensUsed, task.InputTokens, task.OutputTokens,
		task.Cost, task.DurationSeconds, task.ErrorReason, task.RetryCount,
		jsonOrNil(promptVersion), task.SupersededByID, task.CreatedAt, task.UpdatedAt,
		task.StartedAt, task.CompletedAt,
	).Scan(&task.ID)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by id.
func (r *PostgresRepository) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	task, err := scanPgTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return task, err
}

// UpdateTask overwrites a task's mutable fields.
func (r *PostgresRepository) UpdateTask(ctx context.Context, task *models.Task) error {
	task.UpdatedAt = time.Now().UTC()
	result, promptVersion := marshalTaskJSON(task)

	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks SET status = $1, user_id = $2, mr_iid = $3, commit_sha = $4,
			comment_id = $5, pipeline_id = $6, result = $7, tokens_used = $8,
			input_tokens = $9, output_tokens = $10, cost = $11, duration_seconds = $12,
			error_reason = $13, retry_count = $14, prompt_version = $15,
			superseded_by_id = $16, updated_at = $17, started_at = $18, completed_at = $19
		WHERE id = $20`,
		task.Status, task.UserID, task.MRIID, task.CommitSHA,
		task.CommentID, task.PipelineID, jsonOrNil(result), task.TokensUsed,
		task.InputTokens, task.OutputTokens, task.Cost, task.DurationSeconds,
		task.ErrorReason, task.RetryCount, jsonOrNil(promptVersion),
		task.SupersededByID, task.UpdatedAt, task.StartedAt, task.CompletedAt,
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// UpdateTaskIfStatus writes the task only while the stored row still has the
// expected status, in the same guarded-UPDATE style as SupersedeActiveTasks.
func (r *PostgresRepository) UpdateTaskIfStatus(ctx context.Context, task *models.Task, expected v1.TaskStatus) error {
	task.UpdatedAt = time.Now().UTC()
	result, promptVersion := marshalTaskJSON(task)

	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks SET status = $1, user_id = $2, mr_iid = $3, commit_sha = $4,
			comment_id = $5, pipeline_id = $6, result = $7, tokens_used = $8,
			input_tokens = $9, output_tokens = $10, cost = $11, duration_seconds = $12,
			error_reason = $13, retry_count = $14, prompt_version = $15,
			superseded_by_id = $16, updated_at = $17, started_at = $18, completed_at = $19
		WHERE id = $20 AND status = $21`,
		task.Status, task.UserID, task.MRIID, task.CommitSHA,
		task.CommentID, task.PipelineID, jsonOrNil(result), task.TokensUsed,
		task.InputTokens, task.OutputTokens, task.Cost, task.DurationSeconds,
		task.ErrorReason, task.RetryCount, jsonOrNil(promptVersion),
		task.SupersededByID, task.UpdatedAt, task.StartedAt, task.CompletedAt,
		task.ID, expected,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetTask(ctx, task.ID); errors.Is(err, ErrTaskNotFound) {
			return ErrTaskNotFound
		}
		return ErrStateConflict
	}
	return nil
}

// ListTasksByProject returns tasks for a project, newest first.
func (r *PostgresRepository) ListTasksByProject(ctx context.Context, projectID int64) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE project_id = $1 ORDER BY id DESC`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return scanPgTasks(rows)
}

// HasActiveTaskForCommit reports a non-terminal task for project+MR+SHA.
func (r *PostgresRepository) HasActiveTaskForCommit(ctx context.Context, projectID, mrIID int64, commitSHA string) (bool, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(1) FROM tasks
		WHERE project_id = $1 AND mr_iid = $2 AND commit_sha = $3
		  AND status IN ('queued', 'running')`,
		projectID, mrIID, commitSHA).Scan(&n)
	return n > 0, err
}

// SupersedeActiveTasks marks queued/running tasks for the MR superseded and
// returns them.
func (r *PostgresRepository) SupersedeActiveTasks(ctx context.Context, projectID, mrIID, newTaskID int64) ([]*models.Task, error) {
	var supersededBy *int64
	if newTaskID != 0 {
		supersededBy = &newTaskID
	}

	rows, err := r.pool.Query(ctx, `
		UPDATE tasks SET status = $1, superseded_by_id = $2, updated_at = $3
		WHERE project_id = $4 AND mr_iid = $5 AND id != $6
		  AND status IN ('queued', 'running')
		RETURNING `+taskColumns,
		v1.TaskStatusSuperseded, supersededBy, time.Now().UTC(),
		projectID, mrIID, newTaskID)
	if err != nil {
		return nil, fmt.Errorf("supersede tasks: %w", err)
	}
	defer rows.Close()
	return scanPgTasks(rows)
}

// LatestCommentID finds the newest earlier review task carrying a comment id.
func (r *PostgresRepository) LatestCommentID(ctx context.Context, projectID, mrIID, beforeTaskID int64) (*int64, error) {
	query := `SELECT comment_id FROM tasks
		WHERE project_id = $1 AND mr_iid = $2 AND type = $3
		  AND comment_id IS NOT NULL`
	args := []interface{}{projectID, mrIID, v1.TaskTypeCodeReview}
	if beforeTaskID != 0 {
		query += ` AND id < $4`
		args = append(args, beforeTaskID)
	}
	query += ` ORDER BY id DESC LIMIT 1`

	var commentID int64
	err := r.pool.QueryRow(ctx, query, args...).Scan(&commentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &commentID, nil
}

// HasCompletedReviewWithComment detects an incremental review.
func (r *PostgresRepository) HasCompletedReviewWithComment(ctx context.Context, projectID, mrIID, commentID, excludeTaskID int64) (bool, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(1) FROM tasks
		WHERE project_id = $1 AND mr_iid = $2 AND type = $3 AND status = $4
		  AND comment_id = $5 AND id != $6`,
		projectID, mrIID, v1.TaskTypeCodeReview, v1.TaskStatusCompleted,
		commentID, excludeTaskID).Scan(&n)
	return n > 0, err
}

// CompletedReviewTasks lists completed review tasks for an MR, oldest first.
func (r *PostgresRepository) CompletedReviewTasks(ctx context.Context, projectID, mrIID int64) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE project_id = $1 AND mr_iid = $2 AND type = $3 AND status = $4
		 ORDER BY id`,
		projectID, mrIID, v1.TaskTypeCodeReview, v1.TaskStatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("list completed reviews: %w", err)
	}
	defer rows.Close()
	return scanPgTasks(rows)
}

// CreateWebhookEvent records an accepted event UUID.
func (r *PostgresRepository) CreateWebhookEvent(ctx context.Context, rec *models.WebhookEventRecord) error {
	rec.ReceivedAt = time.Now().UTC()

	err := r.pool.QueryRow(ctx, `
		INSERT INTO webhook_events (event_uuid, project_id, event_type, intent,
			mr_iid, commit_sha, superseded_count, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		rec.EventUUID, rec.ProjectID, rec.EventType, rec.Intent,
		rec.MRIID, rec.CommitSHA, rec.SupersededCount, rec.ReceivedAt,
	).Scan(&rec.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		// 23505 is unique_violation
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}

// WebhookEventExists reports whether the event UUID was already processed.
func (r *PostgresRepository) WebhookEventExists(ctx context.Context, eventUUID string) (bool, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(1) FROM webhook_events WHERE event_uuid = $1`,
		eventUUID).Scan(&n)
	return n > 0, err
}

func jsonOrNil(s sql.NullString) interface{} {
	if !s.Valid {
		return nil
	}
	return []byte(s.String)
}

func scanPgTask(row pgx.Row) (*models.Task, error) {
	var (
		task         models.Task
		resultJSON   []byte
		promptJSON   []byte
		userID       *int64
		mrIID        *int64
		issueIID     *int64
		convID       *int64
		commentID    *int64
		pipelineID   *int64
		supersededBy *int64
		startedAt    *time.Time
		completedAt  *time.Time
	)

	err := row.Scan(&task.ID, &task.Type, &task.Status, &task.Priority, &task.Origin,
		&task.Intent, &task.ProjectID, &task.GitLabProject, &userID, &mrIID,
		&issueIID, &task.CommitSHA, &convID, &commentID, &pipelineID,
		&resultJSON, &task.TokensUsed, &task.InputTokens, &task.OutputTokens,
		&task.Cost, &task.DurationSeconds, &task.ErrorReason, &task.RetryCount,
		&promptJSON, &supersededBy, &task.CreatedAt, &task.UpdatedAt,
		&startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	task.UserID = userID
	task.MRIID = mrIID
	task.IssueIID = issueIID
	task.ConversationID = convID
	task.CommentID = commentID
	task.PipelineID = pipelineID
	task.SupersededByID = supersededBy
	task.StartedAt = startedAt
	task.CompletedAt = completedAt
	if len(resultJSON) > 0 {
		_ = json.Unmarshal(resultJSON, &task.Result)
	}
	if len(promptJSON) > 0 {
		var pv v1.PromptVersion
		if json.Unmarshal(promptJSON, &pv) == nil {
			task.PromptVersion = &pv
		}
	}
	return &task, nil
}

func scanPgTasks(rows pgx.Rows) ([]*models.Task, error) {
	var out []*models.Task
	for rows.Next() {
		task, err := scanPgTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}
