package v1

import "time"

// TaskStatus represents the lifecycle state of an orchestrated task.
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusRunning    TaskStatus = "running"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusSuperseded TaskStatus = "superseded"
)

// IsTerminal reports whether the status admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusSuperseded:
		return true
	}
	return false
}

// TaskType classifies the unit of work dispatched to the executor.
type TaskType string

const (
	TaskTypeCodeReview      TaskType = "code_review"
	TaskTypeFeatureDev      TaskType = "feature_dev"
	TaskTypeIssueDiscussion TaskType = "issue_discussion"
	TaskTypeUiAdjustment    TaskType = "ui_adjustment"
	TaskTypePrdCreation     TaskType = "prd_creation"
)

// TaskPriority orders tasks within the dispatch queue.
type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityNormal TaskPriority = "normal"
	TaskPriorityHigh   TaskPriority = "high"
)

// Weight maps a priority to its queue ordering weight. Higher runs first.
func (p TaskPriority) Weight() int {
	switch p {
	case TaskPriorityHigh:
		return 2
	case TaskPriorityNormal:
		return 1
	}
	return 0
}

// TaskOrigin records how a task came to exist.
type TaskOrigin string

const (
	TaskOriginWebhook      TaskOrigin = "webhook"
	TaskOriginConversation TaskOrigin = "conversation"
)

// ReviewStrategy selects the executor skill set for a review task.
type ReviewStrategy string

const (
	StrategyBackendReview  ReviewStrategy = "backend-review"
	StrategyFrontendReview ReviewStrategy = "frontend-review"
	StrategyMixedReview    ReviewStrategy = "mixed-review"
	StrategySecurityAudit  ReviewStrategy = "security-audit"
)

// FindingSeverity grades a single review finding.
type FindingSeverity string

const (
	SeverityCritical FindingSeverity = "critical"
	SeverityMajor    FindingSeverity = "major"
	SeverityMinor    FindingSeverity = "minor"
)

// Finding is one issue reported by a code review task. Findings are embedded
// in the task result payload, never persisted independently.
type Finding struct {
	ID          int             `json:"id"`
	Severity    FindingSeverity `json:"severity"`
	Category    string          `json:"category"`
	File        string          `json:"file"`
	Line        int             `json:"line"`
	EndLine     int             `json:"end_line,omitempty"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Suggestion  string          `json:"suggestion,omitempty"`
}

// WalkthroughEntry summarizes the change to one file in a review result.
type WalkthroughEntry struct {
	File          string `json:"file"`
	ChangeSummary string `json:"change_summary"`
}

// ReviewSummary is the aggregate section of a code review result.
type ReviewSummary struct {
	RiskLevel     string             `json:"risk_level"`
	TotalFindings int                `json:"total_findings"`
	Walkthrough   []WalkthroughEntry `json:"walkthrough"`
}

// CodeReviewResult is the structured payload submitted by the executor for
// code_review tasks.
type CodeReviewResult struct {
	Summary  ReviewSummary `json:"summary"`
	Findings []Finding     `json:"findings"`
}

// FeatureDevResult is the payload for feature_dev tasks: the executor pushed
// a branch and reports what MR to open.
type FeatureDevResult struct {
	Branch        string `json:"branch"`
	TargetBranch  string `json:"target_branch,omitempty"`
	MRTitle       string `json:"mr_title"`
	MRDescription string `json:"mr_description,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// AskResult is the payload for @ai ask and issue discussion tasks.
type AskResult struct {
	Question string `json:"question,omitempty"`
	Answer   string `json:"answer"`
}

// TokenCounts carries the executor's token usage split. Pointer fields so
// absent counts are distinguishable from zero and priced as zero.
type TokenCounts struct {
	Input    *int64 `json:"input"`
	Output   *int64 `json:"output"`
	Thinking *int64 `json:"thinking"`
}

// PromptVersion records the prompt/schema provenance of an execution.
type PromptVersion struct {
	Skill    string `json:"skill"`
	ClaudeMD string `json:"claude_md"`
	Schema   string `json:"schema"`
}

// TaskResponse represents a task in API responses.
type TaskResponse struct {
	ID              int64                  `json:"id"`
	Type            TaskType               `json:"type"`
	Status          TaskStatus             `json:"status"`
	Priority        TaskPriority           `json:"priority"`
	Origin          TaskOrigin             `json:"origin"`
	Intent          string                 `json:"intent,omitempty"`
	ProjectID       int64                  `json:"project_id"`
	UserID          *int64                 `json:"user_id,omitempty"`
	MRIID           *int64                 `json:"mr_iid,omitempty"`
	IssueIID        *int64                 `json:"issue_iid,omitempty"`
	CommitSHA       string                 `json:"commit_sha,omitempty"`
	CommentID       *int64                 `json:"comment_id,omitempty"`
	PipelineID      *int64                 `json:"pipeline_id,omitempty"`
	Result          map[string]interface{} `json:"result,omitempty"`
	TokensUsed      int64                  `json:"tokens_used"`
	Cost            float64                `json:"cost"`
	DurationSeconds int64                  `json:"duration_seconds"`
	ErrorReason     string                 `json:"error_reason,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	StartedAt       *time.Time             `json:"started_at,omitempty"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
}

// TasksListResponse for listing tasks.
type TasksListResponse struct {
	Tasks []*TaskResponse `json:"tasks"`
	Total int             `json:"total"`
}
