package v1

// Webhook response statuses.
const (
	WebhookStatusAccepted  = "accepted"
	WebhookStatusIgnored   = "ignored"
	WebhookStatusDuplicate = "duplicate"
)

// Result submission statuses reported by the external runner.
const (
	ResultStatusCompleted = "completed"
	ResultStatusFailed    = "failed"
)

// WebhookResponse is the envelope returned for every POST /webhook request.
type WebhookResponse struct {
	Status           string  `json:"status"` // accepted, ignored, duplicate
	Reason           string  `json:"reason,omitempty"`
	EventType        string  `json:"event_type,omitempty"`
	ProjectID        int64   `json:"project_id,omitempty"`
	Intent           *string `json:"intent"`
	TaskID           *int64  `json:"task_id,omitempty"`
	PermissionDenied bool    `json:"permission_denied,omitempty"`
	SupersededCount  int     `json:"superseded_count,omitempty"`
}

// ResultSubmission is the body of POST /api/v1/tasks/:id/result.
type ResultSubmission struct {
	Status          string                 `json:"status"` // completed, failed
	Result          map[string]interface{} `json:"result,omitempty"`
	Error           string                 `json:"error,omitempty"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	Tokens          *TokenCounts           `json:"tokens"`
	DurationSeconds *int64                 `json:"duration_seconds"`
	PromptVersion   *PromptVersion         `json:"prompt_version"`
}

// ResultResponse acknowledges an accepted result submission.
type ResultResponse struct {
	Status     string `json:"status"`
	TaskID     int64  `json:"task_id"`
	TaskStatus string `json:"task_status"`
}
