// Package models defines the Task model and its lifecycle state machine.
package models

import (
	"fmt"
	"time"

	v1 "github.com/vunnix/vunnix/pkg/api/v1"
)

// InvalidTransitionError is returned when a state change would violate the
// task lifecycle. The task is never mutated when this is returned.
type InvalidTransitionError struct {
	From v1.TaskStatus
	To   v1.TaskStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid task transition: %s -> %s", e.From, e.To)
}

// Task is the unit of orchestrated work that flows from webhook intake
// through the external executor and back into reconciliation.
type Task struct {
	ID       int64
	Type     v1.TaskType
	Status   v1.TaskStatus
	Priority v1.TaskPriority
	Origin   v1.TaskOrigin
	Intent   string

	// Context. UserID stays nil when the webhook actor has no account.
	ProjectID      int64
	GitLabProject  int64
	UserID         *int64
	MRIID          *int64
	IssueIID       *int64
	CommitSHA      string
	ConversationID *int64

	// Correlation with external artifacts. CommentID, once set, is only
	// ever reused by later reviews of the same MR, never cleared.
	CommentID  *int64
	PipelineID *int64

	// Outcome.
	Result          map[string]interface{}
	TokensUsed      int64
	InputTokens     int64
	OutputTokens    int64
	Cost            float64
	DurationSeconds int64
	ErrorReason     string
	RetryCount      int
	PromptVersion   *v1.PromptVersion
	SupersededByID  *int64

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// allowed transitions; terminal states have no outgoing edges.
var transitions = map[v1.TaskStatus][]v1.TaskStatus{
	v1.TaskStatusQueued:  {v1.TaskStatusRunning, v1.TaskStatusFailed, v1.TaskStatusSuperseded},
	v1.TaskStatusRunning: {v1.TaskStatusCompleted, v1.TaskStatusFailed, v1.TaskStatusSuperseded},
}

// CanTransitionTo reports whether the lifecycle permits moving to next.
func (t *Task) CanTransitionTo(next v1.TaskStatus) bool {
	for _, s := range transitions[t.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// TransitionTo advances the task state, recording lifecycle timestamps.
// errorReason is only consulted for transitions to Failed.
func (t *Task) TransitionTo(next v1.TaskStatus, errorReason string) error {
	if !t.CanTransitionTo(next) {
		return &InvalidTransitionError{From: t.Status, To: next}
	}

	now := time.Now().UTC()
	t.Status = next
	t.UpdatedAt = now

	switch next {
	case v1.TaskStatusRunning:
		t.StartedAt = &now
	case v1.TaskStatusCompleted:
		t.CompletedAt = &now
	case v1.TaskStatusFailed:
		t.CompletedAt = &now
		if errorReason != "" {
			t.ErrorReason = errorReason
		}
	}
	return nil
}

// IsTerminal reports whether the task reached a final state.
func (t *Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// ToResponse converts the model to its API representation.
func (t *Task) ToResponse() *v1.TaskResponse {
	return &v1.TaskResponse{
		ID:              t.ID,
		Type:            t.Type,
		Status:          t.Status,
		Priority:        t.Priority,
		Origin:          t.Origin,
		Intent:          t.Intent,
		ProjectID:       t.ProjectID,
		UserID:          t.UserID,
		MRIID:           t.MRIID,
		IssueIID:        t.IssueIID,
		CommitSHA:       t.CommitSHA,
		CommentID:       t.CommentID,
		PipelineID:      t.PipelineID,
		Result:          t.Result,
		TokensUsed:      t.TokensUsed,
		Cost:            t.Cost,
		DurationSeconds: t.DurationSeconds,
		ErrorReason:     t.ErrorReason,
		CreatedAt:       t.CreatedAt,
		StartedAt:       t.StartedAt,
		CompletedAt:     t.CompletedAt,
	}
}

// WebhookEventRecord logs a processed webhook delivery for deduplication.
// Created on first sight of an event UUID and never mutated afterwards,
// except for audit counters.
type WebhookEventRecord struct {
	ID              int64
	EventUUID       string
	ProjectID       int64
	EventType       string
	Intent          string
	MRIID           *int64
	CommitSHA       string
	SupersededCount int
	ReceivedAt      time.Time
}
