// Package gitlab provides the outbound client for the GitLab REST API.
//
// Every reconciliation side effect goes through the Client interface so
// tests can substitute a fake and so idempotency conflicts from retried
// deliveries can be absorbed in one place.
package gitlab

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Client is the surface of the GitLab API the orchestrator depends on.
type Client interface {
	// Notes and discussions
	CreateMRNote(ctx context.Context, projectID, mrIID int64, body string) (*Note, error)
	UpdateMRNote(ctx context.Context, projectID, mrIID, noteID int64, body string) (*Note, error)
	CreateIssueNote(ctx context.Context, projectID, issueIID int64, body string) (*Note, error)
	ListMRDiscussions(ctx context.Context, projectID, mrIID int64) ([]Discussion, error)
	CreateMRDiscussion(ctx context.Context, projectID, mrIID int64, body string, pos *Position) (*Discussion, error)

	// Merge requests
	GetMergeRequest(ctx context.Context, projectID, mrIID int64) (*MergeRequest, error)
	OpenMRForBranch(ctx context.Context, projectID int64, sourceBranch string) (*MergeRequest, error)
	GetMRChanges(ctx context.Context, projectID, mrIID int64) ([]Change, error)
	CreateMergeRequest(ctx context.Context, projectID int64, sourceBranch, targetBranch, title, description string) (*MergeRequest, error)
	UpdateMRLabels(ctx context.Context, projectID, mrIID int64, add, remove []string) error

	// Commit status
	SetCommitStatus(ctx context.Context, projectID int64, sha, state, name, description string) error

	// Pipelines
	TriggerPipeline(ctx context.Context, projectID int64, ref string, variables map[string]string) (*PipelineInfo, error)
	CancelPipeline(ctx context.Context, projectID, pipelineID int64) error

	// Membership
	MemberAccessLevel(ctx context.Context, projectID, userID int64) (int, error)
}

// APIError is a non-2xx response from GitLab.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gitlab api: status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from GitLab.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}

// IsIdempotencyError reports whether err is a conflict caused by a retried
// delivery hitting an already-applied side effect. Callers treat these as
// success.
func IsIdempotencyError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == 409 {
		return true
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "has already been taken")
}
