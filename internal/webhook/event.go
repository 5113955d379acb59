// Package webhook turns raw GitLab webhook deliveries into typed events and
// classifies them into dispatch intents.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Event kinds, one per supported X-Gitlab-Event payload shape.
const (
	KindNote         = "note"
	KindMergeRequest = "merge_request"
	KindIssue        = "issue"
	KindPush         = "push"
)

// Noteable types carried on note events.
const (
	NoteableMergeRequest = "MergeRequest"
	NoteableIssue        = "Issue"
)

// ErrUnsupportedEvent means the delivery's event type is not one we parse.
var ErrUnsupportedEvent = errors.New("unsupported webhook event type")

// Event is the typed webhook envelope. Exactly one of the pointer cases is
// non-nil, selected by Kind.
type Event struct {
	Kind      string
	ProjectID int64
	ActorID   int64

	Note         *NoteEvent
	MergeRequest *MergeRequestEvent
	Issue        *IssueEvent
	Push         *PushEvent
}

// NoteEvent is a comment on a merge request or issue.
type NoteEvent struct {
	NoteID       int64
	Body         string
	NoteableType string
	MRIID        int64
	IssueIID     int64
	CommitSHA    string
}

// MergeRequestEvent covers open, update and merge actions.
type MergeRequestEvent struct {
	MRIID        int64
	Action       string
	CommitSHA    string
	SourceBranch string
	TargetBranch string
	Labels       []string
}

// IssueEvent covers issue open and update actions.
type IssueEvent struct {
	IssueIID int64
	Action   string
	Labels   []string
}

// PushEvent is a branch push.
type PushEvent struct {
	Branch    string
	CommitSHA string
}

// rawPayload is the superset of GitLab webhook fields we read. GitLab sends
// loosely-shaped JSON; all typing happens here, once.
type rawPayload struct {
	ObjectKind string `json:"object_kind"`
	User       struct {
		ID int64 `json:"id"`
	} `json:"user"`
	UserID  int64 `json:"user_id"`
	Project struct {
		ID int64 `json:"id"`
	} `json:"project"`
	ObjectAttributes struct {
		ID           int64  `json:"id"`
		IID          int64  `json:"iid"`
		Note         string `json:"note"`
		NoteableType string `json:"noteable_type"`
		Action       string `json:"action"`
		SourceBranch string `json:"source_branch"`
		TargetBranch string `json:"target_branch"`
		LastCommit   struct {
			ID string `json:"id"`
		} `json:"last_commit"`
	} `json:"object_attributes"`
	MergeRequest struct {
		IID        int64 `json:"iid"`
		LastCommit struct {
			ID string `json:"id"`
		} `json:"last_commit"`
	} `json:"merge_request"`
	Issue struct {
		IID int64 `json:"iid"`
	} `json:"issue"`
	Labels []struct {
		Title string `json:"title"`
	} `json:"labels"`
	Ref         string `json:"ref"`
	CheckoutSHA string `json:"checkout_sha"`
}

// ParseEvent decodes a raw delivery body into a typed Event. eventHeader is
// the X-Gitlab-Event value ("Note Hook", "Merge Request Hook", ...).
func ParseEvent(eventHeader string, body []byte) (*Event, error) {
	var raw rawPayload
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}

	kind := raw.ObjectKind
	if kind == "" {
		kind = kindFromHeader(eventHeader)
	}

	switch kind {
	case "note":
		return &Event{
			Kind:      KindNote,
			ProjectID: raw.Project.ID,
			ActorID:   raw.User.ID,
			Note: &NoteEvent{
				NoteID:       raw.ObjectAttributes.ID,
				Body:         raw.ObjectAttributes.Note,
				NoteableType: raw.ObjectAttributes.NoteableType,
				MRIID:        raw.MergeRequest.IID,
				IssueIID:     raw.Issue.IID,
				CommitSHA:    raw.MergeRequest.LastCommit.ID,
			},
		}, nil
	case "merge_request":
		return &Event{
			Kind:      KindMergeRequest,
			ProjectID: raw.Project.ID,
			ActorID:   raw.User.ID,
			MergeRequest: &MergeRequestEvent{
				MRIID:        raw.ObjectAttributes.IID,
				Action:       raw.ObjectAttributes.Action,
				CommitSHA:    raw.ObjectAttributes.LastCommit.ID,
				SourceBranch: raw.ObjectAttributes.SourceBranch,
				TargetBranch: raw.ObjectAttributes.TargetBranch,
				Labels:       labelTitles(raw.Labels),
			},
		}, nil
	case "issue":
		return &Event{
			Kind:      KindIssue,
			ProjectID: raw.Project.ID,
			ActorID:   raw.User.ID,
			Issue: &IssueEvent{
				IssueIID: raw.ObjectAttributes.IID,
				Action:   raw.ObjectAttributes.Action,
				Labels:   labelTitles(raw.Labels),
			},
		}, nil
	case "push":
		return &Event{
			Kind:      KindPush,
			ProjectID: raw.Project.ID,
			ActorID:   raw.UserID,
			Push: &PushEvent{
				Branch:    strings.TrimPrefix(raw.Ref, "refs/heads/"),
				CommitSHA: raw.CheckoutSHA,
			},
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEvent, eventHeader)
	}
}

func kindFromHeader(header string) string {
	switch header {
	case "Note Hook":
		return "note"
	case "Merge Request Hook":
		return "merge_request"
	case "Issue Hook":
		return "issue"
	case "Push Hook":
		return "push"
	}
	return ""
}

func labelTitles(labels []struct {
	Title string `json:"title"`
}) []string {
	if len(labels) == 0 {
		return nil
	}
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		out = append(out, l.Title)
	}
	return out
}
