package webhook

import (
	"errors"
	"testing"
)

func TestParseEventNote(t *testing.T) {
	body := []byte(`{
		"object_kind": "note",
		"user": {"id": 42},
		"project": {"id": 7},
		"object_attributes": {"id": 900, "note": "@ai review", "noteable_type": "MergeRequest"},
		"merge_request": {"iid": 12, "last_commit": {"id": "abc123"}}
	}`)

	ev, err := ParseEvent("Note Hook", body)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if ev.Kind != KindNote {
		t.Fatalf("kind = %q, want %q", ev.Kind, KindNote)
	}
	if ev.ProjectID != 7 || ev.ActorID != 42 {
		t.Errorf("project/actor = %d/%d, want 7/42", ev.ProjectID, ev.ActorID)
	}
	if ev.Note == nil {
		t.Fatal("Note is nil")
	}
	if ev.Note.NoteID != 900 || ev.Note.Body != "@ai review" {
		t.Errorf("note = %d %q", ev.Note.NoteID, ev.Note.Body)
	}
	if ev.Note.MRIID != 12 || ev.Note.CommitSHA != "abc123" {
		t.Errorf("mr iid/sha = %d/%q", ev.Note.MRIID, ev.Note.CommitSHA)
	}
}

func TestParseEventMergeRequest(t *testing.T) {
	body := []byte(`{
		"object_kind": "merge_request",
		"user": {"id": 5},
		"project": {"id": 3},
		"object_attributes": {
			"iid": 8,
			"action": "open",
			"source_branch": "feature/login",
			"target_branch": "main",
			"last_commit": {"id": "deadbeef"}
		},
		"labels": [{"title": "ai::develop"}, {"title": "bug"}]
	}`)

	ev, err := ParseEvent("Merge Request Hook", body)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	mr := ev.MergeRequest
	if mr == nil {
		t.Fatal("MergeRequest is nil")
	}
	if mr.MRIID != 8 || mr.Action != "open" || mr.CommitSHA != "deadbeef" {
		t.Errorf("mr = %+v", mr)
	}
	if mr.SourceBranch != "feature/login" || mr.TargetBranch != "main" {
		t.Errorf("branches = %q -> %q", mr.SourceBranch, mr.TargetBranch)
	}
	if len(mr.Labels) != 2 || mr.Labels[0] != "ai::develop" {
		t.Errorf("labels = %v", mr.Labels)
	}
}

func TestParseEventPush(t *testing.T) {
	body := []byte(`{
		"object_kind": "push",
		"user_id": 9,
		"project": {"id": 4},
		"ref": "refs/heads/feature/api",
		"checkout_sha": "cafef00d"
	}`)

	ev, err := ParseEvent("Push Hook", body)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if ev.ActorID != 9 {
		t.Errorf("actor = %d, want 9 (push events carry user_id)", ev.ActorID)
	}
	if ev.Push == nil || ev.Push.Branch != "feature/api" || ev.Push.CommitSHA != "cafef00d" {
		t.Errorf("push = %+v", ev.Push)
	}
}

func TestParseEventKindFromHeaderFallback(t *testing.T) {
	// Some GitLab payloads omit object_kind; the header is the fallback.
	body := []byte(`{"project": {"id": 1}, "object_attributes": {"iid": 2, "action": "open"}}`)

	ev, err := ParseEvent("Issue Hook", body)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if ev.Kind != KindIssue || ev.Issue == nil || ev.Issue.IssueIID != 2 {
		t.Errorf("ev = %+v", ev)
	}
}

func TestParseEventUnsupported(t *testing.T) {
	_, err := ParseEvent("Pipeline Hook", []byte(`{"object_kind": "pipeline"}`))
	if !errors.Is(err, ErrUnsupportedEvent) {
		t.Fatalf("err = %v, want ErrUnsupportedEvent", err)
	}
}

func TestParseEventBadJSON(t *testing.T) {
	if _, err := ParseEvent("Note Hook", []byte("{not json")); err == nil {
		t.Fatal("expected decode error")
	}
}
