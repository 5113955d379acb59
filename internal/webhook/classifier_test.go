package webhook

import (
	"testing"

	v1 "github.com/vunnix/vunnix/pkg/api/v1"
)

const botID = int64(99)

func noteEvent(actorID int64, noteableType, body string) *Event {
	ev := &Event{
		Kind:      KindNote,
		ProjectID: 1,
		ActorID:   actorID,
		Note: &NoteEvent{
			NoteID:       10,
			Body:         body,
			NoteableType: noteableType,
		},
	}
	if noteableType == NoteableMergeRequest {
		ev.Note.MRIID = 5
	} else {
		ev.Note.IssueIID = 7
	}
	return ev
}

func TestClassifyAskCommand(t *testing.T) {
	c := NewClassifier(botID)

	got := c.Classify(noteEvent(1, NoteableIssue, `@ai ask "what does this migration do?"`))
	if got == nil {
		t.Fatal("expected classification")
	}
	if got.Intent != IntentAskCommand {
		t.Errorf("intent = %q, want %q", got.Intent, IntentAskCommand)
	}
	if got.Question != "what does this migration do?" {
		t.Errorf("question = %q", got.Question)
	}
	if !got.RequiresPermission {
		t.Error("ask command should require permission")
	}
}

func TestClassifyAskTakesPrecedenceOverReview(t *testing.T) {
	c := NewClassifier(botID)

	got := c.Classify(noteEvent(1, NoteableMergeRequest, `@ai ask "should I @ai review this?"`))
	if got == nil || got.Intent != IntentAskCommand {
		t.Fatalf("expected ask_command, got %+v", got)
	}
}

func TestClassifyOnDemandReview(t *testing.T) {
	c := NewClassifier(botID)

	for _, body := range []string{
		"@ai review",
		"please @ai review this when you can",
		"@AI REVIEW",
	} {
		got := c.Classify(noteEvent(1, NoteableMergeRequest, body))
		if got == nil || got.Intent != IntentOnDemandReview {
			t.Errorf("body %q: expected on_demand_review, got %+v", body, got)
			continue
		}
		if got.Priority != v1.TaskPriorityHigh {
			t.Errorf("body %q: priority = %q, want high", body, got.Priority)
		}
		if got.TaskType != v1.TaskTypeCodeReview {
			t.Errorf("body %q: type = %q", body, got.TaskType)
		}
	}

	// "reviewer" must not match the word-boundary pattern; the mention
	// falls through to the help fallback instead.
	got := c.Classify(noteEvent(1, NoteableMergeRequest, "@ai reviewer assignment"))
	if got == nil || got.Intent != IntentHelpResponse {
		t.Errorf("expected help_response for non-command mention on MR, got %+v", got)
	}
}

func TestClassifyUnrecognizedCommandGetsHelp(t *testing.T) {
	c := NewClassifier(botID)

	for _, body := range []string{
		"@ai frobnicate",
		"@ai summarize this please",
		"hey @ai, what do you think?",
	} {
		got := c.Classify(noteEvent(1, NoteableMergeRequest, body))
		if got == nil || got.Intent != IntentHelpResponse {
			t.Errorf("body %q: expected help_response, got %+v", body, got)
			continue
		}
		if got.TaskType != "" {
			t.Errorf("body %q: help must not create a task, got type %q", body, got.TaskType)
		}
		if got.RequiresPermission {
			t.Errorf("body %q: help should not require permission", body)
		}
	}
}

func TestClassifyImprove(t *testing.T) {
	c := NewClassifier(botID)

	got := c.Classify(noteEvent(1, NoteableMergeRequest, "@ai improve"))
	if got == nil || got.Intent != IntentImprove {
		t.Fatalf("expected improve, got %+v", got)
	}
	if got.Priority != v1.TaskPriorityNormal {
		t.Errorf("priority = %q, want normal", got.Priority)
	}
}

func TestClassifyIssueDiscussion(t *testing.T) {
	c := NewClassifier(botID)

	got := c.Classify(noteEvent(1, NoteableIssue, "@ai what do you think about this approach?"))
	if got == nil || got.Intent != IntentIssueDiscussion {
		t.Fatalf("expected issue_discussion, got %+v", got)
	}
	if got.TaskType != v1.TaskTypeIssueDiscussion {
		t.Errorf("type = %q", got.TaskType)
	}
}

func TestClassifyHelp(t *testing.T) {
	c := NewClassifier(botID)

	got := c.Classify(noteEvent(1, NoteableMergeRequest, "@ai help"))
	if got == nil || got.Intent != IntentHelpResponse {
		t.Fatalf("expected help_response, got %+v", got)
	}
	if got.RequiresPermission {
		t.Error("help should not require permission")
	}
}

func TestClassifyIgnoresBotNotes(t *testing.T) {
	c := NewClassifier(botID)

	if got := c.Classify(noteEvent(botID, NoteableMergeRequest, "@ai review")); got != nil {
		t.Fatalf("bot's own note must be ignored, got %+v", got)
	}
}

func TestClassifyIgnoresPlainNotes(t *testing.T) {
	c := NewClassifier(botID)

	if got := c.Classify(noteEvent(1, NoteableMergeRequest, "looks good to me")); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestClassifyFeatureDevLabel(t *testing.T) {
	c := NewClassifier(botID)

	ev := &Event{
		Kind:      KindIssue,
		ProjectID: 1,
		ActorID:   1,
		Issue:     &IssueEvent{IssueIID: 3, Action: "update", Labels: []string{"bug", LabelFeatureDev}},
	}
	got := c.Classify(ev)
	if got == nil || got.Intent != IntentFeatureDev {
		t.Fatalf("expected feature_dev, got %+v", got)
	}
	if got.Priority != v1.TaskPriorityLow {
		t.Errorf("priority = %q, want low", got.Priority)
	}

	ev.Issue.Labels = []string{"bug"}
	if got := c.Classify(ev); got != nil {
		t.Errorf("expected nil without ai::develop label, got %+v", got)
	}
}

func TestClassifyAutoReview(t *testing.T) {
	c := NewClassifier(botID)

	ev := &Event{
		Kind:         KindMergeRequest,
		ProjectID:    1,
		ActorID:      1,
		MergeRequest: &MergeRequestEvent{MRIID: 5, Action: "open", CommitSHA: "abc123"},
	}
	got := c.Classify(ev)
	if got == nil || got.Intent != IntentAutoReview {
		t.Fatalf("expected auto_review, got %+v", got)
	}
	if got.RequiresPermission {
		t.Error("auto review must not be permission gated")
	}
}

func TestClassifyMergeIsAcceptanceTracking(t *testing.T) {
	c := NewClassifier(botID)

	ev := &Event{
		Kind:         KindMergeRequest,
		ProjectID:    1,
		ActorID:      1,
		MergeRequest: &MergeRequestEvent{MRIID: 5, Action: "merge"},
	}
	got := c.Classify(ev)
	if got == nil || got.Intent != IntentAcceptanceTracking {
		t.Fatalf("expected acceptance_tracking, got %+v", got)
	}
	if got.TaskType != "" {
		t.Errorf("acceptance tracking must not carry a task type, got %q", got.TaskType)
	}
}

func TestClassifyPush(t *testing.T) {
	c := NewClassifier(botID)

	ev := &Event{
		Kind:      KindPush,
		ProjectID: 1,
		ActorID:   1,
		Push:      &PushEvent{Branch: "feature/x", CommitSHA: "def456"},
	}
	got := c.Classify(ev)
	if got == nil || got.Intent != IntentIncrementalReview {
		t.Fatalf("expected incremental_review, got %+v", got)
	}
}

func TestClassifyUnrelatedMRAction(t *testing.T) {
	c := NewClassifier(botID)

	ev := &Event{
		Kind:         KindMergeRequest,
		ProjectID:    1,
		ActorID:      1,
		MergeRequest: &MergeRequestEvent{MRIID: 5, Action: "approved"},
	}
	if got := c.Classify(ev); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}
