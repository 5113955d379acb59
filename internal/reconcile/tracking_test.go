package reconcile

import (
	"context"
	"testing"

	"github.com/vunnix/vunnix/internal/common/logger"
	"github.com/vunnix/vunnix/internal/gitlab"
	"github.com/vunnix/vunnix/internal/task/repository"
	"github.com/vunnix/vunnix/internal/webhook"
	v1 "github.com/vunnix/vunnix/pkg/api/v1"
)

func TestTrackMergeClassifiesThreadResolution(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	repo := repository.NewMemoryRepository()

	commentID := int64(50)
	reviewTask(t, repo, &commentID, &v1.CodeReviewResult{
		Summary: v1.ReviewSummary{RiskLevel: "high"},
		Findings: []v1.Finding{
			{Severity: v1.SeverityCritical, Category: "security", File: "a.php", Line: 1, Title: "SQL injection"},
			{Severity: v1.SeverityMajor, Category: "correctness", File: "b.php", Line: 2, Title: "Missing null check"},
		},
	})

	// One resolved AI thread, one unresolved, one human thread to ignore.
	client.discussions = []gitlab.Discussion{
		{ID: "d1", Notes: []gitlab.Note{{Body: "🔴 **Critical**: SQL injection", Resolvable: true, Resolved: true}}},
		{ID: "d2", Notes: []gitlab.Note{{Body: "🟠 **Major**: Missing null check", Resolvable: true}}},
		{ID: "d3", Notes: []gitlab.Note{{Body: "can we rename this?", Resolvable: true}}},
	}

	tracker := NewTracker(repo, client, nil, logger.NewNop())
	err := tracker.TrackMerge(ctx, &webhook.Event{
		Kind:         webhook.KindMergeRequest,
		ProjectID:    1,
		MergeRequest: &webhook.MergeRequestEvent{MRIID: 5, Action: "merge"},
	})
	if err != nil {
		t.Fatalf("TrackMerge: %v", err)
	}

	resolved, unresolved := tracker.threadResolution(ctx, 1, 5)
	if resolved != 1 || unresolved != 1 {
		t.Errorf("resolution = %d/%d, want 1 resolved 1 unresolved", resolved, unresolved)
	}
}

func TestTrackMergeNoReviewsIsNoop(t *testing.T) {
	tracker := NewTracker(repository.NewMemoryRepository(), newFakeClient(), nil, logger.NewNop())
	err := tracker.TrackMerge(context.Background(), &webhook.Event{
		Kind:         webhook.KindMergeRequest,
		ProjectID:    1,
		MergeRequest: &webhook.MergeRequestEvent{MRIID: 5, Action: "merge"},
	})
	if err != nil {
		t.Fatalf("TrackMerge: %v", err)
	}
}

func TestCorrelatePushCountsTouchedFindings(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	client.changes = []gitlab.Change{
		{NewPath: "a.php"},
		{NewPath: "unrelated.php"},
	}
	repo := repository.NewMemoryRepository()

	commentID := int64(50)
	reviewTask(t, repo, &commentID, &v1.CodeReviewResult{
		Summary: v1.ReviewSummary{RiskLevel: "medium"},
		Findings: []v1.Finding{
			{Severity: v1.SeverityMajor, Category: "correctness", File: "a.php", Line: 3, Title: "Off by one"},
			{Severity: v1.SeverityMinor, Category: "style", File: "c.php", Line: 9, Title: "Dead code"},
		},
	})

	tracker := NewTracker(repo, client, nil, logger.NewNop())
	err := tracker.CorrelatePush(ctx, &webhook.Event{
		Kind:      webhook.KindPush,
		ProjectID: 1,
		Push:      &webhook.PushEvent{Branch: "feature/x", CommitSHA: "newsha"},
	})
	if err != nil {
		t.Fatalf("CorrelatePush: %v", err)
	}
}

func TestCorrelatePushWithoutOpenMRIsNoop(t *testing.T) {
	client := newFakeClient()
	client.mr = nil
	tracker := NewTracker(repository.NewMemoryRepository(), client, nil, logger.NewNop())
	err := tracker.CorrelatePush(context.Background(), &webhook.Event{
		Kind:      webhook.KindPush,
		ProjectID: 1,
		Push:      &webhook.PushEvent{Branch: "feature/x", CommitSHA: "sha"},
	})
	if err != nil {
		t.Fatalf("CorrelatePush: %v", err)
	}
}
