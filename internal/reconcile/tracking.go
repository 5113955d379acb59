package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vunnix/vunnix/internal/common/logger"
	"github.com/vunnix/vunnix/internal/events/bus"
	"github.com/vunnix/vunnix/internal/gitlab"
	"github.com/vunnix/vunnix/internal/task/repository"
	"github.com/vunnix/vunnix/internal/webhook"
	v1 "github.com/vunnix/vunnix/pkg/api/v1"
)

// Tracker runs the background correlation jobs: acceptance tracking on
// merge and code-change correlation on push. Both observe only; they never
// touch task state.
type Tracker struct {
	repo     repository.Repository
	client   gitlab.Client
	eventBus bus.EventBus
	logger   *logger.Logger
}

func NewTracker(repo repository.Repository, client gitlab.Client, eventBus bus.EventBus, log *logger.Logger) *Tracker {
	return &Tracker{repo: repo, client: client, eventBus: eventBus, logger: log}
}

// TrackMerge records, at merge time, how many review findings the MR was
// merged with. Merging despite open critical findings is the signal the
// acceptance metrics exist to surface.
func (t *Tracker) TrackMerge(ctx context.Context, ev *webhook.Event) error {
	if ev.MergeRequest == nil {
		return nil
	}
	mrIID := ev.MergeRequest.MRIID

	reviews, err := t.repo.CompletedReviewTasks(ctx, ev.ProjectID, mrIID)
	if err != nil {
		return fmt.Errorf("load completed reviews: %w", err)
	}
	if len(reviews) == 0 {
		return nil
	}

	// The last completed review reflects the final state of the MR.
	last := reviews[len(reviews)-1]
	result, err := decodeReviewResult(last.Result)
	if err != nil {
		return fmt.Errorf("decode final review: %w", err)
	}

	var critical, major, minor int
	for _, f := range result.Findings {
		switch f.Severity {
		case v1.SeverityCritical:
			critical++
		case v1.SeverityMajor:
			major++
		default:
			minor++
		}
	}

	resolved, unresolved := t.threadResolution(ctx, ev.ProjectID, mrIID)

	t.logger.Info("merge accepted with review findings",
		zap.Int64("project_id", ev.ProjectID),
		zap.Int64("mr_iid", mrIID),
		zap.Int("reviews", len(reviews)),
		zap.Int("critical", critical),
		zap.Int("major", major),
		zap.Int("minor", minor),
		zap.Int("threads_resolved", resolved),
		zap.Int("threads_unresolved", unresolved))

	if t.eventBus != nil {
		event := bus.NewEvent("review.accepted", map[string]interface{}{
			"project_id":         ev.ProjectID,
			"mr_iid":             mrIID,
			"task_id":            last.ID,
			"risk_level":         result.Summary.RiskLevel,
			"critical":           critical,
			"major":              major,
			"minor":              minor,
			"threads_resolved":   resolved,
			"threads_unresolved": unresolved,
		})
		_ = t.eventBus.Publish(ctx, bus.SubjectTaskStatusChanged, event)
	}
	return nil
}

// threadResolution counts resolved vs unresolved review threads at merge
// time. Best-effort: a listing failure yields zero counts.
func (t *Tracker) threadResolution(ctx context.Context, projectID, mrIID int64) (resolved, unresolved int) {
	discussions, err := t.client.ListMRDiscussions(ctx, projectID, mrIID)
	if err != nil {
		t.logger.Warn("list discussions for acceptance tracking", zap.Error(err))
		return 0, 0
	}
	for _, d := range discussions {
		if d.IndividualNote || len(d.Notes) == 0 {
			continue
		}
		first := d.Notes[0]
		if !first.Resolvable || !isAIThreadBody(first.Body) {
			continue
		}
		if first.Resolved {
			resolved++
		} else {
			unresolved++
		}
	}
	return resolved, unresolved
}

// CorrelatePush links a push to the open findings of the branch's MR:
// findings whose files were touched since the review are likely being
// addressed.
func (t *Tracker) CorrelatePush(ctx context.Context, ev *webhook.Event) error {
	if ev.Push == nil {
		return nil
	}

	mr, err := t.client.OpenMRForBranch(ctx, ev.ProjectID, ev.Push.Branch)
	if err != nil {
		return fmt.Errorf("resolve open MR: %w", err)
	}
	if mr == nil {
		return nil
	}

	reviews, err := t.repo.CompletedReviewTasks(ctx, ev.ProjectID, mr.IID)
	if err != nil {
		return fmt.Errorf("load completed reviews: %w", err)
	}
	if len(reviews) == 0 {
		return nil
	}

	last := reviews[len(reviews)-1]
	result, err := decodeReviewResult(last.Result)
	if err != nil {
		return fmt.Errorf("decode review: %w", err)
	}
	if len(result.Findings) == 0 {
		return nil
	}

	changes, err := t.client.GetMRChanges(ctx, ev.ProjectID, mr.IID)
	if err != nil {
		return fmt.Errorf("fetch changes: %w", err)
	}
	changed := make(map[string]bool, len(changes))
	for _, ch := range changes {
		changed[ch.NewPath] = true
	}

	var touched int
	for _, f := range result.Findings {
		if changed[f.File] {
			touched++
		}
	}

	t.logger.Info("push correlated with review findings",
		zap.Int64("project_id", ev.ProjectID),
		zap.Int64("mr_iid", mr.IID),
		zap.String("commit_sha", ev.Push.CommitSHA),
		zap.Int("findings", len(result.Findings)),
		zap.Int("touched", touched))
	return nil
}
