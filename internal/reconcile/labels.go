package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/vunnix/vunnix/internal/gitlab"
	"github.com/vunnix/vunnix/internal/metrics"
	"github.com/vunnix/vunnix/internal/task/models"
	v1 "github.com/vunnix/vunnix/pkg/api/v1"
)

// Labels applied by reviews.
const (
	LabelReviewed    = "ai::reviewed"
	LabelSecurity    = "ai::security"
	labelRiskPrefix  = "ai::risk-"
	commitStatusName = "vunnix/review"
)

// LabelMapper derives labels and commit status from a review result. Pure
// functions, no I/O.
type LabelMapper struct{}

// MapLabels always includes ai::reviewed and exactly one risk label.
// ai::security is added whenever any finding is security-categorized,
// regardless of severity.
func (LabelMapper) MapLabels(result *v1.CodeReviewResult) []string {
	labels := []string{LabelReviewed, labelRiskPrefix + normalizeRisk(result.Summary.RiskLevel)}
	for _, f := range result.Findings {
		if strings.EqualFold(f.Category, "security") {
			labels = append(labels, LabelSecurity)
			break
		}
	}
	return labels
}

// MapCommitStatus fails the commit iff any finding is critical.
func (LabelMapper) MapCommitStatus(findings []v1.Finding) string {
	for _, f := range findings {
		if f.Severity == v1.SeverityCritical {
			return gitlab.CommitStatusFailed
		}
	}
	return gitlab.CommitStatusSuccess
}

func normalizeRisk(riskLevel string) string {
	switch riskLevel {
	case "high", "medium", "low":
		return riskLevel
	}
	// Absent or unknown risk defaults down, not up.
	return "low"
}

// LabelStatusPoster applies the mapped labels and commit status to the MR,
// removing stale risk labels from earlier reviews.
type LabelStatusPoster struct {
	client gitlab.Client
	mapper LabelMapper
}

func NewLabelStatusPoster(client gitlab.Client) *LabelStatusPoster {
	return &LabelStatusPoster{client: client}
}

func (p *LabelStatusPoster) Post(ctx context.Context, task *models.Task, result *v1.CodeReviewResult) error {
	if task.MRIID == nil {
		return nil
	}

	mr, err := p.client.GetMergeRequest(ctx, task.GitLabProject, *task.MRIID)
	if err != nil {
		return fmt.Errorf("resolve merge request: %w", err)
	}

	add := p.mapper.MapLabels(result)
	remove := staleRiskLabels(mr.Labels, add)

	if err := p.client.UpdateMRLabels(ctx, task.GitLabProject, *task.MRIID, add, remove); err != nil {
		if !gitlab.IsIdempotencyError(err) {
			return fmt.Errorf("update labels: %w", err)
		}
	}
	metrics.ReconcileActions.WithLabelValues("labels").Inc()

	sha := task.CommitSHA
	if sha == "" {
		sha = mr.SHA
	}
	if sha == "" {
		return nil
	}
	state := p.mapper.MapCommitStatus(result.Findings)
	description := "AI review passed"
	if state == gitlab.CommitStatusFailed {
		description = "AI review found critical issues"
	}
	if err := p.client.SetCommitStatus(ctx, task.GitLabProject, sha, state, commitStatusName, description); err != nil {
		if !gitlab.IsIdempotencyError(err) {
			return fmt.Errorf("set commit status: %w", err)
		}
	}
	metrics.ReconcileActions.WithLabelValues("commit_status").Inc()
	return nil
}

// staleRiskLabels returns previously applied risk labels that conflict with
// the new set. Two risk tiers must never coexist on one MR.
func staleRiskLabels(current, next []string) []string {
	keep := make(map[string]bool, len(next))
	for _, l := range next {
		keep[l] = true
	}
	var stale []string
	for _, l := range current {
		if strings.HasPrefix(l, labelRiskPrefix) && !keep[l] {
			stale = append(stale, l)
		}
	}
	return stale
}
