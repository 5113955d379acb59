package reconcile

import (
	"testing"

	"github.com/vunnix/vunnix/internal/gitlab"
	v1 "github.com/vunnix/vunnix/pkg/api/v1"
)

func reviewResult(riskLevel string, findings ...v1.Finding) *v1.CodeReviewResult {
	return &v1.CodeReviewResult{
		Summary:  v1.ReviewSummary{RiskLevel: riskLevel, TotalFindings: len(findings)},
		Findings: findings,
	}
}

func TestMapLabelsAlwaysReviewed(t *testing.T) {
	var m LabelMapper

	for _, risk := range []string{"high", "medium", "low", ""} {
		labels := m.MapLabels(reviewResult(risk))
		if !contains(labels, LabelReviewed) {
			t.Errorf("risk %q: missing ai::reviewed in %v", risk, labels)
		}
	}
}

func TestMapLabelsExactlyOneRiskLabel(t *testing.T) {
	var m LabelMapper

	cases := map[string]string{
		"high":   "ai::risk-high",
		"medium": "ai::risk-medium",
		"low":    "ai::risk-low",
		"":       "ai::risk-low",
		"weird":  "ai::risk-low",
	}
	for risk, want := range cases {
		labels := m.MapLabels(reviewResult(risk))
		var riskLabels []string
		for _, l := range labels {
			if len(l) > len(labelRiskPrefix) && l[:len(labelRiskPrefix)] == labelRiskPrefix {
				riskLabels = append(riskLabels, l)
			}
		}
		if len(riskLabels) != 1 || riskLabels[0] != want {
			t.Errorf("risk %q: got risk labels %v, want [%s]", risk, riskLabels, want)
		}
	}
}

func TestMapLabelsSecurity(t *testing.T) {
	var m LabelMapper

	withSecurity := m.MapLabels(reviewResult("low",
		v1.Finding{Severity: v1.SeverityMinor, Category: "security", File: "a.php", Line: 1, Title: "x"}))
	if !contains(withSecurity, LabelSecurity) {
		t.Errorf("minor security finding must still add ai::security, got %v", withSecurity)
	}

	withoutSecurity := m.MapLabels(reviewResult("high",
		v1.Finding{Severity: v1.SeverityCritical, Category: "correctness", File: "a.php", Line: 1, Title: "x"}))
	if contains(withoutSecurity, LabelSecurity) {
		t.Errorf("non-security findings must not add ai::security, got %v", withoutSecurity)
	}
}

func TestMapCommitStatus(t *testing.T) {
	var m LabelMapper

	critical := []v1.Finding{
		{Severity: v1.SeverityMinor},
		{Severity: v1.SeverityCritical},
	}
	if got := m.MapCommitStatus(critical); got != gitlab.CommitStatusFailed {
		t.Errorf("critical finding: got %q, want failed", got)
	}

	manyMajor := []v1.Finding{
		{Severity: v1.SeverityMajor}, {Severity: v1.SeverityMajor},
		{Severity: v1.SeverityMajor}, {Severity: v1.SeverityMinor},
	}
	if got := m.MapCommitStatus(manyMajor); got != gitlab.CommitStatusSuccess {
		t.Errorf("majors only: got %q, want success", got)
	}

	if got := m.MapCommitStatus(nil); got != gitlab.CommitStatusSuccess {
		t.Errorf("no findings: got %q, want success", got)
	}
}

func TestStaleRiskLabels(t *testing.T) {
	current := []string{"ai::reviewed", "ai::risk-high", "backend"}
	next := []string{"ai::reviewed", "ai::risk-low"}

	stale := staleRiskLabels(current, next)
	if len(stale) != 1 || stale[0] != "ai::risk-high" {
		t.Fatalf("stale = %v, want [ai::risk-high]", stale)
	}

	if got := staleRiskLabels([]string{"ai::risk-low"}, next); got != nil {
		t.Fatalf("matching risk label must not be removed, got %v", got)
	}
}
