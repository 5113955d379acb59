// Package reconcile turns validated task results into GitLab artifacts:
// the summary comment, inline discussion threads, labels and commit status.
package reconcile

import (
	"fmt"
	"strings"
	"time"

	v1 "github.com/vunnix/vunnix/pkg/api/v1"
)

// summaryMarker identifies comments produced by this system. It survives
// in-place updates, so incremental reviews can find their own comment.
const summaryMarker = "<!-- vunnix:review-summary -->"

const helpText = `🤖 **AI assistant commands**

| Command | Where | Effect |
|---------|-------|--------|
| ` + "`@ai review`" + ` | Merge request comment | Run a full code review now |
| ` + "`@ai improve`" + ` | Merge request comment | Suggest concrete improvements |
| ` + "`@ai ask \"<question>\"`" + ` | MR or issue comment | Answer a free-form question |
| ` + "`@ai <anything>`" + ` | Issue comment | Discuss the issue |
| ` + "`ai::develop` label" + ` | Issue | Implement the issue autonomously |

Merge requests are also reviewed automatically on open and on new commits.`

func severityEmoji(s v1.FindingSeverity) string {
	switch s {
	case v1.SeverityCritical:
		return "🔴"
	case v1.SeverityMajor:
		return "🟠"
	}
	return "🟡"
}

func severityLabel(s v1.FindingSeverity) string {
	switch s {
	case v1.SeverityCritical:
		return "Critical"
	case v1.SeverityMajor:
		return "Major"
	}
	return "Minor"
}

func riskBadge(riskLevel string) string {
	switch riskLevel {
	case "high":
		return "🔴 **High risk**"
	case "medium":
		return "🟡 **Medium risk**"
	}
	return "🟢 **Low risk**"
}

// renderSummary produces the full summary comment body. incremental adds
// the re-reviewed marker line so readers can tell an updated summary from
// the first one.
func renderSummary(result *v1.CodeReviewResult, incremental bool, now time.Time) string {
	var b strings.Builder

	b.WriteString(summaryMarker)
	b.WriteString("\n## 🤖 AI Code Review\n\n")
	b.WriteString(riskBadge(result.Summary.RiskLevel))
	fmt.Fprintf(&b, " · %d issue(s) across %d file(s)\n",
		len(result.Findings), len(result.Summary.Walkthrough))

	if incremental {
		fmt.Fprintf(&b, "\n_Re-reviewed after new commits at %s._\n",
			now.UTC().Format("2006-01-02 15:04 UTC"))
	}

	if len(result.Summary.Walkthrough) > 0 {
		b.WriteString("\n<details>\n<summary>Walkthrough</summary>\n\n")
		b.WriteString("| File | Change |\n|------|--------|\n")
		for _, entry := range result.Summary.Walkthrough {
			fmt.Fprintf(&b, "| `%s` | %s |\n", entry.File, escapeCell(entry.ChangeSummary))
		}
		b.WriteString("\n</details>\n")
	}

	if len(result.Findings) > 0 {
		b.WriteString("\n<details>\n<summary>Findings</summary>\n\n")
		b.WriteString("| Severity | Category | Location | Title |\n|----------|----------|----------|-------|\n")
		for _, f := range result.Findings {
			fmt.Fprintf(&b, "| %s %s | %s | `%s:%d` | %s |\n",
				severityEmoji(f.Severity), severityLabel(f.Severity),
				f.Category, f.File, f.Line, escapeCell(f.Title))
		}
		b.WriteString("\n</details>\n")
	}

	return b.String()
}

// renderThread produces an inline discussion body for one finding. The
// leading severity tag doubles as the marker that identifies AI-authored
// threads on later reviews.
func renderThread(f v1.Finding) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s **%s**: %s\n", severityEmoji(f.Severity), severityLabel(f.Severity), f.Title)
	if f.Description != "" {
		b.WriteString("\n" + f.Description + "\n")
	}
	if f.Suggestion != "" {
		b.WriteString("\n**Suggested fix:**\n\n" + f.Suggestion + "\n")
	}
	return b.String()
}

// isAIThreadBody reports whether a discussion note was produced by
// renderThread, distinguishing our threads from human discussion.
func isAIThreadBody(body string) bool {
	for _, prefix := range []string{"🔴 **Critical**:", "🟠 **Major**:", "🟡 **Minor**:"} {
		if strings.HasPrefix(body, prefix) {
			return true
		}
	}
	return false
}

// threadTitle extracts the finding title back out of an AI thread body.
func threadTitle(body string) string {
	line, _, _ := strings.Cut(body, "\n")
	_, title, found := strings.Cut(line, "**: ")
	if !found {
		return ""
	}
	return title
}

func renderFailure(errorReason string) string {
	var b strings.Builder
	b.WriteString(summaryMarker)
	b.WriteString("\n## 🤖 AI Code Review\n\n⚠️ **Review failed.**\n")
	if errorReason != "" {
		fmt.Fprintf(&b, "\n```\n%s\n```\n", errorReason)
	}
	b.WriteString("\nPush a new commit or comment `@ai review` to retry.\n")
	return b.String()
}

func renderAnswer(question, answer string) string {
	var b strings.Builder
	b.WriteString("🤖 ")
	if question != "" {
		fmt.Fprintf(&b, "**Q:** %s\n\n", question)
	}
	b.WriteString(answer)
	return b.String()
}

func renderFeatureDevSummary(mr *v1.FeatureDevResult, mrURL string) string {
	var b strings.Builder
	b.WriteString("🤖 **Implementation ready.**\n\n")
	fmt.Fprintf(&b, "Opened merge request [%s](%s) from `%s`.\n", mr.MRTitle, mrURL, mr.Branch)
	if mr.Notes != "" {
		b.WriteString("\n" + mr.Notes + "\n")
	}
	return b.String()
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}
