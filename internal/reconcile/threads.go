package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vunnix/vunnix/internal/common/logger"
	"github.com/vunnix/vunnix/internal/gitlab"
	"github.com/vunnix/vunnix/internal/metrics"
	"github.com/vunnix/vunnix/internal/task/models"
	v1 "github.com/vunnix/vunnix/pkg/api/v1"
)

// ThreadPoster posts inline discussion threads for critical and major
// findings, skipping any finding a prior review already covered.
type ThreadPoster struct {
	client gitlab.Client
	logger *logger.Logger
}

func NewThreadPoster(client gitlab.Client, log *logger.Logger) *ThreadPoster {
	return &ThreadPoster{client: client, logger: log}
}

// Post creates a thread per qualifying finding. Dedup key is the
// (file, line, title) signature matched against existing AI-authored
// threads, so incremental reviews never stack duplicate threads.
func (p *ThreadPoster) Post(ctx context.Context, task *models.Task, result *v1.CodeReviewResult) error {
	if task.MRIID == nil {
		return nil
	}

	mr, err := p.client.GetMergeRequest(ctx, task.GitLabProject, *task.MRIID)
	if err != nil {
		return fmt.Errorf("resolve merge request: %w", err)
	}

	existing, err := p.client.ListMRDiscussions(ctx, task.GitLabProject, *task.MRIID)
	if err != nil {
		return fmt.Errorf("list discussions: %w", err)
	}
	seen := existingSignatures(existing)

	for _, finding := range result.Findings {
		if finding.Severity != v1.SeverityCritical && finding.Severity != v1.SeverityMajor {
			continue
		}
		sig := findingSignature(finding.File, int64(finding.Line), finding.Title)
		if seen[sig] {
			metrics.ReconcileActions.WithLabelValues("thread_skip").Inc()
			continue
		}

		pos := &gitlab.Position{
			BaseSHA:      mr.DiffRefs.BaseSHA,
			StartSHA:     mr.DiffRefs.StartSHA,
			HeadSHA:      mr.DiffRefs.HeadSHA,
			PositionType: "text",
			NewPath:      finding.File,
			NewLine:      int64(finding.Line),
		}
		_, err := p.client.CreateMRDiscussion(ctx, task.GitLabProject, *task.MRIID,
			renderThread(finding), pos)
		if err != nil {
			if gitlab.IsIdempotencyError(err) {
				continue
			}
			// One bad position must not block the remaining findings.
			p.logger.Warn("post thread failed",
				zap.Int64("task_id", task.ID),
				zap.String("file", finding.File),
				zap.Int("line", finding.Line),
				zap.Error(err))
			continue
		}
		seen[sig] = true
		metrics.ReconcileActions.WithLabelValues("thread_create").Inc()
	}
	return nil
}

// existingSignatures indexes AI-authored threads by their finding signature.
func existingSignatures(discussions []gitlab.Discussion) map[string]bool {
	seen := make(map[string]bool)
	for _, d := range discussions {
		if len(d.Notes) == 0 {
			continue
		}
		body := d.Notes[0].Body
		if !isAIThreadBody(body) {
			continue
		}
		var file string
		var line int64
		if d.Position != nil {
			file = d.Position.NewPath
			line = d.Position.NewLine
		}
		seen[findingSignature(file, line, threadTitle(body))] = true
	}
	return seen
}

func findingSignature(file string, line int64, title string) string {
	return fmt.Sprintf("%s:%d:%s", file, line, title)
}
