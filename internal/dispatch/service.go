// Package dispatch turns classified webhook events into queued tasks and
// hands them to the external pipeline runner.
package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vunnix/vunnix/internal/common/logger"
	"github.com/vunnix/vunnix/internal/gitlab"
	"github.com/vunnix/vunnix/internal/jobs"
	"github.com/vunnix/vunnix/internal/metrics"
	"github.com/vunnix/vunnix/internal/permission"
	"github.com/vunnix/vunnix/internal/task/models"
	"github.com/vunnix/vunnix/internal/task/repository"
	"github.com/vunnix/vunnix/internal/webhook"
	v1 "github.com/vunnix/vunnix/pkg/api/v1"
)

// HelpPoster posts the command reference comment for @ai help.
type HelpPoster interface {
	PostHelp(ctx context.Context, ev *webhook.Event) error
}

// AcceptanceTracker records which review findings survived to merge.
type AcceptanceTracker interface {
	TrackMerge(ctx context.Context, ev *webhook.Event) error
}

// ChangeCorrelator links pushed commits back to open review findings.
type ChangeCorrelator interface {
	CorrelatePush(ctx context.Context, ev *webhook.Event) error
}

// Service is the task dispatch orchestrator: classify, dedup, gate, create
// the Task row, enqueue the dispatch job.
type Service struct {
	repo       repository.Repository
	classifier *webhook.Classifier
	dedup      *webhook.Deduplicator
	gate       permission.Gate
	dispatcher *Dispatcher
	runner     jobs.Runner
	client     gitlab.Client
	help       HelpPoster
	tracker    AcceptanceTracker
	correlator ChangeCorrelator
	logger     *logger.Logger
}

func NewService(
	repo repository.Repository,
	classifier *webhook.Classifier,
	dedup *webhook.Deduplicator,
	gate permission.Gate,
	dispatcher *Dispatcher,
	runner jobs.Runner,
	client gitlab.Client,
	help HelpPoster,
	tracker AcceptanceTracker,
	correlator ChangeCorrelator,
	log *logger.Logger,
) *Service {
	return &Service{
		repo:       repo,
		classifier: classifier,
		dedup:      dedup,
		gate:       gate,
		dispatcher: dispatcher,
		runner:     runner,
		client:     client,
		help:       help,
		tracker:    tracker,
		correlator: correlator,
		logger:     log,
	}
}

// Process handles one parsed webhook delivery end to end and builds the
// response envelope. It never returns an error for business-rule rejections,
// only for storage failures.
func (s *Service) Process(ctx context.Context, ev *webhook.Event, eventUUID string) (*v1.WebhookResponse, error) {
	resp := &v1.WebhookResponse{
		Status:    v1.WebhookStatusIgnored,
		EventType: ev.Kind,
		ProjectID: ev.ProjectID,
	}

	cls := s.classifier.Classify(ev)
	if cls == nil {
		metrics.WebhooksReceived.WithLabelValues("ignored").Inc()
		return resp, nil
	}
	intent := cls.Intent
	resp.Intent = &intent

	dup, err := s.dedup.Record(ctx, &models.WebhookEventRecord{
		EventUUID: eventUUID,
		ProjectID: ev.ProjectID,
		EventType: ev.Kind,
		Intent:    intent,
	})
	if err != nil {
		return nil, fmt.Errorf("record webhook event: %w", err)
	}
	if dup {
		resp.Status = v1.WebhookStatusDuplicate
		resp.Reason = "duplicate_uuid"
		metrics.WebhooksReceived.WithLabelValues("duplicate").Inc()
		return resp, nil
	}

	// Intents that never create a Task row.
	switch intent {
	case webhook.IntentHelpResponse:
		s.enqueueBackground("help_response", func(jctx context.Context) error {
			return s.help.PostHelp(jctx, ev)
		})
		resp.Status = v1.WebhookStatusAccepted
		metrics.WebhooksReceived.WithLabelValues("accepted").Inc()
		return resp, nil
	case webhook.IntentAcceptanceTracking:
		s.enqueueBackground("acceptance_tracking", func(jctx context.Context) error {
			return s.tracker.TrackMerge(jctx, ev)
		})
		resp.Status = v1.WebhookStatusAccepted
		metrics.WebhooksReceived.WithLabelValues("accepted").Inc()
		return resp, nil
	}

	task := s.taskFromEvent(ev, cls)

	if ev.Kind == webhook.KindPush {
		// Every push feeds the correlation job, review or not.
		s.enqueueBackground("code_change_correlation", func(jctx context.Context) error {
			return s.correlator.CorrelatePush(jctx, ev)
		})

		mr, err := s.client.OpenMRForBranch(ctx, ev.ProjectID, ev.Push.Branch)
		if err != nil {
			s.logger.Warn("open MR lookup failed",
				zap.Int64("project_id", ev.ProjectID),
				zap.String("branch", ev.Push.Branch),
				zap.Error(err))
		}
		if mr == nil {
			resp.Intent = nil
			resp.Reason = "no_open_merge_request"
			metrics.WebhooksReceived.WithLabelValues("ignored").Inc()
			return resp, nil
		}
		task.MRIID = &mr.IID
	}

	if cls.RequiresPermission && !s.gate.Authorize(ctx, ev.ActorID, capabilityFor(intent), ev.ProjectID) {
		resp.Reason = "permission_denied"
		resp.PermissionDenied = true
		metrics.WebhooksReceived.WithLabelValues("permission_denied").Inc()
		return resp, nil
	}

	// A pipeline already reviewing this exact commit makes a second one
	// pure waste.
	if task.CommitSHA != "" && task.MRIID != nil {
		active, err := s.repo.HasActiveTaskForCommit(ctx, task.ProjectID, *task.MRIID, task.CommitSHA)
		if err != nil {
			return nil, fmt.Errorf("check active commit task: %w", err)
		}
		if active {
			resp.Status = v1.WebhookStatusDuplicate
			resp.Reason = "duplicate_commit"
			metrics.WebhooksReceived.WithLabelValues("duplicate").Inc()
			return resp, nil
		}
	}

	if err := s.repo.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	if intent == webhook.IntentIncrementalReview && task.MRIID != nil {
		superseded, err := s.repo.SupersedeActiveTasks(ctx, task.ProjectID, *task.MRIID, task.ID)
		if err != nil {
			s.logger.Warn("supersession failed", zap.Int64("task_id", task.ID), zap.Error(err))
		}
		resp.SupersededCount = len(superseded)
		s.cancelSupersededPipelines(ctx, superseded)
	}

	question := cls.Question
	job := jobs.NewJob("dispatch_task", cls.Priority.Weight(), func(jctx context.Context) error {
		t, err := s.repo.GetTask(jctx, task.ID)
		if err != nil {
			return err
		}
		if t.Status != v1.TaskStatusQueued {
			// Superseded between enqueue and execution.
			return nil
		}
		if err := s.dispatcher.Dispatch(jctx, t, question); err != nil {
			s.failTask(jctx, t, err)
			return err
		}
		return nil
	})
	if err := s.runner.Enqueue(job); err != nil {
		return nil, fmt.Errorf("enqueue dispatch job: %w", err)
	}

	resp.Status = v1.WebhookStatusAccepted
	resp.TaskID = &task.ID
	metrics.WebhooksReceived.WithLabelValues("accepted").Inc()
	s.logger.Info("webhook accepted",
		zap.String("intent", intent),
		zap.Int64("project_id", ev.ProjectID),
		zap.Int64("task_id", task.ID))
	return resp, nil
}

func (s *Service) taskFromEvent(ev *webhook.Event, cls *webhook.Classification) *models.Task {
	task := &models.Task{
		Type:          cls.TaskType,
		Status:        v1.TaskStatusQueued,
		Priority:      cls.Priority,
		Origin:        v1.TaskOriginWebhook,
		Intent:        cls.Intent,
		ProjectID:     ev.ProjectID,
		GitLabProject: ev.ProjectID,
	}
	if ev.ActorID != 0 {
		actor := ev.ActorID
		task.UserID = &actor
	}

	switch ev.Kind {
	case webhook.KindNote:
		if ev.Note.NoteableType == webhook.NoteableMergeRequest && ev.Note.MRIID != 0 {
			iid := ev.Note.MRIID
			task.MRIID = &iid
			task.CommitSHA = ev.Note.CommitSHA
		}
		if ev.Note.NoteableType == webhook.NoteableIssue && ev.Note.IssueIID != 0 {
			iid := ev.Note.IssueIID
			task.IssueIID = &iid
		}
	case webhook.KindMergeRequest:
		iid := ev.MergeRequest.MRIID
		task.MRIID = &iid
		task.CommitSHA = ev.MergeRequest.CommitSHA
	case webhook.KindIssue:
		iid := ev.Issue.IssueIID
		task.IssueIID = &iid
	case webhook.KindPush:
		task.CommitSHA = ev.Push.CommitSHA
	}
	return task
}

func (s *Service) enqueueBackground(kind string, fn func(ctx context.Context) error) {
	if err := s.runner.Enqueue(jobs.NewJob(kind, v1.TaskPriorityNormal.Weight(), fn)); err != nil {
		s.logger.Warn("enqueue background job failed", zap.String("kind", kind), zap.Error(err))
	}
}

// cancelSupersededPipelines is best effort: a pipeline that finishes anyway
// will have its callback rejected by the task state check.
func (s *Service) cancelSupersededPipelines(ctx context.Context, superseded []*models.Task) {
	for _, old := range superseded {
		if old.PipelineID == nil {
			continue
		}
		if err := s.client.CancelPipeline(ctx, old.GitLabProject, *old.PipelineID); err != nil {
			s.logger.Warn("cancel superseded pipeline failed",
				zap.Int64("task_id", old.ID),
				zap.Int64("pipeline_id", *old.PipelineID),
				zap.Error(err))
		}
	}
}

func (s *Service) failTask(ctx context.Context, task *models.Task, cause error) {
	if err := task.TransitionTo(v1.TaskStatusFailed, cause.Error()); err != nil {
		return
	}
	if err := s.repo.UpdateTask(ctx, task); err != nil {
		s.logger.Error("persist failed task", zap.Int64("task_id", task.ID), zap.Error(err))
	}
	metrics.TasksCompleted.WithLabelValues(string(v1.TaskStatusFailed)).Inc()
}

func capabilityFor(intent string) string {
	switch intent {
	case webhook.IntentFeatureDev:
		return permission.CapabilityTriggerFeature
	case webhook.IntentAskCommand, webhook.IntentIssueDiscussion:
		return permission.CapabilityAskQuestion
	default:
		return permission.CapabilityTriggerReview
	}
}
