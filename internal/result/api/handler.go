// Package api exposes the result submission endpoint called back by the
// external pipeline runner.
package api

import (
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vunnix/vunnix/internal/common/errors"
	"github.com/vunnix/vunnix/internal/common/logger"
	"github.com/vunnix/vunnix/internal/metrics"
	"github.com/vunnix/vunnix/internal/result"
	"github.com/vunnix/vunnix/internal/task/repository"
	"github.com/vunnix/vunnix/internal/task/token"
	v1 "github.com/vunnix/vunnix/pkg/api/v1"
)

// Handler contains the HTTP handler for result submissions.
type Handler struct {
	repo      repository.Repository
	tokens    *token.Service
	processor *result.Processor
	logger    *logger.Logger
}

func NewHandler(repo repository.Repository, tokens *token.Service, processor *result.Processor, log *logger.Logger) *Handler {
	return &Handler{
		repo:      repo,
		tokens:    tokens,
		processor: processor,
		logger:    log,
	}
}

// RegisterRoutes registers the result endpoint on the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.POST("/api/v1/tasks/:taskId/result", h.SubmitResult)
}

// SubmitResult validates and applies one result callback. The checks run in
// a fixed order: token presence, token validity, task existence, task state,
// payload structure.
// POST /api/v1/tasks/:taskId/result
func (h *Handler) SubmitResult(c *gin.Context) {
	taskID, err := strconv.ParseInt(c.Param("taskId"), 10, 64)
	if err != nil {
		appErr := errors.BadRequest("invalid task id")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	bearer := bearerToken(c.GetHeader("Authorization"))
	if bearer == "" {
		metrics.ResultsReceived.WithLabelValues("unauthorized").Inc()
		appErr := errors.Unauthorized("Missing task token")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	if err := h.tokens.Verify(bearer, taskID); err != nil {
		metrics.ResultsReceived.WithLabelValues("unauthorized").Inc()
		appErr := errors.Unauthorized("Invalid or expired task token")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	task, err := h.repo.GetTask(c.Request.Context(), taskID)
	if err != nil {
		metrics.ResultsReceived.WithLabelValues("not_found").Inc()
		appErr := errors.NotFound("task", taskID)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	if task.Status != v1.TaskStatusRunning {
		metrics.ResultsReceived.WithLabelValues("conflict").Inc()
		appErr := errors.Conflict("task is " + string(task.Status) + ", expected running")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	var sub v1.ResultSubmission
	if err := c.ShouldBindJSON(&sub); err != nil {
		metrics.ResultsReceived.WithLabelValues("invalid").Inc()
		appErr := errors.Validation(map[string][]string{
			"body": {"The request body must be valid JSON."},
		})
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	if fields := result.ValidateSubmission(&sub); fields != nil {
		metrics.ResultsReceived.WithLabelValues("invalid").Inc()
		appErr := errors.Validation(fields)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	taskStatus, err := h.processor.Process(c.Request.Context(), task, &sub)
	if err != nil {
		// The pre-check above raced a concurrent submission; the guarded
		// write in the processor is authoritative.
		if stderrors.Is(err, repository.ErrStateConflict) {
			metrics.ResultsReceived.WithLabelValues("conflict").Inc()
			appErr := errors.Conflict("task already left running state")
			c.JSON(appErr.HTTPStatus, appErr)
			return
		}
		h.logger.Error("result processing failed",
			zap.Int64("task_id", taskID),
			zap.Error(err))
		appErr := errors.InternalError("failed to process result", err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	metrics.ResultsReceived.WithLabelValues(sub.Status).Inc()
	c.JSON(http.StatusOK, v1.ResultResponse{
		Status:     "accepted",
		TaskID:     taskID,
		TaskStatus: taskStatus,
	})
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
