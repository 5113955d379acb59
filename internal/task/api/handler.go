// Package api exposes read-only task endpoints for dashboards and
// debugging. Tasks are created by webhook intake only.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vunnix/vunnix/internal/common/errors"
	"github.com/vunnix/vunnix/internal/common/logger"
	"github.com/vunnix/vunnix/internal/task/repository"
	v1 "github.com/vunnix/vunnix/pkg/api/v1"
)

// Handler contains HTTP handlers for the task API
type Handler struct {
	repo   repository.Repository
	logger *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(repo repository.Repository, log *logger.Logger) *Handler {
	return &Handler{
		repo:   repo,
		logger: log,
	}
}

// RegisterRoutes registers the task endpoints on the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/api/v1")
	group.GET("/tasks/:taskId", h.GetTask)
	group.GET("/projects/:projectId/tasks", h.ListProjectTasks)
}

// GetTask retrieves a task by ID
// GET /api/v1/tasks/:taskId
func (h *Handler) GetTask(c *gin.Context) {
	taskID, err := strconv.ParseInt(c.Param("taskId"), 10, 64)
	if err != nil {
		appErr := errors.BadRequest("invalid task id")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	task, err := h.repo.GetTask(c.Request.Context(), taskID)
	if err != nil {
		appErr := errors.NotFound("task", taskID)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	c.JSON(http.StatusOK, task.ToResponse())
}

// ListProjectTasks lists tasks for a project, newest first
// GET /api/v1/projects/:projectId/tasks
func (h *Handler) ListProjectTasks(c *gin.Context) {
	projectID, err := strconv.ParseInt(c.Param("projectId"), 10, 64)
	if err != nil {
		appErr := errors.BadRequest("invalid project id")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	tasks, err := h.repo.ListTasksByProject(c.Request.Context(), projectID)
	if err != nil {
		appErr := errors.InternalError("failed to list tasks", err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	resp := v1.TasksListResponse{
		Tasks: make([]*v1.TaskResponse, 0, len(tasks)),
		Total: len(tasks),
	}
	for _, task := range tasks {
		resp.Tasks = append(resp.Tasks, task.ToResponse())
	}
	c.JSON(http.StatusOK, resp)
}
