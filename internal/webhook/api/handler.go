// Package api exposes the webhook intake endpoint.
package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vunnix/vunnix/internal/common/errors"
	"github.com/vunnix/vunnix/internal/common/logger"
	"github.com/vunnix/vunnix/internal/dispatch"
	"github.com/vunnix/vunnix/internal/webhook"
	v1 "github.com/vunnix/vunnix/pkg/api/v1"
)

// Handler contains the HTTP handler for GitLab webhook deliveries.
type Handler struct {
	service       *dispatch.Service
	webhookSecret string
	logger        *logger.Logger
}

// NewHandler creates a webhook handler. webhookSecret is compared against
// X-Gitlab-Token; empty disables the check.
func NewHandler(service *dispatch.Service, webhookSecret string, log *logger.Logger) *Handler {
	return &Handler{
		service:       service,
		webhookSecret: webhookSecret,
		logger:        log,
	}
}

// RegisterRoutes registers the webhook endpoint on the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.POST("/webhook", h.HandleWebhook)
}

// HandleWebhook processes one GitLab webhook delivery.
// POST /webhook
func (h *Handler) HandleWebhook(c *gin.Context) {
	eventType := c.GetHeader("X-Gitlab-Event")
	if eventType == "" {
		c.JSON(http.StatusBadRequest, v1.WebhookResponse{
			Status: v1.WebhookStatusIgnored,
			Reason: "Missing X-Gitlab-Event header.",
		})
		return
	}

	if h.webhookSecret != "" && c.GetHeader("X-Gitlab-Token") != h.webhookSecret {
		// Same shape as other rejections so secret validity never leaks.
		c.JSON(http.StatusOK, v1.WebhookResponse{
			Status:    v1.WebhookStatusIgnored,
			Reason:    "invalid_token",
			EventType: eventType,
		})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		appErr := errors.BadRequest("failed to read request body")
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	ev, err := webhook.ParseEvent(eventType, body)
	if err != nil {
		// Unsupported event kinds are acknowledged, not errored: GitLab
		// would otherwise retry them forever.
		c.JSON(http.StatusOK, v1.WebhookResponse{
			Status:    v1.WebhookStatusIgnored,
			Reason:    "unsupported_event",
			EventType: eventType,
		})
		return
	}

	resp, err := h.service.Process(c.Request.Context(), ev, c.GetHeader("X-Gitlab-Event-UUID"))
	if err != nil {
		h.logger.Error("webhook processing failed",
			zap.String("event_type", eventType),
			zap.Int64("project_id", ev.ProjectID),
			zap.Error(err))
		appErr := errors.InternalError("failed to process webhook", err)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	c.JSON(http.StatusOK, resp)
}
