// Package permission gates actor-triggered intents on project membership.
package permission

import (
	"context"

	"go.uber.org/zap"

	"github.com/vunnix/vunnix/internal/common/logger"
	"github.com/vunnix/vunnix/internal/gitlab"
)

// Capabilities that can be required by an intent.
const (
	CapabilityTriggerReview  = "trigger_review"
	CapabilityTriggerFeature = "trigger_feature"
	CapabilityAskQuestion    = "ask_question"
)

// Gate decides whether an actor may trigger a capability on a project.
type Gate interface {
	Authorize(ctx context.Context, actorID int64, capability string, projectID int64) bool
}

// MembershipGate authorizes based on the actor's GitLab access level.
// Review and ask commands need Developer, feature development needs
// Maintainer.
type MembershipGate struct {
	client gitlab.Client
	logger *logger.Logger
}

func NewMembershipGate(client gitlab.Client, log *logger.Logger) *MembershipGate {
	return &MembershipGate{client: client, logger: log}
}

func (g *MembershipGate) Authorize(ctx context.Context, actorID int64, capability string, projectID int64) bool {
	if actorID == 0 {
		return false
	}

	level, err := g.client.MemberAccessLevel(ctx, projectID, actorID)
	if err != nil {
		// Fail closed: an unreachable membership API denies the intent
		// rather than letting unknown actors trigger pipelines.
		g.logger.Warn("membership lookup failed, denying",
			zap.Int64("actor_id", actorID),
			zap.Int64("project_id", projectID),
			zap.Error(err))
		return false
	}

	required := gitlab.AccessLevelDeveloper
	if capability == CapabilityTriggerFeature {
		required = gitlab.AccessLevelMaintainer
	}
	return level >= required
}

// AllowAll authorizes everything. Used in tests and trusted single-tenant
// deployments.
type AllowAll struct{}

func (AllowAll) Authorize(context.Context, int64, string, int64) bool { return true }
