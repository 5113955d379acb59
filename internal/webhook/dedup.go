package webhook

import (
	"context"
	"errors"

	"github.com/vunnix/vunnix/internal/task/models"
	"github.com/vunnix/vunnix/internal/task/repository"
)

// Deduplicator rejects webhook deliveries whose event UUID was already
// processed. GitLab retries deliveries on timeouts, so replays are routine.
type Deduplicator struct {
	repo repository.Repository
}

func NewDeduplicator(repo repository.Repository) *Deduplicator {
	return &Deduplicator{repo: repo}
}

// Record stores the event UUID and reports whether this delivery is a
// duplicate. An empty UUID disables dedup for the delivery: the event is
// always processed and nothing is recorded.
func (d *Deduplicator) Record(ctx context.Context, rec *models.WebhookEventRecord) (duplicate bool, err error) {
	if rec.EventUUID == "" {
		return false, nil
	}
	err = d.repo.CreateWebhookEvent(ctx, rec)
	if errors.Is(err, repository.ErrDuplicateEvent) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}
