package webhook

import (
	"context"
	"testing"

	"github.com/vunnix/vunnix/internal/task/models"
	"github.com/vunnix/vunnix/internal/task/repository"
)

func TestDeduplicatorFirstDeliveryIsNotDuplicate(t *testing.T) {
	repo := repository.NewMemoryRepository()
	d := NewDeduplicator(repo)

	dup, err := d.Record(context.Background(), &models.WebhookEventRecord{
		EventUUID: "uuid-1",
		ProjectID: 1,
		EventType: KindNote,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if dup {
		t.Fatal("first delivery reported as duplicate")
	}

	exists, err := repo.WebhookEventExists(context.Background(), "uuid-1")
	if err != nil {
		t.Fatalf("WebhookEventExists: %v", err)
	}
	if !exists {
		t.Error("event was not recorded")
	}
}

func TestDeduplicatorReplayIsDuplicate(t *testing.T) {
	repo := repository.NewMemoryRepository()
	d := NewDeduplicator(repo)
	rec := func() *models.WebhookEventRecord {
		return &models.WebhookEventRecord{EventUUID: "uuid-2", ProjectID: 1, EventType: KindPush}
	}

	if dup, err := d.Record(context.Background(), rec()); err != nil || dup {
		t.Fatalf("first delivery: dup=%v err=%v", dup, err)
	}
	dup, err := d.Record(context.Background(), rec())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !dup {
		t.Error("replay not detected as duplicate")
	}
}

func TestDeduplicatorEmptyUUIDSkipsRecording(t *testing.T) {
	repo := repository.NewMemoryRepository()
	d := NewDeduplicator(repo)

	for i := 0; i < 2; i++ {
		dup, err := d.Record(context.Background(), &models.WebhookEventRecord{ProjectID: 1, EventType: KindNote})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
		if dup {
			t.Fatal("delivery without UUID must never be a duplicate")
		}
	}
}
