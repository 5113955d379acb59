// Package bus provides the event bus used to broadcast task lifecycle
// changes to in-process and external subscribers.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Subjects published by the orchestration core.
const (
	SubjectTaskStatusChanged = "vunnix.task.status.changed"
	SubjectWebhookAccepted   = "vunnix.webhook.accepted"
)

// Event is the envelope carried on every subject.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// NewEvent builds an envelope with a fresh id and timestamp.
func NewEvent(eventType string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler processes a received event.
type EventHandler func(event *Event)

// Subscription is an active subject subscription.
type Subscription interface {
	Unsubscribe() error
}

// EventBus abstracts the message transport.
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler EventHandler) (Subscription, error)
	Close()
	IsConnected() bool
}

// NopBus discards every publish. Used when NATS is disabled and in tests.
type NopBus struct{}

func NewNopBus() *NopBus { return &NopBus{} }

func (n *NopBus) Publish(ctx context.Context, subject string, event *Event) error { return nil }

func (n *NopBus) Subscribe(subject string, handler EventHandler) (Subscription, error) {
	return nopSubscription{}, nil
}

func (n *NopBus) Close() {}

func (n *NopBus) IsConnected() bool { return true }

type nopSubscription struct{}

func (nopSubscription) Unsubscribe() error { return nil }
