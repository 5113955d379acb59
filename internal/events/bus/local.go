package bus

import (
	"context"
	"sync"
)

// LocalBus is an in-process EventBus for deployments without NATS.
// Handlers run synchronously on the publisher's goroutine.
type LocalBus struct {
	mu       sync.RWMutex
	handlers map[string][]*localSubscription
	closed   bool
}

var _ EventBus = (*LocalBus)(nil)

func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[string][]*localSubscription)}
}

func (b *LocalBus) Publish(_ context.Context, subject string, event *Event) error {
	b.mu.RLock()
	subs := make([]*localSubscription, len(b.handlers[subject]))
	copy(subs, b.handlers[subject])
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.handler(event)
	}
	return nil
}

func (b *LocalBus) Subscribe(subject string, handler EventHandler) (Subscription, error) {
	sub := &localSubscription{bus: b, subject: subject, handler: handler}
	b.mu.Lock()
	b.handlers[subject] = append(b.handlers[subject], sub)
	b.mu.Unlock()
	return sub, nil
}

func (b *LocalBus) Close() {
	b.mu.Lock()
	b.handlers = make(map[string][]*localSubscription)
	b.closed = true
	b.mu.Unlock()
}

func (b *LocalBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

type localSubscription struct {
	bus     *LocalBus
	subject string
	handler EventHandler
}

func (s *localSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.handlers[s.subject]
	for i, sub := range subs {
		if sub == s {
			s.bus.handlers[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}
