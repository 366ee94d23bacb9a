package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Publisher is the interface for publishing domain events
type Publisher interface {
	Publish(ctx context.Context, event Envelope) error
}

// Handler consumes domain events. Implementations must be idempotent:
// the bus guarantees at-least-once delivery, not exactly-once.
type Handler interface {
	HandleEvent(ctx context.Context, event Envelope) error
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, event Envelope) error

func (f HandlerFunc) HandleEvent(ctx context.Context, event Envelope) error {
	return f(ctx, event)
}

// Bus is an in-process publisher that dispatches events to subscribed
// handler groups in publish order. It backs unit tests and the fallback
// path when no broker is reachable; the production path is the Kafka
// publisher plus consumer groups.
type Bus struct {
	logger *zap.Logger

	mu          sync.Mutex
	subscribers map[string][]groupSubscriber
	queue       []Envelope
	dispatching bool
}

type groupSubscriber struct {
	group   string
	handler Handler
}

// NewBus creates an in-process event bus
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger:      logger,
		subscribers: make(map[string][]groupSubscriber),
	}
}

// Subscribe registers a handler group for a topic. Multiple groups on the
// same topic each receive every event; a group receives it once.
func (b *Bus) Subscribe(topic, group string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], groupSubscriber{group: group, handler: handler})
}

// Publish enqueues the event and drains the queue run-to-completion.
// Events published from inside a handler are processed after the current
// one, preserving publish order without unbounded recursion.
func (b *Bus) Publish(ctx context.Context, event Envelope) error {
	if _, err := TopicFor(event.Name); err != nil {
		return err
	}

	b.mu.Lock()
	b.queue = append(b.queue, event)
	if b.dispatching {
		b.mu.Unlock()
		return nil
	}
	b.dispatching = true
	b.mu.Unlock()

	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.dispatching = false
			b.mu.Unlock()
			return nil
		}
		next := b.queue[0]
		b.queue = b.queue[1:]
		topic, _ := TopicFor(next.Name)
		subs := make([]groupSubscriber, len(b.subscribers[topic]))
		copy(subs, b.subscribers[topic])
		b.mu.Unlock()

		for _, sub := range subs {
			if err := sub.handler.HandleEvent(ctx, next); err != nil {
				b.logger.Warn("Event handler failed",
					zap.String("topic", topic),
					zap.String("event", next.Name),
					zap.String("group", sub.group),
					zap.String("key", next.Key),
					zap.Error(err),
				)
			}
		}
	}
}

// PublisherFunc adapts a function to the Publisher interface
type PublisherFunc func(ctx context.Context, event Envelope) error

func (f PublisherFunc) Publish(ctx context.Context, event Envelope) error {
	return f(ctx, event)
}

// NopPublisher swallows events; used where publication is wired later
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event Envelope) error {
	return nil
}
