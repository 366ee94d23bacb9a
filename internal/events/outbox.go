package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// OutboxStore records events pending publication. Appending happens in the
// same durable store (and, for the SQLite store, the same single-writer
// critical section) as the state mutation that produced the event, so a
// crash between mutating and publishing never loses the event.
type OutboxStore interface {
	Append(ctx context.Context, event Envelope) error
	Pending(ctx context.Context, limit int) ([]Envelope, error)
	MarkPublished(ctx context.Context, eventID string) error
}

// OutboxPublisher implements Publisher by enqueueing durably and nudging
// the relay. Events reach the bus asynchronously but are never dropped.
type OutboxPublisher struct {
	store OutboxStore
	relay *Relay
}

// NewOutboxPublisher pairs an outbox store with its relay
func NewOutboxPublisher(store OutboxStore, relay *Relay) *OutboxPublisher {
	return &OutboxPublisher{store: store, relay: relay}
}

func (p *OutboxPublisher) Publish(ctx context.Context, event Envelope) error {
	if err := p.store.Append(ctx, event); err != nil {
		return err
	}
	p.relay.Nudge()
	return nil
}

// Relay drains the outbox into the real publisher. Failed publishes stay
// pending and are retried on the next pass.
type Relay struct {
	store    OutboxStore
	sink     Publisher
	interval time.Duration
	logger   *zap.Logger

	nudge chan struct{}
	once  sync.Once
}

// NewRelay creates an outbox relay draining into sink every interval
func NewRelay(store OutboxStore, sink Publisher, interval time.Duration, logger *zap.Logger) *Relay {
	return &Relay{
		store:    store,
		sink:     sink,
		interval: interval,
		logger:   logger,
		nudge:    make(chan struct{}, 1),
	}
}

// Nudge wakes the relay ahead of its next tick
func (r *Relay) Nudge() {
	select {
	case r.nudge <- struct{}{}:
	default:
	}
}

// Run drains the outbox until the context is cancelled
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.Drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-r.nudge:
		}
	}
}

// Drain publishes every pending event once, in append order. Publication
// stops at the first failure to preserve per-key ordering.
func (r *Relay) Drain(ctx context.Context) {
	for {
		pending, err := r.store.Pending(ctx, 100)
		if err != nil {
			r.logger.Warn("Failed to read outbox", zap.Error(err))
			return
		}
		if len(pending) == 0 {
			return
		}

		for _, event := range pending {
			if err := r.sink.Publish(ctx, event); err != nil {
				r.logger.Warn("Outbox publish failed, will retry",
					zap.String("event", event.Name),
					zap.String("event_id", event.ID),
					zap.Error(err),
				)
				return
			}
			if err := r.store.MarkPublished(ctx, event.ID); err != nil {
				r.logger.Error("Failed to mark outbox event published",
					zap.String("event_id", event.ID),
					zap.Error(err),
				)
				return
			}
		}
	}
}

// MemoryOutbox is an in-memory OutboxStore for tests and broker-less runs
type MemoryOutbox struct {
	mu      sync.Mutex
	pending []Envelope
}

// NewMemoryOutbox creates an empty in-memory outbox
func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{}
}

func (o *MemoryOutbox) Append(ctx context.Context, event Envelope) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = append(o.pending, event)
	return nil
}

func (o *MemoryOutbox) Pending(ctx context.Context, limit int) ([]Envelope, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := len(o.pending)
	if n > limit {
		n = limit
	}
	out := make([]Envelope, n)
	copy(out, o.pending[:n])
	return out, nil
}

func (o *MemoryOutbox) MarkPublished(ctx context.Context, eventID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, e := range o.pending {
		if e.ID == eventID {
			o.pending = append(o.pending[:i], o.pending[i+1:]...)
			return nil
		}
	}
	return nil
}
