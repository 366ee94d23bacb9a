package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testEnvelope(t *testing.T, name, key string) Envelope {
	t.Helper()
	envelope, err := NewEnvelope(name, key, OrderPayload{OrderID: key})
	require.NoError(t, err)
	return envelope
}

func TestOutboxPublisher_AppendsBeforePublishing(t *testing.T) {
	store := NewMemoryOutbox()
	relay := NewRelay(store, NopPublisher{}, time.Second, zap.NewNop())
	publisher := NewOutboxPublisher(store, relay)
	ctx := context.Background()

	require.NoError(t, publisher.Publish(ctx, testEnvelope(t, OrderCreated, "order-1")))

	// Durably queued, nothing published until the relay drains
	pending, err := store.Pending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRelay_DrainPublishesInOrder(t *testing.T) {
	store := NewMemoryOutbox()
	ctx := context.Background()

	first := testEnvelope(t, OrderCreated, "order-1")
	second := testEnvelope(t, OrderCancelled, "order-1")
	require.NoError(t, store.Append(ctx, first))
	require.NoError(t, store.Append(ctx, second))

	var published []string
	sink := PublisherFunc(func(ctx context.Context, e Envelope) error {
		published = append(published, e.ID)
		return nil
	})

	relay := NewRelay(store, sink, time.Second, zap.NewNop())
	relay.Drain(ctx)

	assert.Equal(t, []string{first.ID, second.ID}, published)

	pending, err := store.Pending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRelay_StopsAtFirstFailure(t *testing.T) {
	store := NewMemoryOutbox()
	ctx := context.Background()

	first := testEnvelope(t, OrderCreated, "order-1")
	second := testEnvelope(t, OrderCancelled, "order-1")
	third := testEnvelope(t, OrderStatusUpdated, "order-1")
	require.NoError(t, store.Append(ctx, first))
	require.NoError(t, store.Append(ctx, second))
	require.NoError(t, store.Append(ctx, third))

	var published []string
	sink := PublisherFunc(func(ctx context.Context, e Envelope) error {
		if e.ID == second.ID {
			return errors.New("broker unavailable")
		}
		published = append(published, e.ID)
		return nil
	})

	relay := NewRelay(store, sink, time.Second, zap.NewNop())
	relay.Drain(ctx)

	// The failed event and everything behind it stay pending
	assert.Equal(t, []string{first.ID}, published)
	pending, err := store.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, second.ID, pending[0].ID)
	assert.Equal(t, third.ID, pending[1].ID)
}

func TestRelay_RedeliversAfterRecovery(t *testing.T) {
	store := NewMemoryOutbox()
	ctx := context.Background()

	envelope := testEnvelope(t, PaymentProcessed, "order-1")
	require.NoError(t, store.Append(ctx, envelope))

	attempts := 0
	sink := PublisherFunc(func(ctx context.Context, e Envelope) error {
		attempts++
		if attempts == 1 {
			return errors.New("broker unavailable")
		}
		return nil
	})

	relay := NewRelay(store, sink, time.Second, zap.NewNop())
	relay.Drain(ctx)
	relay.Drain(ctx)

	assert.Equal(t, 2, attempts)
	pending, err := store.Pending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRelay_RunDrainsOnNudge(t *testing.T) {
	store := NewMemoryOutbox()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	published := make(chan string, 1)
	sink := PublisherFunc(func(ctx context.Context, e Envelope) error {
		published <- e.ID
		return nil
	})

	relay := NewRelay(store, sink, time.Hour, zap.NewNop())
	go relay.Run(ctx)

	envelope := testEnvelope(t, OrderCreated, "order-1")
	require.NoError(t, store.Append(ctx, envelope))
	relay.Nudge()

	select {
	case id := <-published:
		assert.Equal(t, envelope.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not publish after nudge")
	}
}
