package inventory

import (
	"context"
	"sync"
	"testing"
	"time"

	"orderflow/internal/cache"
	"orderflow/internal/domain"
	"orderflow/internal/events"
	"orderflow/internal/repository"
	apperrors "orderflow/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Envelope
}

func (p *capturePublisher) Publish(ctx context.Context, event events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) named(name string) []events.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Envelope
	for _, e := range p.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func newTestService(t *testing.T) (*Service, *repository.MemoryInventoryStore, *capturePublisher) {
	t.Helper()
	store := repository.NewMemoryInventoryStore()
	reservations := repository.NewMemoryReservationStore()
	publisher := &capturePublisher{}
	svc := NewService(store, reservations, publisher, cache.NewInMemoryCache(), zap.NewNop(), 15*time.Minute, time.Minute)
	return svc, store, publisher
}

func seed(t *testing.T, svc *Service, productID string, quantity int) {
	t.Helper()
	_, err := svc.Create(context.Background(), productID, quantity)
	require.NoError(t, err)
}

func TestCreate_Duplicate(t *testing.T) {
	svc, _, publisher := newTestService(t)
	ctx := context.Background()

	seed(t, svc, "prod-1", 10)

	_, err := svc.Create(ctx, "prod-1", 20)
	assert.True(t, apperrors.IsCode(err, "AlreadyExists"))
	assert.Len(t, publisher.named(events.InventoryCreated), 1)
}

func TestGet_ReadsThroughCache(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, "prod-1", 10)

	first, err := svc.Get(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 10, first.Quantity)

	// Mutate the store behind the cache's back
	record, _ := store.FindByProduct(ctx, "prod-1")
	require.NoError(t, record.Adjust(90))
	require.NoError(t, store.Update(ctx, record, first.Version))

	cached, err := svc.Get(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 10, cached.Quantity)
}

func TestAdjust_InvalidatesCache(t *testing.T) {
	svc, _, publisher := newTestService(t)
	ctx := context.Background()
	seed(t, svc, "prod-1", 10)

	_, err := svc.Get(ctx, "prod-1")
	require.NoError(t, err)

	adjusted, err := svc.Adjust(ctx, "prod-1", 5)
	require.NoError(t, err)
	assert.Equal(t, 15, adjusted.Quantity)

	fresh, err := svc.Get(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 15, fresh.Quantity)
	assert.Len(t, publisher.named(events.InventoryUpdated), 1)
}

func TestAdjust_Error_BelowReserved(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	seed(t, svc, "prod-1", 20)

	_, err := svc.Reserve(ctx, "order-1", "user-1", 1000, []domain.ReservationLine{{ProductID: "prod-1", Quantity: 15}})
	require.NoError(t, err)

	_, err = svc.Adjust(ctx, "prod-1", -6)
	assert.True(t, apperrors.IsCode(err, "InvalidState"))

	record, err := svc.Get(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 20, record.Quantity)
	assert.Equal(t, 15, record.Reserved)
}

func TestReserve_Success(t *testing.T) {
	svc, _, publisher := newTestService(t)
	ctx := context.Background()
	seed(t, svc, "prod-1", 20)
	seed(t, svc, "prod-2", 5)

	reservation, err := svc.Reserve(ctx, "order-1", "user-1", 2500, []domain.ReservationLine{
		{ProductID: "prod-2", Quantity: 2},
		{ProductID: "prod-1", Quantity: 15},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationActive, reservation.Status)

	first, _ := svc.Get(ctx, "prod-1")
	second, _ := svc.Get(ctx, "prod-2")
	assert.Equal(t, 15, first.Reserved)
	assert.Equal(t, 2, second.Reserved)

	reserved := publisher.named(events.InventoryReserved)
	require.Len(t, reserved, 1)
	var payload events.ReservationPayload
	require.NoError(t, reserved[0].Decode(&payload))
	assert.Equal(t, "order-1", payload.OrderID)
	assert.Equal(t, "user-1", payload.UserID)
	assert.Equal(t, int64(2500), payload.TotalCents)
	assert.Len(t, payload.Lines, 2)
}

func TestReserve_Redelivery_ReturnsExistingHold(t *testing.T) {
	svc, _, publisher := newTestService(t)
	ctx := context.Background()
	seed(t, svc, "prod-1", 20)

	lines := []domain.ReservationLine{{ProductID: "prod-1", Quantity: 15}}
	first, err := svc.Reserve(ctx, "order-1", "user-1", 1000, lines)
	require.NoError(t, err)

	again, err := svc.Reserve(ctx, "order-1", "user-1", 1000, lines)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	record, _ := svc.Get(ctx, "prod-1")
	assert.Equal(t, 15, record.Reserved)
	assert.Len(t, publisher.named(events.InventoryReserved), 1)
}

func TestReserve_InsufficientStock(t *testing.T) {
	svc, _, publisher := newTestService(t)
	ctx := context.Background()
	seed(t, svc, "prod-1", 20)

	_, err := svc.Reserve(ctx, "order-1", "user-1", 1000, []domain.ReservationLine{{ProductID: "prod-1", Quantity: 15}})
	require.NoError(t, err)

	_, err = svc.Reserve(ctx, "order-2", "user-2", 1000, []domain.ReservationLine{{ProductID: "prod-1", Quantity: 10}})
	assert.True(t, apperrors.IsCode(err, "InsufficientStock"))

	failed := publisher.named(events.InventoryReservationFailed)
	require.Len(t, failed, 1)
	var payload events.ReservationFailedPayload
	require.NoError(t, failed[0].Decode(&payload))
	assert.Equal(t, "order-2", payload.OrderID)
	assert.Equal(t, "prod-1", payload.ProductID)
	assert.Equal(t, 10, payload.Requested)
	assert.Equal(t, 5, payload.Available)

	// The first hold is untouched
	record, _ := svc.Get(ctx, "prod-1")
	assert.Equal(t, 15, record.Reserved)
}

func TestReserve_PartialFailureRollsBackEarlierLines(t *testing.T) {
	svc, _, publisher := newTestService(t)
	ctx := context.Background()
	seed(t, svc, "prod-a", 10)
	seed(t, svc, "prod-b", 3)

	_, err := svc.Reserve(ctx, "order-1", "user-1", 1000, []domain.ReservationLine{
		{ProductID: "prod-a", Quantity: 5},
		{ProductID: "prod-b", Quantity: 4},
	})
	assert.True(t, apperrors.IsCode(err, "InsufficientStock"))

	first, _ := svc.Get(ctx, "prod-a")
	second, _ := svc.Get(ctx, "prod-b")
	assert.Equal(t, 0, first.Reserved)
	assert.Equal(t, 0, second.Reserved)

	assert.Empty(t, publisher.named(events.InventoryReserved))
	assert.Len(t, publisher.named(events.InventoryReservationFailed), 1)

	_, err = svc.Reservation(ctx, "order-1")
	assert.True(t, apperrors.IsCode(err, "NotFound"))
}

func TestRelease_ReturnsStock(t *testing.T) {
	svc, _, publisher := newTestService(t)
	ctx := context.Background()
	seed(t, svc, "prod-1", 20)

	_, err := svc.Reserve(ctx, "order-1", "user-1", 1000, []domain.ReservationLine{{ProductID: "prod-1", Quantity: 15}})
	require.NoError(t, err)

	released, err := svc.Release(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationReleased, released.Status)

	record, _ := svc.Get(ctx, "prod-1")
	assert.Equal(t, 0, record.Reserved)
	assert.Equal(t, 20, record.Quantity)

	// Second release is a silent no-op
	again, err := svc.Release(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationReleased, again.Status)
	assert.Len(t, publisher.named(events.InventoryReleased), 1)
}

func TestConfirm_DeductsStock(t *testing.T) {
	svc, _, publisher := newTestService(t)
	ctx := context.Background()
	seed(t, svc, "prod-1", 20)

	_, err := svc.Reserve(ctx, "order-1", "user-1", 1000, []domain.ReservationLine{{ProductID: "prod-1", Quantity: 15}})
	require.NoError(t, err)

	confirmed, err := svc.Confirm(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationConfirmed, confirmed.Status)

	record, _ := svc.Get(ctx, "prod-1")
	assert.Equal(t, 5, record.Quantity)
	assert.Equal(t, 0, record.Reserved)

	// Confirming twice is a no-op, releasing afterwards is an error
	_, err = svc.Confirm(ctx, "order-1")
	require.NoError(t, err)
	assert.Len(t, publisher.named(events.InventoryConfirmed), 1)

	_, err = svc.Release(ctx, "order-1")
	assert.True(t, apperrors.IsCode(err, "InvalidState"))
}

func TestExpire_ReleasesStock(t *testing.T) {
	svc, _, publisher := newTestService(t)
	ctx := context.Background()
	seed(t, svc, "prod-1", 20)

	_, err := svc.Reserve(ctx, "order-1", "user-1", 1000, []domain.ReservationLine{{ProductID: "prod-1", Quantity: 15}})
	require.NoError(t, err)

	expired, err := svc.Expire(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationExpired, expired.Status)

	record, _ := svc.Get(ctx, "prod-1")
	assert.Equal(t, 0, record.Reserved)
	assert.Len(t, publisher.named(events.InventoryReleased), 1)
}

func TestExpiredReservations(t *testing.T) {
	store := repository.NewMemoryInventoryStore()
	reservations := repository.NewMemoryReservationStore()
	svc := NewService(store, reservations, &capturePublisher{}, cache.NewInMemoryCache(), zap.NewNop(), -time.Minute, time.Minute)
	ctx := context.Background()

	_, err := svc.Create(ctx, "prod-1", 20)
	require.NoError(t, err)
	_, err = svc.Reserve(ctx, "order-1", "user-1", 1000, []domain.ReservationLine{{ProductID: "prod-1", Quantity: 5}})
	require.NoError(t, err)

	expired, err := svc.ExpiredReservations(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "order-1", expired[0].OrderID)
}

func TestRelease_Error_NoReservation(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Release(context.Background(), "order-1")
	assert.True(t, apperrors.IsCode(err, "NotFound"))
}
