package repository

import (
	"context"
	"testing"
	"time"

	"orderflow/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryInventoryStore_CreateAndFind(t *testing.T) {
	store := NewMemoryInventoryStore()
	ctx := context.Background()

	record, _ := domain.NewInventoryRecord("prod-1", 50)
	require.NoError(t, store.Create(ctx, record))

	assert.Equal(t, domain.ErrRecordExists, store.Create(ctx, record))

	found, err := store.FindByProduct(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 50, found.Quantity)

	_, err = store.FindByProduct(ctx, "missing")
	assert.Equal(t, domain.ErrRecordNotFound, err)
}

func TestMemoryInventoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryInventoryStore()
	ctx := context.Background()

	record, _ := domain.NewInventoryRecord("prod-1", 50)
	require.NoError(t, store.Create(ctx, record))

	found, _ := store.FindByProduct(ctx, "prod-1")
	found.Quantity = 999

	again, _ := store.FindByProduct(ctx, "prod-1")
	assert.Equal(t, 50, again.Quantity)
}

func TestMemoryInventoryStore_VersionConflict(t *testing.T) {
	store := NewMemoryInventoryStore()
	ctx := context.Background()

	record, _ := domain.NewInventoryRecord("prod-1", 50)
	require.NoError(t, store.Create(ctx, record))

	stale, _ := store.FindByProduct(ctx, "prod-1")
	fresh, _ := store.FindByProduct(ctx, "prod-1")

	require.NoError(t, fresh.Reserve(10))
	require.NoError(t, store.Update(ctx, fresh, 1))

	// Second writer loaded version 1 but the store moved on
	require.NoError(t, stale.Reserve(5))
	err := store.Update(ctx, stale, 1)
	assert.ErrorIs(t, err, ErrVersionConflict)

	current, _ := store.FindByProduct(ctx, "prod-1")
	assert.Equal(t, 10, current.Reserved)
}

func TestMemoryOrderStore_FindByUserSorted(t *testing.T) {
	store := NewMemoryOrderStore()
	ctx := context.Background()

	first, _ := domain.NewOrder("user-1", []domain.OrderItem{{ProductID: "p", Quantity: 1, PriceCents: 100}}, "", "")
	second, _ := domain.NewOrder("user-1", []domain.OrderItem{{ProductID: "p", Quantity: 2, PriceCents: 100}}, "", "")
	second.CreatedAt = first.CreatedAt.Add(time.Minute)
	other, _ := domain.NewOrder("user-2", []domain.OrderItem{{ProductID: "p", Quantity: 1, PriceCents: 100}}, "", "")

	require.NoError(t, store.Create(ctx, second))
	require.NoError(t, store.Create(ctx, first))
	require.NoError(t, store.Create(ctx, other))

	orders, err := store.FindByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, first.ID, orders[0].ID)
	assert.Equal(t, second.ID, orders[1].ID)
}

func TestMemoryOrderStore_VersionConflict(t *testing.T) {
	store := NewMemoryOrderStore()
	ctx := context.Background()

	order, _ := domain.NewOrder("user-1", []domain.OrderItem{{ProductID: "p", Quantity: 1, PriceCents: 100}}, "", "")
	require.NoError(t, store.Create(ctx, order))

	loaded, _ := store.FindByID(ctx, order.ID)
	loaded.SetStatus(domain.OrderCancelled)
	require.NoError(t, store.Update(ctx, loaded, 1))

	assert.ErrorIs(t, store.Update(ctx, loaded, 1), ErrVersionConflict)
}

func TestMemoryPaymentStore_Lookups(t *testing.T) {
	store := NewMemoryPaymentStore()
	ctx := context.Background()

	payment, _ := domain.NewPayment("order-1", "user-1", 500, domain.MethodCreditCard)
	require.NoError(t, store.Create(ctx, payment))

	byID, err := store.FindByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.TransactionID, byID.TransactionID)

	byTxn, err := store.FindByTransactionID(ctx, payment.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, payment.ID, byTxn.ID)

	byOrder, err := store.FindByOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Len(t, byOrder, 1)

	byOrder, err = store.FindByOrder(ctx, "order-2")
	require.NoError(t, err)
	assert.Empty(t, byOrder)
}

func TestMemoryReservationStore_OnePerOrder(t *testing.T) {
	store := NewMemoryReservationStore()
	ctx := context.Background()

	reservation := domain.NewReservation("order-1", []domain.ReservationLine{{ProductID: "p", Quantity: 1}}, time.Minute)
	require.NoError(t, store.Create(ctx, reservation))

	duplicate := domain.NewReservation("order-1", []domain.ReservationLine{{ProductID: "p", Quantity: 2}}, time.Minute)
	assert.Equal(t, domain.ErrDuplicateReservation, store.Create(ctx, duplicate))

	found, err := store.FindByOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, reservation.ID, found.ID)
}

func TestMemoryReservationStore_Expired(t *testing.T) {
	store := NewMemoryReservationStore()
	ctx := context.Background()
	now := time.Now().UTC()

	overdue := domain.NewReservation("order-1", []domain.ReservationLine{{ProductID: "p", Quantity: 1}}, -time.Minute)
	current := domain.NewReservation("order-2", []domain.ReservationLine{{ProductID: "p", Quantity: 1}}, time.Hour)
	resolved := domain.NewReservation("order-3", []domain.ReservationLine{{ProductID: "p", Quantity: 1}}, -time.Minute)
	require.NoError(t, resolved.Release())

	require.NoError(t, store.Create(ctx, overdue))
	require.NoError(t, store.Create(ctx, current))
	require.NoError(t, store.Create(ctx, resolved))

	expired, err := store.Expired(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "order-1", expired[0].OrderID)
}
