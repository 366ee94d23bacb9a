package saga

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"orderflow/internal/cache"
	"orderflow/internal/domain"
	"orderflow/internal/events"
	"orderflow/internal/inventory"
	"orderflow/internal/orders"
	"orderflow/internal/payments"
	"orderflow/internal/repository"
	apperrors "orderflow/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubGateway struct {
	mu      sync.Mutex
	approve bool
	err     error
	charges int
}

func (g *stubGateway) Charge(ctx context.Context, payment *domain.Payment) (payments.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges++
	if g.err != nil {
		return payments.Result{}, g.err
	}
	if g.approve {
		return payments.Result{Approved: true, Response: "approved"}, nil
	}
	return payments.Result{Approved: false, Response: "declined"}, nil
}

func (g *stubGateway) chargeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.charges
}

// harness wires all three services and coordinators over one in-process
// bus, the same topology the binaries run in broker-less mode
type harness struct {
	bus       *events.Bus
	sagas     *MemoryStore
	inventory *inventory.Service
	orders    *orders.Service
	payments  *payments.Service
	gateway   *stubGateway
}

func newHarness(t *testing.T, gateway *stubGateway, reservationTTL time.Duration) *harness {
	t.Helper()
	logger := zap.NewNop()
	bus := events.NewBus(logger)
	sagas := NewMemoryStore()

	invSvc := inventory.NewService(
		repository.NewMemoryInventoryStore(),
		repository.NewMemoryReservationStore(),
		bus, cache.NewInMemoryCache(), logger,
		reservationTTL, time.Minute,
	)

	catalog := orders.NewStaticCatalog([]orders.Product{
		{ID: "prod-1", Name: "Widget", PriceCents: 1000},
		{ID: "prod-2", Name: "Gadget", PriceCents: 2500},
	})
	ordSvc := orders.NewService(repository.NewMemoryOrderStore(), catalog, bus, cache.NewInMemoryCache(), logger, time.Minute)
	paySvc := payments.NewService(repository.NewMemoryPaymentStore(), gateway, bus, logger)

	invCo := NewInventoryCoordinator(sagas, invSvc, logger)
	payCo := NewPaymentCoordinator(sagas, paySvc, domain.MethodCreditCard, logger)
	ordCo := NewOrderCoordinator(sagas, ordSvc, logger)

	for _, topic := range invCo.Topics() {
		bus.Subscribe(topic, "inventory-service", invCo)
	}
	for _, topic := range payCo.Topics() {
		bus.Subscribe(topic, "payment-service", payCo)
	}
	for _, topic := range ordCo.Topics() {
		bus.Subscribe(topic, "order-service", ordCo)
	}

	return &harness{
		bus:       bus,
		sagas:     sagas,
		inventory: invSvc,
		orders:    ordSvc,
		payments:  paySvc,
		gateway:   gateway,
	}
}

func (h *harness) sagaState(t *testing.T, orderID string) State {
	t.Helper()
	state, err := h.sagas.State(context.Background(), orderID)
	require.NoError(t, err)
	return state
}

func TestSaga_HappyPath(t *testing.T) {
	h := newHarness(t, &stubGateway{approve: true}, 15*time.Minute)
	ctx := context.Background()

	_, err := h.inventory.Create(ctx, "prod-1", 20)
	require.NoError(t, err)

	order, err := h.orders.Create(ctx, "user-1", []orders.ItemRequest{{ProductID: "prod-1", Quantity: 15}}, "1 Main St", "1 Main St")
	require.NoError(t, err)

	assert.Equal(t, StateConfirmed, h.sagaState(t, order.ID))

	final, err := h.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderConfirmed, final.Status)
	assert.Equal(t, domain.OrderPaymentPaid, final.PaymentStatus)

	record, err := h.inventory.Get(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 5, record.Quantity)
	assert.Equal(t, 0, record.Reserved)

	reservation, err := h.inventory.Reservation(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationConfirmed, reservation.Status)

	attempts, err := h.payments.ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, domain.PaymentCompleted, attempts[0].Status)
	assert.Equal(t, order.TotalCents, attempts[0].AmountCents)
}

func TestSaga_InsufficientStock_CancelsOrder(t *testing.T) {
	h := newHarness(t, &stubGateway{approve: true}, 15*time.Minute)
	ctx := context.Background()

	_, err := h.inventory.Create(ctx, "prod-1", 20)
	require.NoError(t, err)

	order, err := h.orders.Create(ctx, "user-1", []orders.ItemRequest{{ProductID: "prod-1", Quantity: 50}}, "", "")
	require.NoError(t, err)

	assert.Equal(t, StateReservationFailed, h.sagaState(t, order.ID))

	final, err := h.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, final.Status)

	record, err := h.inventory.Get(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 0, record.Reserved)

	_, err = h.inventory.Reservation(ctx, order.ID)
	assert.True(t, apperrors.IsCode(err, "NotFound"))
	assert.Equal(t, 0, h.gateway.chargeCount())
}

func TestSaga_PaymentDeclined_ReleasesAndCancels(t *testing.T) {
	h := newHarness(t, &stubGateway{approve: false}, 15*time.Minute)
	ctx := context.Background()

	_, err := h.inventory.Create(ctx, "prod-1", 20)
	require.NoError(t, err)

	order, err := h.orders.Create(ctx, "user-1", []orders.ItemRequest{{ProductID: "prod-1", Quantity: 15}}, "", "")
	require.NoError(t, err)

	assert.Equal(t, StateReleased, h.sagaState(t, order.ID))

	final, err := h.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, final.Status)
	assert.Equal(t, domain.OrderPaymentFailed, final.PaymentStatus)

	record, err := h.inventory.Get(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 20, record.Quantity)
	assert.Equal(t, 0, record.Reserved)

	reservation, err := h.inventory.Reservation(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationReleased, reservation.Status)
}

func TestSaga_ExplicitCancel_ReleasesHold(t *testing.T) {
	// Gateway outage parks the saga at AWAITING_PAYMENT with the hold in place
	h := newHarness(t, &stubGateway{err: errors.New("connection refused")}, 15*time.Minute)
	ctx := context.Background()

	_, err := h.inventory.Create(ctx, "prod-1", 20)
	require.NoError(t, err)

	order, err := h.orders.Create(ctx, "user-1", []orders.ItemRequest{{ProductID: "prod-1", Quantity: 15}}, "", "")
	require.NoError(t, err)

	assert.Equal(t, StateAwaitingPayment, h.sagaState(t, order.ID))
	record, _ := h.inventory.Get(ctx, "prod-1")
	assert.Equal(t, 15, record.Reserved)

	_, err = h.orders.Cancel(ctx, order.ID)
	require.NoError(t, err)

	assert.Equal(t, StateReleased, h.sagaState(t, order.ID))

	record, err = h.inventory.Get(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 0, record.Reserved)
	assert.Equal(t, 20, record.Quantity)

	reservation, err := h.inventory.Reservation(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationReleased, reservation.Status)
}

func TestSaga_DuplicateOrderCreated_ReservesOnce(t *testing.T) {
	h := newHarness(t, &stubGateway{approve: true}, 15*time.Minute)
	ctx := context.Background()

	_, err := h.inventory.Create(ctx, "prod-1", 20)
	require.NoError(t, err)

	order, err := h.orders.Create(ctx, "user-1", []orders.ItemRequest{{ProductID: "prod-1", Quantity: 15}}, "", "")
	require.NoError(t, err)
	require.Equal(t, StateConfirmed, h.sagaState(t, order.ID))

	// Redeliver order.created as an at-least-once broker would
	duplicate, err := events.NewEnvelope(events.OrderCreated, order.ID, events.OrderPayload{
		OrderID:    order.ID,
		UserID:     order.UserID,
		TotalCents: order.TotalCents,
		Status:     string(domain.OrderPending),
		Items:      []events.OrderLine{{ProductID: "prod-1", Quantity: 15, PriceCents: 1000}},
	})
	require.NoError(t, err)
	require.NoError(t, h.bus.Publish(ctx, duplicate))

	record, err := h.inventory.Get(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 5, record.Quantity)
	assert.Equal(t, 0, record.Reserved)
	assert.Equal(t, 1, h.gateway.chargeCount())

	attempts, err := h.payments.ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, attempts, 1)
}

func TestSaga_DuplicatePaymentProcessed_SettlesOnce(t *testing.T) {
	h := newHarness(t, &stubGateway{approve: true}, 15*time.Minute)
	ctx := context.Background()

	_, err := h.inventory.Create(ctx, "prod-1", 20)
	require.NoError(t, err)

	order, err := h.orders.Create(ctx, "user-1", []orders.ItemRequest{{ProductID: "prod-1", Quantity: 15}}, "", "")
	require.NoError(t, err)
	require.Equal(t, StateConfirmed, h.sagaState(t, order.ID))

	attempts, err := h.payments.ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)

	duplicate, err := events.NewEnvelope(events.PaymentProcessed, order.ID, events.PaymentPayload{
		PaymentID:   attempts[0].ID,
		OrderID:     order.ID,
		UserID:      order.UserID,
		AmountCents: order.TotalCents,
		Status:      string(domain.PaymentCompleted),
	})
	require.NoError(t, err)
	require.NoError(t, h.bus.Publish(ctx, duplicate))

	// Confirm already deducted the stock once
	record, err := h.inventory.Get(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 5, record.Quantity)
	assert.Equal(t, 0, record.Reserved)
	assert.Equal(t, StateConfirmed, h.sagaState(t, order.ID))
}

func TestSaga_ConcurrentHolds_SecondOrderRejected(t *testing.T) {
	// Outage gateway freezes the first saga after the hold is placed
	h := newHarness(t, &stubGateway{err: errors.New("connection refused")}, 15*time.Minute)
	ctx := context.Background()

	_, err := h.inventory.Create(ctx, "prod-1", 20)
	require.NoError(t, err)

	first, err := h.orders.Create(ctx, "user-1", []orders.ItemRequest{{ProductID: "prod-1", Quantity: 15}}, "", "")
	require.NoError(t, err)
	require.Equal(t, StateAwaitingPayment, h.sagaState(t, first.ID))

	second, err := h.orders.Create(ctx, "user-2", []orders.ItemRequest{{ProductID: "prod-1", Quantity: 10}}, "", "")
	require.NoError(t, err)

	assert.Equal(t, StateReservationFailed, h.sagaState(t, second.ID))

	cancelled, err := h.orders.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, cancelled.Status)

	record, err := h.inventory.Get(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 15, record.Reserved)
}

func TestSaga_ReaperExpiresAbandonedHold(t *testing.T) {
	// Holds expire immediately, and the gateway outage keeps the saga open
	h := newHarness(t, &stubGateway{err: errors.New("connection refused")}, -time.Minute)
	ctx := context.Background()

	_, err := h.inventory.Create(ctx, "prod-1", 20)
	require.NoError(t, err)

	order, err := h.orders.Create(ctx, "user-1", []orders.ItemRequest{{ProductID: "prod-1", Quantity: 15}}, "", "")
	require.NoError(t, err)
	require.Equal(t, StateAwaitingPayment, h.sagaState(t, order.ID))

	reaper := NewReaper(h.sagas, h.inventory, time.Hour, zap.NewNop())
	reaper.Sweep(ctx)

	assert.Equal(t, StateReleased, h.sagaState(t, order.ID))

	reservation, err := h.inventory.Reservation(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationExpired, reservation.Status)

	record, err := h.inventory.Get(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 0, record.Reserved)
	assert.Equal(t, 20, record.Quantity)

	final, err := h.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCancelled, final.Status)

	// A second sweep finds nothing left to expire
	reaper.Sweep(ctx)
	assert.Equal(t, StateReleased, h.sagaState(t, order.ID))
}
