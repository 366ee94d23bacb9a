package repository

import (
	"context"
	"errors"
	"time"

	"orderflow/internal/domain"
)

// ErrVersionConflict signals a lost optimistic-lock race; the caller should
// reload the aggregate and retry.
var ErrVersionConflict = errors.New("optimistic lock failed - version mismatch")

// InventoryStore persists inventory records. Update is a compare-and-swap
// on the version the aggregate carried when it was loaded.
type InventoryStore interface {
	Create(ctx context.Context, record *domain.InventoryRecord) error
	FindByProduct(ctx context.Context, productID string) (*domain.InventoryRecord, error)
	List(ctx context.Context) ([]*domain.InventoryRecord, error)
	Update(ctx context.Context, record *domain.InventoryRecord, expectedVersion int) error
}

// OrderStore persists orders with their line items
type OrderStore interface {
	Create(ctx context.Context, order *domain.Order) error
	FindByID(ctx context.Context, orderID string) (*domain.Order, error)
	FindByUser(ctx context.Context, userID string) ([]*domain.Order, error)
	List(ctx context.Context) ([]*domain.Order, error)
	Update(ctx context.Context, order *domain.Order, expectedVersion int) error
}

// PaymentStore persists payment attempts
type PaymentStore interface {
	Create(ctx context.Context, payment *domain.Payment) error
	FindByID(ctx context.Context, paymentID string) (*domain.Payment, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error)
	FindByOrder(ctx context.Context, orderID string) ([]*domain.Payment, error)
	FindByUser(ctx context.Context, userID string) ([]*domain.Payment, error)
	List(ctx context.Context) ([]*domain.Payment, error)
	Update(ctx context.Context, payment *domain.Payment) error
}

// ReservationStore persists stock reservations, at most one per order
type ReservationStore interface {
	Create(ctx context.Context, reservation *domain.Reservation) error
	FindByOrder(ctx context.Context, orderID string) (*domain.Reservation, error)
	Update(ctx context.Context, reservation *domain.Reservation) error
	// Expired lists active reservations whose deadline passed at the given time
	Expired(ctx context.Context, now time.Time) ([]*domain.Reservation, error)
}
