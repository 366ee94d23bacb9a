package domain

import (
	"time"

	"github.com/google/uuid"
)

// ReservationStatus is the lifecycle state of a stock reservation
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationReleased  ReservationStatus = "RELEASED"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

// ReservationLine is one product hold within a reservation
type ReservationLine struct {
	ProductID string
	Quantity  int
}

// Reservation is the explicit record of what was reserved for an order.
// Release and confirm resolve against these recorded quantities, never
// against a caller-supplied number. Keyed by OrderID: at most one
// reservation exists per order.
type Reservation struct {
	ID         string
	OrderID    string
	Lines      []ReservationLine
	Status     ReservationStatus
	ReservedAt time.Time
	ExpiresAt  time.Time
	ResolvedAt *time.Time
}

// NewReservation creates an active reservation holding the given lines
// until resolved or the TTL elapses.
func NewReservation(orderID string, lines []ReservationLine, ttl time.Duration) *Reservation {
	now := time.Now().UTC()
	return &Reservation{
		ID:         uuid.New().String(),
		OrderID:    orderID,
		Lines:      lines,
		Status:     ReservationActive,
		ReservedAt: now,
		ExpiresAt:  now.Add(ttl),
	}
}

// Release cancels the hold. Releasing an already-released reservation is a
// no-op so duplicate compensation events stay harmless.
func (r *Reservation) Release() error {
	switch r.Status {
	case ReservationReleased, ReservationExpired:
		return nil
	case ReservationConfirmed:
		return ErrReservationResolved
	}
	r.Status = ReservationReleased
	r.resolve()
	return nil
}

// Confirm fulfills the hold permanently. Confirming twice is a no-op;
// confirming a released or expired reservation is rejected.
func (r *Reservation) Confirm() error {
	switch r.Status {
	case ReservationConfirmed:
		return nil
	case ReservationReleased, ReservationExpired:
		return ErrReservationResolved
	}
	r.Status = ReservationConfirmed
	r.resolve()
	return nil
}

// Expire marks an abandoned reservation. Only active holds expire.
func (r *Reservation) Expire() error {
	if r.Status != ReservationActive {
		return ErrReservationResolved
	}
	r.Status = ReservationExpired
	r.resolve()
	return nil
}

// ExpiredAt reports whether the hold has passed its deadline at the given time
func (r *Reservation) ExpiredAt(now time.Time) bool {
	return r.Status == ReservationActive && now.After(r.ExpiresAt)
}

func (r *Reservation) resolve() {
	now := time.Now().UTC()
	r.ResolvedAt = &now
}

var (
	ErrReservationResolved  = &DomainError{Message: "reservation already resolved"}
	ErrReservationNotFound  = &DomainError{Message: "reservation not found"}
	ErrDuplicateReservation = &DomainError{Message: "reservation already exists for order"}
)
