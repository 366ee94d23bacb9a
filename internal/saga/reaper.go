package saga

import (
	"context"
	"time"

	"orderflow/internal/inventory"

	"go.uber.org/zap"
)

// Reaper expires reservations whose deadline passed without a payment
// outcome. Expiring publishes inventory.released, which cancels the order
// downstream exactly like an explicit cancellation.
type Reaper struct {
	sagas     Store
	inventory *inventory.Service
	interval  time.Duration
	logger    *zap.Logger
}

// NewReaper wires the reservation timeout loop
func NewReaper(sagas Store, inv *inventory.Service, interval time.Duration, logger *zap.Logger) *Reaper {
	return &Reaper{sagas: sagas, inventory: inv, interval: interval, logger: logger}
}

// Run sweeps on every tick until the context is cancelled
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep expires every reservation past its deadline
func (r *Reaper) Sweep(ctx context.Context) {
	expired, err := r.inventory.ExpiredReservations(ctx, time.Now().UTC())
	if err != nil {
		r.logger.Warn("Failed to list expired reservations", zap.Error(err))
		return
	}

	for _, reservation := range expired {
		if _, err := r.inventory.Expire(ctx, reservation.OrderID); err != nil {
			r.logger.Error("Failed to expire reservation",
				zap.String("order_id", reservation.OrderID),
				zap.String("reservation_id", reservation.ID),
				zap.Error(err),
			)
			continue
		}

		// The hold can time out before or after the charge was requested
		if err := r.transition(ctx, reservation.OrderID, StateReserved, StateReleased); err != nil {
			continue
		}
		_ = r.transition(ctx, reservation.OrderID, StateAwaitingPayment, StateReleased)

		r.logger.Info("Reservation expired",
			zap.String("order_id", reservation.OrderID),
			zap.String("reservation_id", reservation.ID),
		)
	}
}

func (r *Reaper) transition(ctx context.Context, orderID string, from, to State) error {
	err := r.sagas.Transition(ctx, orderID, from, to)
	if err == nil || err == ErrStateConflict || err == ErrIllegalTransition || err == ErrSagaNotFound {
		return nil
	}
	return err
}
