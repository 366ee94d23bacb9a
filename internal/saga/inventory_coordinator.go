package saga

import (
	"context"
	"errors"

	"orderflow/internal/domain"
	"orderflow/internal/events"
	"orderflow/internal/inventory"
	apperrors "orderflow/pkg/errors"

	"go.uber.org/zap"
)

// Step names recorded in the idempotency ledger
const (
	stepReserve = "reserve"
	stepSettle  = "settle"
	stepCancel  = "cancel"
	stepCharge  = "charge"
)

// InventoryCoordinator drives the inventory side of the reservation saga
// and owns the canonical state machine. It reacts to order.created by
// placing the hold, to payment.processed by confirming or releasing it,
// and to order.cancelled by releasing it.
//
// Handlers follow check-work-mark: the ledger is consulted on entry, the
// effects themselves are idempotent, and the step is recorded only once
// the effects are durable. A transient failure leaves the step unmarked
// so the redelivery runs it again.
type InventoryCoordinator struct {
	sagas     Store
	inventory *inventory.Service
	logger    *zap.Logger
}

// NewInventoryCoordinator wires the inventory-side saga handler
func NewInventoryCoordinator(sagas Store, inv *inventory.Service, logger *zap.Logger) *InventoryCoordinator {
	return &InventoryCoordinator{sagas: sagas, inventory: inv, logger: logger}
}

// Topics lists the topics this coordinator consumes
func (c *InventoryCoordinator) Topics() []string {
	return []string{events.TopicOrders, events.TopicPayments}
}

func (c *InventoryCoordinator) HandleEvent(ctx context.Context, envelope events.Envelope) error {
	switch envelope.Name {
	case events.OrderCreated:
		return c.handleOrderCreated(ctx, envelope)
	case events.OrderCancelled:
		return c.handleOrderCancelled(ctx, envelope)
	case events.PaymentProcessed:
		return c.handlePaymentProcessed(ctx, envelope)
	default:
		return nil
	}
}

func (c *InventoryCoordinator) handleOrderCreated(ctx context.Context, envelope events.Envelope) error {
	var order events.OrderPayload
	if err := envelope.Decode(&order); err != nil {
		return err
	}

	if done, err := c.sagas.StepDone(ctx, order.OrderID, stepReserve); err != nil || done {
		if done {
			c.logger.Debug("Duplicate order.created ignored", zap.String("order_id", order.OrderID))
		}
		return err
	}

	if err := c.sagas.Begin(ctx, order.OrderID); err != nil && !errors.Is(err, ErrSagaExists) {
		return err
	}
	if err := c.transition(ctx, order.OrderID, StateCreated, StateReserving); err != nil {
		return err
	}

	lines := make([]domain.ReservationLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, domain.ReservationLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	if _, err := c.inventory.Reserve(ctx, order.OrderID, order.UserID, order.TotalCents, lines); err != nil {
		if retryable(err) {
			return err
		}
		// Business rejection. The failure event is already on its way,
		// the saga just records the terminal state.
		c.logger.Info("Reservation rejected",
			zap.String("order_id", order.OrderID),
			zap.Error(err),
		)
		if err := c.transition(ctx, order.OrderID, StateReserving, StateReservationFailed); err != nil {
			return err
		}
		return c.mark(ctx, order.OrderID, stepReserve)
	}

	if err := c.transition(ctx, order.OrderID, StateReserving, StateReserved); err != nil {
		return err
	}
	// Hold placed, the payment side takes over
	if err := c.transition(ctx, order.OrderID, StateReserved, StateAwaitingPayment); err != nil {
		return err
	}
	return c.mark(ctx, order.OrderID, stepReserve)
}

func (c *InventoryCoordinator) handlePaymentProcessed(ctx context.Context, envelope events.Envelope) error {
	var payment events.PaymentPayload
	if err := envelope.Decode(&payment); err != nil {
		return err
	}

	if done, err := c.sagas.StepDone(ctx, payment.OrderID, stepSettle); err != nil || done {
		if done {
			c.logger.Debug("Duplicate payment.processed ignored", zap.String("order_id", payment.OrderID))
		}
		return err
	}

	if payment.Status == string(domain.PaymentCompleted) {
		if _, err := c.inventory.Confirm(ctx, payment.OrderID); err != nil {
			if retryable(err) {
				return err
			}
			c.logger.Error("Failed to confirm reservation",
				zap.String("order_id", payment.OrderID),
				zap.Error(err),
			)
			return c.mark(ctx, payment.OrderID, stepSettle)
		}
		if err := c.transition(ctx, payment.OrderID, StateAwaitingPayment, StateConfirmed); err != nil {
			return err
		}
		return c.mark(ctx, payment.OrderID, stepSettle)
	}

	if _, err := c.inventory.Release(ctx, payment.OrderID); err != nil {
		if retryable(err) {
			return err
		}
		c.logger.Error("Failed to release reservation",
			zap.String("order_id", payment.OrderID),
			zap.Error(err),
		)
		return c.mark(ctx, payment.OrderID, stepSettle)
	}
	if err := c.transition(ctx, payment.OrderID, StateAwaitingPayment, StateReleased); err != nil {
		return err
	}
	return c.mark(ctx, payment.OrderID, stepSettle)
}

func (c *InventoryCoordinator) handleOrderCancelled(ctx context.Context, envelope events.Envelope) error {
	var order events.OrderPayload
	if err := envelope.Decode(&order); err != nil {
		return err
	}

	if done, err := c.sagas.StepDone(ctx, order.OrderID, stepCancel); err != nil || done {
		return err
	}

	if _, err := c.inventory.Release(ctx, order.OrderID); err != nil {
		switch {
		case apperrors.IsCode(err, "NotFound"):
			// Cancelled before any hold was placed
		case retryable(err):
			return err
		default:
			c.logger.Error("Failed to release reservation on cancel",
				zap.String("order_id", order.OrderID),
				zap.Error(err),
			)
		}
		return c.mark(ctx, order.OrderID, stepCancel)
	}

	// The hold can be released from either side of the payment step
	if err := c.transition(ctx, order.OrderID, StateReserved, StateReleased); err != nil {
		return err
	}
	if err := c.transition(ctx, order.OrderID, StateAwaitingPayment, StateReleased); err != nil {
		return err
	}
	return c.mark(ctx, order.OrderID, stepCancel)
}

// transition applies a saga move, treating a lost race as already handled
func (c *InventoryCoordinator) transition(ctx context.Context, orderID string, from, to State) error {
	err := c.sagas.Transition(ctx, orderID, from, to)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStateConflict) || errors.Is(err, ErrIllegalTransition) {
		c.logger.Debug("Saga transition skipped",
			zap.String("order_id", orderID),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
		return nil
	}
	return err
}

func (c *InventoryCoordinator) mark(ctx context.Context, orderID, step string) error {
	_, err := c.sagas.MarkStep(ctx, orderID, step)
	return err
}

// retryable reports whether the error is worth another delivery attempt
func retryable(err error) bool {
	return apperrors.IsCode(err, "TransientDependency") || apperrors.IsCode(err, "DatabaseError")
}
