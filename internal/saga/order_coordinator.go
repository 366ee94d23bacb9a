package saga

import (
	"context"

	"orderflow/internal/domain"
	"orderflow/internal/events"
	"orderflow/internal/orders"

	"go.uber.org/zap"
)

// Step names recorded by the order-side handler
const (
	stepReservationFailed = "reservation-failed"
	stepPaymentOutcome    = "payment-outcome"
	stepRefund            = "refund"
	stepReleased          = "released"
)

// OrderCoordinator mirrors saga outcomes onto the order aggregate: a failed
// reservation or released hold cancels the order, a settled payment sets
// the payment status and, when paid, confirms the order.
type OrderCoordinator struct {
	sagas  Store
	orders *orders.Service
	logger *zap.Logger
}

// NewOrderCoordinator wires the order-side saga handler
func NewOrderCoordinator(sagas Store, ord *orders.Service, logger *zap.Logger) *OrderCoordinator {
	return &OrderCoordinator{sagas: sagas, orders: ord, logger: logger}
}

// Topics lists the topics this coordinator consumes
func (c *OrderCoordinator) Topics() []string {
	return []string{events.TopicInventory, events.TopicPayments}
}

func (c *OrderCoordinator) HandleEvent(ctx context.Context, envelope events.Envelope) error {
	switch envelope.Name {
	case events.InventoryReservationFailed:
		return c.handleReservationFailed(ctx, envelope)
	case events.InventoryReleased:
		return c.handleReleased(ctx, envelope)
	case events.PaymentProcessed:
		return c.handlePaymentProcessed(ctx, envelope)
	case events.PaymentRefunded:
		return c.handlePaymentRefunded(ctx, envelope)
	default:
		return nil
	}
}

func (c *OrderCoordinator) handleReservationFailed(ctx context.Context, envelope events.Envelope) error {
	var failure events.ReservationFailedPayload
	if err := envelope.Decode(&failure); err != nil {
		return err
	}

	if done, err := c.sagas.StepDone(ctx, failure.OrderID, stepReservationFailed); err != nil || done {
		return err
	}

	c.logger.Info("Cancelling order after failed reservation",
		zap.String("order_id", failure.OrderID),
		zap.String("product_id", failure.ProductID),
		zap.String("reason", failure.Reason),
	)

	if err := c.cancelOrder(ctx, failure.OrderID); err != nil {
		return err
	}
	_, err := c.sagas.MarkStep(ctx, failure.OrderID, stepReservationFailed)
	return err
}

func (c *OrderCoordinator) handleReleased(ctx context.Context, envelope events.Envelope) error {
	var reservation events.ReservationPayload
	if err := envelope.Decode(&reservation); err != nil {
		return err
	}

	if done, err := c.sagas.StepDone(ctx, reservation.OrderID, stepReleased); err != nil || done {
		return err
	}

	// Cancellation and payment failure already cancel the order through
	// their own events; this closes the timeout path.
	if err := c.cancelOrder(ctx, reservation.OrderID); err != nil {
		return err
	}
	_, err := c.sagas.MarkStep(ctx, reservation.OrderID, stepReleased)
	return err
}

func (c *OrderCoordinator) handlePaymentProcessed(ctx context.Context, envelope events.Envelope) error {
	var payment events.PaymentPayload
	if err := envelope.Decode(&payment); err != nil {
		return err
	}

	if done, err := c.sagas.StepDone(ctx, payment.OrderID, stepPaymentOutcome); err != nil || done {
		return err
	}

	outcome := domain.OrderPaymentFailed
	if payment.Status == string(domain.PaymentCompleted) {
		outcome = domain.OrderPaymentPaid
	}

	if _, err := c.orders.ApplyPaymentOutcome(ctx, payment.OrderID, outcome); err != nil {
		if retryable(err) {
			return err
		}
		c.logger.Error("Failed to record payment outcome",
			zap.String("order_id", payment.OrderID),
			zap.Error(err),
		)
	} else if outcome == domain.OrderPaymentFailed {
		if err := c.cancelOrder(ctx, payment.OrderID); err != nil {
			return err
		}
	}

	_, err := c.sagas.MarkStep(ctx, payment.OrderID, stepPaymentOutcome)
	return err
}

func (c *OrderCoordinator) handlePaymentRefunded(ctx context.Context, envelope events.Envelope) error {
	var payment events.PaymentPayload
	if err := envelope.Decode(&payment); err != nil {
		return err
	}

	if done, err := c.sagas.StepDone(ctx, payment.OrderID, stepRefund); err != nil || done {
		return err
	}

	if _, err := c.orders.ApplyPaymentOutcome(ctx, payment.OrderID, domain.OrderPaymentRefunded); err != nil {
		if retryable(err) {
			return err
		}
		c.logger.Error("Failed to record refund",
			zap.String("order_id", payment.OrderID),
			zap.Error(err),
		)
	}

	_, err := c.sagas.MarkStep(ctx, payment.OrderID, stepRefund)
	return err
}

// cancelOrder moves a still-open order to CANCELLED without re-announcing
// orders that already reached a terminal state
func (c *OrderCoordinator) cancelOrder(ctx context.Context, orderID string) error {
	order, err := c.orders.Get(ctx, orderID)
	if err != nil {
		if retryable(err) {
			return err
		}
		c.logger.Warn("Order not found while cancelling", zap.String("order_id", orderID), zap.Error(err))
		return nil
	}
	if order.Status == domain.OrderCancelled || order.Status == domain.OrderConfirmed {
		return nil
	}

	if _, err := c.orders.UpdateStatus(ctx, orderID, domain.OrderCancelled); err != nil {
		if retryable(err) {
			return err
		}
		c.logger.Error("Failed to cancel order", zap.String("order_id", orderID), zap.Error(err))
	}
	return nil
}
