package saga

import (
	"context"

	"orderflow/internal/domain"
	"orderflow/internal/events"
	"orderflow/internal/payments"

	"go.uber.org/zap"
)

// PaymentCoordinator reacts to successful reservations by charging the
// customer. The charge itself dedupes per order, the ledger keeps
// redelivered events from reaching the gateway at all.
type PaymentCoordinator struct {
	sagas    Store
	payments *payments.Service
	method   domain.PaymentMethod
	logger   *zap.Logger
}

// NewPaymentCoordinator wires the payment-side saga handler. Charges use
// the given default method; customer-selected methods arrive once checkout
// carries them on the order.
func NewPaymentCoordinator(sagas Store, pay *payments.Service, method domain.PaymentMethod, logger *zap.Logger) *PaymentCoordinator {
	return &PaymentCoordinator{sagas: sagas, payments: pay, method: method, logger: logger}
}

// Topics lists the topics this coordinator consumes
func (c *PaymentCoordinator) Topics() []string {
	return []string{events.TopicInventory}
}

func (c *PaymentCoordinator) HandleEvent(ctx context.Context, envelope events.Envelope) error {
	if envelope.Name != events.InventoryReserved {
		return nil
	}

	var reservation events.ReservationPayload
	if err := envelope.Decode(&reservation); err != nil {
		return err
	}

	if done, err := c.sagas.StepDone(ctx, reservation.OrderID, stepCharge); err != nil || done {
		if done {
			c.logger.Debug("Duplicate inventory.reserved ignored", zap.String("order_id", reservation.OrderID))
		}
		return err
	}

	payment, err := c.payments.Process(ctx, reservation.OrderID, reservation.UserID, reservation.TotalCents, c.method)
	if err != nil {
		if retryable(err) {
			return err
		}
		c.logger.Error("Payment attempt failed permanently",
			zap.String("order_id", reservation.OrderID),
			zap.Error(err),
		)
		_, markErr := c.sagas.MarkStep(ctx, reservation.OrderID, stepCharge)
		return markErr
	}

	c.logger.Info("Payment attempt settled",
		zap.String("order_id", reservation.OrderID),
		zap.String("payment_id", payment.ID),
		zap.String("status", string(payment.Status)),
	)
	_, err = c.sagas.MarkStep(ctx, reservation.OrderID, stepCharge)
	return err
}
