package payments

import (
	"context"
	"errors"

	"orderflow/internal/domain"
	"orderflow/internal/events"
	"orderflow/internal/repository"
	apperrors "orderflow/pkg/errors"

	"go.uber.org/zap"
)

// Service records payment attempts and settles them through the gateway.
// Every settled attempt, approved or declined, is announced with
// payment.processed so the saga can confirm or compensate.
type Service struct {
	store     repository.PaymentStore
	gateway   Gateway
	publisher events.Publisher
	logger    *zap.Logger
}

// NewService wires the payment service
func NewService(store repository.PaymentStore, gateway Gateway, publisher events.Publisher, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		gateway:   gateway,
		publisher: publisher,
		logger:    logger,
	}
}

// Process charges the given amount for an order. A previous non-failed
// attempt for the same order short-circuits, so redelivered requests do
// not double-charge.
func (s *Service) Process(ctx context.Context, orderID, userID string, amountCents int64, method domain.PaymentMethod) (*domain.Payment, error) {
	existing, err := s.store.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list payments", err)
	}

	// Resume an unsettled attempt rather than opening a second one, so a
	// redelivered request never double-charges
	var payment *domain.Payment
	for _, attempt := range existing {
		switch attempt.Status {
		case domain.PaymentCompleted, domain.PaymentRefunded:
			return attempt, nil
		case domain.PaymentPending, domain.PaymentProcessing:
			payment = attempt
		}
	}

	if payment == nil {
		payment, err = domain.NewPayment(orderID, userID, amountCents, method)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrInvalidAmount):
				return nil, apperrors.NewValidationError(err.Error(), "amountCents")
			case errors.Is(err, domain.ErrInvalidPaymentMethod):
				return nil, apperrors.NewValidationError(err.Error(), "method")
			}
			return nil, apperrors.NewInternalError("payment creation failed", err)
		}
		if err := s.store.Create(ctx, payment); err != nil {
			return nil, apperrors.NewDatabaseError("create payment", err)
		}
	}

	if payment.Status == domain.PaymentPending {
		if err := payment.BeginProcessing(); err != nil {
			return nil, apperrors.NewInvalidState(err.Error(), "Payment: "+payment.ID)
		}
		if err := s.store.Update(ctx, payment); err != nil {
			return nil, apperrors.NewDatabaseError("update payment", err)
		}
	}

	result, err := s.gateway.Charge(ctx, payment)
	if err != nil {
		// Provider unreachable. The attempt stays PROCESSING and the
		// caller retries; the order-level dedupe above returns this same
		// attempt on redelivery.
		return nil, apperrors.NewTransientDependency("payment gateway", err)
	}

	if result.Approved {
		err = payment.Complete(result.Response)
	} else {
		err = payment.Fail(result.Response)
	}
	if err != nil {
		return nil, apperrors.NewInvalidState(err.Error(), "Payment: "+payment.ID)
	}
	if err := s.store.Update(ctx, payment); err != nil {
		return nil, apperrors.NewDatabaseError("update payment", err)
	}

	s.publishPayment(ctx, events.PaymentProcessed, payment)

	s.logger.Info("Payment processed",
		zap.String("payment_id", payment.ID),
		zap.String("order_id", orderID),
		zap.String("status", string(payment.Status)),
		zap.Int64("amount_cents", amountCents),
	)
	return payment, nil
}

// Refund reverses a completed payment
func (s *Service) Refund(ctx context.Context, paymentID string) (*domain.Payment, error) {
	payment, err := s.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if err := payment.Refund(); err != nil {
		return nil, apperrors.NewInvalidState("only completed payments can be refunded",
			"Status: "+string(payment.Status))
	}
	if err := s.store.Update(ctx, payment); err != nil {
		return nil, apperrors.NewDatabaseError("update payment", err)
	}

	s.publishPayment(ctx, events.PaymentRefunded, payment)

	s.logger.Info("Payment refunded",
		zap.String("payment_id", paymentID),
		zap.String("order_id", payment.OrderID),
	)
	return payment, nil
}

// Get returns one payment attempt
func (s *Service) Get(ctx context.Context, paymentID string) (*domain.Payment, error) {
	payment, err := s.store.FindByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("payment", paymentID)
		}
		return nil, apperrors.NewDatabaseError("get payment", err)
	}
	return payment, nil
}

// GetByTransactionID returns the attempt carrying the gateway transaction id
func (s *Service) GetByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	payment, err := s.store.FindByTransactionID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("payment", transactionID)
		}
		return nil, apperrors.NewDatabaseError("get payment", err)
	}
	return payment, nil
}

// ListByOrder returns every attempt recorded for an order, oldest first
func (s *Service) ListByOrder(ctx context.Context, orderID string) ([]*domain.Payment, error) {
	payments, err := s.store.FindByOrder(ctx, orderID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list payments", err)
	}
	return payments, nil
}

// ListByUser returns every attempt made by a user, oldest first
func (s *Service) ListByUser(ctx context.Context, userID string) ([]*domain.Payment, error) {
	payments, err := s.store.FindByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list payments", err)
	}
	return payments, nil
}

// List returns every payment attempt
func (s *Service) List(ctx context.Context) ([]*domain.Payment, error) {
	payments, err := s.store.List(ctx)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list payments", err)
	}
	return payments, nil
}

func (s *Service) publishPayment(ctx context.Context, name string, payment *domain.Payment) {
	payload := events.PaymentPayload{
		PaymentID:       payment.ID,
		OrderID:         payment.OrderID,
		UserID:          payment.UserID,
		AmountCents:     payment.AmountCents,
		Method:          string(payment.Method),
		Status:          string(payment.Status),
		TransactionID:   payment.TransactionID,
		GatewayResponse: payment.GatewayResponse,
	}

	envelope, err := events.NewEnvelope(name, payment.OrderID, payload)
	if err != nil {
		s.logger.Error("Failed to build event", zap.String("event", name), zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, envelope); err != nil {
		s.logger.Error("Failed to publish event", zap.String("event", name), zap.Error(err))
	}
}
