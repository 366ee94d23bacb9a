package orders

import (
	"context"
	"errors"
	"time"

	"orderflow/internal/cache"
	"orderflow/internal/domain"
	"orderflow/internal/events"
	"orderflow/internal/repository"
	apperrors "orderflow/pkg/errors"

	"go.uber.org/zap"
)

const casRetries = 3

// ItemRequest is one requested order line before pricing
type ItemRequest struct {
	ProductID string
	Quantity  int
}

// Service owns the order aggregate. Creating an order publishes
// order.created, which starts the reservation saga downstream.
type Service struct {
	store     repository.OrderStore
	catalog   Catalog
	publisher events.Publisher
	cache     cache.Cache
	logger    *zap.Logger
	cacheTTL  time.Duration
}

// NewService wires the order service
func NewService(
	store repository.OrderStore,
	catalog Catalog,
	publisher events.Publisher,
	c cache.Cache,
	logger *zap.Logger,
	cacheTTL time.Duration,
) *Service {
	return &Service{
		store:     store,
		catalog:   catalog,
		publisher: publisher,
		cache:     c,
		logger:    logger,
		cacheTTL:  cacheTTL,
	}
}

// Create prices the requested lines against the catalog and records a
// PENDING order, then announces it
func (s *Service) Create(ctx context.Context, userID string, requests []ItemRequest, shippingAddress, billingAddress string) (*domain.Order, error) {
	if userID == "" {
		return nil, apperrors.NewValidationError("userId is required", "userId")
	}
	if len(requests) == 0 {
		return nil, apperrors.NewValidationError("order must contain at least one item", "items")
	}

	items := make([]domain.OrderItem, 0, len(requests))
	for _, req := range requests {
		if req.Quantity <= 0 {
			return nil, apperrors.NewValidationError("quantity must be positive", "items.quantity")
		}
		product, err := s.catalog.Product(ctx, req.ProductID)
		if err != nil {
			return nil, err
		}
		items = append(items, domain.OrderItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    req.Quantity,
			PriceCents:  product.PriceCents,
		})
	}

	order, err := domain.NewOrder(userID, items, shippingAddress, billingAddress)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error(), "items")
	}

	if err := s.store.Create(ctx, order); err != nil {
		return nil, apperrors.NewDatabaseError("create order", err)
	}

	s.invalidate(ctx, order)
	s.publishOrder(ctx, events.OrderCreated, order, true)

	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("user_id", userID),
		zap.Int64("total_cents", order.TotalCents),
	)
	return order, nil
}

// Get returns one order, read through the cache
func (s *Service) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	key := cacheKey(orderID)

	var cached domain.Order
	if err := cache.GetJSON(ctx, s.cache, key, &cached); err == nil {
		return &cached, nil
	}

	order, err := s.store.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("order", orderID)
		}
		return nil, apperrors.NewDatabaseError("get order", err)
	}

	if err := cache.SetJSON(ctx, s.cache, key, order, s.cacheTTL); err != nil {
		s.logger.Warn("Failed to cache order", zap.String("order_id", orderID), zap.Error(err))
	}
	return order, nil
}

// ListByUser returns a user's orders, oldest first
func (s *Service) ListByUser(ctx context.Context, userID string) ([]*domain.Order, error) {
	orders, err := s.store.FindByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list orders", err)
	}
	return orders, nil
}

// List returns every order, oldest first
func (s *Service) List(ctx context.Context) ([]*domain.Order, error) {
	orders, err := s.store.List(ctx)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list orders", err)
	}
	return orders, nil
}

// UpdateStatus transitions the fulfillment status
func (s *Service) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) (*domain.Order, error) {
	if !validStatus(status) {
		return nil, apperrors.NewValidationError("unknown order status", "status")
	}

	order, changed, err := s.mutate(ctx, orderID, func(o *domain.Order) error {
		o.SetStatus(status)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return order, nil
	}

	s.invalidate(ctx, order)
	s.publishOrder(ctx, events.OrderStatusUpdated, order, false)

	s.logger.Info("Order status updated",
		zap.String("order_id", orderID),
		zap.String("status", string(status)),
	)
	return order, nil
}

// ApplyPaymentOutcome records the payment result on the order. A PAID
// outcome also confirms the order.
func (s *Service) ApplyPaymentOutcome(ctx context.Context, orderID string, status domain.OrderPaymentStatus) (*domain.Order, error) {
	if !validPaymentStatus(status) {
		return nil, apperrors.NewValidationError("unknown payment status", "paymentStatus")
	}

	order, changed, err := s.mutate(ctx, orderID, func(o *domain.Order) error {
		o.SetPaymentStatus(status)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return order, nil
	}

	s.invalidate(ctx, order)
	s.publishOrder(ctx, events.OrderPaymentUpdated, order, false)

	s.logger.Info("Order payment status updated",
		zap.String("order_id", orderID),
		zap.String("payment_status", string(status)),
	)
	return order, nil
}

// Cancel cancels an order that has not progressed past PENDING. The
// cancellation event tells the inventory side to release any hold.
func (s *Service) Cancel(ctx context.Context, orderID string) (*domain.Order, error) {
	if existing, err := s.store.FindByID(ctx, orderID); err == nil && existing.Status == domain.OrderCancelled {
		return existing, nil
	}

	order, changed, err := s.mutate(ctx, orderID, func(o *domain.Order) error {
		if !o.Cancellable() {
			return domain.ErrNotCancellable
		}
		o.SetStatus(domain.OrderCancelled)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return order, nil
	}

	s.invalidate(ctx, order)
	s.publishOrder(ctx, events.OrderCancelled, order, false)

	s.logger.Info("Order cancelled", zap.String("order_id", orderID))
	return order, nil
}

// mutate applies fn to an order under optimistic locking. The returned
// flag reports whether anything was actually written, so callers can skip
// the event for no-op mutations.
func (s *Service) mutate(ctx context.Context, orderID string, fn func(*domain.Order) error) (*domain.Order, bool, error) {
	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		order, err := s.store.FindByID(ctx, orderID)
		if err != nil {
			if errors.Is(err, domain.ErrRecordNotFound) {
				return nil, false, apperrors.NewNotFound("order", orderID)
			}
			return nil, false, apperrors.NewDatabaseError("get order", err)
		}

		loadedVersion := order.Version
		if err := fn(order); err != nil {
			if errors.Is(err, domain.ErrNotCancellable) {
				return nil, false, apperrors.NewInvalidState("order can no longer be cancelled",
					"Status: "+string(order.Status)+", PaymentStatus: "+string(order.PaymentStatus))
			}
			return nil, false, apperrors.NewInternalError("order operation failed", err)
		}
		if order.Version == loadedVersion {
			return order, false, nil
		}

		err = s.store.Update(ctx, order, loadedVersion)
		if err == nil {
			return order, true, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, false, apperrors.NewDatabaseError("update order", err)
		}
		lastErr = err
	}
	return nil, false, apperrors.NewTransientDependency("order store", lastErr)
}

func (s *Service) publishOrder(ctx context.Context, name string, order *domain.Order, withItems bool) {
	payload := events.OrderPayload{
		OrderID:       order.ID,
		UserID:        order.UserID,
		TotalCents:    order.TotalCents,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
	}
	if withItems {
		payload.Items = make([]events.OrderLine, 0, len(order.Items))
		for _, item := range order.Items {
			payload.Items = append(payload.Items, events.OrderLine{
				ProductID:  item.ProductID,
				Quantity:   item.Quantity,
				PriceCents: item.PriceCents,
			})
		}
	}

	envelope, err := events.NewEnvelope(name, order.ID, payload)
	if err != nil {
		s.logger.Error("Failed to build event", zap.String("event", name), zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, envelope); err != nil {
		s.logger.Error("Failed to publish event", zap.String("event", name), zap.Error(err))
	}
}

func (s *Service) invalidate(ctx context.Context, order *domain.Order) {
	if err := s.cache.Delete(ctx, cacheKey(order.ID)); err != nil {
		s.logger.Warn("Failed to invalidate cache", zap.String("order_id", order.ID), zap.Error(err))
	}
}

func cacheKey(orderID string) string {
	return "orders:" + orderID
}

func validStatus(status domain.OrderStatus) bool {
	switch status {
	case domain.OrderPending, domain.OrderConfirmed, domain.OrderShipped,
		domain.OrderDelivered, domain.OrderCancelled:
		return true
	}
	return false
}

func validPaymentStatus(status domain.OrderPaymentStatus) bool {
	switch status {
	case domain.OrderPaymentPending, domain.OrderPaymentPaid,
		domain.OrderPaymentFailed, domain.OrderPaymentRefunded:
		return true
	}
	return false
}
