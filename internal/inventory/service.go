package inventory

import (
	"context"
	"errors"
	"sort"
	"time"

	"orderflow/internal/cache"
	"orderflow/internal/domain"
	"orderflow/internal/events"
	"orderflow/internal/repository"
	apperrors "orderflow/pkg/errors"

	"go.uber.org/zap"
)

const casRetries = 3

// Service owns the stock ledger. Every mutation invalidates the read cache
// before the matching event is published, then publishes through the
// outbox-backed publisher.
type Service struct {
	store        repository.InventoryStore
	reservations repository.ReservationStore
	publisher    events.Publisher
	cache        cache.Cache
	logger       *zap.Logger

	reservationTTL time.Duration
	cacheTTL       time.Duration
}

// NewService wires the inventory service
func NewService(
	store repository.InventoryStore,
	reservations repository.ReservationStore,
	publisher events.Publisher,
	c cache.Cache,
	logger *zap.Logger,
	reservationTTL, cacheTTL time.Duration,
) *Service {
	return &Service{
		store:          store,
		reservations:   reservations,
		publisher:      publisher,
		cache:          c,
		logger:         logger,
		reservationTTL: reservationTTL,
		cacheTTL:       cacheTTL,
	}
}

// Create registers a product in the ledger with its opening stock
func (s *Service) Create(ctx context.Context, productID string, initialQuantity int) (*domain.InventoryRecord, error) {
	record, err := domain.NewInventoryRecord(productID, initialQuantity)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error(), "initialQuantity")
	}

	if err := s.store.Create(ctx, record); err != nil {
		if errors.Is(err, domain.ErrRecordExists) {
			return nil, apperrors.NewAlreadyExists("inventory record", productID)
		}
		return nil, apperrors.NewDatabaseError("create inventory", err)
	}

	s.invalidate(ctx, productID)
	s.publishStock(ctx, events.InventoryCreated, record)

	s.logger.Info("Inventory record created",
		zap.String("product_id", productID),
		zap.Int("quantity", initialQuantity),
	)
	return record, nil
}

// Get returns one product's stock, read through the cache
func (s *Service) Get(ctx context.Context, productID string) (*domain.InventoryRecord, error) {
	key := cacheKey(productID)

	var cached domain.InventoryRecord
	if err := cache.GetJSON(ctx, s.cache, key, &cached); err == nil {
		return &cached, nil
	}

	record, err := s.store.FindByProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			return nil, apperrors.NewNotFound("inventory record", productID)
		}
		return nil, apperrors.NewDatabaseError("get inventory", err)
	}

	if err := cache.SetJSON(ctx, s.cache, key, record, s.cacheTTL); err != nil {
		s.logger.Warn("Failed to cache inventory record", zap.String("product_id", productID), zap.Error(err))
	}
	return record, nil
}

// List returns the whole ledger
func (s *Service) List(ctx context.Context) ([]*domain.InventoryRecord, error) {
	records, err := s.store.List(ctx)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list inventory", err)
	}
	return records, nil
}

// Adjust changes on-hand quantity by delta, positive for restock and
// negative for write-off. Reserved stock stays untouchable.
func (s *Service) Adjust(ctx context.Context, productID string, delta int) (*domain.InventoryRecord, error) {
	record, err := s.mutate(ctx, productID, func(r *domain.InventoryRecord) error {
		return r.Adjust(delta)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, productID)
	s.publishStock(ctx, events.InventoryUpdated, record)

	s.logger.Info("Inventory adjusted",
		zap.String("product_id", productID),
		zap.Int("delta", delta),
		zap.Int("quantity", record.Quantity),
	)
	return record, nil
}

// Reserve places an all-or-nothing hold for every line of an order. When a
// line cannot be covered, holds already taken for earlier lines are rolled
// back and a reservation.failed event is published instead.
func (s *Service) Reserve(ctx context.Context, orderID, userID string, totalCents int64, lines []domain.ReservationLine) (*domain.Reservation, error) {
	if existing, err := s.reservations.FindByOrder(ctx, orderID); err == nil {
		// Redelivered request, the original outcome stands
		return existing, nil
	}

	// Deterministic line order keeps concurrent multi-line reservations
	// from interleaving their per-product updates unpredictably
	sorted := make([]domain.ReservationLine, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	var held []domain.ReservationLine
	for _, line := range sorted {
		if _, err := s.mutate(ctx, line.ProductID, func(r *domain.InventoryRecord) error {
			if err := r.Reserve(line.Quantity); err != nil {
				if errors.Is(err, domain.ErrInsufficientStock) {
					return apperrors.NewInsufficientStock(r.ProductID, r.Available(), line.Quantity)
				}
				return err
			}
			return nil
		}); err != nil {
			s.rollbackHolds(ctx, held)
			s.publishReservationFailed(ctx, orderID, line, err)
			return nil, err
		}
		held = append(held, line)
		s.invalidate(ctx, line.ProductID)
	}

	reservation := domain.NewReservation(orderID, sorted, s.reservationTTL)
	if err := s.reservations.Create(ctx, reservation); err != nil {
		if errors.Is(err, domain.ErrDuplicateReservation) {
			// Lost a race with a concurrent duplicate, undo our holds
			s.rollbackHolds(ctx, held)
			return s.reservations.FindByOrder(ctx, orderID)
		}
		s.rollbackHolds(ctx, held)
		return nil, apperrors.NewDatabaseError("create reservation", err)
	}

	s.publishReservation(ctx, events.InventoryReserved, reservation, userID, totalCents)

	s.logger.Info("Stock reserved",
		zap.String("order_id", orderID),
		zap.String("reservation_id", reservation.ID),
		zap.Int("lines", len(sorted)),
	)
	return reservation, nil
}

// Release compensates a reservation, returning held stock to the available
// pool. Releasing an already released reservation is a no-op.
func (s *Service) Release(ctx context.Context, orderID string) (*domain.Reservation, error) {
	return s.resolve(ctx, orderID, events.InventoryReleased, func(reservation *domain.Reservation) (bool, error) {
		switch reservation.Status {
		case domain.ReservationReleased, domain.ReservationExpired:
			return false, nil
		case domain.ReservationConfirmed:
			return false, apperrors.NewInvalidState("reservation already confirmed", "Order: "+orderID)
		}

		for _, line := range reservation.Lines {
			if _, err := s.mutate(ctx, line.ProductID, func(r *domain.InventoryRecord) error {
				return r.Release(line.Quantity)
			}); err != nil {
				return false, err
			}
			s.invalidate(ctx, line.ProductID)
		}
		return true, reservation.Release()
	})
}

// Confirm fulfills a reservation, deducting held stock permanently.
// Confirming twice is a no-op.
func (s *Service) Confirm(ctx context.Context, orderID string) (*domain.Reservation, error) {
	return s.resolve(ctx, orderID, events.InventoryConfirmed, func(reservation *domain.Reservation) (bool, error) {
		switch reservation.Status {
		case domain.ReservationConfirmed:
			return false, nil
		case domain.ReservationReleased, domain.ReservationExpired:
			return false, apperrors.NewInvalidState("reservation no longer active", "Order: "+orderID)
		}

		for _, line := range reservation.Lines {
			if _, err := s.mutate(ctx, line.ProductID, func(r *domain.InventoryRecord) error {
				return r.Confirm(line.Quantity)
			}); err != nil {
				return false, err
			}
			s.invalidate(ctx, line.ProductID)
		}
		return true, reservation.Confirm()
	})
}

// Expire releases the stock of a timed-out reservation and marks it
// EXPIRED. Used by the reservation reaper.
func (s *Service) Expire(ctx context.Context, orderID string) (*domain.Reservation, error) {
	return s.resolve(ctx, orderID, events.InventoryReleased, func(reservation *domain.Reservation) (bool, error) {
		if reservation.Status != domain.ReservationActive {
			return false, nil
		}

		for _, line := range reservation.Lines {
			if _, err := s.mutate(ctx, line.ProductID, func(r *domain.InventoryRecord) error {
				return r.Release(line.Quantity)
			}); err != nil {
				return false, err
			}
			s.invalidate(ctx, line.ProductID)
		}
		return true, reservation.Expire()
	})
}

// ExpiredReservations lists active reservations past their deadline
func (s *Service) ExpiredReservations(ctx context.Context, now time.Time) ([]*domain.Reservation, error) {
	reservations, err := s.reservations.Expired(ctx, now)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list expired reservations", err)
	}
	return reservations, nil
}

// Reservation returns the reservation recorded for an order
func (s *Service) Reservation(ctx context.Context, orderID string) (*domain.Reservation, error) {
	reservation, err := s.reservations.FindByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrReservationNotFound) {
			return nil, apperrors.NewNotFound("reservation", orderID)
		}
		return nil, apperrors.NewDatabaseError("get reservation", err)
	}
	return reservation, nil
}

// resolve loads the order's reservation, applies the resolution and saves
// it. The event is published only when the resolution actually changed
// something, so no-op redeliveries stay silent.
func (s *Service) resolve(ctx context.Context, orderID, eventName string, apply func(*domain.Reservation) (bool, error)) (*domain.Reservation, error) {
	reservation, err := s.reservations.FindByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrReservationNotFound) {
			return nil, apperrors.NewNotFound("reservation", orderID)
		}
		return nil, apperrors.NewDatabaseError("get reservation", err)
	}

	changed, err := apply(reservation)
	if err != nil {
		return nil, err
	}
	if !changed {
		return reservation, nil
	}

	if err := s.reservations.Update(ctx, reservation); err != nil {
		return nil, apperrors.NewDatabaseError("update reservation", err)
	}

	s.publishReservation(ctx, eventName, reservation, "", 0)

	s.logger.Info("Reservation resolved",
		zap.String("order_id", orderID),
		zap.String("status", string(reservation.Status)),
	)
	return reservation, nil
}

// mutate applies fn to a record under optimistic locking, retrying lost
// version races a few times before giving up.
func (s *Service) mutate(ctx context.Context, productID string, fn func(*domain.InventoryRecord) error) (*domain.InventoryRecord, error) {
	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		record, err := s.store.FindByProduct(ctx, productID)
		if err != nil {
			if errors.Is(err, domain.ErrRecordNotFound) {
				return nil, apperrors.NewNotFound("inventory record", productID)
			}
			return nil, apperrors.NewDatabaseError("get inventory", err)
		}

		loadedVersion := record.Version
		if err := fn(record); err != nil {
			return nil, mapDomainError(err, record)
		}

		err = s.store.Update(ctx, record, loadedVersion)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, apperrors.NewDatabaseError("update inventory", err)
		}
		lastErr = err
	}
	return nil, apperrors.NewTransientDependency("inventory store", lastErr)
}

func (s *Service) rollbackHolds(ctx context.Context, held []domain.ReservationLine) {
	for _, line := range held {
		if _, err := s.mutate(ctx, line.ProductID, func(r *domain.InventoryRecord) error {
			return r.Release(line.Quantity)
		}); err != nil {
			s.logger.Error("Failed to roll back partial reservation",
				zap.String("product_id", line.ProductID),
				zap.Int("quantity", line.Quantity),
				zap.Error(err),
			)
			continue
		}
		s.invalidate(ctx, line.ProductID)
	}
}

func (s *Service) publishStock(ctx context.Context, name string, record *domain.InventoryRecord) {
	payload := events.InventoryPayload{
		ProductID: record.ProductID,
		Quantity:  record.Quantity,
		Reserved:  record.Reserved,
		Available: record.Available(),
	}
	s.publish(ctx, name, record.ProductID, payload)
}

func (s *Service) publishReservation(ctx context.Context, name string, reservation *domain.Reservation, userID string, totalCents int64) {
	lines := make([]events.OrderLine, 0, len(reservation.Lines))
	for _, line := range reservation.Lines {
		lines = append(lines, events.OrderLine{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	payload := events.ReservationPayload{
		ReservationID: reservation.ID,
		OrderID:       reservation.OrderID,
		UserID:        userID,
		TotalCents:    totalCents,
		Lines:         lines,
	}
	s.publish(ctx, name, reservation.OrderID, payload)
}

func (s *Service) publishReservationFailed(ctx context.Context, orderID string, line domain.ReservationLine, cause error) {
	payload := events.ReservationFailedPayload{
		OrderID:   orderID,
		ProductID: line.ProductID,
		Requested: line.Quantity,
		Reason:    cause.Error(),
	}
	if record, err := s.store.FindByProduct(ctx, line.ProductID); err == nil {
		payload.Available = record.Available()
	}
	s.publish(ctx, events.InventoryReservationFailed, orderID, payload)
}

func (s *Service) publish(ctx context.Context, name, key string, payload interface{}) {
	envelope, err := events.NewEnvelope(name, key, payload)
	if err != nil {
		s.logger.Error("Failed to build event", zap.String("event", name), zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, envelope); err != nil {
		s.logger.Error("Failed to publish event", zap.String("event", name), zap.Error(err))
	}
}

func (s *Service) invalidate(ctx context.Context, productID string) {
	if err := s.cache.Delete(ctx, cacheKey(productID)); err != nil {
		s.logger.Warn("Failed to invalidate cache", zap.String("product_id", productID), zap.Error(err))
	}
}

func cacheKey(productID string) string {
	return "inventory:" + productID
}

func mapDomainError(err error, record *domain.InventoryRecord) error {
	var se *apperrors.StandardError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return apperrors.NewInsufficientStock(record.ProductID, record.Available(), 0)
	case errors.Is(err, domain.ErrInvalidQuantity):
		return apperrors.NewValidationError(err.Error(), "quantity")
	case errors.Is(err, domain.ErrInvalidReleaseQuantity),
		errors.Is(err, domain.ErrQuantityBelowReserved):
		return apperrors.NewInvalidState(err.Error(), "Product: "+record.ProductID)
	default:
		return apperrors.NewInternalError("inventory operation failed", err)
	}
}
