package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"orderflow/internal/domain"
)

// In-memory stores. They back unit tests and broker-less development runs;
// the durable implementations live in internal/database. All of them hand
// out copies so callers can mutate aggregates without aliasing the store.

// MemoryInventoryStore is an in-memory InventoryStore
type MemoryInventoryStore struct {
	mu      sync.RWMutex
	records map[string]*domain.InventoryRecord
}

// NewMemoryInventoryStore creates an empty in-memory inventory store
func NewMemoryInventoryStore() *MemoryInventoryStore {
	return &MemoryInventoryStore{records: make(map[string]*domain.InventoryRecord)}
}

func (s *MemoryInventoryStore) Create(ctx context.Context, record *domain.InventoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.ProductID]; exists {
		return domain.ErrRecordExists
	}
	s.records[record.ProductID] = cloneInventory(record)
	return nil
}

func (s *MemoryInventoryStore) FindByProduct(ctx context.Context, productID string) (*domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, exists := s.records[productID]
	if !exists {
		return nil, domain.ErrRecordNotFound
	}
	return cloneInventory(record), nil
}

func (s *MemoryInventoryStore) List(ctx context.Context) ([]*domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.InventoryRecord, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, cloneInventory(record))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (s *MemoryInventoryStore) Update(ctx context.Context, record *domain.InventoryRecord, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.records[record.ProductID]
	if !exists {
		return domain.ErrRecordNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}
	s.records[record.ProductID] = cloneInventory(record)
	return nil
}

// MemoryOrderStore is an in-memory OrderStore
type MemoryOrderStore struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
}

// NewMemoryOrderStore creates an empty in-memory order store
func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{orders: make(map[string]*domain.Order)}
}

func (s *MemoryOrderStore) Create(ctx context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[order.ID]; exists {
		return domain.ErrRecordExists
	}
	s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (s *MemoryOrderStore) FindByID(ctx context.Context, orderID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, exists := s.orders[orderID]
	if !exists {
		return nil, domain.ErrRecordNotFound
	}
	return cloneOrder(order), nil
}

func (s *MemoryOrderStore) FindByUser(ctx context.Context, userID string) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Order
	for _, order := range s.orders {
		if order.UserID == userID {
			out = append(out, cloneOrder(order))
		}
	}
	sortOrders(out)
	return out, nil
}

func (s *MemoryOrderStore) List(ctx context.Context) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Order, 0, len(s.orders))
	for _, order := range s.orders {
		out = append(out, cloneOrder(order))
	}
	sortOrders(out)
	return out, nil
}

func (s *MemoryOrderStore) Update(ctx context.Context, order *domain.Order, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.orders[order.ID]
	if !exists {
		return domain.ErrRecordNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}
	s.orders[order.ID] = cloneOrder(order)
	return nil
}

// MemoryPaymentStore is an in-memory PaymentStore
type MemoryPaymentStore struct {
	mu       sync.RWMutex
	payments map[string]*domain.Payment
}

// NewMemoryPaymentStore creates an empty in-memory payment store
func NewMemoryPaymentStore() *MemoryPaymentStore {
	return &MemoryPaymentStore{payments: make(map[string]*domain.Payment)}
}

func (s *MemoryPaymentStore) Create(ctx context.Context, payment *domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.payments[payment.ID]; exists {
		return domain.ErrRecordExists
	}
	s.payments[payment.ID] = clonePayment(payment)
	return nil
}

func (s *MemoryPaymentStore) FindByID(ctx context.Context, paymentID string) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payment, exists := s.payments[paymentID]
	if !exists {
		return nil, domain.ErrRecordNotFound
	}
	return clonePayment(payment), nil
}

func (s *MemoryPaymentStore) FindByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, payment := range s.payments {
		if payment.TransactionID == transactionID {
			return clonePayment(payment), nil
		}
	}
	return nil, domain.ErrRecordNotFound
}

func (s *MemoryPaymentStore) FindByOrder(ctx context.Context, orderID string) ([]*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Payment
	for _, payment := range s.payments {
		if payment.OrderID == orderID {
			out = append(out, clonePayment(payment))
		}
	}
	sortPayments(out)
	return out, nil
}

func (s *MemoryPaymentStore) FindByUser(ctx context.Context, userID string) ([]*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Payment
	for _, payment := range s.payments {
		if payment.UserID == userID {
			out = append(out, clonePayment(payment))
		}
	}
	sortPayments(out)
	return out, nil
}

func (s *MemoryPaymentStore) List(ctx context.Context) ([]*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Payment, 0, len(s.payments))
	for _, payment := range s.payments {
		out = append(out, clonePayment(payment))
	}
	sortPayments(out)
	return out, nil
}

func (s *MemoryPaymentStore) Update(ctx context.Context, payment *domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.payments[payment.ID]; !exists {
		return domain.ErrRecordNotFound
	}
	s.payments[payment.ID] = clonePayment(payment)
	return nil
}

// MemoryReservationStore is an in-memory ReservationStore
type MemoryReservationStore struct {
	mu      sync.RWMutex
	byOrder map[string]*domain.Reservation
}

// NewMemoryReservationStore creates an empty in-memory reservation store
func NewMemoryReservationStore() *MemoryReservationStore {
	return &MemoryReservationStore{byOrder: make(map[string]*domain.Reservation)}
}

func (s *MemoryReservationStore) Create(ctx context.Context, reservation *domain.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byOrder[reservation.OrderID]; exists {
		return domain.ErrDuplicateReservation
	}
	s.byOrder[reservation.OrderID] = cloneReservation(reservation)
	return nil
}

func (s *MemoryReservationStore) FindByOrder(ctx context.Context, orderID string) (*domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reservation, exists := s.byOrder[orderID]
	if !exists {
		return nil, domain.ErrReservationNotFound
	}
	return cloneReservation(reservation), nil
}

func (s *MemoryReservationStore) Update(ctx context.Context, reservation *domain.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byOrder[reservation.OrderID]; !exists {
		return domain.ErrReservationNotFound
	}
	s.byOrder[reservation.OrderID] = cloneReservation(reservation)
	return nil
}

func (s *MemoryReservationStore) Expired(ctx context.Context, now time.Time) ([]*domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Reservation
	for _, reservation := range s.byOrder {
		if reservation.ExpiredAt(now) {
			out = append(out, cloneReservation(reservation))
		}
	}
	return out, nil
}

func cloneInventory(r *domain.InventoryRecord) *domain.InventoryRecord {
	c := *r
	return &c
}

func cloneOrder(o *domain.Order) *domain.Order {
	c := *o
	c.Items = make([]domain.OrderItem, len(o.Items))
	copy(c.Items, o.Items)
	return &c
}

func clonePayment(p *domain.Payment) *domain.Payment {
	c := *p
	return &c
}

func cloneReservation(r *domain.Reservation) *domain.Reservation {
	c := *r
	c.Lines = make([]domain.ReservationLine, len(r.Lines))
	copy(c.Lines, r.Lines)
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}

func sortOrders(orders []*domain.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
}

func sortPayments(payments []*domain.Payment) {
	sort.Slice(payments, func(i, j int) bool {
		if payments[i].CreatedAt.Equal(payments[j].CreatedAt) {
			return payments[i].ID < payments[j].ID
		}
		return payments[i].CreatedAt.Before(payments[j].CreatedAt)
	})
}
