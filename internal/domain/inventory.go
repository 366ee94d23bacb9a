package domain

import (
	"time"
)

// Default advisory replenishment thresholds. Never enforced as hard bounds.
const (
	DefaultMinStockLevel = 10
	DefaultMaxStockLevel = 1000
)

// InventoryRecord is the aggregate root for per-product stock.
// Invariant: 0 <= Reserved <= Quantity after every operation.
type InventoryRecord struct {
	ProductID     string
	Quantity      int
	Reserved      int
	MinStockLevel int
	MaxStockLevel int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Version       int // For optimistic locking
}

// NewInventoryRecord creates a new inventory record with no reservations
func NewInventoryRecord(productID string, initialQuantity int) (*InventoryRecord, error) {
	if initialQuantity < 0 {
		return nil, ErrInvalidQuantity
	}
	now := time.Now().UTC()
	return &InventoryRecord{
		ProductID:     productID,
		Quantity:      initialQuantity,
		Reserved:      0,
		MinStockLevel: DefaultMinStockLevel,
		MaxStockLevel: DefaultMaxStockLevel,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}, nil
}

// Available returns the quantity not held by any reservation
func (r *InventoryRecord) Available() int {
	return r.Quantity - r.Reserved
}

// CanReserve reports whether the requested quantity could be reserved now
func (r *InventoryRecord) CanReserve(quantity int) bool {
	return r.Available() >= quantity
}

// Adjust changes the on-hand quantity by delta (restock or write-off).
// The new quantity may not drop below the currently reserved amount.
func (r *InventoryRecord) Adjust(delta int) error {
	newQuantity := r.Quantity + delta
	if newQuantity < r.Reserved {
		return ErrQuantityBelowReserved
	}
	r.Quantity = newQuantity
	r.touch()
	return nil
}

// Reserve earmarks quantity units for a pending order
func (r *InventoryRecord) Reserve(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if !r.CanReserve(quantity) {
		return ErrInsufficientStock
	}
	r.Reserved += quantity
	r.touch()
	return nil
}

// Release returns reserved units to the available pool. Releasing more
// than is currently reserved is rejected, not clamped.
func (r *InventoryRecord) Release(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if r.Reserved < quantity {
		return ErrInvalidReleaseQuantity
	}
	r.Reserved -= quantity
	r.touch()
	return nil
}

// Confirm fulfills a reservation: stock leaves the warehouse and the
// matching hold is cleared in the same operation.
func (r *InventoryRecord) Confirm(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if r.Reserved < quantity {
		return ErrInvalidReleaseQuantity
	}
	r.Reserved -= quantity
	r.Quantity -= quantity
	r.touch()
	return nil
}

func (r *InventoryRecord) touch() {
	r.UpdatedAt = time.Now().UTC()
	r.Version++
}

// Domain errors
var (
	ErrInsufficientStock      = &DomainError{Message: "insufficient stock available"}
	ErrInvalidQuantity        = &DomainError{Message: "quantity must be positive"}
	ErrInvalidReleaseQuantity = &DomainError{Message: "quantity exceeds tracked reservation"}
	ErrQuantityBelowReserved  = &DomainError{Message: "adjustment would drop quantity below reserved"}
	ErrRecordNotFound         = &DomainError{Message: "record not found"}
	ErrRecordExists           = &DomainError{Message: "record already exists"}
)

// DomainError represents a domain-level error
type DomainError struct {
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}
