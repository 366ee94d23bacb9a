package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus represents the lifecycle state of an order
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderConfirmed OrderStatus = "CONFIRMED"
	OrderShipped   OrderStatus = "SHIPPED"
	OrderDelivered OrderStatus = "DELIVERED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// OrderPaymentStatus tracks the payment outcome recorded on the order itself
type OrderPaymentStatus string

const (
	OrderPaymentPending  OrderPaymentStatus = "PENDING"
	OrderPaymentPaid     OrderPaymentStatus = "PAID"
	OrderPaymentFailed   OrderPaymentStatus = "FAILED"
	OrderPaymentRefunded OrderPaymentStatus = "REFUNDED"
)

// OrderItem is a line item. Owned by and destroyed with its order.
// Amounts are in the smallest currency unit (cents) to avoid floating-point
// rounding in money arithmetic.
type OrderItem struct {
	ID            string
	ProductID     string
	ProductName   string
	Quantity      int
	PriceCents    int64
	SubtotalCents int64
}

// Order is the aggregate root for a customer order and its line items
type Order struct {
	ID              string
	UserID          string
	Items           []OrderItem
	TotalCents      int64
	ShippingAddress string
	BillingAddress  string
	Status          OrderStatus
	PaymentStatus   OrderPaymentStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Version         int
}

// NewOrder builds an order from priced line items, computing each subtotal
// as price x quantity and the total as their sum.
func NewOrder(userID string, items []OrderItem, shippingAddress, billingAddress string) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrEmptyOrder
	}

	var total int64
	for i := range items {
		if items[i].Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		items[i].ID = uuid.New().String()
		items[i].SubtotalCents = items[i].PriceCents * int64(items[i].Quantity)
		total += items[i].SubtotalCents
	}

	now := time.Now().UTC()
	return &Order{
		ID:              uuid.New().String(),
		UserID:          userID,
		Items:           items,
		TotalCents:      total,
		ShippingAddress: shippingAddress,
		BillingAddress:  billingAddress,
		Status:          OrderPending,
		PaymentStatus:   OrderPaymentPending,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}, nil
}

// SetStatus transitions the order status. Setting the current status
// again is a no-op so duplicate deliveries do not churn the version.
func (o *Order) SetStatus(status OrderStatus) {
	if o.Status == status {
		return
	}
	o.Status = status
	o.touch()
}

// SetPaymentStatus records the payment outcome. A PAID outcome confirms
// the order as a side effect. Recording the current outcome again is a
// no-op.
func (o *Order) SetPaymentStatus(status OrderPaymentStatus) {
	if o.PaymentStatus == status {
		return
	}
	o.PaymentStatus = status
	if status == OrderPaymentPaid {
		o.Status = OrderConfirmed
	}
	o.touch()
}

// Cancellable reports whether the order can still be cancelled by the
// customer (payment outcome not yet applied).
func (o *Order) Cancellable() bool {
	return o.Status == OrderPending && o.PaymentStatus == OrderPaymentPending
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
	o.Version++
}

var (
	ErrEmptyOrder     = &DomainError{Message: "order must contain at least one item"}
	ErrNotCancellable = &DomainError{Message: "order can no longer be cancelled"}
)
