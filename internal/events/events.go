package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Topics carrying the domain events
const (
	TopicOrders    = "order-events"
	TopicInventory = "inventory-events"
	TopicPayments  = "payment-events"
)

// Domain event names. The dot-separated prefix selects the topic.
const (
	OrderCreated        = "order.created"
	OrderStatusUpdated  = "order.status.updated"
	OrderPaymentUpdated = "order.payment.updated"
	OrderCancelled      = "order.cancelled"

	InventoryCheck             = "inventory.check"
	InventoryCreated           = "inventory.created"
	InventoryUpdated           = "inventory.updated"
	InventoryReserved          = "inventory.reserved"
	InventoryReleased          = "inventory.released"
	InventoryConfirmed         = "inventory.confirmed"
	InventoryReservationFailed = "inventory.reservation.failed"

	PaymentProcessed = "payment.processed"
	PaymentRefunded  = "payment.refunded"
)

// TopicFor maps an event name to its topic
func TopicFor(name string) (string, error) {
	switch {
	case strings.HasPrefix(name, "order."):
		return TopicOrders, nil
	case strings.HasPrefix(name, "inventory."):
		return TopicInventory, nil
	case strings.HasPrefix(name, "payment."):
		return TopicPayments, nil
	default:
		return "", fmt.Errorf("unknown event name: %s", name)
	}
}

// Envelope is the wire shape of every domain event. Key is the correlation
// and partition key (orderId for saga events, productId for pure inventory
// events) so delivery stays ordered per aggregate.
type Envelope struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Key        string          `json:"key"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEnvelope wraps a payload for publication
func NewEnvelope(name, key string, payload interface{}) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return Envelope{
		ID:         uuid.New().String(),
		Name:       name,
		Key:        key,
		OccurredAt: time.Now().UTC(),
		Payload:    data,
	}, nil
}

// Decode unmarshals the payload into dest
func (e Envelope) Decode(dest interface{}) error {
	if err := json.Unmarshal(e.Payload, dest); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", e.Name, err)
	}
	return nil
}

// Payload shapes shared by producers and consumers.

// OrderLine is one line item as carried on the wire
type OrderLine struct {
	ProductID  string `json:"productId"`
	Quantity   int    `json:"quantity"`
	PriceCents int64  `json:"priceCents,omitempty"`
}

// OrderPayload accompanies order.* events
type OrderPayload struct {
	OrderID       string      `json:"orderId"`
	UserID        string      `json:"userId"`
	Items         []OrderLine `json:"items,omitempty"`
	TotalCents    int64       `json:"totalCents"`
	Status        string      `json:"status"`
	PaymentStatus string      `json:"paymentStatus"`
}

// InventoryPayload accompanies inventory.created/updated/reserved/released/confirmed
type InventoryPayload struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Reserved  int    `json:"reserved"`
	Available int    `json:"available"`
}

// ReservationPayload is the aggregate acknowledgement keyed by orderId,
// emitted when every line of an order reserved successfully
type ReservationPayload struct {
	ReservationID string      `json:"reservationId"`
	OrderID       string      `json:"orderId"`
	UserID        string      `json:"userId"`
	TotalCents    int64       `json:"totalCents"`
	Lines         []OrderLine `json:"lines"`
}

// ReservationFailedPayload reports the line that could not be reserved
type ReservationFailedPayload struct {
	OrderID   string `json:"orderId"`
	ProductID string `json:"productId"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
	Reason    string `json:"reason"`
}

// PaymentPayload accompanies payment.processed and payment.refunded
type PaymentPayload struct {
	PaymentID       string `json:"paymentId"`
	OrderID         string `json:"orderId"`
	UserID          string `json:"userId"`
	AmountCents     int64  `json:"amountCents"`
	Method          string `json:"method"`
	Status          string `json:"status"`
	TransactionID   string `json:"transactionId"`
	GatewayResponse string `json:"gatewayResponse,omitempty"`
}
