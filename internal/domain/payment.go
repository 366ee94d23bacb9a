package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PaymentMethod is the settlement instrument chosen by the customer
type PaymentMethod string

const (
	MethodCreditCard   PaymentMethod = "CREDIT_CARD"
	MethodDebitCard    PaymentMethod = "DEBIT_CARD"
	MethodPaypal       PaymentMethod = "PAYPAL"
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
)

// ValidPaymentMethod reports whether m names a supported method
func ValidPaymentMethod(m PaymentMethod) bool {
	switch m {
	case MethodCreditCard, MethodDebitCard, MethodPaypal, MethodBankTransfer:
		return true
	}
	return false
}

// PaymentStatus is the lifecycle state of a single payment attempt
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentCompleted  PaymentStatus = "COMPLETED"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentRefunded   PaymentStatus = "REFUNDED"
)

// Payment records one settlement attempt against an order. An order may
// accumulate several attempts over time; each is immutable history once
// COMPLETED or FAILED, except for the single REFUNDED transition.
type Payment struct {
	ID              string
	OrderID         string
	UserID          string
	AmountCents     int64
	Method          PaymentMethod
	Status          PaymentStatus
	TransactionID   string
	GatewayResponse string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewPayment creates a pending payment attempt with a generated transaction id
func NewPayment(orderID, userID string, amountCents int64, method PaymentMethod) (*Payment, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	if !ValidPaymentMethod(method) {
		return nil, ErrInvalidPaymentMethod
	}
	now := time.Now().UTC()
	return &Payment{
		ID:            uuid.New().String(),
		OrderID:       orderID,
		UserID:        userID,
		AmountCents:   amountCents,
		Method:        method,
		Status:        PaymentPending,
		TransactionID: fmt.Sprintf("TXN%d", now.UnixMilli()),
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// BeginProcessing marks the attempt as submitted to the gateway
func (p *Payment) BeginProcessing() error {
	if p.Status != PaymentPending {
		return ErrInvalidPaymentState
	}
	p.Status = PaymentProcessing
	p.touch()
	return nil
}

// Complete records a successful settlement
func (p *Payment) Complete(gatewayResponse string) error {
	if p.Status != PaymentProcessing {
		return ErrInvalidPaymentState
	}
	p.Status = PaymentCompleted
	p.GatewayResponse = gatewayResponse
	p.touch()
	return nil
}

// Fail records a declined settlement. A failed payment is a normal business
// outcome, not a fault.
func (p *Payment) Fail(gatewayResponse string) error {
	if p.Status != PaymentProcessing {
		return ErrInvalidPaymentState
	}
	p.Status = PaymentFailed
	p.GatewayResponse = gatewayResponse
	p.touch()
	return nil
}

// Refund transitions a completed payment to REFUNDED
func (p *Payment) Refund() error {
	if p.Status != PaymentCompleted {
		return ErrInvalidPaymentState
	}
	p.Status = PaymentRefunded
	p.GatewayResponse = "Refund processed successfully"
	p.touch()
	return nil
}

func (p *Payment) touch() {
	p.UpdatedAt = time.Now().UTC()
}

var (
	ErrInvalidAmount        = &DomainError{Message: "amount must be positive"}
	ErrInvalidPaymentMethod = &DomainError{Message: "unsupported payment method"}
	ErrInvalidPaymentState  = &DomainError{Message: "invalid payment state for this operation"}
)
