package handlers

import (
	"time"

	"orderflow/internal/domain"
	apperrors "orderflow/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorResponse is the error body returned by every endpoint
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// respondError maps any error onto its HTTP status and standard body
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	se := apperrors.AsStandard(err)
	if se.HTTPStatus() >= 500 {
		logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", se.Code),
			zap.Error(err),
		)
	}
	c.JSON(se.HTTPStatus(), ErrorResponse{
		Error:   se.Code,
		Message: se.Message,
		Details: se.Details,
	})
}

// CreateInventoryRequest creates a product's ledger entry
type CreateInventoryRequest struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  *int   `json:"quantity" binding:"required,min=0"`
}

// AdjustRequest changes on-hand quantity by a signed delta
type AdjustRequest struct {
	Delta *int `json:"delta" binding:"required"`
}

// ReservationLineRequest is one product hold in a reservation request
type ReservationLineRequest struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

// ReserveRequest places a hold for every line of an order
type ReserveRequest struct {
	OrderID    string                   `json:"orderId" binding:"required"`
	UserID     string                   `json:"userId"`
	TotalCents int64                    `json:"totalCents"`
	Lines      []ReservationLineRequest `json:"lines" binding:"required,min=1,dive"`
}

// InventoryResponse is the wire shape of a ledger entry
type InventoryResponse struct {
	ProductID string    `json:"productId"`
	Quantity  int       `json:"quantity"`
	Reserved  int       `json:"reserved"`
	Available int       `json:"available"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toInventoryResponse(r *domain.InventoryRecord) InventoryResponse {
	return InventoryResponse{
		ProductID: r.ProductID,
		Quantity:  r.Quantity,
		Reserved:  r.Reserved,
		Available: r.Available(),
		Version:   r.Version,
		UpdatedAt: r.UpdatedAt,
	}
}

// ReservationResponse is the wire shape of a reservation
type ReservationResponse struct {
	ID         string                   `json:"id"`
	OrderID    string                   `json:"orderId"`
	Status     string                   `json:"status"`
	Lines      []ReservationLineRequest `json:"lines"`
	ReservedAt time.Time                `json:"reservedAt"`
	ExpiresAt  time.Time                `json:"expiresAt"`
	ResolvedAt *time.Time               `json:"resolvedAt,omitempty"`
}

func toReservationResponse(r *domain.Reservation) ReservationResponse {
	lines := make([]ReservationLineRequest, 0, len(r.Lines))
	for _, line := range r.Lines {
		lines = append(lines, ReservationLineRequest{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	return ReservationResponse{
		ID:         r.ID,
		OrderID:    r.OrderID,
		Status:     string(r.Status),
		Lines:      lines,
		ReservedAt: r.ReservedAt,
		ExpiresAt:  r.ExpiresAt,
		ResolvedAt: r.ResolvedAt,
	}
}

// OrderItemRequest is one requested order line
type OrderItemRequest struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

// CreateOrderRequest creates an order from requested lines
type CreateOrderRequest struct {
	UserID          string             `json:"userId" binding:"required"`
	Items           []OrderItemRequest `json:"items" binding:"required,min=1,dive"`
	ShippingAddress string             `json:"shippingAddress"`
	BillingAddress  string             `json:"billingAddress"`
}

// UpdateStatusRequest transitions an order's fulfillment status
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdatePaymentStatusRequest records a payment outcome on the order
type UpdatePaymentStatusRequest struct {
	PaymentStatus string `json:"paymentStatus" binding:"required"`
}

// OrderItemResponse is one priced line on the wire
type OrderItemResponse struct {
	ID            string `json:"id"`
	ProductID     string `json:"productId"`
	ProductName   string `json:"productName"`
	Quantity      int    `json:"quantity"`
	PriceCents    int64  `json:"priceCents"`
	SubtotalCents int64  `json:"subtotalCents"`
}

// OrderResponse is the wire shape of an order
type OrderResponse struct {
	ID              string              `json:"id"`
	UserID          string              `json:"userId"`
	Items           []OrderItemResponse `json:"items"`
	TotalCents      int64               `json:"totalCents"`
	ShippingAddress string              `json:"shippingAddress,omitempty"`
	BillingAddress  string              `json:"billingAddress,omitempty"`
	Status          string              `json:"status"`
	PaymentStatus   string              `json:"paymentStatus"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

func toOrderResponse(o *domain.Order) OrderResponse {
	items := make([]OrderItemResponse, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, OrderItemResponse{
			ID:            item.ID,
			ProductID:     item.ProductID,
			ProductName:   item.ProductName,
			Quantity:      item.Quantity,
			PriceCents:    item.PriceCents,
			SubtotalCents: item.SubtotalCents,
		})
	}
	return OrderResponse{
		ID:              o.ID,
		UserID:          o.UserID,
		Items:           items,
		TotalCents:      o.TotalCents,
		ShippingAddress: o.ShippingAddress,
		BillingAddress:  o.BillingAddress,
		Status:          string(o.Status),
		PaymentStatus:   string(o.PaymentStatus),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func toOrderResponses(orders []*domain.Order) []OrderResponse {
	out := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	return out
}

// ProcessPaymentRequest charges an order
type ProcessPaymentRequest struct {
	OrderID     string `json:"orderId" binding:"required"`
	UserID      string `json:"userId" binding:"required"`
	AmountCents int64  `json:"amountCents" binding:"required,min=1"`
	Method      string `json:"method" binding:"required"`
}

// PaymentResponse is the wire shape of a payment attempt
type PaymentResponse struct {
	ID              string    `json:"id"`
	OrderID         string    `json:"orderId"`
	UserID          string    `json:"userId"`
	AmountCents     int64     `json:"amountCents"`
	Method          string    `json:"method"`
	Status          string    `json:"status"`
	TransactionID   string    `json:"transactionId"`
	GatewayResponse string    `json:"gatewayResponse,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func toPaymentResponse(p *domain.Payment) PaymentResponse {
	return PaymentResponse{
		ID:              p.ID,
		OrderID:         p.OrderID,
		UserID:          p.UserID,
		AmountCents:     p.AmountCents,
		Method:          string(p.Method),
		Status:          string(p.Status),
		TransactionID:   p.TransactionID,
		GatewayResponse: p.GatewayResponse,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func toPaymentResponses(payments []*domain.Payment) []PaymentResponse {
	out := make([]PaymentResponse, 0, len(payments))
	for _, p := range payments {
		out = append(out, toPaymentResponse(p))
	}
	return out
}
