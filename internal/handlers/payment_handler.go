package handlers

import (
	"net/http"

	"orderflow/internal/domain"
	"orderflow/internal/payments"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PaymentHandler exposes payment processing over HTTP
type PaymentHandler struct {
	service *payments.Service
	logger  *zap.Logger
}

// NewPaymentHandler wires the payment HTTP surface
func NewPaymentHandler(service *payments.Service, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{service: service, logger: logger}
}

// RegisterRoutes mounts the payment endpoints under /api/v1
func (h *PaymentHandler) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api/v1/payments")
	{
		api.POST("", h.ProcessPayment)
		api.GET("", h.ListPayments)
		api.GET("/:id", h.GetPayment)
		api.GET("/order/:orderId", h.ListOrderPayments)
		api.GET("/user/:userId", h.ListUserPayments)
		api.GET("/transaction/:txnId", h.GetByTransaction)
		api.POST("/:id/refund", h.RefundPayment)
	}
}

// ProcessPayment handles POST /api/v1/payments
func (h *PaymentHandler) ProcessPayment(c *gin.Context) {
	var req ProcessPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payment, err := h.service.Process(c.Request.Context(), req.OrderID, req.UserID, req.AmountCents, domain.PaymentMethod(req.Method))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, toPaymentResponse(payment))
}

// ListPayments handles GET /api/v1/payments
func (h *PaymentHandler) ListPayments(c *gin.Context) {
	list, err := h.service.List(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toPaymentResponses(list))
}

// GetPayment handles GET /api/v1/payments/:id
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	payment, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toPaymentResponse(payment))
}

// ListOrderPayments handles GET /api/v1/payments/order/:orderId
func (h *PaymentHandler) ListOrderPayments(c *gin.Context) {
	list, err := h.service.ListByOrder(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toPaymentResponses(list))
}

// ListUserPayments handles GET /api/v1/payments/user/:userId
func (h *PaymentHandler) ListUserPayments(c *gin.Context) {
	list, err := h.service.ListByUser(c.Request.Context(), c.Param("userId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toPaymentResponses(list))
}

// GetByTransaction handles GET /api/v1/payments/transaction/:txnId
func (h *PaymentHandler) GetByTransaction(c *gin.Context) {
	payment, err := h.service.GetByTransactionID(c.Request.Context(), c.Param("txnId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toPaymentResponse(payment))
}

// RefundPayment handles POST /api/v1/payments/:id/refund
func (h *PaymentHandler) RefundPayment(c *gin.Context) {
	payment, err := h.service.Refund(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toPaymentResponse(payment))
}
