package handlers

import (
	"net/http"

	"orderflow/internal/domain"
	"orderflow/internal/orders"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// OrderHandler exposes the order aggregate over HTTP
type OrderHandler struct {
	service *orders.Service
	logger  *zap.Logger
}

// NewOrderHandler wires the order HTTP surface
func NewOrderHandler(service *orders.Service, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{service: service, logger: logger}
}

// RegisterRoutes mounts the order endpoints under /api/v1
func (h *OrderHandler) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api/v1/orders")
	{
		api.POST("", h.CreateOrder)
		api.GET("", h.ListOrders)
		api.GET("/:id", h.GetOrder)
		api.GET("/user/:userId", h.ListUserOrders)
		api.PATCH("/:id/status", h.UpdateStatus)
		api.PATCH("/:id/payment-status", h.UpdatePaymentStatus)
		api.POST("/:id/cancel", h.CancelOrder)
	}
}

// CreateOrder handles POST /api/v1/orders
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	items := make([]orders.ItemRequest, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, orders.ItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	order, err := h.service.Create(c.Request.Context(), req.UserID, items, req.ShippingAddress, req.BillingAddress)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, toOrderResponse(order))
}

// ListOrders handles GET /api/v1/orders
func (h *OrderHandler) ListOrders(c *gin.Context) {
	list, err := h.service.List(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponses(list))
}

// GetOrder handles GET /api/v1/orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

// ListUserOrders handles GET /api/v1/orders/user/:userId
func (h *OrderHandler) ListUserOrders(c *gin.Context) {
	list, err := h.service.ListByUser(c.Request.Context(), c.Param("userId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponses(list))
}

// UpdateStatus handles PATCH /api/v1/orders/:id/status
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.service.UpdateStatus(c.Request.Context(), c.Param("id"), domain.OrderStatus(req.Status))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, toOrderResponse(order))
}

// UpdatePaymentStatus handles PATCH /api/v1/orders/:id/payment-status
func (h *OrderHandler) UpdatePaymentStatus(c *gin.Context) {
	var req UpdatePaymentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.service.ApplyPaymentOutcome(c.Request.Context(), c.Param("id"), domain.OrderPaymentStatus(req.PaymentStatus))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, toOrderResponse(order))
}

// CancelOrder handles POST /api/v1/orders/:id/cancel
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	order, err := h.service.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, toOrderResponse(order))
}
