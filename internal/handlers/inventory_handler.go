package handlers

import (
	"net/http"
	"strconv"

	"orderflow/internal/domain"
	"orderflow/internal/inventory"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// InventoryHandler exposes the stock ledger over HTTP. The reservation
// endpoints are the administrative path; the saga normally drives
// reservations through events.
type InventoryHandler struct {
	service *inventory.Service
	logger  *zap.Logger
}

// NewInventoryHandler wires the inventory HTTP surface
func NewInventoryHandler(service *inventory.Service, logger *zap.Logger) *InventoryHandler {
	return &InventoryHandler{service: service, logger: logger}
}

// RegisterRoutes mounts the inventory endpoints under /api/v1
func (h *InventoryHandler) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api/v1/inventory")
	{
		api.POST("/items", h.CreateItem)
		api.GET("/items", h.ListItems)
		api.GET("/items/:productId", h.GetItem)
		api.GET("/items/:productId/availability", h.CheckAvailability)
		api.PATCH("/items/:productId/adjust", h.AdjustStock)

		api.POST("/reservations", h.Reserve)
		api.GET("/reservations/:orderId", h.GetReservation)
		api.PATCH("/reservations/:orderId/release", h.Release)
		api.PATCH("/reservations/:orderId/confirm", h.Confirm)
	}
}

// CreateItem handles POST /api/v1/inventory/items
func (h *InventoryHandler) CreateItem(c *gin.Context) {
	var req CreateInventoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := h.service.Create(c.Request.Context(), req.ProductID, *req.Quantity)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, toInventoryResponse(record))
}

// ListItems handles GET /api/v1/inventory/items
func (h *InventoryHandler) ListItems(c *gin.Context) {
	records, err := h.service.List(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	out := make([]InventoryResponse, 0, len(records))
	for _, record := range records {
		out = append(out, toInventoryResponse(record))
	}
	c.JSON(http.StatusOK, out)
}

// GetItem handles GET /api/v1/inventory/items/:productId
func (h *InventoryHandler) GetItem(c *gin.Context) {
	record, err := h.service.Get(c.Request.Context(), c.Param("productId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, toInventoryResponse(record))
}

// CheckAvailability handles GET /api/v1/inventory/items/:productId/availability?quantity=n
func (h *InventoryHandler) CheckAvailability(c *gin.Context) {
	quantity, err := strconv.Atoi(c.DefaultQuery("quantity", "1"))
	if err != nil || quantity < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "quantity must be a positive integer"})
		return
	}

	record, err := h.service.Get(c.Request.Context(), c.Param("productId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"productId":  record.ProductID,
		"requested":  quantity,
		"available":  record.Available(),
		"canReserve": record.CanReserve(quantity),
	})
}

// AdjustStock handles PATCH /api/v1/inventory/items/:productId/adjust
func (h *InventoryHandler) AdjustStock(c *gin.Context) {
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := h.service.Adjust(c.Request.Context(), c.Param("productId"), *req.Delta)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, toInventoryResponse(record))
}

// Reserve handles POST /api/v1/inventory/reservations
func (h *InventoryHandler) Reserve(c *gin.Context) {
	var req ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	lines := make([]domain.ReservationLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, domain.ReservationLine{ProductID: line.ProductID, Quantity: line.Quantity})
	}

	reservation, err := h.service.Reserve(c.Request.Context(), req.OrderID, req.UserID, req.TotalCents, lines)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, toReservationResponse(reservation))
}

// GetReservation handles GET /api/v1/inventory/reservations/:orderId
func (h *InventoryHandler) GetReservation(c *gin.Context) {
	reservation, err := h.service.Reservation(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, toReservationResponse(reservation))
}

// Release handles PATCH /api/v1/inventory/reservations/:orderId/release
func (h *InventoryHandler) Release(c *gin.Context) {
	reservation, err := h.service.Release(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, toReservationResponse(reservation))
}

// Confirm handles PATCH /api/v1/inventory/reservations/:orderId/confirm
func (h *InventoryHandler) Confirm(c *gin.Context) {
	reservation, err := h.service.Confirm(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, toReservationResponse(reservation))
}
