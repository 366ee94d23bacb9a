package handlers

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"orderflow/internal/cache"
	"orderflow/internal/events"
	"orderflow/internal/orders"
	"orderflow/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupOrderRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	catalog := orders.NewStaticCatalog([]orders.Product{
		{ID: "prod-1", Name: "Widget", PriceCents: 1050},
	})
	svc := orders.NewService(repository.NewMemoryOrderStore(), catalog, events.NopPublisher{}, cache.NewInMemoryCache(), zap.NewNop(), time.Minute)

	router := gin.New()
	NewOrderHandler(svc, zap.NewNop()).RegisterRoutes(router)
	return router
}

func createOrder(t *testing.T, router *gin.Engine) OrderResponse {
	t.Helper()
	w := postJSON(t, router, "/api/v1/orders", CreateOrderRequest{
		UserID:          "user-1",
		Items:           []OrderItemRequest{{ProductID: "prod-1", Quantity: 2}},
		ShippingAddress: "1 Main St",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp OrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestCreateOrder(t *testing.T) {
	router := setupOrderRouter(t)

	order := createOrder(t, router)

	assert.NotEmpty(t, order.ID)
	assert.Equal(t, int64(2100), order.TotalCents)
	assert.Equal(t, "PENDING", order.Status)
	assert.Equal(t, "PENDING", order.PaymentStatus)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "Widget", order.Items[0].ProductName)
}

func TestCreateOrder_Error_NoItems(t *testing.T) {
	router := setupOrderRouter(t)

	w := postJSON(t, router, "/api/v1/orders", map[string]interface{}{"userId": "user-1", "items": []interface{}{}})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateOrder_Error_UnknownProduct(t *testing.T) {
	router := setupOrderRouter(t)

	w := postJSON(t, router, "/api/v1/orders", CreateOrderRequest{
		UserID: "user-1",
		Items:  []OrderItemRequest{{ProductID: "ghost", Quantity: 1}},
	})

	require.Equal(t, http.StatusNotFound, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "NotFound", resp.Error)
}

func TestGetOrder(t *testing.T) {
	router := setupOrderRouter(t)
	order := createOrder(t, router)

	w := doJSON(t, router, http.MethodGet, "/api/v1/orders/"+order.ID, nil)

	require.Equal(t, http.StatusOK, w.Code)

	var resp OrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, order.ID, resp.ID)

	w = doJSON(t, router, http.MethodGet, "/api/v1/orders/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListUserOrders(t *testing.T) {
	router := setupOrderRouter(t)
	createOrder(t, router)
	createOrder(t, router)

	w := doJSON(t, router, http.MethodGet, "/api/v1/orders/user/user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp []OrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp, 2)

	w = doJSON(t, router, http.MethodGet, "/api/v1/orders/user/user-2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp)
}

func TestUpdateOrderStatus(t *testing.T) {
	router := setupOrderRouter(t)
	order := createOrder(t, router)

	w := doJSON(t, router, http.MethodPatch, "/api/v1/orders/"+order.ID+"/status", UpdateStatusRequest{Status: "SHIPPED"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp OrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "SHIPPED", resp.Status)

	w = doJSON(t, router, http.MethodPatch, "/api/v1/orders/"+order.ID+"/status", UpdateStatusRequest{Status: "LOST"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdatePaymentStatus(t *testing.T) {
	router := setupOrderRouter(t)
	order := createOrder(t, router)

	w := doJSON(t, router, http.MethodPatch, "/api/v1/orders/"+order.ID+"/payment-status", UpdatePaymentStatusRequest{PaymentStatus: "PAID"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp OrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "PAID", resp.PaymentStatus)
	assert.Equal(t, "CONFIRMED", resp.Status)
}

func TestCancelOrder(t *testing.T) {
	router := setupOrderRouter(t)
	order := createOrder(t, router)

	w := postJSON(t, router, "/api/v1/orders/"+order.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp OrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "CANCELLED", resp.Status)
}

func TestCancelOrder_Error_AfterPayment(t *testing.T) {
	router := setupOrderRouter(t)
	order := createOrder(t, router)

	w := doJSON(t, router, http.MethodPatch, "/api/v1/orders/"+order.ID+"/payment-status", UpdatePaymentStatusRequest{PaymentStatus: "PAID"})
	require.Equal(t, http.StatusOK, w.Code)

	w = postJSON(t, router, "/api/v1/orders/"+order.ID+"/cancel", nil)
	require.Equal(t, http.StatusConflict, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "InvalidState", resp.Error)
}
