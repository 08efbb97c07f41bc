package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/payment-engine/services/payment/internal/domain"
	"example.com/payment-engine/services/payment/internal/middleware"
	"example.com/payment-engine/services/payment/internal/service"
)

// OrderHandler — обработчик операций над заказом.
type OrderHandler struct {
	orders    OrderService
	adminRole string
}

// NewOrderHandler создаёт обработчик заказов.
func NewOrderHandler(orders OrderService, adminRole string) *OrderHandler {
	return &OrderHandler{orders: orders, adminRole: adminRole}
}

// UpdateOrderStatusRequest — запрос на смену статуса заказа.
type UpdateOrderStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *OrderHandler) actor(c *gin.Context) service.Actor {
	return service.Actor{UserID: middleware.UserID(c), Admin: middleware.IsAdmin(c, h.adminRole)}
}

// Get возвращает заказ.
// GET /api/v1/orders/:id
func (h *OrderHandler) Get(c *gin.Context) {
	order, err := h.orders.Get(c.Request.Context(), h.actor(c), c.Param("id"))
	if err != nil {
		HandleError(c, err, "GetOrder")
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

// Cancel отменяет заказ владельца.
// POST /api/v1/orders/:id/cancel
func (h *OrderHandler) Cancel(c *gin.Context) {
	order, err := h.orders.Cancel(c.Request.Context(), h.actor(c), c.Param("id"))
	if err != nil {
		HandleError(c, err, "CancelOrder")
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

// UpdateStatus меняет статус заказа (администратор).
// PUT /api/v1/admin/orders/:id/status
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	var req UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат запроса: "+err.Error())
		return
	}

	status, ok := domain.ParseOrderStatus(req.Status)
	if !ok {
		badRequest(c, "Неизвестный статус заказа: "+req.Status)
		return
	}

	order, err := h.orders.UpdateStatus(c.Request.Context(), c.Param("id"), status)
	if err != nil {
		HandleError(c, err, "UpdateOrderStatus")
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}
