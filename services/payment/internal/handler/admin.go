package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/payment-engine/pkg/logger"
	"example.com/payment-engine/services/payment/internal/domain"
	"example.com/payment-engine/services/payment/internal/middleware"
)

// AdminHandler — административные операции над платежами.
type AdminHandler struct {
	payments PaymentService
}

// NewAdminHandler создаёт обработчик администратора.
func NewAdminHandler(payments PaymentService) *AdminHandler {
	return &AdminHandler{payments: payments}
}

// ListPayments возвращает платежи с фильтрами status и method.
// GET /api/v1/admin/payments
func (h *AdminHandler) ListPayments(c *gin.Context) {
	var filter domain.PaymentFilter

	if v := c.Query("status"); v != "" {
		status, ok := domain.ParsePaymentStatus(v)
		if !ok {
			badRequest(c, "Неизвестный статус платежа: "+v)
			return
		}
		filter.Status = &status
	}
	if v := c.Query("method"); v != "" {
		method, ok := domain.ParsePaymentMethod(v)
		if !ok {
			badRequest(c, "Неизвестный метод оплаты: "+v)
			return
		}
		filter.Method = &method
	}
	filter.UserID = c.Query("userId")

	page := pageFromQuery(c)
	items, total, err := h.payments.List(c.Request.Context(), filter, page)
	if err != nil {
		HandleError(c, err, "AdminListPayments")
		return
	}
	c.JSON(http.StatusOK, ListPaymentsResponse{Payments: toPaymentResponses(items), Pagination: pagination(page, total)})
}

// Complete вручную завершает платёж.
// POST /api/v1/admin/payments/:transactionId/complete
func (h *AdminHandler) Complete(c *gin.Context) {
	h.apply(c, "AdminCompletePayment", h.payments.Complete)
}

// Refund возвращает оплату.
// POST /api/v1/admin/payments/:transactionId/refund
func (h *AdminHandler) Refund(c *gin.Context) {
	h.apply(c, "AdminRefundPayment", h.payments.Refund)
}

// Cancel отменяет незавершённый платёж.
// POST /api/v1/admin/payments/:transactionId/cancel
func (h *AdminHandler) Cancel(c *gin.Context) {
	h.apply(c, "AdminCancelPayment", h.payments.Cancel)
}

func (h *AdminHandler) apply(c *gin.Context, method string, action func(ctx context.Context, transactionID string) (*domain.Payment, error)) {
	transactionID := c.Param("transactionId")

	payment, err := action(c.Request.Context(), transactionID)
	if err != nil {
		HandleError(c, err, method)
		return
	}

	log := logger.FromContext(c.Request.Context())
	log.Info().
		Str("admin_id", middleware.UserID(c)).
		Str("transaction_id", transactionID).
		Str("action", method).
		Str("status", string(payment.Status)).
		Msg("Административное действие над платежом")

	c.JSON(http.StatusOK, toPaymentResponse(payment))
}
