package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"example.com/payment-engine/pkg/logger"
	"example.com/payment-engine/services/payment/internal/domain"
	"example.com/payment-engine/services/payment/internal/gateway"
	"example.com/payment-engine/services/payment/internal/middleware"
	"example.com/payment-engine/services/payment/internal/service"
)

// maxCallbackBody — предел тела уведомления шлюза.
const maxCallbackBody = 64 << 10

// PaymentHandler — обработчик платежей.
type PaymentHandler struct {
	payments  PaymentService
	adminRole string
}

// NewPaymentHandler создаёт обработчик платежей.
func NewPaymentHandler(payments PaymentService, adminRole string) *PaymentHandler {
	return &PaymentHandler{payments: payments, adminRole: adminRole}
}

// CreatePaymentRequest — запрос на создание платежа.
type CreatePaymentRequest struct {
	OrderID       string `json:"orderId" binding:"required"`
	PaymentMethod string `json:"paymentMethod" binding:"required"`
	ExtraData     string `json:"extraData"`
	ReturnURL     string `json:"returnUrl" binding:"omitempty,url"`
}

// ListPaymentsResponse — страница платежей.
type ListPaymentsResponse struct {
	Payments   []PaymentResponse  `json:"payments"`
	Pagination PaginationResponse `json:"pagination"`
}

// CallbackAck — ответ шлюзу. HTTP статус всегда 200.
type CallbackAck struct {
	ResultCode int    `json:"resultCode"`
	Message    string `json:"message"`
}

func (h *PaymentHandler) actor(c *gin.Context) service.Actor {
	return service.Actor{UserID: middleware.UserID(c), Admin: middleware.IsAdmin(c, h.adminRole)}
}

// Create создаёт платёж.
// POST /api/v1/payments
func (h *PaymentHandler) Create(c *gin.Context) {
	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Неверный формат запроса: "+err.Error())
		return
	}

	method, ok := domain.ParsePaymentMethod(req.PaymentMethod)
	if !ok {
		badRequest(c, "Неизвестный метод оплаты: "+req.PaymentMethod)
		return
	}

	payment, err := h.payments.Create(c.Request.Context(), service.CreateInput{
		UserID:    middleware.UserID(c),
		OrderID:   req.OrderID,
		Method:    method,
		ExtraData: req.ExtraData,
		ReturnURL: req.ReturnURL,
	})
	if err != nil {
		HandleError(c, err, "CreatePayment")
		return
	}

	c.JSON(http.StatusCreated, toPaymentResponse(payment))
}

// ListMine возвращает платежи текущего пользователя.
// GET /api/v1/payments
func (h *PaymentHandler) ListMine(c *gin.Context) {
	page := pageFromQuery(c)
	items, total, err := h.payments.ListMine(c.Request.Context(), middleware.UserID(c), page)
	if err != nil {
		HandleError(c, err, "ListMyPayments")
		return
	}
	c.JSON(http.StatusOK, ListPaymentsResponse{Payments: toPaymentResponses(items), Pagination: pagination(page, total)})
}

// Get возвращает платёж по transaction_id.
// GET /api/v1/payments/:transactionId
func (h *PaymentHandler) Get(c *gin.Context) {
	payment, err := h.payments.GetByTransactionID(c.Request.Context(), h.actor(c), c.Param("transactionId"))
	if err != nil {
		HandleError(c, err, "GetPayment")
		return
	}
	c.JSON(http.StatusOK, toPaymentResponse(payment))
}

// GetByPaymentID возвращает платёж по внешнему идентификатору.
// GET /api/v1/payments/external/:paymentId
func (h *PaymentHandler) GetByPaymentID(c *gin.Context) {
	payment, err := h.payments.GetByPaymentID(c.Request.Context(), h.actor(c), c.Param("paymentId"))
	if err != nil {
		HandleError(c, err, "GetPaymentByPaymentID")
		return
	}
	c.JSON(http.StatusOK, toPaymentResponse(payment))
}

// ListByOrder возвращает платежи заказа.
// GET /api/v1/orders/:id/payments
func (h *PaymentHandler) ListByOrder(c *gin.Context) {
	items, err := h.payments.ListByOrder(c.Request.Context(), h.actor(c), c.Param("id"))
	if err != nil {
		HandleError(c, err, "ListOrderPayments")
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": toPaymentResponses(items)})
}

// =============================================================================
// Шлюз
// =============================================================================

// MoMoCallback принимает уведомление шлюза (IPN).
// POST /api/v1/payments/momo/callback
//
// Всегда отвечает 200: результат обработки передаётся в теле.
func (h *PaymentHandler) MoMoCallback(c *gin.Context) {
	log := logger.FromContext(c.Request.Context())

	cb, err := parseCallback(c)
	if err != nil {
		log.Warn().Err(err).Msg("Не удалось разобрать уведомление шлюза")
		c.JSON(http.StatusOK, CallbackAck{ResultCode: 1, Message: "Invalid payload"})
		return
	}

	if _, err := h.payments.HandleCallback(c.Request.Context(), cb); err != nil {
		c.JSON(http.StatusOK, CallbackAck{ResultCode: 1, Message: callbackMessage(err)})
		return
	}

	c.JSON(http.StatusOK, CallbackAck{ResultCode: 0, Message: "Success"})
}

// parseCallback читает уведомление из JSON, form или query.
func parseCallback(c *gin.Context) (*gateway.Callback, error) {
	if strings.HasPrefix(c.ContentType(), gin.MIMEJSON) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
		if err != nil {
			return nil, err
		}
		return gateway.CallbackFromJSON(body)
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxCallbackBody)
	if err := c.Request.ParseForm(); err != nil {
		return nil, err
	}
	return gateway.CallbackFromValues(c.Request.Form), nil
}

func callbackMessage(err error) string {
	switch domain.KindOf(err) {
	case domain.KindAuthentication:
		return "Invalid signature"
	case domain.KindNotFound:
		return "Payment not found"
	case domain.KindValidation:
		return "Invalid amount"
	case domain.KindConflict:
		return "Payment already finalized"
	default:
		return "Processing error"
	}
}

// MoMoReturn обрабатывает возврат покупателя со страницы шлюза.
// GET /api/v1/payments/momo/return
func (h *PaymentHandler) MoMoReturn(c *gin.Context) {
	query := c.Request.URL.Query()

	in := service.ReturnInput{
		TransactionID: query.Get("orderId"),
		ResultCode:    query.Get("resultCode"),
		Message:       query.Get("message"),
	}
	if query.Get("signature") != "" {
		in.Callback = gateway.CallbackFromValues(query)
	}

	payment, err := h.payments.HandleReturn(c.Request.Context(), in)
	if err != nil {
		HandleError(c, err, "MoMoReturn")
		return
	}
	c.JSON(http.StatusOK, toPaymentResponse(payment))
}
