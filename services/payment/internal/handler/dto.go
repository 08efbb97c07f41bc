package handler

import (
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"example.com/payment-engine/services/payment/internal/domain"
)

// =============================================================================
// Платёж
// =============================================================================

// PaymentResponse — представление платежа в ответе.
type PaymentResponse struct {
	ID              string          `json:"id"`
	PaymentID       string          `json:"paymentId"`
	TransactionID   string          `json:"transactionId"`
	OrderID         string          `json:"orderId"`
	Method          string          `json:"method"`
	Status          string          `json:"status"`
	Amount          decimal.Decimal `json:"amount"`
	PayURL          string          `json:"payUrl,omitempty"`
	QRCodeURL       string          `json:"qrCodeUrl,omitempty"`
	Deeplink        string          `json:"deeplink,omitempty"`
	GatewayTransID  *string         `json:"gatewayTransId,omitempty"`
	ResponseCode    *string         `json:"responseCode,omitempty"`
	ResponseMessage *string         `json:"responseMessage,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	PaidAt          *time.Time      `json:"paidAt,omitempty"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func toPaymentResponse(p *domain.Payment) PaymentResponse {
	return PaymentResponse{
		ID:              p.ID,
		PaymentID:       p.PaymentID,
		TransactionID:   p.TransactionID,
		OrderID:         p.OrderID,
		Method:          string(p.Method),
		Status:          string(p.Status),
		Amount:          p.Amount,
		PayURL:          p.PayURL,
		QRCodeURL:       p.QRCodeURL,
		Deeplink:        p.Deeplink,
		GatewayTransID:  p.GatewayTransID,
		ResponseCode:    p.ResponseCode,
		ResponseMessage: p.ResponseMessage,
		CreatedAt:       p.CreatedAt,
		PaidAt:          p.PaidAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func toPaymentResponses(items []*domain.Payment) []PaymentResponse {
	out := make([]PaymentResponse, 0, len(items))
	for _, p := range items {
		out = append(out, toPaymentResponse(p))
	}
	return out
}

// =============================================================================
// Заказ
// =============================================================================

// OrderResponse — представление заказа в ответе.
type OrderResponse struct {
	ID            string              `json:"id"`
	OrderNumber   string              `json:"orderNumber"`
	UserID        string              `json:"userId"`
	Status        string              `json:"status"`
	TotalAmount   decimal.Decimal     `json:"totalAmount"`
	PaymentMethod string              `json:"paymentMethod"`
	Items         []OrderItemResponse `json:"items"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// OrderItemResponse — позиция заказа в ответе.
type OrderItemResponse struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

func toOrderResponse(o *domain.Order) OrderResponse {
	items := make([]OrderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemResponse{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			Price:       it.Price,
		})
	}
	return OrderResponse{
		ID:            o.ID,
		OrderNumber:   o.OrderNumber,
		UserID:        o.UserID,
		Status:        string(o.Status),
		TotalAmount:   o.TotalAmount,
		PaymentMethod: string(o.PaymentMethod),
		Items:         items,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

// =============================================================================
// Уведомление
// =============================================================================

// NotificationResponse — уведомление в ответе.
type NotificationResponse struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	OrderID   *string    `json:"orderId,omitempty"`
	ActionURL string     `json:"actionUrl,omitempty"`
	IsRead    bool       `json:"isRead"`
	CreatedAt time.Time  `json:"createdAt"`
	ReadAt    *time.Time `json:"readAt,omitempty"`
}

func toNotificationResponses(items []*domain.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(items))
	for _, n := range items {
		out = append(out, NotificationResponse{
			ID:        n.ID,
			Type:      string(n.Type),
			Title:     n.Title,
			Message:   n.Message,
			OrderID:   n.OrderID,
			ActionURL: n.ActionURL,
			IsRead:    n.IsRead,
			CreatedAt: n.CreatedAt,
			ReadAt:    n.ReadAt,
		})
	}
	return out
}

// =============================================================================
// Пагинация
// =============================================================================

// PaginationResponse — информация о пагинации. Страницы с нуля.
type PaginationResponse struct {
	CurrentPage int   `json:"currentPage"`
	PageSize    int   `json:"pageSize"`
	TotalItems  int64 `json:"totalItems"`
	TotalPages  int   `json:"totalPages"`
}

// pageFromQuery читает page и size из query.
func pageFromQuery(c *gin.Context) domain.Page {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "0"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "0"))
	return domain.Page{Page: page, Size: size}.Normalize()
}

func pagination(page domain.Page, total int64) PaginationResponse {
	return PaginationResponse{
		CurrentPage: page.Page,
		PageSize:    page.Size,
		TotalItems:  total,
		TotalPages:  int(math.Ceil(float64(total) / float64(page.Size))),
	}
}
