package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NotificationType — тип уведомления.
type NotificationType string

const (
	NotificationOrderCreated       NotificationType = "ORDER_CREATED"
	NotificationOrderStatusUpdated NotificationType = "ORDER_STATUS_UPDATED"
	NotificationPaymentSuccessful  NotificationType = "PAYMENT_SUCCESSFUL"
	NotificationPaymentFailed      NotificationType = "PAYMENT_FAILED"
	NotificationSystem             NotificationType = "SYSTEM"
)

const ordersActionURL = "/orders"

// Notification — персистентное уведомление пользователя.
type Notification struct {
	ID        string
	UserID    string
	Type      NotificationType
	Title     string
	Message   string
	OrderID   *string
	ActionURL string
	Metadata  []byte // JSON
	IsRead    bool
	CreatedAt time.Time
	ReadAt    *time.Time
}

func newNotification(userID string, t NotificationType, title, message string, orderID *string, now time.Time) *Notification {
	return &Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		Type:      t,
		Title:     title,
		Message:   message,
		OrderID:   orderID,
		ActionURL: ordersActionURL,
		CreatedAt: now,
	}
}

// NewOrderNotification создаёт уведомление о заказе.
func NewOrderNotification(order *Order, t NotificationType, now time.Time) *Notification {
	var title, message string
	switch t {
	case NotificationOrderCreated:
		title = "Đơn hàng mới được tạo"
		message = fmt.Sprintf("Đơn hàng #%s đã được tạo thành công", order.OrderNumber)
	default:
		t = NotificationOrderStatusUpdated
		title = "Cập nhật trạng thái đơn hàng"
		message = fmt.Sprintf("Đơn hàng #%s đã được cập nhật trạng thái", order.OrderNumber)
	}
	id := order.ID
	return newNotification(order.UserID, t, title, message, &id, now)
}

// NewPaymentNotification создаёт уведомление о результате оплаты.
func NewPaymentNotification(order *Order, succeeded bool, now time.Time) *Notification {
	id := order.ID
	if succeeded {
		return newNotification(order.UserID, NotificationPaymentSuccessful,
			"Thanh toán thành công",
			fmt.Sprintf("Thanh toán cho đơn hàng #%s đã thành công", order.OrderNumber),
			&id, now)
	}
	return newNotification(order.UserID, NotificationPaymentFailed,
		"Thanh toán thất bại",
		fmt.Sprintf("Thanh toán cho đơn hàng #%s đã thất bại", order.OrderNumber),
		&id, now)
}

// MarkRead помечает уведомление прочитанным.
func (n *Notification) MarkRead(now time.Time) {
	if n.IsRead {
		return
	}
	n.IsRead = true
	n.ReadAt = &now
}
