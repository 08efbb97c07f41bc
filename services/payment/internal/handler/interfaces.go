package handler

import (
	"context"

	"example.com/payment-engine/services/payment/internal/domain"
	"example.com/payment-engine/services/payment/internal/gateway"
	"example.com/payment-engine/services/payment/internal/service"
)

// PaymentService — операции над платежами, нужные обработчикам.
type PaymentService interface {
	Create(ctx context.Context, in service.CreateInput) (*domain.Payment, error)
	HandleCallback(ctx context.Context, cb *gateway.Callback) (*domain.Payment, error)
	HandleReturn(ctx context.Context, in service.ReturnInput) (*domain.Payment, error)

	GetByTransactionID(ctx context.Context, actor service.Actor, transactionID string) (*domain.Payment, error)
	GetByPaymentID(ctx context.Context, actor service.Actor, paymentID string) (*domain.Payment, error)
	ListByOrder(ctx context.Context, actor service.Actor, orderID string) ([]*domain.Payment, error)
	ListMine(ctx context.Context, userID string, page domain.Page) ([]*domain.Payment, int64, error)
	List(ctx context.Context, filter domain.PaymentFilter, page domain.Page) ([]*domain.Payment, int64, error)

	Complete(ctx context.Context, transactionID string) (*domain.Payment, error)
	Refund(ctx context.Context, transactionID string) (*domain.Payment, error)
	Cancel(ctx context.Context, transactionID string) (*domain.Payment, error)
}

// OrderService — операции над заказом.
type OrderService interface {
	Get(ctx context.Context, actor service.Actor, orderID string) (*domain.Order, error)
	Cancel(ctx context.Context, actor service.Actor, orderID string) (*domain.Order, error)
	UpdateStatus(ctx context.Context, orderID string, to domain.OrderStatus) (*domain.Order, error)
}

// NotificationService — центр уведомлений пользователя.
type NotificationService interface {
	List(ctx context.Context, userID string, page domain.Page) ([]*domain.Notification, int64, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

var (
	_ PaymentService      = (*service.PaymentService)(nil)
	_ OrderService        = (*service.OrderService)(nil)
	_ NotificationService = (*service.NotificationService)(nil)
)
