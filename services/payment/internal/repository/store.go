package repository

import (
	"context"

	"gorm.io/gorm"

	"example.com/payment-engine/pkg/outbox"
)

// OutboxWriter — запись событий outbox в текущей транзакции.
type OutboxWriter interface {
	Create(ctx context.Context, record *outbox.Outbox) error
}

// Store объединяет репозитории с общей транзакцией.
// Переход платежа, сверка заказа, уведомления и событие outbox
// пишутся в одной транзакции через Transaction.
type Store interface {
	Payments() PaymentRepository
	Orders() OrderRepository
	Notifications() NotificationRepository
	GatewayEvents() GatewayEventRepository
	Outbox() OutboxWriter

	// Transaction выполняет fn в транзакции БД.
	// Ошибка fn откатывает все изменения.
	Transaction(ctx context.Context, fn func(tx Store) error) error
}

// gormStore — GORM реализация Store.
type gormStore struct {
	db            *gorm.DB
	payments      PaymentRepository
	orders        OrderRepository
	notifications NotificationRepository
	events        GatewayEventRepository
	outbox        outbox.OutboxRepository
}

// NewStore создаёт хранилище поверх подключения к БД.
func NewStore(db *gorm.DB) Store {
	return &gormStore{
		db:            db,
		payments:      NewPaymentRepository(db),
		orders:        NewOrderRepository(db),
		notifications: NewNotificationRepository(db),
		events:        NewGatewayEventRepository(db),
		outbox:        outbox.NewOutboxRepository(db),
	}
}

func (s *gormStore) Payments() PaymentRepository           { return s.payments }
func (s *gormStore) Orders() OrderRepository               { return s.orders }
func (s *gormStore) Notifications() NotificationRepository { return s.notifications }
func (s *gormStore) GatewayEvents() GatewayEventRepository { return s.events }
func (s *gormStore) Outbox() OutboxWriter                  { return s.outbox }

func (s *gormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{
			db:            tx,
			payments:      NewPaymentRepository(tx),
			orders:        NewOrderRepository(tx),
			notifications: NewNotificationRepository(tx),
			events:        NewGatewayEventRepository(tx),
			outbox:        s.outbox.WithTx(tx),
		})
	})
}
