package service

import (
	"context"
	"time"

	"example.com/payment-engine/pkg/events"
	"example.com/payment-engine/pkg/logger"
	"example.com/payment-engine/services/payment/internal/domain"
	"example.com/payment-engine/services/payment/internal/push"
	"example.com/payment-engine/services/payment/internal/repository"
)

// notificationView — содержимое NOTIFICATION push-сообщения.
type notificationView struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	OrderID   *string   `json:"orderId,omitempty"`
	ActionURL string    `json:"actionUrl,omitempty"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

// Notifier сохраняет уведомление и отправляет его в real-time канал.
// Запись в БД — источник истины, push выполняется после commit
// и его ошибка ничего не откатывает.
type Notifier struct {
	store  repository.Store
	pusher push.Pusher
}

// NewNotifier создаёт рассыльщик уведомлений.
func NewNotifier(store repository.Store, pusher push.Pusher) *Notifier {
	return &Notifier{store: store, pusher: pusher}
}

// Notify сохраняет одно уведомление и делает одну попытку push.
func (n *Notifier) Notify(ctx context.Context, notification *domain.Notification) (*domain.Notification, error) {
	fx := newEffects()
	err := n.store.Transaction(ctx, func(tx repository.Store) error {
		return n.stage(ctx, tx, notification, fx)
	})
	if err != nil {
		return nil, domain.Classify("notifier.Notify", err)
	}
	n.flush(ctx, fx)
	return notification, nil
}

// stage сохраняет уведомление в транзакции tx и откладывает push до commit.
func (n *Notifier) stage(ctx context.Context, tx repository.Store, notification *domain.Notification, fx *effects) error {
	if err := tx.Notifications().Create(ctx, notification); err != nil {
		return err
	}

	msg, err := events.NewPushMessage(notification.UserID, events.PushNotification, notificationView{
		ID:        notification.ID,
		Type:      string(notification.Type),
		Title:     notification.Title,
		Message:   notification.Message,
		OrderID:   notification.OrderID,
		ActionURL: notification.ActionURL,
		IsRead:    notification.IsRead,
		CreatedAt: notification.CreatedAt,
	})
	if err != nil {
		// Уведомление сохранено, теряется только push.
		log := logger.FromContext(ctx)
		log.Warn().
			Err(err).
			Str("user_id", notification.UserID).
			Str("notification_id", notification.ID).
			Msg("Не удалось сформировать push-сообщение")
		return nil
	}
	fx.push(msg)
	return nil
}

// flush выполняет отложенные push-сообщения. Ошибки только логируются.
func (n *Notifier) flush(ctx context.Context, fx *effects) {
	recordTransitions(fx)

	if n.pusher == nil {
		return
	}
	for _, msg := range fx.pushes {
		if err := n.pusher.Push(ctx, msg); err != nil {
			log := logger.FromContext(ctx)
			log.Warn().
				Err(err).
				Str("user_id", msg.UserID).
				Str("type", string(msg.Type)).
				Msg("Не удалось отправить push-сообщение")
		}
	}
}
