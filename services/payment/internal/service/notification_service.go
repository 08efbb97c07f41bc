package service

import (
	"context"
	"time"

	"example.com/payment-engine/pkg/logger"
	"example.com/payment-engine/services/payment/internal/domain"
	"example.com/payment-engine/services/payment/internal/repository"
)

// NotificationService — чтение и обслуживание уведомлений пользователя.
type NotificationService struct {
	store repository.Store
	now   func() time.Time
}

// NewNotificationService создаёт сервис уведомлений.
func NewNotificationService(store repository.Store) *NotificationService {
	return &NotificationService{store: store, now: time.Now}
}

// List возвращает уведомления пользователя, новые первыми.
func (s *NotificationService) List(ctx context.Context, userID string, page domain.Page) ([]*domain.Notification, int64, error) {
	items, total, err := s.store.Notifications().ListByUser(ctx, userID, page)
	if err != nil {
		return nil, 0, domain.Classify("notification.List", err)
	}
	return items, total, nil
}

// UnreadCount возвращает число непрочитанных уведомлений.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	n, err := s.store.Notifications().CountUnread(ctx, userID)
	if err != nil {
		return 0, domain.Classify("notification.UnreadCount", err)
	}
	return n, nil
}

// MarkRead отмечает уведомление прочитанным.
func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) error {
	return domain.Classify("notification.MarkRead", s.store.Notifications().MarkRead(ctx, userID, id, s.now()))
}

// MarkAllRead отмечает прочитанными все уведомления пользователя.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.store.Notifications().MarkAllRead(ctx, userID, s.now())
	if err != nil {
		return 0, domain.Classify("notification.MarkAllRead", err)
	}
	return n, nil
}

// Cleanup удаляет прочитанные уведомления старше retention.
func (s *NotificationService) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := s.store.Notifications().DeleteReadBefore(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, domain.Classify("notification.Cleanup", err)
	}
	if n > 0 {
		log := logger.FromContext(ctx)
		log.Info().Int64("deleted", n).Msg("Удалены старые прочитанные уведомления")
	}
	return n, nil
}
