package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"example.com/payment-engine/services/payment/internal/domain"
)

// NotificationRepository определяет интерфейс для работы с уведомлениями.
type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	ListByUser(ctx context.Context, userID string, page domain.Page) ([]*domain.Notification, int64, error)
	CountUnread(ctx context.Context, userID string) (int64, error)

	// MarkRead помечает уведомление пользователя прочитанным.
	// Чужое или несуществующее уведомление — ErrNotificationNotFound.
	MarkRead(ctx context.Context, userID, id string, at time.Time) error

	MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error)

	// DeleteReadBefore удаляет прочитанные уведомления, созданные раньше before.
	DeleteReadBefore(ctx context.Context, before time.Time) (int64, error)
}

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository создаёт репозиторий уведомлений.
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	model := notificationModelFromDomain(n)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	n.CreatedAt = model.CreatedAt
	return nil
}

func (r *notificationRepository) ListByUser(ctx context.Context, userID string, page domain.Page) ([]*domain.Notification, int64, error) {
	page = page.Normalize()
	query := r.db.WithContext(ctx).Model(&NotificationModel{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []*domain.Notification{}, 0, nil
	}

	var models []NotificationModel
	if err := query.
		Order("created_at DESC").
		Offset(page.Offset()).
		Limit(page.Size).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}

	result := make([]*domain.Notification, 0, len(models))
	for i := range models {
		result = append(result, models[i].toDomain())
	}
	return result, total, nil
}

func (r *notificationRepository) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	return count, err
}

func (r *notificationRepository) MarkRead(ctx context.Context, userID, id string, at time.Time) error {
	var model NotificationModel
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.ErrNotificationNotFound
		}
		return err
	}
	if model.IsRead {
		return nil
	}

	return r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]interface{}{"is_read": true, "read_at": at}).Error
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": at})
	return result.RowsAffected, result.Error
}

func (r *notificationRepository) DeleteReadBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("is_read = ? AND created_at < ?", true, before).
		Delete(&NotificationModel{})
	return result.RowsAffected, result.Error
}
