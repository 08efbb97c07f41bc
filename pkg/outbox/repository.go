package outbox

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrOutboxNotFound — запись outbox не найдена.
var ErrOutboxNotFound = errors.New("запись outbox не найдена")

// OutboxRepository определяет методы работы с outbox.
type OutboxRepository interface {
	// Create создаёт запись. Внутри транзакции используйте WithTx.
	Create(ctx context.Context, record *Outbox) error

	// GetUnprocessed возвращает неотправленные записи, сначала с меньшим retry_count.
	GetUnprocessed(ctx context.Context, limit int) ([]*Outbox, error)

	// MarkProcessed помечает запись как отправленную.
	MarkProcessed(ctx context.Context, id string) error

	// MarkFailed увеличивает счётчик ошибок и сохраняет текст ошибки.
	MarkFailed(ctx context.Context, id string, err error) error

	// DeleteProcessedBefore удаляет отправленные записи старше before.
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)

	// WithTx возвращает репозиторий, работающий в транзакции tx.
	WithTx(tx *gorm.DB) OutboxRepository
}

// outboxRepository — GORM реализация.
// aggregateTypes ограничивает выборку воркера; пусто — все записи.
type outboxRepository struct {
	db             *gorm.DB
	aggregateTypes []string
}

// NewOutboxRepository создаёт репозиторий outbox.
func NewOutboxRepository(db *gorm.DB, aggregateTypes ...string) OutboxRepository {
	return &outboxRepository{db: db, aggregateTypes: aggregateTypes}
}

func (r *outboxRepository) WithTx(tx *gorm.DB) OutboxRepository {
	return &outboxRepository{db: tx, aggregateTypes: r.aggregateTypes}
}

func (r *outboxRepository) scoped(ctx context.Context) *gorm.DB {
	q := r.db.WithContext(ctx)
	if len(r.aggregateTypes) > 0 {
		q = q.Where("aggregate_type IN ?", r.aggregateTypes)
	}
	return q
}

func (r *outboxRepository) Create(ctx context.Context, record *Outbox) error {
	model := ModelFromDomain(record)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	record.CreatedAt = model.CreatedAt
	return nil
}

func (r *outboxRepository) GetUnprocessed(ctx context.Context, limit int) ([]*Outbox, error) {
	var models []OutboxModel

	if err := r.scoped(ctx).
		Where("processed_at IS NULL").
		Order("retry_count ASC, created_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	result := make([]*Outbox, len(models))
	for i := range models {
		result[i] = models[i].ToDomain()
	}
	return result, nil
}

func (r *outboxRepository) MarkProcessed(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&OutboxModel{}).
		Where("id = ?", id).
		Update("processed_at", time.Now())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOutboxNotFound
	}
	return nil
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string, err error) error {
	result := r.db.WithContext(ctx).Model(&OutboxModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  err.Error(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOutboxNotFound
	}
	return nil
}

// DeleteProcessedBefore удаляет пачками по 1000, чтобы не держать долгие блокировки.
func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.scoped(ctx).
		Where("processed_at IS NOT NULL AND processed_at < ?", before).
		Limit(1000).
		Delete(&OutboxModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
