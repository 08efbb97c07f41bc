package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"example.com/payment-engine/services/payment/internal/domain"
)

// PaymentRepository определяет интерфейс для работы с платежами в БД.
type PaymentRepository interface {
	// Create создаёт новый платёж.
	Create(ctx context.Context, payment *domain.Payment) error

	// GetByID возвращает платёж по внутреннему ID.
	GetByID(ctx context.Context, id string) (*domain.Payment, error)

	// GetByTransactionID возвращает платёж по transaction_id (orderId в шлюзе).
	GetByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error)

	// GetByPaymentID возвращает платёж по внешнему идентификатору.
	GetByPaymentID(ctx context.Context, paymentID string) (*domain.Payment, error)

	// FindActive возвращает незавершённый платёж (PENDING/PROCESSING) для пары (заказ, метод).
	FindActive(ctx context.Context, orderID string, method domain.PaymentMethod) (*domain.Payment, error)

	// ListByOrder возвращает платежи заказа, новые первыми.
	ListByOrder(ctx context.Context, orderID string) ([]*domain.Payment, error)

	// List возвращает платежи по фильтру с пагинацией и общее количество.
	List(ctx context.Context, filter domain.PaymentFilter, page domain.Page) ([]*domain.Payment, int64, error)

	// UpdateStatusIf применяет переход, только если текущий статус равен change.From.
	// Возвращает false, если статус уже изменён кем-то другим.
	UpdateStatusIf(ctx context.Context, id string, change *domain.StatusChange) (bool, error)

	// ListStale возвращает платежи в статусе status с методом method,
	// не обновлявшиеся с момента before.
	ListStale(ctx context.Context, status domain.PaymentStatus, method domain.PaymentMethod, before time.Time, limit int) ([]*domain.Payment, error)
}

// paymentRepository — GORM реализация PaymentRepository.
type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository создаёт новый репозиторий платежей.
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

// Create создаёт новый платёж.
func (r *paymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	model := paymentModelFromDomain(payment)

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKeyError(err) {
			return domain.ErrDuplicatePayment
		}
		return err
	}

	payment.CreatedAt = model.CreatedAt
	payment.UpdatedAt = model.UpdatedAt
	return nil
}

// GetByID возвращает платёж по внутреннему ID.
func (r *paymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	return r.getBy(ctx, "id = ?", id)
}

// GetByTransactionID возвращает платёж по transaction_id.
func (r *paymentRepository) GetByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	return r.getBy(ctx, "transaction_id = ?", transactionID)
}

// GetByPaymentID возвращает платёж по внешнему идентификатору.
func (r *paymentRepository) GetByPaymentID(ctx context.Context, paymentID string) (*domain.Payment, error) {
	return r.getBy(ctx, "payment_id = ?", paymentID)
}

func (r *paymentRepository) getBy(ctx context.Context, query string, arg any) (*domain.Payment, error) {
	var model PaymentModel

	if err := r.db.WithContext(ctx).
		Where(query, arg).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// FindActive возвращает незавершённый платёж для пары (заказ, метод).
func (r *paymentRepository) FindActive(ctx context.Context, orderID string, method domain.PaymentMethod) (*domain.Payment, error) {
	var model PaymentModel

	err := r.db.WithContext(ctx).
		Where("order_id = ? AND method = ? AND status IN ?", orderID, string(method),
			[]string{string(domain.PaymentStatusPending), string(domain.PaymentStatusProcessing)}).
		Order("created_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// ListByOrder возвращает платежи заказа, новые первыми.
func (r *paymentRepository) ListByOrder(ctx context.Context, orderID string) ([]*domain.Payment, error) {
	var models []PaymentModel

	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	return toDomainPayments(models), nil
}

// List возвращает платежи по фильтру с пагинацией.
func (r *paymentRepository) List(ctx context.Context, filter domain.PaymentFilter, page domain.Page) ([]*domain.Payment, int64, error) {
	page = page.Normalize()

	query := r.db.WithContext(ctx).Model(&PaymentModel{})
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", string(*filter.Status))
	}
	if filter.Method != nil {
		query = query.Where("method = ?", string(*filter.Method))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []*domain.Payment{}, 0, nil
	}

	var models []PaymentModel
	if err := query.
		Order("created_at DESC").
		Offset(page.Offset()).
		Limit(page.Size).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}

	return toDomainPayments(models), total, nil
}

// UpdateStatusIf выполняет условное обновление статуса.
// UPDATE payments SET ... WHERE id = ? AND status = ?; победитель определяется по RowsAffected.
func (r *paymentRepository) UpdateStatusIf(ctx context.Context, id string, change *domain.StatusChange) (bool, error) {
	updates := map[string]interface{}{
		"status":     string(change.To),
		"updated_at": change.At,
	}
	if paidAt := change.PaidAt(); paidAt != nil {
		updates["paid_at"] = *paidAt
	}
	if change.ResponseCode != nil {
		updates["response_code"] = *change.ResponseCode
	}
	if change.ResponseMessage != nil {
		updates["response_message"] = *change.ResponseMessage
	}
	if change.GatewayTransID != nil {
		updates["gateway_trans_id"] = *change.GatewayTransID
	}
	if len(change.RawResponse) > 0 {
		updates["raw_response"] = datatypes.JSON(change.RawResponse)
	}
	if change.PayURL != "" {
		updates["pay_url"] = change.PayURL
	}
	if change.QRCodeURL != "" {
		updates["qr_code_url"] = change.QRCodeURL
	}
	if change.Deeplink != "" {
		updates["deeplink"] = change.Deeplink
	}

	result := r.db.WithContext(ctx).
		Model(&PaymentModel{}).
		Where("id = ? AND status = ?", id, string(change.From)).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}

// ListStale возвращает зависшие платежи для фонового разбора.
func (r *paymentRepository) ListStale(ctx context.Context, status domain.PaymentStatus, method domain.PaymentMethod, before time.Time, limit int) ([]*domain.Payment, error) {
	var models []PaymentModel

	if err := r.db.WithContext(ctx).
		Where("status = ? AND method = ? AND updated_at < ?", string(status), string(method), before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	return toDomainPayments(models), nil
}

func toDomainPayments(models []PaymentModel) []*domain.Payment {
	payments := make([]*domain.Payment, 0, len(models))
	for i := range models {
		payments = append(payments, models[i].toDomain())
	}
	return payments
}

// isDuplicateKeyError проверяет, является ли ошибка дубликатом ключа.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(errMsg, "Duplicate entry") ||
		strings.Contains(errMsg, "1062")
}
