package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"example.com/payment-engine/services/payment/internal/domain"
)

// OrderRepository — часть хранилища заказов, нужная для сверки.
type OrderRepository interface {
	// GetByID возвращает заказ по ID с позициями.
	GetByID(ctx context.Context, id string) (*domain.Order, error)

	// UpdateStatusIf меняет статус, только если текущий равен from.
	UpdateStatusIf(ctx context.Context, id string, from, to domain.OrderStatus) (bool, error)

	// RestoreStock возвращает quantity единиц товара на склад.
	RestoreStock(ctx context.Context, productID string, quantity int) error
}

// orderRepository — GORM реализация OrderRepository.
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository создаёт репозиторий заказов.
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// GetByID возвращает заказ с позициями.
func (r *orderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel

	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// UpdateStatusIf выполняет условное обновление статуса заказа.
func (r *orderRepository) UpdateStatusIf(ctx context.Context, id string, from, to domain.OrderStatus) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&OrderModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Update("status", string(to))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// RestoreStock увеличивает остаток товара атомарным выражением.
func (r *orderRepository) RestoreStock(ctx context.Context, productID string, quantity int) error {
	result := r.db.WithContext(ctx).
		Model(&ProductModel{}).
		Where("id = ?", productID).
		Update("quantity", gorm.Expr("quantity + ?", quantity))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("товар не найден: " + productID)
	}
	return nil
}
