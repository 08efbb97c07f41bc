package repository

import (
	"context"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"example.com/payment-engine/services/payment/internal/domain"
)

// GatewayEventRepository сохраняет входящие сообщения шлюза.
type GatewayEventRepository interface {
	Record(ctx context.Context, e *domain.GatewayEvent) error
}

type gatewayEventRepository struct {
	db *gorm.DB
}

// NewGatewayEventRepository создаёт журнал сообщений шлюза.
func NewGatewayEventRepository(db *gorm.DB) GatewayEventRepository {
	return &gatewayEventRepository{db: db}
}

func (r *gatewayEventRepository) Record(ctx context.Context, e *domain.GatewayEvent) error {
	payload := e.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	return r.db.WithContext(ctx).Create(&GatewayEventModel{
		ID:             e.ID,
		Gateway:        e.Gateway,
		Kind:           e.Kind,
		TransactionID:  e.TransactionID,
		RequestID:      e.RequestID,
		TransID:        e.TransID,
		ResultCode:     e.ResultCode,
		Payload:        datatypes.JSON(payload),
		SignatureValid: e.SignatureValid,
		Outcome:        e.Outcome,
		CreatedAt:      e.CreatedAt,
	}).Error
}
