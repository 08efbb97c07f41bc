// Package service содержит движок платежей: оркестратор жизненного цикла
// платежа, сверку состояния заказа и рассылку уведомлений.
package service

import (
	"context"
	"errors"
	"time"

	"example.com/payment-engine/pkg/events"
	"example.com/payment-engine/pkg/kafka"
	"example.com/payment-engine/pkg/logger"
	"example.com/payment-engine/pkg/metrics"
	"example.com/payment-engine/pkg/outbox"
	"example.com/payment-engine/services/payment/internal/domain"
	"example.com/payment-engine/services/payment/internal/repository"
)

// errLostRace — условное обновление не применилось, статус изменён параллельно.
// Транзакция откатывается, вызывающий перечитывает состояние.
var errLostRace = errors.New("статус изменён параллельной операцией")

// effects — последствия транзакции, выполняемые только после commit:
// push-сообщения и метрики переходов.
type effects struct {
	pushes      []*events.PushMessage
	transitions []*domain.StatusChange
}

func newEffects() *effects {
	return &effects{}
}

func (fx *effects) push(msg *events.PushMessage) {
	if msg != nil {
		fx.pushes = append(fx.pushes, msg)
	}
}

func (fx *effects) transition(c *domain.StatusChange) {
	fx.transitions = append(fx.transitions, c)
}

// =============================================================================
// Outbox события
// =============================================================================

func eventHeaders(ctx context.Context) map[string]string {
	headers := map[string]string{}
	if v := logger.TraceIDFromContext(ctx); v != "" {
		headers[kafka.HeaderTraceID] = v
	}
	if v := logger.CorrelationIDFromContext(ctx); v != "" {
		headers[kafka.HeaderCorrelationID] = v
	}
	return headers
}

// writePaymentEvent пишет событие перехода платежа в outbox текущей транзакции.
// from пустой для создания.
func writePaymentEvent(ctx context.Context, tx repository.Store, p *domain.Payment, from, to domain.PaymentStatus, source domain.Source, at time.Time) error {
	record, err := outbox.NewEvent(
		outbox.AggregatePayment,
		p.ID,
		events.PaymentStatusChanged,
		kafka.TopicPaymentEvents,
		p.OrderID,
		events.PaymentEvent{
			PaymentID:     p.PaymentID,
			TransactionID: p.TransactionID,
			OrderID:       p.OrderID,
			UserID:        p.UserID,
			Method:        string(p.Method),
			From:          string(from),
			To:            string(to),
			Amount:        p.Amount,
			Source:        string(source),
			Timestamp:     at,
		},
		eventHeaders(ctx),
	)
	if err != nil {
		return err
	}
	return tx.Outbox().Create(ctx, record)
}

// writeOrderEvent пишет событие перехода заказа в outbox текущей транзакции.
func writeOrderEvent(ctx context.Context, tx repository.Store, o *domain.Order, from, to domain.OrderStatus, reason string, at time.Time) error {
	record, err := outbox.NewEvent(
		outbox.AggregateOrder,
		o.ID,
		events.OrderStatusChanged,
		kafka.TopicPaymentEvents,
		o.ID,
		events.OrderEvent{
			OrderID:   o.ID,
			UserID:    o.UserID,
			From:      string(from),
			To:        string(to),
			Reason:    reason,
			Timestamp: at,
		},
		eventHeaders(ctx),
	)
	if err != nil {
		return err
	}
	return tx.Outbox().Create(ctx, record)
}

// orderUpdate — содержимое ORDER_UPDATE push-сообщения.
type orderUpdate struct {
	OrderID     string `json:"orderId"`
	OrderNumber string `json:"orderNumber"`
	Status      string `json:"status"`
}

func orderUpdatePush(o *domain.Order) *events.PushMessage {
	msg, err := events.NewPushMessage(o.UserID, events.PushOrderUpdate, orderUpdate{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		Status:      string(o.Status),
	})
	if err != nil {
		return nil
	}
	return msg
}

// recordTransitions пишет метрики применённых переходов.
func recordTransitions(fx *effects) {
	for _, c := range fx.transitions {
		metrics.RecordTransition(string(c.From), string(c.To), string(c.Source))
	}
}
