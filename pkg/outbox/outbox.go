// Package outbox реализует Transactional Outbox: событие пишется в таблицу
// outbox в той же транзакции, что и изменение платежа или заказа,
// а OutboxWorker отдельно публикует записи в Kafka (at-least-once).
package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Типы агрегатов.
const (
	AggregatePayment = "payment"
	AggregateOrder   = "order"
)

// Outbox — запись в таблице outbox.
type Outbox struct {
	ID            string            // UUID записи
	AggregateType string            // payment / order
	AggregateID   string            // ID платежа или заказа
	EventType     string            // Тип события (payment.completed, order.cancelled, ...)
	Topic         string            // Kafka топик
	MessageKey    string            // Ключ партиционирования (order_id)
	Payload       []byte            // JSON payload
	Headers       map[string]string // trace_id, correlation_id
	CreatedAt     time.Time
	ProcessedAt   *time.Time // nil — не отправлена
	RetryCount    int
	LastError     *string
}

// NewEvent сериализует payload и создаёт запись outbox с новым ID.
func NewEvent(aggregateType, aggregateID, eventType, topic, key string, payload any, headers map[string]string) (*Outbox, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации события %s: %w", eventType, err)
	}

	return &Outbox{
		ID:            uuid.New().String(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Topic:         topic,
		MessageKey:    key,
		Payload:       data,
		Headers:       headers,
		CreatedAt:     time.Now(),
	}, nil
}

// HeadersJSON возвращает headers в JSON для БД.
func (o *Outbox) HeadersJSON() ([]byte, error) {
	if o.Headers == nil {
		return nil, nil
	}
	return json.Marshal(o.Headers)
}

// SetHeadersFromJSON восстанавливает headers из JSON.
func (o *Outbox) SetHeadersFromJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &o.Headers)
}
