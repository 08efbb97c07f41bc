// Package events содержит типы сообщений, которые движок публикует в Kafka:
// доменные события платежей и заказов (через outbox) и real-time push.
// Единый источник типов для производителей и потребителей.
package events

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// Доменные события (topic payment.events)
// =============================================================================

// Типы событий.
const (
	PaymentStatusChanged = "payment.status_changed"
	OrderStatusChanged   = "order.status_changed"
)

// PaymentEvent — переход статуса платежа.
type PaymentEvent struct {
	PaymentID     string          `json:"payment_id"`
	TransactionID string          `json:"transaction_id"`
	OrderID       string          `json:"order_id"`
	UserID        string          `json:"user_id"`
	Method        string          `json:"method"`
	From          string          `json:"from,omitempty"` // пусто для создания
	To            string          `json:"to"`
	Amount        decimal.Decimal `json:"amount"`
	Source        string          `json:"source"` // webhook / return / admin / delivery / sweeper / create
	Timestamp     time.Time       `json:"timestamp"`
}

// OrderEvent — переход статуса заказа.
type OrderEvent struct {
	OrderID   string    `json:"order_id"`
	UserID    string    `json:"user_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// =============================================================================
// Real-time push (topic notifications.push)
// =============================================================================

// PushType — тип real-time сообщения.
type PushType string

const (
	// PushNotification — новое уведомление пользователя.
	PushNotification PushType = "NOTIFICATION"

	// PushOrderUpdate — изменился заказ пользователя.
	PushOrderUpdate PushType = "ORDER_UPDATE"
)

// Адреса доставки на стороне клиента.
const (
	DestinationNotifications = "/queue/notifications"
	DestinationOrders        = "/queue/orders"
)

// PushMessage — сообщение для доставки подключённому пользователю.
type PushMessage struct {
	UserID      string          `json:"user_id"`
	Type        PushType        `json:"type"`
	Destination string          `json:"destination"`
	Payload     json.RawMessage `json:"payload"`
	Timestamp   time.Time       `json:"timestamp"`
}

// NewPushMessage сериализует payload и заполняет адрес по типу сообщения.
func NewPushMessage(userID string, typ PushType, payload any) (*PushMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	dest := DestinationNotifications
	if typ == PushOrderUpdate {
		dest = DestinationOrders
	}

	return &PushMessage{
		UserID:      userID,
		Type:        typ,
		Destination: dest,
		Payload:     data,
		Timestamp:   time.Now(),
	}, nil
}

// ToJSON сериализует сообщение.
func (m *PushMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// PushMessageFromJSON десериализует сообщение.
func PushMessageFromJSON(data []byte) (*PushMessage, error) {
	var m PushMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
