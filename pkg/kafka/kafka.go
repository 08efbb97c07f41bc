// Package kafka предоставляет обёртки над kafka-go: Producer и Consumer
// с заголовками трассировки и graceful shutdown.
package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/payment-engine/pkg/logger"
)

// Топики движка платежей.
const (
	// TopicPaymentEvents — доменные события платежей и заказов (через outbox).
	TopicPaymentEvents = "payment.events"

	// TopicNotificationPush — real-time сообщения для доставки подключённым пользователям.
	// Каждый экземпляр читает топик своей группой и доставляет своим подписчикам.
	TopicNotificationPush = "notifications.push"

	// TopicDLQ — сообщения, которые не удалось обработать.
	TopicDLQ = "dlq.payment"
)

// Ключи заголовков сообщений.
const (
	HeaderTraceID       = "trace_id"
	HeaderCorrelationID = "correlation_id"
	HeaderTimestamp     = "timestamp"
	HeaderEventType     = "event_type"
)

// Config содержит настройки подключения к Kafka.
type Config struct {
	Brokers []string
}

// Message — сообщение Kafka с метаданными.
type Message struct {
	Key       []byte
	Value     []byte
	Topic     string
	Partition int
	Offset    int64
	Headers   map[string]string
	Time      time.Time
}

// fromKafkaMessage конвертирует kafka.Message в Message.
func fromKafkaMessage(m kafka.Message) *Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}

	return &Message{
		Key:       m.Key,
		Value:     m.Value,
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Headers:   headers,
		Time:      m.Time,
	}
}

// toKafkaMessage конвертирует Message в kafka.Message.
func (m *Message) toKafkaMessage() kafka.Message {
	headers := make([]kafka.Header, 0, len(m.Headers))
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	return kafka.Message{
		Key:     m.Key,
		Value:   m.Value,
		Topic:   m.Topic,
		Headers: headers,
		Time:    m.Time,
	}
}

// withContextHeaders дополняет заголовки trace_id, correlation_id и timestamp,
// если они ещё не заданы.
func (m *Message) withContextHeaders(ctx context.Context) {
	if m.Headers == nil {
		m.Headers = make(map[string]string, 3)
	}
	if _, ok := m.Headers[HeaderTraceID]; !ok {
		if v := logger.TraceIDFromContext(ctx); v != "" {
			m.Headers[HeaderTraceID] = v
		}
	}
	if _, ok := m.Headers[HeaderCorrelationID]; !ok {
		if v := logger.CorrelationIDFromContext(ctx); v != "" {
			m.Headers[HeaderCorrelationID] = v
		}
	}
	if _, ok := m.Headers[HeaderTimestamp]; !ok {
		m.Headers[HeaderTimestamp] = time.Now().UTC().Format(time.RFC3339Nano)
	}
}

// contextFromMessage переносит trace_id и correlation_id из заголовков в context.
func contextFromMessage(ctx context.Context, msg *Message) context.Context {
	return logger.NewContextWithIDs(ctx, msg.Headers[HeaderTraceID], msg.Headers[HeaderCorrelationID])
}
