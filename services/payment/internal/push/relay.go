package push

import (
	"context"
	"fmt"

	"example.com/payment-engine/pkg/events"
	"example.com/payment-engine/pkg/kafka"
	"example.com/payment-engine/pkg/logger"
	"example.com/payment-engine/pkg/metrics"
)

// MessageSender — отправка сообщения в Kafka.
type MessageSender interface {
	SendMessage(ctx context.Context, msg *kafka.Message) error
}

// KafkaPusher публикует push-сообщения в общий топик,
// откуда их забирает Relay каждого экземпляра.
type KafkaPusher struct {
	producer MessageSender
	topic    string
}

// NewKafkaPusher создаёт Pusher поверх Kafka.
func NewKafkaPusher(producer MessageSender) *KafkaPusher {
	return &KafkaPusher{producer: producer, topic: kafka.TopicNotificationPush}
}

// Push сериализует сообщение и отправляет его с ключом user_id.
func (p *KafkaPusher) Push(ctx context.Context, msg *events.PushMessage) error {
	data, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("ошибка сериализации push-сообщения: %w", err)
	}

	err = p.producer.SendMessage(ctx, &kafka.Message{
		Topic: p.topic,
		Key:   []byte(msg.UserID),
		Value: data,
		Headers: map[string]string{
			kafka.HeaderEventType: string(msg.Type),
		},
	})
	if err != nil {
		metrics.RecordPush(string(msg.Type), outcomeFailed)
		return fmt.Errorf("ошибка публикации push-сообщения: %w", err)
	}

	metrics.RecordPush(string(msg.Type), outcomeRelayed)
	return nil
}

// Relay читает топик push-сообщений и доставляет их локальным подписчикам.
type Relay struct {
	hub *Hub
}

// NewRelay создаёт ретранслятор для реестра hub.
func NewRelay(hub *Hub) *Relay {
	return &Relay{hub: hub}
}

// Handle — обработчик сообщения Kafka.
func (r *Relay) Handle(ctx context.Context, msg *kafka.Message) error {
	pm, err := events.PushMessageFromJSON(msg.Value)
	if err != nil {
		return fmt.Errorf("некорректное push-сообщение: %w", err)
	}
	if pm.UserID == "" {
		logger.Warn().Str("key", string(msg.Key)).Msg("Push-сообщение без user_id пропущено")
		return nil
	}
	return r.hub.Push(ctx, pm)
}

// Run читает сообщения до отмены context.
func (r *Relay) Run(ctx context.Context, consumer *kafka.Consumer) error {
	return consumer.Consume(ctx, r.Handle)
}
