package outbox

import (
	"context"
	"time"

	"example.com/payment-engine/pkg/kafka"
	"example.com/payment-engine/pkg/logger"
)

// KafkaProducer — отправка сообщений в Kafka.
type KafkaProducer interface {
	SendMessage(ctx context.Context, msg *kafka.Message) error
}

// WorkerConfig — настройки OutboxWorker.
type WorkerConfig struct {
	PollInterval time.Duration // Период опроса таблицы
	BatchSize    int           // Записей за один опрос
	MaxRetries   int           // После превышения запись выводится из очереди (dead letter)

	CleanupInterval  time.Duration // Период очистки отправленных записей
	CleanupRetention time.Duration // Срок хранения отправленных записей
}

// DefaultWorkerConfig возвращает конфигурацию по умолчанию.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval:     1 * time.Second,
		BatchSize:        100,
		MaxRetries:       5,
		CleanupInterval:  1 * time.Hour,
		CleanupRetention: 7 * 24 * time.Hour,
	}
}

// OutboxWorker публикует записи outbox в Kafka.
type OutboxWorker struct {
	repo     OutboxRepository
	producer KafkaProducer
	cfg      WorkerConfig
	name     string
}

// NewOutboxWorker создаёт OutboxWorker. name используется в логах.
func NewOutboxWorker(repo OutboxRepository, producer KafkaProducer, cfg WorkerConfig, name string) *OutboxWorker {
	return &OutboxWorker{repo: repo, producer: producer, cfg: cfg, name: name}
}

// Run опрашивает outbox до отмены контекста.
func (w *OutboxWorker) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Str("name", w.name).
		Dur("poll_interval", w.cfg.PollInterval).
		Int("batch_size", w.cfg.BatchSize).
		Msg("Запуск Outbox Worker")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	cleanupInterval := w.cfg.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = time.Hour
	}
	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("name", w.name).Msg("Остановка Outbox Worker")
			return
		case <-ticker.C:
			w.processOutbox(ctx)
		case <-cleanupTicker.C:
			w.cleanupProcessed(ctx)
		}
	}
}

func (w *OutboxWorker) cleanupProcessed(ctx context.Context) {
	log := logger.FromContext(ctx)

	retention := w.cfg.CleanupRetention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}

	deleted, err := w.repo.DeleteProcessedBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		log.Error().Err(err).Str("name", w.name).Msg("Ошибка очистки outbox")
		return
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Str("name", w.name).Msg("Очистка отправленных записей outbox")
	}
}

// processOutbox публикует одну пачку записей.
func (w *OutboxWorker) processOutbox(ctx context.Context) {
	log := logger.FromContext(ctx)

	records, err := w.repo.GetUnprocessed(ctx, w.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Str("name", w.name).Msg("Ошибка чтения outbox")
		return
	}

	for _, record := range records {
		if ctx.Err() != nil {
			return
		}

		if record.RetryCount >= w.cfg.MaxRetries {
			log.Warn().
				Str("outbox_id", record.ID).
				Str("event_type", record.EventType).
				Str("aggregate_id", record.AggregateID).
				Int("retry_count", record.RetryCount).
				Msg("Dead letter: превышен лимит попыток, запись выведена из очереди")

			if err := w.repo.MarkProcessed(ctx, record.ID); err != nil {
				log.Error().Err(err).Str("outbox_id", record.ID).Msg("Ошибка пометки dead letter")
			}
			continue
		}

		if err := w.Publish(ctx, record); err != nil {
			log.Error().
				Err(err).
				Str("outbox_id", record.ID).
				Str("topic", record.Topic).
				Msg("Ошибка публикации записи outbox")
		}
	}
}

// Publish отправляет запись в Kafka и отмечает результат в outbox.
func (w *OutboxWorker) Publish(ctx context.Context, record *Outbox) error {
	headers := make(map[string]string, len(record.Headers)+1)
	for k, v := range record.Headers {
		headers[k] = v
	}
	headers[kafka.HeaderEventType] = record.EventType

	msg := &kafka.Message{
		Topic:   record.Topic,
		Key:     []byte(record.MessageKey),
		Value:   record.Payload,
		Headers: headers,
	}

	if err := w.producer.SendMessage(ctx, msg); err != nil {
		if markErr := w.repo.MarkFailed(ctx, record.ID, err); markErr != nil {
			log := logger.FromContext(ctx)
			log.Error().Err(markErr).Str("outbox_id", record.ID).Msg("Ошибка пометки outbox как failed")
		}
		return err
	}

	if err := w.repo.MarkProcessed(ctx, record.ID); err != nil {
		return err
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Str("outbox_id", record.ID).
		Str("topic", record.Topic).
		Str("event_type", record.EventType).
		Msg("Событие опубликовано в Kafka")
	return nil
}
