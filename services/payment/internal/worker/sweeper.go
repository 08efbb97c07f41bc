// Package worker содержит фоновые задачи движка платежей.
package worker

import (
	"context"
	"time"

	"example.com/payment-engine/pkg/logger"
	"example.com/payment-engine/services/payment/internal/service"
)

// PaymentSweeper закрывает зависшие платежи.
type PaymentSweeper interface {
	Sweep(ctx context.Context, limit int) (service.SweepResult, error)
}

// NotificationCleaner удаляет старые прочитанные уведомления.
type NotificationCleaner interface {
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

// SweeperConfig — настройки Sweeper.
type SweeperConfig struct {
	Interval  time.Duration // Период проверки зависших платежей
	BatchSize int           // Платежей одного статуса за проход

	CleanupInterval       time.Duration // Период очистки уведомлений
	NotificationRetention time.Duration // Срок хранения прочитанных уведомлений
}

// DefaultSweeperConfig возвращает конфигурацию по умолчанию.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:              time.Minute,
		BatchSize:             100,
		CleanupInterval:       time.Hour,
		NotificationRetention: 30 * 24 * time.Hour,
	}
}

// Sweeper периодически закрывает зависшие платежи и чистит уведомления.
type Sweeper struct {
	payments      PaymentSweeper
	notifications NotificationCleaner
	cfg           SweeperConfig
}

// NewSweeper создаёт Sweeper. notifications может быть nil.
func NewSweeper(payments PaymentSweeper, notifications NotificationCleaner, cfg SweeperConfig) *Sweeper {
	def := DefaultSweeperConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.NotificationRetention <= 0 {
		cfg.NotificationRetention = def.NotificationRetention
	}
	return &Sweeper{payments: payments, notifications: notifications, cfg: cfg}
}

// Run выполняет задачи до отмены контекста.
func (s *Sweeper) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("interval", s.cfg.Interval).
		Int("batch_size", s.cfg.BatchSize).
		Msg("Запуск Sweeper")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(s.cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка Sweeper")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		case <-cleanupTicker.C:
			s.CleanupOnce(ctx)
		}
	}
}

// SweepOnce выполняет один проход по зависшим платежам.
func (s *Sweeper) SweepOnce(ctx context.Context) service.SweepResult {
	log := logger.FromContext(ctx)

	result, err := s.payments.Sweep(ctx, s.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка обработки зависших платежей")
	}
	if result.Failed > 0 || result.Cancelled > 0 {
		log.Info().
			Int("failed", result.Failed).
			Int("cancelled", result.Cancelled).
			Msg("Зависшие платежи закрыты")
	}
	return result
}

// CleanupOnce удаляет прочитанные уведомления старше срока хранения.
func (s *Sweeper) CleanupOnce(ctx context.Context) int64 {
	if s.notifications == nil {
		return 0
	}
	log := logger.FromContext(ctx)

	deleted, err := s.notifications.Cleanup(ctx, s.cfg.NotificationRetention)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка очистки уведомлений")
		return 0
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("Очистка прочитанных уведомлений")
	}
	return deleted
}
