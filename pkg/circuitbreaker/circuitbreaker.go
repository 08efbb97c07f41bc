// Package circuitbreaker защищает исходящие вызовы (платёжный шлюз)
// от каскадных сбоев.
//
// Состояния:
//   - Closed: запросы проходят
//   - Open: запросы отклоняются мгновенно, без ожидания timeout
//   - Half-Open: пропускаем часть запросов для проверки восстановления
//
// Использование:
//
//	cb := circuitbreaker.New("momo")
//	err := cb.Execute(ctx, func(ctx context.Context) error { return call(ctx) })
package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"example.com/payment-engine/pkg/logger"
)

var (
	// ErrOpen — breaker открыт, вызов не выполнялся.
	ErrOpen = errors.New("сервис временно недоступен (circuit breaker open)")

	// ErrTooManyRequests — в Half-Open лимит пробных запросов исчерпан.
	ErrTooManyRequests = errors.New("слишком много запросов (circuit breaker half-open)")
)

// Settings — настройки Circuit Breaker.
type Settings struct {
	MaxRequests  uint32        // Запросов в Half-Open
	Interval     time.Duration // Сброс счётчиков в Closed
	Timeout      time.Duration // Время в Open до Half-Open
	FailureRatio float64       // Доля ошибок для перехода в Open
	MinRequests  uint32        // Минимум запросов для расчёта доли

	// IsFailure решает, считать ли ошибку сбоем. nil — любая ошибка.
	IsFailure func(err error) bool
}

// DefaultSettings возвращает настройки по умолчанию.
func DefaultSettings() Settings {
	return Settings{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// Breaker — обёртка над gobreaker с логированием смены состояния.
type Breaker struct {
	cb        *gobreaker.CircuitBreaker[struct{}]
	name      string
	isFailure func(err error) bool
}

// New создаёт Breaker с настройками по умолчанию.
func New(name string) *Breaker {
	return NewWithSettings(name, DefaultSettings())
}

// NewWithSettings создаёт Breaker с заданными настройками.
func NewWithSettings(name string, s Settings) *Breaker {
	isFailure := s.IsFailure
	if isFailure == nil {
		isFailure = func(err error) bool { return err != nil }
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= s.FailureRatio
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			log := logger.With().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Logger()

			switch to {
			case gobreaker.StateOpen:
				log.Warn().Msg("Circuit Breaker ОТКРЫТ — сервис недоступен")
			case gobreaker.StateHalfOpen:
				log.Info().Msg("Circuit Breaker ПОЛУОТКРЫТ — пробуем восстановить")
			case gobreaker.StateClosed:
				log.Info().Msg("Circuit Breaker ЗАКРЫТ — сервис восстановлен")
			}
		},
	})

	return &Breaker{cb: cb, name: name, isFailure: isFailure}
}

// Execute выполняет fn через breaker.
// Ошибки, не признанные сбоем (IsFailure), возвращаются как есть,
// но для breaker считаются успехом.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	var callErr error

	_, cbErr := b.cb.Execute(func() (struct{}, error) {
		callErr = fn(ctx)
		if callErr != nil && b.isFailure(callErr) {
			return struct{}{}, callErr
		}
		return struct{}{}, nil
	})

	switch {
	case errors.Is(cbErr, gobreaker.ErrOpenState):
		return ErrOpen
	case errors.Is(cbErr, gobreaker.ErrTooManyRequests):
		return ErrTooManyRequests
	}
	return callErr
}

// State возвращает текущее состояние.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Name возвращает имя breaker.
func (b *Breaker) Name() string {
	return b.name
}
