package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"example.com/payment-engine/services/payment/internal/service"
)

// =============================================================================
// Моки
// =============================================================================

type mockPaymentSweeper struct {
	mock.Mock
}

func (m *mockPaymentSweeper) Sweep(ctx context.Context, limit int) (service.SweepResult, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).(service.SweepResult), args.Error(1)
}

type mockNotificationCleaner struct {
	mock.Mock
}

func (m *mockNotificationCleaner) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	args := m.Called(ctx, retention)
	return args.Get(0).(int64), args.Error(1)
}

// =============================================================================
// Тесты
// =============================================================================

func TestNewSweeper_Defaults(t *testing.T) {
	s := NewSweeper(&mockPaymentSweeper{}, nil, SweeperConfig{})
	assert.Equal(t, DefaultSweeperConfig(), s.cfg)
}

func TestSweeper_SweepOnce(t *testing.T) {
	tests := []struct {
		name     string
		result   service.SweepResult
		err      error
		expected service.SweepResult
	}{
		{
			name:     "Закрыты зависшие платежи",
			result:   service.SweepResult{Failed: 2, Cancelled: 1},
			expected: service.SweepResult{Failed: 2, Cancelled: 1},
		},
		{
			name: "Нечего закрывать",
		},
		{
			name:     "Ошибка после частичного прохода",
			result:   service.SweepResult{Failed: 1},
			err:      errors.New("db down"),
			expected: service.SweepResult{Failed: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payments := &mockPaymentSweeper{}
			payments.On("Sweep", mock.Anything, 50).Return(tt.result, tt.err).Once()

			s := NewSweeper(payments, nil, SweeperConfig{BatchSize: 50})
			assert.Equal(t, tt.expected, s.SweepOnce(context.Background()))
			payments.AssertExpectations(t)
		})
	}
}

func TestSweeper_CleanupOnce(t *testing.T) {
	t.Run("Удаление с заданным сроком", func(t *testing.T) {
		cleaner := &mockNotificationCleaner{}
		cleaner.On("Cleanup", mock.Anything, 24*time.Hour).Return(int64(3), nil).Once()

		s := NewSweeper(&mockPaymentSweeper{}, cleaner, SweeperConfig{NotificationRetention: 24 * time.Hour})
		assert.EqualValues(t, 3, s.CleanupOnce(context.Background()))
		cleaner.AssertExpectations(t)
	})

	t.Run("Ошибка очистки", func(t *testing.T) {
		cleaner := &mockNotificationCleaner{}
		cleaner.On("Cleanup", mock.Anything, mock.Anything).Return(int64(0), errors.New("db down")).Once()

		s := NewSweeper(&mockPaymentSweeper{}, cleaner, SweeperConfig{})
		assert.Zero(t, s.CleanupOnce(context.Background()))
	})

	t.Run("Без очистки уведомлений", func(t *testing.T) {
		s := NewSweeper(&mockPaymentSweeper{}, nil, SweeperConfig{})
		assert.Zero(t, s.CleanupOnce(context.Background()))
	})
}

func TestSweeper_Run(t *testing.T) {
	var sweeps atomic.Int32
	payments := &mockPaymentSweeper{}
	payments.On("Sweep", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { sweeps.Add(1) }).
		Return(service.SweepResult{}, nil)

	s := NewSweeper(payments, nil, SweeperConfig{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return sweeps.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Sweeper не остановился после отмены контекста")
	}
}
