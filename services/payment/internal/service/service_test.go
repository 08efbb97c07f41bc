package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/payment-engine/pkg/config"
	"example.com/payment-engine/services/payment/internal/testutil"
)

const (
	userID  = "user-1"
	otherID = "user-2"
)

// fixture — сервисы поверх in-memory хранилища и фейкового шлюза.
type fixture struct {
	store         *testutil.MemStore
	gw            *testutil.FakeGateway
	pusher        *testutil.RecordingPusher
	payments      *PaymentService
	orders        *OrderService
	notifications *NotificationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := testutil.NewMemStore()
	gw := testutil.NewFakeGateway()
	pusher := &testutil.RecordingPusher{}

	notifier := NewNotifier(store, pusher)
	reconciler := NewReconciler(notifier)
	cfg := config.PaymentConfig{
		CreateLockTTL:    time.Second,
		PendingTimeout:   5 * time.Minute,
		ProcessingExpiry: 45 * time.Minute,
	}

	f := &fixture{
		store:         store,
		gw:            gw,
		pusher:        pusher,
		payments:      NewPaymentService(store, gw, nil, notifier, reconciler, cfg),
		orders:        NewOrderService(store, notifier, reconciler),
		notifications: NewNotificationService(store),
	}
	require.NotNil(t, f.payments)
	return f
}

// shiftClock сдвигает часы оркестратора на d вперёд.
func (f *fixture) shiftClock(d time.Duration) {
	f.payments.sm.now = func() time.Time { return time.Now().Add(d) }
}
