package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/payment-engine/pkg/events"
	"example.com/payment-engine/services/payment/internal/domain"
	"example.com/payment-engine/services/payment/internal/gateway"
	"example.com/payment-engine/services/payment/internal/testutil"
)

// createMoMo создаёт заказ и MoMo платёж в PROCESSING.
func createMoMo(t *testing.T, f *fixture, orderID string, total int64) (*domain.Order, *domain.Payment) {
	t.Helper()

	order := testutil.NewOrder(orderID, userID, domain.MethodMoMo, total)
	f.store.AddOrder(order)

	payment, err := f.payments.Create(context.Background(), CreateInput{
		UserID:  userID,
		OrderID: orderID,
		Method:  domain.MethodMoMo,
	})
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusProcessing, payment.Status)
	return order, payment
}

// =============================================================================
// Create
// =============================================================================

func TestPaymentService_Create_MoMo(t *testing.T) {
	f := newFixture(t)
	_, payment := createMoMo(t, f, "order-1", 100000)

	require.Equal(t, 1, f.gw.CallCount())
	call := f.gw.Calls[0]

	// transaction_id сгенерирован до вызова и ушёл в шлюз как orderId
	assert.Equal(t, payment.TransactionID, call.TransactionID)
	require.NotNil(t, payment.GatewayRequestID)
	assert.Equal(t, *payment.GatewayRequestID, call.RequestID)
	assert.True(t, decimal.NewFromInt(100000).Equal(call.Amount))
	assert.Equal(t, "ORD-order-1", call.OrderNumber)

	assert.Regexp(t, `^MOMO_\d+_[0-9A-F]{4}$`, payment.PaymentID)
	assert.NotEmpty(t, payment.PayURL)
	assert.NotEmpty(t, payment.QRCodeURL)
	assert.NotEmpty(t, payment.Deeplink)
	assert.NotEmpty(t, payment.RawResponse)
	assert.Nil(t, payment.PaidAt)

	// Создание не порождает уведомлений
	assert.Empty(t, f.store.NotificationsOf(userID, ""))
	// PENDING и PROCESSING в outbox
	assert.Len(t, f.store.OutboxRecords(), 2)
}

func TestPaymentService_Create_ReturnsActivePayment(t *testing.T) {
	f := newFixture(t)
	_, first := createMoMo(t, f, "order-1", 100000)

	second, err := f.payments.Create(context.Background(), CreateInput{
		UserID:  userID,
		OrderID: "order-1",
		Method:  domain.MethodMoMo,
	})
	require.NoError(t, err)

	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.Equal(t, 1, f.gw.CallCount())
	assert.Len(t, f.store.AllPayments(), 1)
}

func TestPaymentService_Create_CashOnDelivery(t *testing.T) {
	f := newFixture(t)
	f.store.AddOrder(testutil.NewOrder("order-1", userID, domain.MethodCashOnDelivery, 100000))

	payment, err := f.payments.Create(context.Background(), CreateInput{
		UserID:  userID,
		OrderID: "order-1",
		Method:  domain.MethodCashOnDelivery,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusPending, payment.Status)
	assert.Regexp(t, `^COD_\d+_[0-9A-F]{4}$`, payment.PaymentID)
	assert.Nil(t, payment.GatewayRequestID)
	assert.Zero(t, f.gw.CallCount())
}

func TestPaymentService_Create_GatewayRejected(t *testing.T) {
	f := newFixture(t)
	f.gw.ResultCode = 1005
	f.gw.Message = "Transaction failed because the url or QR code expired."
	f.store.AddOrder(testutil.NewOrder("order-1", userID, domain.MethodMoMo, 100000))

	payment, err := f.payments.Create(context.Background(), CreateInput{
		UserID:  userID,
		OrderID: "order-1",
		Method:  domain.MethodMoMo,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusFailed, payment.Status)
	require.NotNil(t, payment.ResponseCode)
	assert.Equal(t, "1005", *payment.ResponseCode)
	assert.Empty(t, payment.PayURL)
	assert.Empty(t, f.store.NotificationsOf(userID, ""))

	// Следующая попытка создаёт новый платёж
	f.gw.ResultCode = 0
	retry, err := f.payments.Create(context.Background(), CreateInput{
		UserID:  userID,
		OrderID: "order-1",
		Method:  domain.MethodMoMo,
	})
	require.NoError(t, err)
	assert.NotEqual(t, payment.TransactionID, retry.TransactionID)
	assert.Equal(t, domain.PaymentStatusProcessing, retry.Status)
}

func TestPaymentService_Create_GatewayUnavailable(t *testing.T) {
	f := newFixture(t)
	f.gw.Err = errors.Join(domain.ErrGatewayUnavailable, errors.New("context deadline exceeded"))
	f.store.AddOrder(testutil.NewOrder("order-1", userID, domain.MethodMoMo, 100000))

	payment, err := f.payments.Create(context.Background(), CreateInput{
		UserID:  userID,
		OrderID: "order-1",
		Method:  domain.MethodMoMo,
	})
	require.Error(t, err)
	assert.Nil(t, payment)
	assert.Equal(t, domain.KindUpstream, domain.KindOf(err))

	stored := f.store.AllPayments()
	require.Len(t, stored, 1)
	assert.Equal(t, domain.PaymentStatusFailed, stored[0].Status)
	assert.Equal(t, domain.OrderStatusPending, f.store.Order("order-1").Status)
}

func TestPaymentService_Create_Errors(t *testing.T) {
	tests := []struct {
		name  string
		order *domain.Order
		input CreateInput
		kind  domain.Kind
		err   error
	}{
		{
			name:  "unknown order",
			input: CreateInput{UserID: userID, OrderID: "missing", Method: domain.MethodMoMo},
			kind:  domain.KindNotFound,
			err:   domain.ErrOrderNotFound,
		},
		{
			name:  "another user's order",
			order: testutil.NewOrder("order-1", otherID, domain.MethodMoMo, 100000),
			input: CreateInput{UserID: userID, OrderID: "order-1", Method: domain.MethodMoMo},
			kind:  domain.KindNotFound,
			err:   domain.ErrOrderNotFound,
		},
		{
			name:  "missing order id",
			input: CreateInput{UserID: userID, Method: domain.MethodMoMo},
			kind:  domain.KindValidation,
		},
		{
			name:  "unknown method",
			order: testutil.NewOrder("order-1", userID, domain.MethodMoMo, 100000),
			input: CreateInput{UserID: userID, OrderID: "order-1", Method: "CRYPTO"},
			kind:  domain.KindValidation,
			err:   domain.ErrInvalidMethod,
		},
		{
			name: "fractional amount for gateway",
			order: func() *domain.Order {
				o := testutil.NewOrder("order-1", userID, domain.MethodMoMo, 0)
				o.TotalAmount = decimal.RequireFromString("100000.50")
				return o
			}(),
			input: CreateInput{UserID: userID, OrderID: "order-1", Method: domain.MethodMoMo},
			kind:  domain.KindValidation,
		},
		{
			name: "cancelled order",
			order: func() *domain.Order {
				o := testutil.NewOrder("order-1", userID, domain.MethodMoMo, 100000)
				o.Status = domain.OrderStatusCancelled
				return o
			}(),
			input: CreateInput{UserID: userID, OrderID: "order-1", Method: domain.MethodMoMo},
			kind:  domain.KindConflict,
			err:   domain.ErrOrderNotPayable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.order != nil {
				f.store.AddOrder(tt.order)
			}

			payment, err := f.payments.Create(context.Background(), tt.input)
			require.Error(t, err)
			assert.Nil(t, payment)
			assert.Equal(t, tt.kind, domain.KindOf(err))
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			}
			assert.Empty(t, f.store.AllPayments())
			assert.Zero(t, f.gw.CallCount())
		})
	}
}

func TestPaymentService_Create_OrderAlreadyPaid(t *testing.T) {
	f := newFixture(t)
	_, payment := createMoMo(t, f, "order-1", 100000)

	_, err := f.payments.HandleCallback(context.Background(), testutil.SignedCallback(payment, 0))
	require.NoError(t, err)

	_, err = f.payments.Create(context.Background(), CreateInput{
		UserID:  userID,
		OrderID: "order-1",
		Method:  domain.MethodBankTransfer,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOrderAlreadyPaid)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
}

// =============================================================================
// Webhook
// =============================================================================

func TestPaymentService_HandleCallback_Success(t *testing.T) {
	f := newFixture(t)
	_, payment := createMoMo(t, f, "order-1", 100000)

	updated, err := f.payments.HandleCallback(context.Background(), testutil.SignedCallback(payment, 0))
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusCompleted, updated.Status)
	require.NotNil(t, updated.PaidAt)
	require.NotNil(t, updated.GatewayTransID)
	assert.Equal(t, "4088878653", *updated.GatewayTransID)
	assert.Equal(t, domain.OrderStatusConfirmed, f.store.Order("order-1").Status)

	assert.Len(t, f.store.NotificationsOf(userID, domain.NotificationPaymentSuccessful), 1)
	assert.Equal(t, 1, f.pusher.Count(events.PushNotification))
	assert.Equal(t, 1, f.pusher.Count(events.PushOrderUpdate))

	recorded := f.store.RecordedEvents()
	require.Len(t, recorded, 1)
	assert.Equal(t, domain.EventOutcomeApplied, recorded[0].Outcome)
	assert.True(t, recorded[0].SignatureValid)
}

func TestPaymentService_HandleCallback_Idempotent(t *testing.T) {
	f := newFixture(t)
	_, payment := createMoMo(t, f, "order-1", 100000)
	cb := testutil.SignedCallback(payment, 0)

	first, err := f.payments.HandleCallback(context.Background(), cb)
	require.NoError(t, err)
	second, err := f.payments.HandleCallback(context.Background(), cb)
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusCompleted, second.Status)
	assert.Equal(t, first.PaidAt, second.PaidAt)
	assert.Len(t, f.store.NotificationsOf(userID, ""), 1)
	assert.Equal(t, 1, f.pusher.Count(events.PushNotification))

	recorded := f.store.RecordedEvents()
	require.Len(t, recorded, 2)
	assert.Equal(t, domain.EventOutcomeDuplicate, recorded[1].Outcome)
}

func TestPaymentService_HandleCallback_Concurrent(t *testing.T) {
	f := newFixture(t)
	_, payment := createMoMo(t, f, "order-1", 100000)
	cb := testutil.SignedCallback(payment, 0)

	const deliveries = 8
	var wg sync.WaitGroup
	errs := make(chan error, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.payments.HandleCallback(context.Background(), cb)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	assert.Len(t, f.store.NotificationsOf(userID, domain.NotificationPaymentSuccessful), 1)
	assert.Equal(t, 1, f.pusher.Count(events.PushOrderUpdate))
	assert.Equal(t, domain.OrderStatusConfirmed, f.store.Order("order-1").Status)

	completed := 0
	for _, r := range f.store.OutboxRecords() {
		if r.AggregateType == "payment" && r.AggregateID == payment.ID {
			completed++
		}
	}
	// PENDING, PROCESSING, COMPLETED
	assert.Equal(t, 3, completed)
}

func TestPaymentService_HandleCallback_Failure(t *testing.T) {
	f := newFixture(t)
	_, payment := createMoMo(t, f, "order-1", 100000)

	updated, err := f.payments.HandleCallback(context.Background(), testutil.SignedCallback(payment, 1006))
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusFailed, updated.Status)
	assert.Nil(t, updated.PaidAt)
	assert.Equal(t, domain.OrderStatusPending, f.store.Order("order-1").Status)
	assert.Len(t, f.store.NotificationsOf(userID, domain.NotificationPaymentFailed), 1)

	// Поздний успех для завершённого платежа отклоняется
	_, err = f.payments.HandleCallback(context.Background(), testutil.SignedCallback(payment, 0))
	require.Error(t, err)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
	assert.Equal(t, domain.OrderStatusPending, f.store.Order("order-1").Status)
}

func TestPaymentService_HandleCallback_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cb *gateway.Callback)
		kind    domain.Kind
		outcome string
	}{
		{
			name:    "tampered result code",
			mutate:  func(cb *gateway.Callback) { cb.ResultCode = "1006" },
			kind:    domain.KindAuthentication,
			outcome: domain.EventOutcomeInvalidSignature,
		},
		{
			name: "unknown transaction",
			mutate: func(cb *gateway.Callback) {
				cb.OrderID = "unknown-transaction"
				cb.Sign(testutil.AccessKey, testutil.SecretKey)
			},
			kind:    domain.KindNotFound,
			outcome: domain.EventOutcomeNotFound,
		},
		{
			name: "amount mismatch",
			mutate: func(cb *gateway.Callback) {
				cb.Amount = "1000"
				cb.Sign(testutil.AccessKey, testutil.SecretKey)
			},
			kind:    domain.KindValidation,
			outcome: domain.EventOutcomeAmountMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, payment := createMoMo(t, f, "order-1", 100000)

			cb := testutil.SignedCallback(payment, 0)
			tt.mutate(cb)

			_, err := f.payments.HandleCallback(context.Background(), cb)
			require.Error(t, err)
			assert.Equal(t, tt.kind, domain.KindOf(err))

			stored, err := f.store.Payments().GetByID(context.Background(), payment.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.PaymentStatusProcessing, stored.Status)
			assert.Equal(t, domain.OrderStatusPending, f.store.Order("order-1").Status)
			assert.Empty(t, f.store.NotificationsOf(userID, ""))

			recorded := f.store.RecordedEvents()
			require.Len(t, recorded, 1)
			assert.Equal(t, tt.outcome, recorded[0].Outcome)
		})
	}
}

func TestPaymentService_HandleCallback_StoreErrorRollsBack(t *testing.T) {
	f := newFixture(t)
	_, payment := createMoMo(t, f, "order-1", 100000)
	f.store.FailNextPaymentUpdate(errors.New("connection reset"))

	_, err := f.payments.HandleCallback(context.Background(), testutil.SignedCallback(payment, 0))
	require.Error(t, err)
	assert.Equal(t, domain.KindUpstream, domain.KindOf(err))
	assert.Empty(t, f.store.NotificationsOf(userID, ""))

	// Повторная доставка шлюзом проходит
	updated, err := f.payments.HandleCallback(context.Background(), testutil.SignedCallback(payment, 0))
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, updated.Status)
}

// =============================================================================
// Return
// =============================================================================

func TestPaymentService_HandleReturn(t *testing.T) {
	tests := []struct {
		name       string
		resultCode string
		want       domain.PaymentStatus
		order      domain.OrderStatus
	}{
		{name: "success completes payment", resultCode: "0", want: domain.PaymentStatusCompleted, order: domain.OrderStatusConfirmed},
		{name: "failure leaves payment to webhook", resultCode: "1006", want: domain.PaymentStatusProcessing, order: domain.OrderStatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, payment := createMoMo(t, f, "order-1", 100000)

			got, err := f.payments.HandleReturn(context.Background(), ReturnInput{
				TransactionID: payment.TransactionID,
				ResultCode:    tt.resultCode,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, tt.order, f.store.Order("order-1").Status)
		})
	}
}

func TestPaymentService_HandleReturn_AfterWebhook(t *testing.T) {
	f := newFixture(t)
	_, payment := createMoMo(t, f, "order-1", 100000)

	_, err := f.payments.HandleCallback(context.Background(), testutil.SignedCallback(payment, 0))
	require.NoError(t, err)

	got, err := f.payments.HandleReturn(context.Background(), ReturnInput{
		TransactionID: payment.TransactionID,
		ResultCode:    "0",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, got.Status)
	assert.Len(t, f.store.NotificationsOf(userID, ""), 1)
}

func TestPaymentService_HandleReturn_InvalidSignature(t *testing.T) {
	f := newFixture(t)
	_, payment := createMoMo(t, f, "order-1", 100000)

	cb := testutil.SignedCallback(payment, 0)
	cb.Amount = "1"

	_, err := f.payments.HandleReturn(context.Background(), ReturnInput{
		TransactionID: payment.TransactionID,
		ResultCode:    "0",
		Callback:      cb,
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindAuthentication, domain.KindOf(err))
}

// =============================================================================
// Административные действия
// =============================================================================

func TestPaymentService_Refund(t *testing.T) {
	f := newFixture(t)
	_, payment := createMoMo(t, f, "order-1", 100000)

	_, err := f.payments.Refund(context.Background(), payment.TransactionID)
	require.Error(t, err)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))

	_, err = f.payments.Complete(context.Background(), payment.TransactionID)
	require.NoError(t, err)

	refunded, err := f.payments.Refund(context.Background(), payment.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, refunded.Status)
	// Статус заказа возврат не меняет
	assert.Equal(t, domain.OrderStatusConfirmed, f.store.Order("order-1").Status)
}

func TestPaymentService_Complete_Idempotent(t *testing.T) {
	f := newFixture(t)
	_, payment := createMoMo(t, f, "order-1", 100000)

	for i := 0; i < 2; i++ {
		got, err := f.payments.Complete(context.Background(), payment.TransactionID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusCompleted, got.Status)
	}
	assert.Len(t, f.store.NotificationsOf(userID, domain.NotificationPaymentSuccessful), 1)
}

func TestPaymentService_Cancel(t *testing.T) {
	f := newFixture(t)
	_, payment := createMoMo(t, f, "order-1", 100000)

	cancelled, err := f.payments.Cancel(context.Background(), payment.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCancelled, cancelled.Status)

	_, err = f.payments.Complete(context.Background(), payment.TransactionID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
}

// =============================================================================
// Зависшие платежи
// =============================================================================

func TestPaymentService_Sweep(t *testing.T) {
	f := newFixture(t)
	_, processing := createMoMo(t, f, "order-1", 100000)

	stuckOrder := testutil.NewOrder("order-2", userID, domain.MethodMoMo, 50000)
	f.store.AddOrder(stuckOrder)
	stuck := domain.NewPayment(stuckOrder, domain.MethodMoMo, processing.CreatedAt)
	f.store.AddPayment(stuck)

	// Ещё не истекли
	result, err := f.payments.Sweep(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, result)

	f.shiftClock(time.Hour)
	result, err = f.payments.Sweep(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Failed: 1, Cancelled: 1}, result)

	got, err := f.store.Payments().GetByID(context.Background(), stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, got.Status)

	got, err = f.store.Payments().GetByID(context.Background(), processing.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCancelled, got.Status)

	// Поздний webhook для отменённого платежа отклоняется
	_, err = f.payments.HandleCallback(context.Background(), testutil.SignedCallback(processing, 0))
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
}

// =============================================================================
// Запросы
// =============================================================================

func TestPaymentService_Queries(t *testing.T) {
	f := newFixture(t)
	_, payment := createMoMo(t, f, "order-1", 100000)
	ctx := context.Background()

	got, err := f.payments.GetByTransactionID(ctx, Actor{UserID: userID}, payment.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, payment.ID, got.ID)

	_, err = f.payments.GetByTransactionID(ctx, Actor{UserID: otherID}, payment.TransactionID)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	got, err = f.payments.GetByPaymentID(ctx, Actor{UserID: otherID, Admin: true}, payment.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, payment.ID, got.ID)

	list, err := f.payments.ListByOrder(ctx, Actor{UserID: userID}, "order-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = f.payments.ListByOrder(ctx, Actor{UserID: otherID}, "order-1")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	mine, total, err := f.payments.ListMine(ctx, userID, domain.Page{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, mine, 1)

	status := domain.PaymentStatusCompleted
	none, total, err := f.payments.List(ctx, domain.PaymentFilter{Status: &status}, domain.Page{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, none)
}
