package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/payment-engine/pkg/config"
	"example.com/payment-engine/pkg/events"
	"example.com/payment-engine/pkg/jwt"
	"example.com/payment-engine/services/payment/internal/domain"
	"example.com/payment-engine/services/payment/internal/middleware"
	"example.com/payment-engine/services/payment/internal/push"
	"example.com/payment-engine/services/payment/internal/service"
	"example.com/payment-engine/services/payment/internal/testutil"
)

// Токены тестовых пользователей.
const (
	customerToken = "customer-token"
	otherToken    = "other-token"
	adminToken    = "admin-token"
)

// staticValidator сопоставляет токену фиксированные claims.
type staticValidator map[string]*jwt.Claims

func (v staticValidator) ValidateToken(_ context.Context, token string) (*jwt.Claims, error) {
	if claims, ok := v[token]; ok {
		return claims, nil
	}
	return nil, jwt.ErrInvalidToken
}

type testEnv struct {
	store  *testutil.MemStore
	gw     *testutil.FakeGateway
	hub    *push.Hub
	router *Router
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := testutil.NewMemStore()
	gw := testutil.NewFakeGateway()
	hub := push.NewHub(8)

	notifier := service.NewNotifier(store, hub)
	reconciler := service.NewReconciler(notifier)

	validator := staticValidator{
		customerToken: {UserID: "user-1", Role: "CUSTOMER"},
		otherToken:    {UserID: "user-2", Role: "CUSTOMER"},
		adminToken:    {UserID: "admin-1", Role: "ADMIN"},
	}

	router := NewRouter(RouterConfig{
		Payments: service.NewPaymentService(store, gw, nil, notifier, reconciler, config.PaymentConfig{
			PendingTimeout:   5 * time.Minute,
			ProcessingExpiry: 45 * time.Minute,
		}),
		Orders:         service.NewOrderService(store, notifier, reconciler),
		Notifications:  service.NewNotificationService(store),
		Hub:            hub,
		AuthMW:         middleware.NewAuthMiddleware(validator, "ADMIN"),
		AdminRole:      "ADMIN",
		AllowedOrigins: []string{"*"},
	})

	return &testEnv{store: store, gw: gw, hub: hub, router: router}
}

func (e *testEnv) do(method, target, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.Engine().ServeHTTP(w, req)
	return w
}

func (e *testEnv) createPayment(t *testing.T, orderID string, method domain.PaymentMethod) PaymentResponse {
	t.Helper()
	w := e.do(http.MethodPost, "/api/v1/payments", customerToken,
		`{"orderId":"`+orderID+`","paymentMethod":"`+string(method)+`"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp PaymentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func decodeAck(t *testing.T, w *httptest.ResponseRecorder) CallbackAck {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code)
	var ack CallbackAck
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	return ack
}

// =============================================================================
// Создание и запросы
// =============================================================================

func TestCreatePayment(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddOrder(testutil.NewOrder("order-1", "user-1", domain.MethodMoMo, 100000))

	resp := env.createPayment(t, "order-1", domain.MethodMoMo)
	assert.Equal(t, "PROCESSING", resp.Status)
	assert.Equal(t, "order-1", resp.OrderID)
	assert.Equal(t, "MOMO", resp.Method)
	assert.NotEmpty(t, resp.PayURL)
	assert.True(t, resp.Amount.Equal(decimal.NewFromInt(100000)))

	// Повтор возвращает тот же платёж
	again := env.createPayment(t, "order-1", domain.MethodMoMo)
	assert.Equal(t, resp.TransactionID, again.TransactionID)
}

func TestCreatePayment_Errors(t *testing.T) {
	tests := []struct {
		name           string
		token          string
		body           string
		gatewayErr     error
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "Без токена",
			body:           `{"orderId":"order-1","paymentMethod":"MOMO"}`,
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "unauthorized",
		},
		{
			name:           "Нет orderId",
			token:          customerToken,
			body:           `{"paymentMethod":"MOMO"}`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "validation_error",
		},
		{
			name:           "Неизвестный метод",
			token:          customerToken,
			body:           `{"orderId":"order-1","paymentMethod":"CRYPTO"}`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  "validation_error",
		},
		{
			name:           "Чужой заказ",
			token:          otherToken,
			body:           `{"orderId":"order-1","paymentMethod":"MOMO"}`,
			expectedStatus: http.StatusNotFound,
			expectedError:  "not_found",
		},
		{
			name:           "Шлюз недоступен",
			token:          customerToken,
			body:           `{"orderId":"order-1","paymentMethod":"MOMO"}`,
			gatewayErr:     domain.ErrGatewayUnavailable,
			expectedStatus: http.StatusBadGateway,
			expectedError:  "upstream_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.gw.Err = tt.gatewayErr
			env.store.AddOrder(testutil.NewOrder("order-1", "user-1", domain.MethodMoMo, 100000))

			w := env.do(http.MethodPost, "/api/v1/payments", tt.token, tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.expectedError, resp.Error)
		})
	}
}

func TestGetPayment(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddOrder(testutil.NewOrder("order-1", "user-1", domain.MethodMoMo, 100000))
	created := env.createPayment(t, "order-1", domain.MethodMoMo)

	w := env.do(http.MethodGet, "/api/v1/payments/"+created.TransactionID, customerToken, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/api/v1/payments/external/"+created.PaymentID, customerToken, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/api/v1/payments/"+created.TransactionID, otherToken, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodGet, "/api/v1/payments/"+created.TransactionID, adminToken, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/api/v1/orders/order-1/payments", customerToken, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), created.TransactionID)

	w = env.do(http.MethodGet, "/api/v1/payments?page=0&size=10", customerToken, "")
	require.Equal(t, http.StatusOK, w.Code)
	var list ListPaymentsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Payments, 1)
	assert.EqualValues(t, 1, list.Pagination.TotalItems)
	assert.Equal(t, 1, list.Pagination.TotalPages)
}

// =============================================================================
// Шлюз
// =============================================================================

func TestMoMoCallback(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddOrder(testutil.NewOrder("order-1", "user-1", domain.MethodMoMo, 100000))
	created := env.createPayment(t, "order-1", domain.MethodMoMo)

	payment, err := env.store.Payments().GetByTransactionID(context.Background(), created.TransactionID)
	require.NoError(t, err)
	cb := testutil.SignedCallback(payment, 0)

	t.Run("Подделанный resultCode", func(t *testing.T) {
		tampered := *cb
		tampered.ResultCode = "1006"
		w := env.do(http.MethodPost, "/api/v1/payments/momo/callback", "", string(tampered.JSON()))

		ack := decodeAck(t, w)
		assert.Equal(t, 1, ack.ResultCode)
		assert.Equal(t, "Invalid signature", ack.Message)
		assert.Equal(t, domain.OrderStatusPending, env.store.Order("order-1").Status)
	})

	t.Run("Успешная оплата (form)", func(t *testing.T) {
		form := url.Values{}
		for k, v := range map[string]string{
			"partnerCode": cb.PartnerCode, "orderId": cb.OrderID, "requestId": cb.RequestID,
			"amount": cb.Amount, "orderInfo": cb.OrderInfo, "orderType": cb.OrderType,
			"transId": cb.TransID, "resultCode": cb.ResultCode, "message": cb.Message,
			"responseTime": cb.ResponseTime, "extraData": cb.ExtraData, "signature": cb.Signature,
		} {
			form.Set(k, v)
		}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/momo/callback", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		env.router.Engine().ServeHTTP(w, req)

		ack := decodeAck(t, w)
		assert.Equal(t, 0, ack.ResultCode)
		assert.Equal(t, domain.OrderStatusConfirmed, env.store.Order("order-1").Status)
	})

	t.Run("Повтор (JSON)", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/v1/payments/momo/callback", "", string(cb.JSON()))
		assert.Equal(t, 0, decodeAck(t, w).ResultCode)
		assert.Len(t, env.store.NotificationsOf("user-1", domain.NotificationPaymentSuccessful), 1)
	})

	t.Run("Неизвестная транзакция", func(t *testing.T) {
		unknown := *cb
		unknown.OrderID = "unknown"
		unknown.Sign(testutil.AccessKey, testutil.SecretKey)
		w := env.do(http.MethodPost, "/api/v1/payments/momo/callback", "", string(unknown.JSON()))

		ack := decodeAck(t, w)
		assert.Equal(t, 1, ack.ResultCode)
		assert.Equal(t, "Payment not found", ack.Message)
	})

	t.Run("Битый JSON", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/v1/payments/momo/callback", "", `{"orderId":`)
		assert.Equal(t, 1, decodeAck(t, w).ResultCode)
	})
}

func TestMoMoReturn(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddOrder(testutil.NewOrder("order-1", "user-1", domain.MethodMoMo, 100000))
	created := env.createPayment(t, "order-1", domain.MethodMoMo)

	w := env.do(http.MethodGet, "/api/v1/payments/momo/return?orderId="+created.TransactionID+"&resultCode=0&message=Successful.", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp PaymentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "COMPLETED", resp.Status)
	assert.NotNil(t, resp.PaidAt)

	w = env.do(http.MethodGet, "/api/v1/payments/momo/return?orderId=unknown&resultCode=0", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// =============================================================================
// Заказы и администратор
// =============================================================================

func TestCancelOrder(t *testing.T) {
	env := newTestEnv(t)
	env.store.SetStock("product-a", 1)
	env.store.SetStock("product-b", 1)
	env.store.AddOrder(testutil.NewOrder("order-1", "user-1", domain.MethodCashOnDelivery, 300000,
		testutil.Item("product-a", 2, 100000),
		testutil.Item("product-b", 1, 100000),
	))
	shipped := testutil.NewOrder("order-2", "user-1", domain.MethodCashOnDelivery, 100000)
	shipped.Status = domain.OrderStatusShipped
	env.store.AddOrder(shipped)

	w := env.do(http.MethodPost, "/api/v1/orders/order-1/cancel", customerToken, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var order OrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &order))
	assert.Equal(t, "CANCELLED", order.Status)
	assert.Equal(t, 3, env.store.Stock("product-a"))
	assert.Equal(t, 2, env.store.Stock("product-b"))

	w = env.do(http.MethodPost, "/api/v1/orders/order-2/cancel", customerToken, "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddOrder(testutil.NewOrder("order-1", "user-1", domain.MethodCashOnDelivery, 100000))
	created := env.createPayment(t, "order-1", domain.MethodCashOnDelivery)

	t.Run("Не администратор", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/v1/admin/payments", customerToken, "")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Возврат незавершённого платежа", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/v1/admin/payments/"+created.TransactionID+"/refund", adminToken, "")
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("Неизвестный статус заказа", func(t *testing.T) {
		w := env.do(http.MethodPut, "/api/v1/admin/orders/order-1/status", adminToken, `{"status":"LOST"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Доставка завершает COD платёж", func(t *testing.T) {
		w := env.do(http.MethodPut, "/api/v1/admin/orders/order-1/status", adminToken, `{"status":"delivered"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = env.do(http.MethodGet, "/api/v1/admin/payments?status=COMPLETED&method=CASH_ON_DELIVERY", adminToken, "")
		require.Equal(t, http.StatusOK, w.Code)
		var list ListPaymentsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
		require.Len(t, list.Payments, 1)
		assert.Equal(t, created.TransactionID, list.Payments[0].TransactionID)
	})

	t.Run("Возврат", func(t *testing.T) {
		w := env.do(http.MethodPost, "/api/v1/admin/payments/"+created.TransactionID+"/refund", adminToken, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"REFUNDED"`)
	})

	t.Run("Неверный фильтр", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/v1/admin/payments?status=UNKNOWN", adminToken, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

// =============================================================================
// Уведомления
// =============================================================================

func TestNotifications(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddOrder(testutil.NewOrder("order-1", "user-1", domain.MethodMoMo, 100000))
	created := env.createPayment(t, "order-1", domain.MethodMoMo)

	w := env.do(http.MethodPost, "/api/v1/admin/payments/"+created.TransactionID+"/complete", adminToken, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/api/v1/notifications/unread-count", customerToken, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":1}`, w.Body.String())

	w = env.do(http.MethodGet, "/api/v1/notifications", customerToken, "")
	require.Equal(t, http.StatusOK, w.Code)
	var list ListNotificationsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Notifications, 1)
	assert.Equal(t, "PAYMENT_SUCCESSFUL", list.Notifications[0].Type)
	assert.Equal(t, "Thanh toán thành công", list.Notifications[0].Title)

	w = env.do(http.MethodPut, "/api/v1/notifications/"+list.Notifications[0].ID+"/read", otherToken, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodPut, "/api/v1/notifications/"+list.Notifications[0].ID+"/read", customerToken, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(http.MethodPut, "/api/v1/notifications/read-all", customerToken, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"updated":0}`, w.Body.String())
}

func TestNotificationStream(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router.Engine())
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/v1/notifications/stream?access_token="+customerToken, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() string {
		var lines []string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			if line == "" {
				return strings.Join(lines, "\n")
			}
			lines = append(lines, line)
		}
	}

	assert.Contains(t, readEvent(), "event:connected")
	require.True(t, env.hub.IsOnline("user-1"))

	msg, err := events.NewPushMessage("user-1", events.PushOrderUpdate, map[string]string{"orderId": "order-1"})
	require.NoError(t, err)
	require.NoError(t, env.hub.Push(context.Background(), msg))

	event := readEvent()
	assert.Contains(t, event, "event:ORDER_UPDATE")
	assert.Contains(t, event, `"destination":"/queue/orders"`)

	cancel()
	assert.Eventually(t, func() bool { return !env.hub.IsOnline("user-1") }, 2*time.Second, 10*time.Millisecond)
}
