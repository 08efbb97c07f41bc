package testutil

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"example.com/payment-engine/pkg/events"
	"example.com/payment-engine/pkg/signature"
	"example.com/payment-engine/services/payment/internal/domain"
	"example.com/payment-engine/services/payment/internal/gateway"
)

// Ключи подписи фейкового шлюза.
const (
	AccessKey = "test-access-key"
	SecretKey = "test-secret-key"
)

// FakeGateway — управляемая реализация gateway.Client.
type FakeGateway struct {
	mu sync.Mutex

	// ResultCode и Message возвращаются в ответе шлюза.
	ResultCode int
	Message    string
	// Err — ошибка транспорта (приоритетнее ответа).
	Err error

	Calls []gateway.CreateRequest
}

var _ gateway.Client = (*FakeGateway)(nil)

// NewFakeGateway создаёт шлюз, принимающий все платежи.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{Message: "Successful."}
}

// CreateIntent запоминает запрос и отвечает по настройкам.
func (g *FakeGateway) CreateIntent(_ context.Context, req gateway.CreateRequest) (*gateway.CreateResult, []byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.Calls = append(g.Calls, req)
	if g.Err != nil {
		return nil, nil, g.Err
	}

	result := &gateway.CreateResult{
		PartnerCode:  "MOMO",
		OrderID:      req.TransactionID,
		RequestID:    req.RequestID,
		Amount:       req.Amount.IntPart(),
		ResponseTime: time.Now().UnixMilli(),
		Message:      g.Message,
		ResultCode:   g.ResultCode,
	}
	if result.Succeeded() {
		result.PayURL = "https://pay.example/" + req.TransactionID
		result.Deeplink = "momo://pay/" + req.TransactionID
		result.QRCodeURL = "https://qr.example/" + req.TransactionID
	}
	raw := []byte(`{"resultCode":` + strconv.Itoa(g.ResultCode) + `,"orderId":"` + req.TransactionID + `"}`)
	return result, raw, nil
}

// VerifyCallback проверяет подпись ключами AccessKey/SecretKey.
func (g *FakeGateway) VerifyCallback(cb *gateway.Callback) bool {
	return signature.Verify(cb.Fields(AccessKey), SecretKey, cb.Signature)
}

// CallCount возвращает количество вызовов CreateIntent.
func (g *FakeGateway) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Calls)
}

// SignedCallback возвращает подписанное уведомление для платежа.
func SignedCallback(p *domain.Payment, resultCode int) *gateway.Callback {
	cb := &gateway.Callback{
		PartnerCode:  "MOMO",
		OrderID:      p.TransactionID,
		Amount:       p.Amount.Truncate(0).String(),
		OrderInfo:    "Thanh toán",
		OrderType:    "momo_wallet",
		TransID:      "4088878653",
		ResultCode:   strconv.Itoa(resultCode),
		Message:      "Successful.",
		ResponseTime: strconv.FormatInt(time.Now().UnixMilli(), 10),
	}
	if p.GatewayRequestID != nil {
		cb.RequestID = *p.GatewayRequestID
	}
	if resultCode != gateway.ResultSuccess {
		cb.Message = "Transaction denied by user."
	}
	cb.Sign(AccessKey, SecretKey)
	return cb
}

// =============================================================================
// Push
// =============================================================================

// RecordingPusher запоминает отправленные сообщения.
type RecordingPusher struct {
	mu       sync.Mutex
	Messages []*events.PushMessage
	Err      error
}

// Push запоминает сообщение и возвращает Err.
func (p *RecordingPusher) Push(_ context.Context, msg *events.PushMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Messages = append(p.Messages, msg)
	return p.Err
}

// Count возвращает количество сообщений типа t.
func (p *RecordingPusher) Count(t events.PushType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.Messages {
		if m.Type == t {
			n++
		}
	}
	return n
}

// =============================================================================
// Данные
// =============================================================================

// NewOrder создаёт PENDING заказ пользователя с позициями на сумму total.
func NewOrder(id, userID string, method domain.PaymentMethod, total int64, items ...domain.OrderItem) *domain.Order {
	now := time.Now()
	for i := range items {
		items[i].OrderID = id
		if items[i].ID == "" {
			items[i].ID = id + "-item-" + strconv.Itoa(i+1)
		}
	}
	return &domain.Order{
		ID:            id,
		OrderNumber:   "ORD-" + id,
		UserID:        userID,
		Status:        domain.OrderStatusPending,
		TotalAmount:   decimal.NewFromInt(total),
		PaymentMethod: method,
		Items:         items,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Item создаёт позицию заказа.
func Item(productID string, qty int, price int64) domain.OrderItem {
	return domain.OrderItem{
		ProductID:   productID,
		ProductName: "Product " + productID,
		Quantity:    qty,
		Price:       decimal.NewFromInt(price),
	}
}
