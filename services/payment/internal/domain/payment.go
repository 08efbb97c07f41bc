package domain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus — статус платежа.
type PaymentStatus string

const (
	// PaymentStatusPending — платёж создан (COD, перевод) или ещё не передан в шлюз.
	PaymentStatusPending PaymentStatus = "PENDING"

	// PaymentStatusProcessing — шлюз принял платёж, ждём webhook.
	PaymentStatusProcessing PaymentStatus = "PROCESSING"

	// PaymentStatusCompleted — деньги получены.
	PaymentStatusCompleted PaymentStatus = "COMPLETED"

	// PaymentStatusFailed — шлюз отклонил платёж или вызов шлюза не удался.
	PaymentStatusFailed PaymentStatus = "FAILED"

	// PaymentStatusCancelled — платёж отменён (заказ отменён или истёк срок оплаты).
	PaymentStatusCancelled PaymentStatus = "CANCELLED"

	// PaymentStatusRefunded — возврат выполнен администратором.
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// IsTerminal возвращает true для статусов, из которых нет автоматических переходов.
// Из COMPLETED возможен только явный возврат администратором.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusRefunded:
		return true
	}
	return false
}

// IsActive возвращает true, если платёж ещё ожидает результата.
func (s PaymentStatus) IsActive() bool {
	return s == PaymentStatusPending || s == PaymentStatusProcessing
}

// Valid проверяет, что статус известен.
func (s PaymentStatus) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// ParsePaymentStatus разбирает статус без учёта регистра.
func ParsePaymentStatus(s string) (PaymentStatus, bool) {
	st := PaymentStatus(strings.ToUpper(strings.TrimSpace(s)))
	return st, st.Valid()
}

// allowedTransitions — граф переходов. Движение только вперёд.
var allowedTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusProcessing, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusProcessing: {PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusCompleted:  {PaymentStatusRefunded},
	PaymentStatusFailed:     nil,
	PaymentStatusCancelled:  nil,
	PaymentStatusRefunded:   nil,
}

// =============================================================================
// Метод оплаты
// =============================================================================

// PaymentMethod — способ оплаты.
type PaymentMethod string

const (
	MethodCashOnDelivery PaymentMethod = "CASH_ON_DELIVERY"
	MethodMoMo           PaymentMethod = "MOMO"
	MethodBankTransfer   PaymentMethod = "BANK_TRANSFER"
)

// Valid проверяет, что метод известен.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCashOnDelivery, MethodMoMo, MethodBankTransfer:
		return true
	}
	return false
}

// IsGateway возвращает true, если оплата идёт через внешний шлюз.
func (m PaymentMethod) IsGateway() bool {
	return m == MethodMoMo
}

// idPrefix — префикс внешнего идентификатора платежа.
func (m PaymentMethod) idPrefix() string {
	switch m {
	case MethodCashOnDelivery:
		return "COD"
	case MethodBankTransfer:
		return "BT"
	default:
		return string(m)
	}
}

// ParsePaymentMethod разбирает метод без учёта регистра.
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	m := PaymentMethod(strings.ToUpper(strings.TrimSpace(s)))
	return m, m.Valid()
}

// =============================================================================
// Источник перехода
// =============================================================================

// Source — точка входа, вызвавшая переход статуса.
type Source string

const (
	SourceCreate      Source = "create"
	SourceWebhook     Source = "webhook"
	SourceReturn      Source = "return"
	SourceAdmin       Source = "admin"
	SourceDelivery    Source = "delivery"
	SourceOrderCancel Source = "order_cancel"
	SourceSweeper     Source = "sweeper"
)

// =============================================================================
// Payment
// =============================================================================

// Payment — одна попытка получить деньги за заказ.
type Payment struct {
	ID               string          // Внутренний UUID
	PaymentID        string          // Внешний идентификатор (COD_..., BT_..., MOMO_...)
	TransactionID    string          // Ключ идемпотентности, отправляется в шлюз как orderId
	OrderID          string          // Заказ-владелец
	UserID           string          // Покупатель
	Amount           decimal.Decimal // Фиксируется при создании
	Method           PaymentMethod
	Status           PaymentStatus
	GatewayRequestID *string // requestId исходящего запроса
	GatewayTransID   *string // transId из webhook
	ResponseCode     *string // resultCode шлюза
	ResponseMessage  *string // message шлюза или причина перехода
	RawResponse      []byte  // Ответ шлюза как есть
	PayURL           string
	QRCodeURL        string
	Deeplink         string
	CreatedAt        time.Time
	PaidAt           *time.Time
	UpdatedAt        time.Time
}

// NewPayment создаёт платёж в PENDING с новыми transaction_id и payment_id.
func NewPayment(order *Order, method PaymentMethod, now time.Time) *Payment {
	return &Payment{
		ID:            uuid.New().String(),
		PaymentID:     NewPaymentID(method, now),
		TransactionID: uuid.New().String(),
		OrderID:       order.ID,
		UserID:        order.UserID,
		Amount:        order.TotalAmount,
		Method:        method,
		Status:        PaymentStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// NewPaymentID формирует внешний идентификатор: <PREFIX>_<unix-ms>_<4 hex>.
func NewPaymentID(method PaymentMethod, now time.Time) string {
	var b [2]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%s_%d_%s", method.idPrefix(), now.UnixMilli(), strings.ToUpper(hex.EncodeToString(b[:])))
}

// CanTransitionTo проверяет допустимость перехода.
func (p *Payment) CanTransitionTo(to PaymentStatus) bool {
	for _, s := range allowedTransitions[p.Status] {
		if s == to {
			return true
		}
	}
	return false
}

// Validate проверяет поля перед сохранением.
func (p *Payment) Validate() error {
	switch {
	case p.OrderID == "":
		return Validation("payment.Validate", "order_id обязателен")
	case p.UserID == "":
		return Validation("payment.Validate", "user_id обязателен")
	case p.TransactionID == "":
		return Validation("payment.Validate", "transaction_id обязателен")
	case !p.Method.Valid():
		return ErrInvalidMethod
	case !p.Amount.IsPositive():
		return ErrInvalidAmount
	}
	return nil
}

// =============================================================================
// StatusChange — описание перехода для условного обновления
// =============================================================================

// StatusChange — переход статуса и поля, записываемые вместе с ним.
// Применяется только если текущий статус в хранилище равен From.
type StatusChange struct {
	From            PaymentStatus
	To              PaymentStatus
	Source          Source
	At              time.Time
	ResponseCode    *string
	ResponseMessage *string
	GatewayTransID  *string
	RawResponse     []byte
	PayURL          string
	QRCodeURL       string
	Deeplink        string
}

// PaidAt возвращает время оплаты, если переход завершает платёж.
func (c *StatusChange) PaidAt() *time.Time {
	if c.To != PaymentStatusCompleted {
		return nil
	}
	at := c.At
	return &at
}

// ChangeTo готовит переход из текущего статуса.
// Возвращает ErrInvalidTransition, если граф переходов его не допускает.
func (p *Payment) ChangeTo(to PaymentStatus, source Source, at time.Time) (*StatusChange, error) {
	if !p.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, to)
	}
	return &StatusChange{From: p.Status, To: to, Source: source, At: at}, nil
}

// WithResponse добавляет код и сообщение ответа.
func (c *StatusChange) WithResponse(code, message string) *StatusChange {
	if code != "" {
		c.ResponseCode = &code
	}
	if message != "" {
		c.ResponseMessage = &message
	}
	return c
}

// Apply переносит результат успешного условного обновления в сущность.
func (p *Payment) Apply(c *StatusChange) {
	p.Status = c.To
	p.UpdatedAt = c.At
	if paidAt := c.PaidAt(); paidAt != nil {
		p.PaidAt = paidAt
	}
	if c.ResponseCode != nil {
		p.ResponseCode = c.ResponseCode
	}
	if c.ResponseMessage != nil {
		p.ResponseMessage = c.ResponseMessage
	}
	if c.GatewayTransID != nil {
		p.GatewayTransID = c.GatewayTransID
	}
	if c.RawResponse != nil {
		p.RawResponse = c.RawResponse
	}
	if c.PayURL != "" {
		p.PayURL = c.PayURL
	}
	if c.QRCodeURL != "" {
		p.QRCodeURL = c.QRCodeURL
	}
	if c.Deeplink != "" {
		p.Deeplink = c.Deeplink
	}
}
