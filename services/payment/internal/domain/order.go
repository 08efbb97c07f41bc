package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus — статус заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, ждёт оплаты или подтверждения.
	OrderStatusPending OrderStatus = "PENDING"

	// OrderStatusConfirmed — оплата получена. Ставится только сверкой с платежом.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"

	// OrderStatusProcessing — заказ собирается.
	OrderStatusProcessing OrderStatus = "PROCESSING"

	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "SHIPPED"

	// OrderStatusDelivered — заказ вручён покупателю.
	OrderStatusDelivered OrderStatus = "DELIVERED"

	// OrderStatusCancelled — заказ отменён, остатки возвращены на склад.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// orderRank задаёт порядок статусов для движения только вперёд.
var orderRank = map[OrderStatus]int{
	OrderStatusPending:    0,
	OrderStatusConfirmed:  1,
	OrderStatusProcessing: 2,
	OrderStatusShipped:    3,
	OrderStatusDelivered:  4,
}

// Valid проверяет, что статус известен.
func (s OrderStatus) Valid() bool {
	if s == OrderStatusCancelled {
		return true
	}
	_, ok := orderRank[s]
	return ok
}

// IsFinal возвращает true для DELIVERED и CANCELLED.
func (s OrderStatus) IsFinal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// ParseOrderStatus разбирает статус без учёта регистра.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	st := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	return st, st.Valid()
}

// Order — заказ в объёме, нужном для сверки с платежами.
type Order struct {
	ID            string
	OrderNumber   string // Человекочитаемый номер, попадает в orderInfo и уведомления
	UserID        string
	Status        OrderStatus
	TotalAmount   decimal.Decimal
	PaymentMethod PaymentMethod // Метод, выбранный при оформлении
	Items         []OrderItem
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OrderItem — позиция заказа с зарезервированным количеством.
type OrderItem struct {
	ID          string
	OrderID     string
	ProductID   string
	ProductName string
	Quantity    int
	Price       decimal.Decimal
}

// CanCancel проверяет, можно ли отменить заказ.
// Отменить можно только заказ в статусе PENDING.
func (o *Order) CanCancel() bool {
	return o.Status == OrderStatusPending
}

// CanConfirm проверяет, можно ли подтвердить заказ оплатой.
func (o *Order) CanConfirm() bool {
	return o.Status == OrderStatusPending
}

// CanAcceptPayment проверяет, можно ли создать платёж для заказа.
func (o *Order) CanAcceptPayment() bool {
	return !o.Status.IsFinal()
}

// CheckManualTransition проверяет ручную смену статуса администратором.
// Движение только вперёд. CONFIRMED ставит сверка с платежом,
// CANCELLED ставит отмена заказа, вручную их выставить нельзя.
func (o *Order) CheckManualTransition(to OrderStatus) error {
	if !to.Valid() {
		return Validation("order.CheckManualTransition", fmt.Sprintf("неизвестный статус заказа: %s", to))
	}
	if to == OrderStatusConfirmed || to == OrderStatusCancelled {
		return fmt.Errorf("%w: %s выставляется автоматически", ErrInvalidOrderTransition, to)
	}
	from, ok := orderRank[o.Status]
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidOrderTransition, o.Status, to)
	}
	if orderRank[to] <= from {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidOrderTransition, o.Status, to)
	}
	return nil
}

// IsCashOnDelivery возвращает true для заказов с оплатой при получении.
func (o *Order) IsCashOnDelivery() bool {
	return o.PaymentMethod == MethodCashOnDelivery
}
