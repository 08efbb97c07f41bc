package service

import (
	"context"
	"fmt"
	"time"

	"example.com/payment-engine/pkg/logger"
	"example.com/payment-engine/services/payment/internal/domain"
	"example.com/payment-engine/services/payment/internal/repository"
)

// Reconciler приводит статус заказа в соответствие со статусом платежа
// и возвращает остатки на склад при отмене.
// Все методы работают внутри транзакции вызывающего.
type Reconciler struct {
	notifier *Notifier
	now      func() time.Time
}

// NewReconciler создаёт сверку заказов.
func NewReconciler(notifier *Notifier) *Reconciler {
	return &Reconciler{notifier: notifier, now: time.Now}
}

// onPaymentCompleted подтверждает заказ, если он ещё PENDING.
// Заказ в любом другом статусе не трогаем: он уже продвинут.
func (r *Reconciler) onPaymentCompleted(ctx context.Context, tx repository.Store, order *domain.Order, fx *effects) error {
	if !order.CanConfirm() {
		log := logger.FromContext(ctx)
		log.Debug().
			Str("order_id", order.ID).
			Str("status", string(order.Status)).
			Msg("Заказ уже продвинут, подтверждение не требуется")
		return nil
	}

	ok, err := tx.Orders().UpdateStatusIf(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusConfirmed)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	now := r.now()
	order.Status = domain.OrderStatusConfirmed
	order.UpdatedAt = now

	if err := writeOrderEvent(ctx, tx, order, domain.OrderStatusPending, domain.OrderStatusConfirmed, "payment_completed", now); err != nil {
		return err
	}
	fx.push(orderUpdatePush(order))

	log := logger.FromContext(ctx)
	log.Info().
		Str("order_id", order.ID).
		Str("order_number", order.OrderNumber).
		Msg("Заказ подтверждён оплатой")
	return nil
}

// onOrderCancelled отменяет заказ и возвращает остатки.
// Только из PENDING; статус и остатки меняются в одной транзакции.
func (r *Reconciler) onOrderCancelled(ctx context.Context, tx repository.Store, order *domain.Order, reason string, fx *effects) error {
	if !order.CanCancel() {
		return fmt.Errorf("%w: статус %s", domain.ErrOrderCannotCancel, order.Status)
	}

	ok, err := tx.Orders().UpdateStatusIf(ctx, order.ID, domain.OrderStatusPending, domain.OrderStatusCancelled)
	if err != nil {
		return err
	}
	if !ok {
		return errLostRace
	}

	for _, item := range order.Items {
		if err := tx.Orders().RestoreStock(ctx, item.ProductID, item.Quantity); err != nil {
			return fmt.Errorf("возврат остатка товара %s: %w", item.ProductID, err)
		}
	}

	now := r.now()
	order.Status = domain.OrderStatusCancelled
	order.UpdatedAt = now

	if err := writeOrderEvent(ctx, tx, order, domain.OrderStatusPending, domain.OrderStatusCancelled, reason, now); err != nil {
		return err
	}
	fx.push(orderUpdatePush(order))

	return r.notifier.stage(ctx, tx, domain.NewOrderNotification(order, domain.NotificationOrderStatusUpdated, now), fx)
}
