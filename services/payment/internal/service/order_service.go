package service

import (
	"context"
	"errors"
	"fmt"

	"example.com/payment-engine/pkg/logger"
	"example.com/payment-engine/services/payment/internal/domain"
	"example.com/payment-engine/services/payment/internal/repository"
)

// Причины изменения статуса заказа в событиях outbox.
const (
	reasonUserCancel  = "user_cancel"
	reasonAdminUpdate = "admin_update"
)

// OrderService — операции над заказом, влияющие на платежи и остатки.
type OrderService struct {
	store      repository.Store
	notifier   *Notifier
	reconciler *Reconciler
	sm         *stateMachine
}

// NewOrderService создаёт сервис заказов.
func NewOrderService(store repository.Store, notifier *Notifier, reconciler *Reconciler) *OrderService {
	return &OrderService{
		store:      store,
		notifier:   notifier,
		reconciler: reconciler,
		sm:         newStateMachine(store, notifier, reconciler),
	}
}

// Get возвращает заказ владельцу или администратору.
func (s *OrderService) Get(ctx context.Context, actor Actor, orderID string) (*domain.Order, error) {
	const op = "order.Get"

	order, err := s.store.Orders().GetByID(ctx, orderID)
	if err != nil {
		return nil, domain.Classify(op, err)
	}
	if !actor.canSee(order.UserID) {
		return nil, domain.E(domain.KindNotFound, op, domain.ErrOrderNotFound)
	}
	return order, nil
}

// Cancel отменяет PENDING заказ.
//
// В одной транзакции: статус заказа, возврат остатков по всем позициям,
// отмена незавершённых платежей заказа, уведомление. Оплаченный заказ
// и заказ не в PENDING отменить нельзя.
func (s *OrderService) Cancel(ctx context.Context, actor Actor, orderID string) (*domain.Order, error) {
	const op = "order.Cancel"

	ctx = logger.WithLogger(ctx, logger.FromContext(ctx).With().Str("order_id", orderID).Logger())

	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		fx := newEffects()
		var cancelled *domain.Order

		err := s.store.Transaction(ctx, func(tx repository.Store) error {
			order, err := tx.Orders().GetByID(ctx, orderID)
			if err != nil {
				return err
			}
			if !actor.canSee(order.UserID) {
				return domain.ErrOrderNotFound
			}

			payments, err := tx.Payments().ListByOrder(ctx, order.ID)
			if err != nil {
				return err
			}
			for _, p := range payments {
				if p.Status == domain.PaymentStatusCompleted {
					return domain.ErrOrderAlreadyPaid
				}
			}

			if err := s.reconciler.onOrderCancelled(ctx, tx, order, reasonUserCancel, fx); err != nil {
				return err
			}

			for _, p := range payments {
				if !p.Status.IsActive() {
					continue
				}
				change, err := p.ChangeTo(domain.PaymentStatusCancelled, domain.SourceOrderCancel, order.UpdatedAt)
				if err != nil {
					return err
				}
				change.WithResponse("", "Order cancelled")
				if err := s.sm.applyTx(ctx, tx, p, change, fx); err != nil {
					return err
				}
			}

			cancelled = order
			return nil
		})
		if err == nil {
			s.notifier.flush(ctx, fx)
			log := logger.FromContext(ctx)
			log.Info().
				Int("items", len(cancelled.Items)).
				Msg("Заказ отменён, остатки возвращены")
			return cancelled, nil
		}
		if !errors.Is(err, errLostRace) {
			return nil, domain.Classify(op, err)
		}
		log := logger.FromContext(ctx)
		log.Debug().Int("attempt", attempt+1).Msg("Заказ изменён параллельно, повторяем отмену")
	}

	return nil, domain.E(domain.KindConflict, op, domain.ErrConcurrentUpdate)
}

// UpdateStatus продвигает заказ вперёд (администратор).
// Доставка заказа с оплатой при получении завершает его платёж.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID string, to domain.OrderStatus) (*domain.Order, error) {
	const op = "order.UpdateStatus"

	ctx = logger.WithLogger(ctx, logger.FromContext(ctx).With().Str("order_id", orderID).Logger())

	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		fx := newEffects()
		var updated *domain.Order
		var from domain.OrderStatus

		err := s.store.Transaction(ctx, func(tx repository.Store) error {
			order, err := tx.Orders().GetByID(ctx, orderID)
			if err != nil {
				return err
			}
			if err := order.CheckManualTransition(to); err != nil {
				return err
			}

			from = order.Status
			ok, err := tx.Orders().UpdateStatusIf(ctx, order.ID, from, to)
			if err != nil {
				return err
			}
			if !ok {
				return errLostRace
			}

			now := s.sm.now()
			order.Status = to
			order.UpdatedAt = now

			if err := writeOrderEvent(ctx, tx, order, from, to, reasonAdminUpdate, now); err != nil {
				return err
			}
			fx.push(orderUpdatePush(order))
			if err := s.notifier.stage(ctx, tx, domain.NewOrderNotification(order, domain.NotificationOrderStatusUpdated, now), fx); err != nil {
				return err
			}

			if to == domain.OrderStatusDelivered && order.IsCashOnDelivery() {
				if err := s.completeOnDelivery(ctx, tx, order, fx); err != nil {
					return err
				}
			}

			updated = order
			return nil
		})
		if err == nil {
			s.notifier.flush(ctx, fx)
			log := logger.FromContext(ctx)
			log.Info().
				Str("from", string(from)).
				Str("to", string(to)).
				Msg("Статус заказа изменён")
			return updated, nil
		}
		if !errors.Is(err, errLostRace) {
			return nil, domain.Classify(op, err)
		}
	}

	return nil, domain.E(domain.KindConflict, op, domain.ErrConcurrentUpdate)
}

// completeOnDelivery завершает незавершённый COD платёж доставленного заказа.
// Нет такого платежа — no-op.
func (s *OrderService) completeOnDelivery(ctx context.Context, tx repository.Store, order *domain.Order, fx *effects) error {
	payment, err := tx.Payments().FindActive(ctx, order.ID, domain.MethodCashOnDelivery)
	if errors.Is(err, domain.ErrPaymentNotFound) {
		log := logger.FromContext(ctx)
		log.Warn().Msg("Заказ доставлен, но незавершённого COD платежа нет")
		return nil
	}
	if err != nil {
		return err
	}

	change, err := payment.ChangeTo(domain.PaymentStatusCompleted, domain.SourceDelivery, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("завершение COD платежа %s: %w", payment.TransactionID, err)
	}
	change.WithResponse("", "Delivered")
	return s.sm.applyTx(ctx, tx, payment, change, fx)
}
