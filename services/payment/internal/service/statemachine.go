package service

import (
	"context"
	"errors"
	"time"

	"example.com/payment-engine/pkg/logger"
	"example.com/payment-engine/services/payment/internal/domain"
	"example.com/payment-engine/services/payment/internal/repository"
)

// maxTransitionAttempts — сколько раз перечитываем платёж после проигранной гонки.
const maxTransitionAttempts = 3

// stateMachine применяет переходы статуса платежа.
//
// Единственная точка изменения статуса: условное обновление
// (UPDATE ... WHERE id = ? AND status = ?) внутри транзакции.
// Побочные эффекты (сверка заказа, уведомление, событие outbox) пишутся
// в той же транзакции и только победителем гонки.
type stateMachine struct {
	store      repository.Store
	notifier   *Notifier
	reconciler *Reconciler
	now        func() time.Time
}

func newStateMachine(store repository.Store, notifier *Notifier, reconciler *Reconciler) *stateMachine {
	return &stateMachine{
		store:      store,
		notifier:   notifier,
		reconciler: reconciler,
		now:        time.Now,
	}
}

// transition переводит платёж в статус to.
// Возвращает актуальный платёж и applied=true, если переход выполнил этот вызов.
// Платёж уже в статусе to — no-op (повторная доставка).
// Недопустимый переход — ErrInvalidTransition.
func (m *stateMachine) transition(
	ctx context.Context,
	p *domain.Payment,
	to domain.PaymentStatus,
	source domain.Source,
	decorate func(*domain.StatusChange),
) (*domain.Payment, bool, error) {
	log := logger.FromContext(ctx).With().
		Str("payment_id", p.PaymentID).
		Str("transaction_id", p.TransactionID).
		Str("source", string(source)).
		Logger()

	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		if p.Status == to {
			log.Debug().Str("status", string(to)).Msg("Платёж уже в целевом статусе, повтор пропущен")
			return p, false, nil
		}

		change, err := p.ChangeTo(to, source, m.now())
		if err != nil {
			return p, false, err
		}
		if decorate != nil {
			decorate(change)
		}

		fx := newEffects()
		err = m.store.Transaction(ctx, func(tx repository.Store) error {
			return m.applyTx(ctx, tx, p, change, fx)
		})
		if err == nil {
			p.Apply(change)
			m.notifier.flush(ctx, fx)

			log.Info().
				Str("from", string(change.From)).
				Str("to", string(change.To)).
				Msg("Статус платежа изменён")
			return p, true, nil
		}
		if !errors.Is(err, errLostRace) {
			return p, false, err
		}

		log.Debug().Int("attempt", attempt+1).Msg("Статус изменён параллельно, перечитываем платёж")
		fresh, getErr := m.store.Payments().GetByID(ctx, p.ID)
		if getErr != nil {
			return p, false, getErr
		}
		p = fresh
	}

	return p, false, domain.ErrConcurrentUpdate
}

// applyTx выполняет условное обновление и побочные эффекты в транзакции tx.
// Проигранная гонка — errLostRace, транзакция откатывается целиком.
func (m *stateMachine) applyTx(ctx context.Context, tx repository.Store, p *domain.Payment, change *domain.StatusChange, fx *effects) error {
	ok, err := tx.Payments().UpdateStatusIf(ctx, p.ID, change)
	if err != nil {
		return err
	}
	if !ok {
		return errLostRace
	}
	fx.transition(change)

	if err := writePaymentEvent(ctx, tx, p, change.From, change.To, change.Source, change.At); err != nil {
		return err
	}

	switch change.To {
	case domain.PaymentStatusCompleted:
		order, err := tx.Orders().GetByID(ctx, p.OrderID)
		if err != nil {
			return err
		}
		if err := m.reconciler.onPaymentCompleted(ctx, tx, order, fx); err != nil {
			return err
		}
		return m.notifier.stage(ctx, tx, domain.NewPaymentNotification(order, true, change.At), fx)

	case domain.PaymentStatusFailed:
		// Отказ при создании виден вызывающему сразу, уведомление не нужно.
		if change.Source == domain.SourceCreate {
			return nil
		}
		order, err := tx.Orders().GetByID(ctx, p.OrderID)
		if err != nil {
			return err
		}
		return m.notifier.stage(ctx, tx, domain.NewPaymentNotification(order, false, change.At), fx)
	}

	return nil
}
