package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"example.com/payment-engine/pkg/config"
	"example.com/payment-engine/pkg/logger"
	"example.com/payment-engine/pkg/metrics"
	"example.com/payment-engine/services/payment/internal/domain"
	"example.com/payment-engine/services/payment/internal/gateway"
	"example.com/payment-engine/services/payment/internal/repository"
)

// =============================================================================
// Запросы
// =============================================================================

// Actor — кто выполняет операцию.
type Actor struct {
	UserID string
	Admin  bool
}

// canSee проверяет доступ к ресурсу пользователя ownerID.
func (a Actor) canSee(ownerID string) bool {
	return a.Admin || a.UserID == ownerID
}

// CreateInput — запрос на создание платежа.
type CreateInput struct {
	UserID    string
	OrderID   string
	Method    domain.PaymentMethod
	ExtraData string
	ReturnURL string
}

// ReturnInput — параметры возврата покупателя со страницы шлюза.
type ReturnInput struct {
	TransactionID string // orderId
	ResultCode    string
	Message       string
	Callback      *gateway.Callback // Полный набор полей, если шлюз прислал подпись
}

// =============================================================================
// PaymentService
// =============================================================================

// PaymentService — оркестратор жизненного цикла платежа.
type PaymentService struct {
	store   repository.Store
	gateway gateway.Client
	locker  Locker
	sm      *stateMachine
	cfg     config.PaymentConfig
}

// NewPaymentService создаёт оркестратор платежей.
// locker может быть nil: тогда от дублей защищает только проверка активного платежа.
func NewPaymentService(
	store repository.Store,
	gw gateway.Client,
	locker Locker,
	notifier *Notifier,
	reconciler *Reconciler,
	cfg config.PaymentConfig,
) *PaymentService {
	return &PaymentService{
		store:   store,
		gateway: gw,
		locker:  locker,
		sm:      newStateMachine(store, notifier, reconciler),
		cfg:     cfg,
	}
}

// Create создаёт платёж для заказа выбранным методом.
//
// Для пары (заказ, метод) с незавершённым платежом возвращается он же.
// Для шлюза transaction_id генерируется до вызова и уходит в шлюз как orderId;
// платёж сохраняется в PENDING до вызова и переводится в PROCESSING (шлюз принял)
// или FAILED (шлюз отказал или недоступен).
func (s *PaymentService) Create(ctx context.Context, in CreateInput) (*domain.Payment, error) {
	const op = "payment.Create"

	if strings.TrimSpace(in.OrderID) == "" {
		return nil, domain.Validation(op, "orderId обязателен")
	}
	if !in.Method.Valid() {
		return nil, domain.E(domain.KindValidation, op, domain.ErrInvalidMethod)
	}

	order, err := s.store.Orders().GetByID(ctx, in.OrderID)
	if err != nil {
		return nil, domain.Classify(op, err)
	}
	if order.UserID != in.UserID {
		return nil, domain.E(domain.KindNotFound, op, domain.ErrOrderNotFound)
	}
	if !order.CanAcceptPayment() {
		return nil, domain.E(domain.KindConflict, op, fmt.Errorf("%w: статус %s", domain.ErrOrderNotPayable, order.Status))
	}
	if !order.TotalAmount.IsPositive() {
		return nil, domain.E(domain.KindValidation, op, domain.ErrInvalidAmount)
	}
	if in.Method.IsGateway() {
		if err := gateway.ValidateAmount(order.TotalAmount); err != nil {
			return nil, domain.Classify(op, err)
		}
	}

	ctx = logger.WithLogger(ctx, logger.FromContext(ctx).With().
		Str("order_id", order.ID).
		Str("method", string(in.Method)).
		Logger())
	payment, created, err := s.findOrInsert(ctx, order, in.Method)
	if err != nil {
		return nil, domain.Classify(op, err)
	}
	if !created || !in.Method.IsGateway() {
		return payment, nil
	}

	return s.createWithGateway(logger.WithTransactionID(ctx, payment.TransactionID), order, payment, in)
}

// findOrInsert под блокировкой (заказ, метод) возвращает незавершённый платёж
// или сохраняет новый в PENDING. Блокировка снимается до вызова шлюза:
// повторный запрос клиента во время вызова получает уже сохранённый платёж.
func (s *PaymentService) findOrInsert(ctx context.Context, order *domain.Order, method domain.PaymentMethod) (*domain.Payment, bool, error) {
	log := logger.FromContext(ctx)

	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx, createLockKey(order.ID, string(method)), s.cfg.CreateLockTTL)
		switch {
		case err != nil:
			// Redis недоступен — продолжаем, от дублей защищает проверка активного платежа.
			log.Error().Err(err).Msg("Ошибка Redis при блокировке создания платежа")
		case !ok:
			existing, err := s.store.Payments().FindActive(ctx, order.ID, method)
			if errors.Is(err, domain.ErrPaymentNotFound) {
				return nil, false, domain.ErrCreateInProgress
			}
			if err != nil {
				return nil, false, err
			}
			return existing, false, nil
		default:
			defer unlock()
		}
	}

	existing, err := s.store.Payments().FindActive(ctx, order.ID, method)
	switch {
	case err == nil:
		log.Info().
			Str("transaction_id", existing.TransactionID).
			Str("status", string(existing.Status)).
			Msg("Найден незавершённый платёж, возвращаем его")
		return existing, false, nil
	case !errors.Is(err, domain.ErrPaymentNotFound):
		return nil, false, err
	}

	if paid, err := s.hasCompletedPayment(ctx, order.ID); err != nil {
		return nil, false, err
	} else if paid {
		return nil, false, domain.ErrOrderAlreadyPaid
	}

	payment := domain.NewPayment(order, method, s.sm.now())
	if method.IsGateway() {
		requestID := uuid.New().String()
		payment.GatewayRequestID = &requestID
	}
	if err := payment.Validate(); err != nil {
		return nil, false, err
	}

	ctx = logger.WithTransactionID(ctx, payment.TransactionID)
	log = logger.FromContext(ctx)

	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.Payments().Create(ctx, payment); err != nil {
			return err
		}
		return writePaymentEvent(ctx, tx, payment, "", domain.PaymentStatusPending, domain.SourceCreate, payment.CreatedAt)
	})
	if err != nil {
		return nil, false, err
	}
	metrics.RecordTransition("", string(domain.PaymentStatusPending), string(domain.SourceCreate))

	log.Info().
		Str("payment_id", payment.PaymentID).
		Str("amount", payment.Amount.String()).
		Msg("Платёж создан")
	return payment, true, nil
}

// createWithGateway вызывает шлюз для уже сохранённого PENDING платежа.
func (s *PaymentService) createWithGateway(ctx context.Context, order *domain.Order, payment *domain.Payment, in CreateInput) (*domain.Payment, error) {
	const op = "payment.Create"
	log := logger.FromContext(ctx)

	result, raw, callErr := s.gateway.CreateIntent(ctx, gateway.CreateRequest{
		TransactionID: payment.TransactionID,
		RequestID:     *payment.GatewayRequestID,
		OrderNumber:   order.OrderNumber,
		Amount:        payment.Amount,
		ExtraData:     in.ExtraData,
		RedirectURL:   in.ReturnURL,
	})

	if callErr != nil {
		// Запись остаётся для диагностики в статусе FAILED.
		_, _, err := s.sm.transition(ctx, payment, domain.PaymentStatusFailed, domain.SourceCreate, func(c *domain.StatusChange) {
			c.WithResponse("", "Gateway error: "+callErr.Error())
			c.RawResponse = jsonOrNil(raw)
		})
		if err != nil {
			log.Error().Err(err).Msg("Не удалось пометить платёж как FAILED после ошибки шлюза")
		}
		return nil, domain.E(domain.KindUpstream, op, callErr)
	}

	to := domain.PaymentStatusProcessing
	if !result.Succeeded() {
		to = domain.PaymentStatusFailed
	}

	updated, _, err := s.sm.transition(ctx, payment, to, domain.SourceCreate, func(c *domain.StatusChange) {
		c.WithResponse(strconv.Itoa(result.ResultCode), result.Message)
		c.RawResponse = jsonOrNil(raw)
		c.PayURL = result.PayURL
		c.QRCodeURL = result.QRCodeURL
		c.Deeplink = result.Deeplink
	})
	if err != nil {
		// Webhook успел раньше ответа шлюза: платёж уже завершён.
		if errors.Is(err, domain.ErrInvalidTransition) {
			return updated, nil
		}
		return nil, domain.Classify(op, err)
	}

	if to == domain.PaymentStatusFailed {
		log.Warn().
			Int("result_code", result.ResultCode).
			Str("message", result.Message).
			Msg("Шлюз отклонил платёж")
	}
	return updated, nil
}

func (s *PaymentService) hasCompletedPayment(ctx context.Context, orderID string) (bool, error) {
	payments, err := s.store.Payments().ListByOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	for _, p := range payments {
		if p.Status == domain.PaymentStatusCompleted {
			return true, nil
		}
	}
	return false, nil
}

// =============================================================================
// Входящие сообщения шлюза
// =============================================================================

// HandleCallback обрабатывает уведомление шлюза (IPN).
//
// Порядок: подпись, поиск платежа по orderId (= transaction_id), сверка суммы,
// переход в COMPLETED или FAILED. Повторное уведомление с тем же результатом — no-op.
// Каждое уведомление сохраняется в журнал вместе с исходом обработки.
func (s *PaymentService) HandleCallback(ctx context.Context, cb *gateway.Callback) (*domain.Payment, error) {
	const op = "payment.HandleCallback"

	ctx = logger.WithTransactionID(ctx, cb.OrderID)
	log := logger.FromContext(ctx).With().
		Str("request_id", cb.RequestID).
		Str("trans_id", cb.TransID).
		Str("result_code", cb.ResultCode).
		Logger()

	event := &domain.GatewayEvent{
		ID:            uuid.New().String(),
		Gateway:       gateway.Name,
		Kind:          "webhook",
		TransactionID: cb.OrderID,
		RequestID:     cb.RequestID,
		TransID:       cb.TransID,
		ResultCode:    cb.ResultCode,
		Payload:       cb.JSON(),
		CreatedAt:     s.sm.now(),
	}
	defer func() {
		metrics.RecordWebhook(event.Outcome)
		s.recordEvent(ctx, event)
	}()

	if !s.gateway.VerifyCallback(cb) {
		event.Outcome = domain.EventOutcomeInvalidSignature
		log.Warn().Msg("Неверная подпись уведомления шлюза, сообщение отклонено")
		return nil, domain.E(domain.KindAuthentication, op, domain.ErrInvalidSignature)
	}
	event.SignatureValid = true

	payment, err := s.store.Payments().GetByTransactionID(ctx, cb.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			event.Outcome = domain.EventOutcomeNotFound
			log.Error().Msg("Уведомление шлюза для неизвестной транзакции")
		} else {
			event.Outcome = domain.EventOutcomeError
			log.Error().Err(err).Msg("Ошибка поиска платежа по уведомлению шлюза")
		}
		return nil, domain.Classify(op, err)
	}

	if amount, ok := cb.AmountValue(); !ok || !payment.Amount.Equal(payment.Amount.Truncate(0)) || amount != payment.Amount.IntPart() {
		event.Outcome = domain.EventOutcomeAmountMismatch
		log.Error().
			Str("expected", payment.Amount.String()).
			Str("received", cb.Amount).
			Msg("Сумма в уведомлении шлюза не совпадает с суммой платежа")
		return nil, domain.E(domain.KindValidation, op, domain.ErrAmountMismatch)
	}

	to := domain.PaymentStatusFailed
	if cb.Succeeded() {
		to = domain.PaymentStatusCompleted
	}

	updated, applied, err := s.sm.transition(ctx, payment, to, domain.SourceWebhook, func(c *domain.StatusChange) {
		c.WithResponse(cb.ResultCode, cb.Message)
		if cb.TransID != "" {
			transID := cb.TransID
			c.GatewayTransID = &transID
		}
		c.RawResponse = cb.JSON()
	})
	if err != nil {
		event.Outcome = domain.EventOutcomeRejected
		if !errors.Is(err, domain.ErrInvalidTransition) {
			event.Outcome = domain.EventOutcomeError
		}
		log.Warn().Err(err).Str("status", string(payment.Status)).Msg("Уведомление шлюза не применено")
		return updated, domain.Classify(op, err)
	}

	event.Outcome = domain.EventOutcomeApplied
	if !applied {
		event.Outcome = domain.EventOutcomeDuplicate
	}
	return updated, nil
}

// HandleReturn обрабатывает возврат покупателя со страницы шлюза.
// resultCode "0" при незавершённом платеже применяет тот же переход, что и webhook.
// Если шлюз прислал подпись, она проверяется.
func (s *PaymentService) HandleReturn(ctx context.Context, in ReturnInput) (*domain.Payment, error) {
	const op = "payment.HandleReturn"

	if in.TransactionID == "" {
		return nil, domain.Validation(op, "orderId обязателен")
	}
	ctx = logger.WithTransactionID(ctx, in.TransactionID)
	log := logger.FromContext(ctx)

	event := &domain.GatewayEvent{
		ID:            uuid.New().String(),
		Gateway:       gateway.Name,
		Kind:          "return",
		TransactionID: in.TransactionID,
		ResultCode:    in.ResultCode,
		CreatedAt:     s.sm.now(),
	}
	if in.Callback != nil {
		event.RequestID = in.Callback.RequestID
		event.TransID = in.Callback.TransID
		event.Payload = in.Callback.JSON()
	}
	defer s.recordEvent(ctx, event)

	if in.Callback != nil && in.Callback.Signature != "" {
		if !s.gateway.VerifyCallback(in.Callback) {
			event.Outcome = domain.EventOutcomeInvalidSignature
			log.Warn().Msg("Неверная подпись параметров возврата")
			return nil, domain.E(domain.KindAuthentication, op, domain.ErrInvalidSignature)
		}
		event.SignatureValid = true
	}

	payment, err := s.store.Payments().GetByTransactionID(ctx, in.TransactionID)
	if err != nil {
		event.Outcome = domain.EventOutcomeNotFound
		return nil, domain.Classify(op, err)
	}

	if in.ResultCode != "0" || !payment.Status.IsActive() {
		event.Outcome = domain.EventOutcomeDuplicate
		return payment, nil
	}

	updated, applied, err := s.sm.transition(ctx, payment, domain.PaymentStatusCompleted, domain.SourceReturn, func(c *domain.StatusChange) {
		c.WithResponse(in.ResultCode, in.Message)
		if in.Callback != nil && in.Callback.TransID != "" {
			transID := in.Callback.TransID
			c.GatewayTransID = &transID
		}
	})
	if err != nil {
		// Параллельно пришёл webhook с другим результатом.
		if errors.Is(err, domain.ErrInvalidTransition) {
			event.Outcome = domain.EventOutcomeRejected
			return updated, nil
		}
		event.Outcome = domain.EventOutcomeError
		return nil, domain.Classify(op, err)
	}

	event.Outcome = domain.EventOutcomeApplied
	if !applied {
		event.Outcome = domain.EventOutcomeDuplicate
	}
	return updated, nil
}

// recordEvent сохраняет сообщение шлюза в журнал. Ошибка журнала не влияет на обработку.
func (s *PaymentService) recordEvent(ctx context.Context, event *domain.GatewayEvent) {
	if event.Outcome == "" {
		event.Outcome = domain.EventOutcomeError
	}
	if err := s.store.GatewayEvents().Record(ctx, event); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("outcome", event.Outcome).Msg("Не удалось сохранить сообщение шлюза в журнал")
	}
}

// =============================================================================
// Административные действия
// =============================================================================

// Complete вручную завершает платёж (симуляция успешной оплаты).
// Побочные эффекты те же, что у успешного webhook.
func (s *PaymentService) Complete(ctx context.Context, transactionID string) (*domain.Payment, error) {
	return s.adminTransition(ctx, "payment.Complete", transactionID, domain.PaymentStatusCompleted)
}

// Refund переводит COMPLETED платёж в REFUNDED. Статус заказа не меняется.
func (s *PaymentService) Refund(ctx context.Context, transactionID string) (*domain.Payment, error) {
	const op = "payment.Refund"

	payment, err := s.store.Payments().GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, domain.Classify(op, err)
	}
	if payment.Status != domain.PaymentStatusCompleted {
		return nil, domain.E(domain.KindConflict, op,
			fmt.Errorf("%w: возврат возможен только из COMPLETED, текущий %s", domain.ErrInvalidTransition, payment.Status))
	}

	updated, _, err := s.sm.transition(logger.WithTransactionID(ctx, transactionID), payment, domain.PaymentStatusRefunded, domain.SourceAdmin, nil)
	if err != nil {
		return nil, domain.Classify(op, err)
	}
	return updated, nil
}

// Cancel отменяет незавершённый платёж.
func (s *PaymentService) Cancel(ctx context.Context, transactionID string) (*domain.Payment, error) {
	return s.adminTransition(ctx, "payment.Cancel", transactionID, domain.PaymentStatusCancelled)
}

func (s *PaymentService) adminTransition(ctx context.Context, op, transactionID string, to domain.PaymentStatus) (*domain.Payment, error) {
	payment, err := s.store.Payments().GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, domain.Classify(op, err)
	}

	updated, _, err := s.sm.transition(logger.WithTransactionID(ctx, transactionID), payment, to, domain.SourceAdmin, func(c *domain.StatusChange) {
		c.WithResponse("", "admin")
	})
	if err != nil {
		return nil, domain.Classify(op, err)
	}
	return updated, nil
}

// =============================================================================
// Зависшие платежи
// =============================================================================

// SweepResult — итог одного прохода по зависшим платежам.
type SweepResult struct {
	Failed    int
	Cancelled int
}

// Sweep разбирает зависшие платежи шлюза:
// PENDING дольше PendingTimeout (вызов шлюза не завершился) — FAILED,
// PROCESSING дольше ProcessingExpiry (webhook так и не пришёл) — CANCELLED.
func (s *PaymentService) Sweep(ctx context.Context, limit int) (SweepResult, error) {
	var result SweepResult
	now := s.sm.now()

	stuck, err := s.store.Payments().ListStale(ctx, domain.PaymentStatusPending, domain.MethodMoMo, now.Add(-s.cfg.PendingTimeout), limit)
	if err != nil {
		return result, domain.Classify("payment.Sweep", err)
	}
	for _, p := range stuck {
		if s.sweepOne(ctx, p, domain.PaymentStatusFailed, "Gateway call did not complete") {
			result.Failed++
		}
	}

	expired, err := s.store.Payments().ListStale(ctx, domain.PaymentStatusProcessing, domain.MethodMoMo, now.Add(-s.cfg.ProcessingExpiry), limit)
	if err != nil {
		return result, domain.Classify("payment.Sweep", err)
	}
	for _, p := range expired {
		if s.sweepOne(ctx, p, domain.PaymentStatusCancelled, "Payment expired") {
			result.Cancelled++
		}
	}

	return result, nil
}

func (s *PaymentService) sweepOne(ctx context.Context, p *domain.Payment, to domain.PaymentStatus, reason string) bool {
	_, applied, err := s.sm.transition(logger.WithTransactionID(ctx, p.TransactionID), p, to, domain.SourceSweeper, func(c *domain.StatusChange) {
		c.WithResponse("", reason)
	})
	if err != nil {
		// Платёж успел завершиться — это нормально.
		if !errors.Is(err, domain.ErrInvalidTransition) {
			log := logger.FromContext(ctx)
			log.Error().Err(err).Str("transaction_id", p.TransactionID).Msg("Ошибка обработки зависшего платежа")
		}
		return false
	}
	return applied
}

// =============================================================================
// Запросы
// =============================================================================

// GetByTransactionID возвращает платёж владельцу или администратору.
func (s *PaymentService) GetByTransactionID(ctx context.Context, actor Actor, transactionID string) (*domain.Payment, error) {
	const op = "payment.GetByTransactionID"

	payment, err := s.store.Payments().GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, domain.Classify(op, err)
	}
	if !actor.canSee(payment.UserID) {
		return nil, domain.E(domain.KindNotFound, op, domain.ErrPaymentNotFound)
	}
	return payment, nil
}

// GetByPaymentID возвращает платёж по внешнему идентификатору.
func (s *PaymentService) GetByPaymentID(ctx context.Context, actor Actor, paymentID string) (*domain.Payment, error) {
	const op = "payment.GetByPaymentID"

	payment, err := s.store.Payments().GetByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, domain.Classify(op, err)
	}
	if !actor.canSee(payment.UserID) {
		return nil, domain.E(domain.KindNotFound, op, domain.ErrPaymentNotFound)
	}
	return payment, nil
}

// ListByOrder возвращает платежи заказа, новые первыми.
func (s *PaymentService) ListByOrder(ctx context.Context, actor Actor, orderID string) ([]*domain.Payment, error) {
	const op = "payment.ListByOrder"

	order, err := s.store.Orders().GetByID(ctx, orderID)
	if err != nil {
		return nil, domain.Classify(op, err)
	}
	if !actor.canSee(order.UserID) {
		return nil, domain.E(domain.KindNotFound, op, domain.ErrOrderNotFound)
	}

	payments, err := s.store.Payments().ListByOrder(ctx, orderID)
	if err != nil {
		return nil, domain.Classify(op, err)
	}
	return payments, nil
}

// ListMine возвращает платежи пользователя.
func (s *PaymentService) ListMine(ctx context.Context, userID string, page domain.Page) ([]*domain.Payment, int64, error) {
	payments, total, err := s.store.Payments().List(ctx, domain.PaymentFilter{UserID: userID}, page)
	if err != nil {
		return nil, 0, domain.Classify("payment.ListMine", err)
	}
	return payments, total, nil
}

// List возвращает платежи по фильтру (администратор).
func (s *PaymentService) List(ctx context.Context, filter domain.PaymentFilter, page domain.Page) ([]*domain.Payment, int64, error) {
	payments, total, err := s.store.Payments().List(ctx, filter, page)
	if err != nil {
		return nil, 0, domain.Classify("payment.List", err)
	}
	return payments, total, nil
}

// jsonOrNil возвращает raw, если это похоже на JSON объект.
// Тело ошибки шлюза может быть HTML, в json колонку его не пишем.
func jsonOrNil(raw []byte) []byte {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return []byte(trimmed)
	}
	return nil
}
