// Package domain содержит бизнес-сущности движка платежей:
// платёж, заказ, уведомление и таксономию ошибок.
package domain

import (
	"errors"
	"fmt"
)

// =============================================================================
// Доменные ошибки
// =============================================================================

var (
	// ErrPaymentNotFound — платёж не найден.
	ErrPaymentNotFound = errors.New("платёж не найден")

	// ErrOrderNotFound — заказ не найден.
	ErrOrderNotFound = errors.New("заказ не найден")

	// ErrNotificationNotFound — уведомление не найдено.
	ErrNotificationNotFound = errors.New("уведомление не найдено")

	// ErrInvalidTransition — недопустимый переход состояния платежа.
	ErrInvalidTransition = errors.New("недопустимый переход состояния платежа")

	// ErrInvalidOrderTransition — недопустимый переход состояния заказа.
	ErrInvalidOrderTransition = errors.New("недопустимый переход состояния заказа")

	// ErrOrderCannotCancel — отменить можно только заказ в статусе PENDING.
	ErrOrderCannotCancel = errors.New("отменить можно только заказ в статусе PENDING")

	// ErrOrderNotPayable — заказ не ожидает оплаты.
	ErrOrderNotPayable = errors.New("заказ не ожидает оплаты")

	// ErrOrderAlreadyPaid — у заказа уже есть завершённый платёж.
	ErrOrderAlreadyPaid = errors.New("заказ уже оплачен")

	// ErrConcurrentUpdate — статус изменён параллельной операцией.
	ErrConcurrentUpdate = errors.New("статус изменён параллельной операцией")

	// ErrCreateInProgress — платёж для этой пары (заказ, метод) уже создаётся.
	ErrCreateInProgress = errors.New("создание платежа уже выполняется")

	// ErrInvalidSignature — подпись сообщения шлюза не прошла проверку.
	ErrInvalidSignature = errors.New("неверная подпись сообщения шлюза")

	// ErrAmountMismatch — сумма в сообщении шлюза не совпадает с суммой платежа.
	ErrAmountMismatch = errors.New("сумма не совпадает с суммой платежа")

	// ErrInvalidAmount — сумма должна быть больше нуля.
	ErrInvalidAmount = errors.New("сумма платежа должна быть больше нуля")

	// ErrInvalidMethod — неизвестный метод оплаты.
	ErrInvalidMethod = errors.New("неизвестный метод оплаты")

	// ErrGatewayDisabled — платёжный шлюз отключён конфигурацией.
	ErrGatewayDisabled = errors.New("платёжный шлюз отключён")

	// ErrGatewayUnavailable — шлюз недоступен, вернул не-2xx или не ответил вовремя.
	ErrGatewayUnavailable = errors.New("платёжный шлюз недоступен")

	// ErrForbidden — ресурс принадлежит другому пользователю.
	// Наружу отдаётся как "не найден", чтобы не раскрывать чужие идентификаторы.
	ErrForbidden = errors.New("доступ запрещён")

	// ErrDuplicatePayment — нарушена уникальность payment_id или transaction_id.
	ErrDuplicatePayment = errors.New("платёж с таким идентификатором уже существует")
)

// =============================================================================
// Таксономия ошибок
// =============================================================================

// Kind — класс ошибки, видимый вызывающей стороне.
type Kind string

const (
	// KindAuthentication — подпись не совпала. Состояние не меняется.
	KindAuthentication Kind = "AUTHENTICATION"

	// KindNotFound — неизвестный платёж, заказ или уведомление.
	KindNotFound Kind = "NOT_FOUND"

	// KindConflict — недопустимый переход (refund не из COMPLETED, cancel не из PENDING).
	KindConflict Kind = "CONFLICT"

	// KindUpstream — шлюз или хранилище недоступны. Движок не повторяет автоматически.
	KindUpstream Kind = "UPSTREAM"

	// KindValidation — некорректный запрос, отклонён до записи и внешних вызовов.
	KindValidation Kind = "VALIDATION"
)

// Error — классифицированная ошибка операции движка.
type Error struct {
	Kind Kind   // Класс ошибки
	Op   string // Операция, например "payment.HandleCallback"
	Err  error  // Исходная ошибка
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E создаёт классифицированную ошибку.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation создаёт ошибку валидации с текстом.
func Validation(op, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: errors.New(msg)}
}

// KindOf возвращает класс ошибки.
// Уже классифицированные ошибки сохраняют свой класс, известные sentinel
// отображаются на свой класс, всё остальное (хранилище, сеть) — Upstream.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}

	switch {
	case errors.Is(err, ErrInvalidSignature):
		return KindAuthentication
	case errors.Is(err, ErrPaymentNotFound),
		errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrNotificationNotFound),
		errors.Is(err, ErrForbidden):
		return KindNotFound
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrInvalidOrderTransition),
		errors.Is(err, ErrOrderCannotCancel),
		errors.Is(err, ErrOrderNotPayable),
		errors.Is(err, ErrOrderAlreadyPaid),
		errors.Is(err, ErrConcurrentUpdate),
		errors.Is(err, ErrCreateInProgress),
		errors.Is(err, ErrDuplicatePayment):
		return KindConflict
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidMethod),
		errors.Is(err, ErrAmountMismatch):
		return KindValidation
	default:
		return KindUpstream
	}
}

// Classify оборачивает ошибку в *Error с классом KindOf.
// nil и уже классифицированные ошибки возвращаются без изменений.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return E(KindOf(err), op, err)
}

// IsKind проверяет класс ошибки.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
