package logger

import (
	"context"

	"github.com/rs/zerolog"
)

// ctxKey — приватный тип ключей контекста.
type ctxKey string

const (
	// traceIDKey — идентификатор входящего запроса.
	traceIDKey ctxKey = "trace_id"

	// correlationIDKey связывает операции одной бизнес-цепочки.
	correlationIDKey ctxKey = "correlation_id"

	// transactionIDKey — transaction_id платежа, по которому идёт обработка.
	transactionIDKey ctxKey = "transaction_id"

	loggerKey ctxKey = "logger"
)

// WithTraceID добавляет trace_id в контекст.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext извлекает trace_id. Пустая строка, если не задан.
func TraceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// WithCorrelationID добавляет correlation_id в контекст.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationIDFromContext извлекает correlation_id. Пустая строка, если не задан.
func CorrelationIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(correlationIDKey).(string); ok {
		return v
	}
	return ""
}

// WithTransactionID привязывает transaction_id платежа к контексту.
// Все записи лога через FromContext получат это поле.
func WithTransactionID(ctx context.Context, transactionID string) context.Context {
	return context.WithValue(ctx, transactionIDKey, transactionID)
}

// TransactionIDFromContext извлекает transaction_id. Пустая строка, если не задан.
func TransactionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(transactionIDKey).(string); ok {
		return v
	}
	return ""
}

// WithLogger кладёт настроенный логгер в контекст.
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext возвращает логгер из контекста (или глобальный)
// с полями trace_id, correlation_id и transaction_id, если они есть.
//
// Пример:
//
//	log := logger.FromContext(ctx)
//	log.Info().Str("order_id", orderID).Msg("Заказ подтверждён")
func FromContext(ctx context.Context) zerolog.Logger {
	l := log
	if ctxLogger, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		l = ctxLogger
	}

	lc := l.With()
	if v := TraceIDFromContext(ctx); v != "" {
		lc = lc.Str("trace_id", v)
	}
	if v := CorrelationIDFromContext(ctx); v != "" {
		lc = lc.Str("correlation_id", v)
	}
	if v := TransactionIDFromContext(ctx); v != "" {
		lc = lc.Str("transaction_id", v)
	}
	return lc.Logger()
}

// Ctx возвращает указатель на логгер из контекста.
func Ctx(ctx context.Context) *zerolog.Logger {
	l := FromContext(ctx)
	return &l
}

// NewContextWithIDs добавляет в контекст непустые trace_id и correlation_id.
func NewContextWithIDs(ctx context.Context, traceID, correlationID string) context.Context {
	if traceID != "" {
		ctx = WithTraceID(ctx, traceID)
	}
	if correlationID != "" {
		ctx = WithCorrelationID(ctx, correlationID)
	}
	return ctx
}
