package domain

import "time"

// Исход обработки входящего сообщения шлюза.
const (
	EventOutcomeApplied          = "applied"
	EventOutcomeDuplicate        = "duplicate"
	EventOutcomeInvalidSignature = "invalid_signature"
	EventOutcomeNotFound         = "not_found"
	EventOutcomeAmountMismatch   = "amount_mismatch"
	EventOutcomeRejected         = "rejected"
	EventOutcomeError            = "error"
)

// GatewayEvent — входящее сообщение шлюза (webhook или return), сохранённое как есть.
type GatewayEvent struct {
	ID             string
	Gateway        string // momo
	Kind           string // webhook / return
	TransactionID  string // orderId из сообщения
	RequestID      string
	TransID        string
	ResultCode     string
	Payload        []byte // JSON
	SignatureValid bool
	Outcome        string
	CreatedAt      time.Time
}
