// Package gateway содержит клиент платёжного шлюза MoMo:
// создание платежа (исходящий подписанный запрос) и проверку
// подписи входящих уведомлений.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"example.com/payment-engine/pkg/circuitbreaker"
	"example.com/payment-engine/pkg/config"
	"example.com/payment-engine/pkg/logger"
	"example.com/payment-engine/pkg/metrics"
	"example.com/payment-engine/pkg/signature"
	"example.com/payment-engine/services/payment/internal/domain"
)

// Name — имя шлюза в метриках и журнале событий.
const Name = "momo"

// ResultSuccess — resultCode успешной операции.
const ResultSuccess = 0

// maxResponseSize ограничивает чтение ответа шлюза.
const maxResponseSize = 1 << 20

// =============================================================================
// Запрос и ответ
// =============================================================================

// CreateRequest — данные для создания платежа в шлюзе.
type CreateRequest struct {
	TransactionID string // Отправляется как orderId
	RequestID     string
	OrderNumber   string
	Amount        decimal.Decimal
	ExtraData     string
	RedirectURL   string // Пусто — из конфигурации
}

// CreateResult — разобранный ответ шлюза.
// Ненулевой ResultCode — обычный отказ шлюза, а не ошибка транспорта.
type CreateResult struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	ResponseTime int64  `json:"responseTime"`
	Message      string `json:"message"`
	ResultCode   int    `json:"resultCode"`
	PayURL       string `json:"payUrl"`
	Deeplink     string `json:"deeplink"`
	QRCodeURL    string `json:"qrCodeUrl"`
}

// Succeeded возвращает true, если шлюз принял платёж.
func (r *CreateResult) Succeeded() bool {
	return r.ResultCode == ResultSuccess
}

// createBody — тело исходящего запроса.
type createBody struct {
	PartnerCode     string `json:"partnerCode"`
	RequestID       string `json:"requestId"`
	Amount          int64  `json:"amount"`
	OrderID         string `json:"orderId"`
	OrderInfo       string `json:"orderInfo"`
	RedirectURL     string `json:"redirectUrl"`
	IpnURL          string `json:"ipnUrl"`
	Lang            string `json:"lang"`
	OrderExpireTime int    `json:"orderExpireTime"`
	ExtraData       string `json:"extraData"`
	RequestType     string `json:"requestType"`
	Signature       string `json:"signature"`
	AutoCapture     bool   `json:"autoCapture"`
}

// =============================================================================
// Client
// =============================================================================

// Client — операции шлюза, нужные оркестратору.
type Client interface {
	// CreateIntent создаёт платёж в шлюзе.
	// Возвращает разобранный ответ и сырой JSON. Ошибка — только при сбое транспорта,
	// ответе не-2xx, таймауте или неразборчивом ответе.
	CreateIntent(ctx context.Context, req CreateRequest) (*CreateResult, []byte, error)

	// VerifyCallback проверяет подпись входящего уведомления.
	VerifyCallback(cb *Callback) bool
}

// MoMoClient — HTTP клиент MoMo.
type MoMoClient struct {
	cfg     config.MoMoConfig
	http    *http.Client
	breaker *circuitbreaker.Breaker
	now     func() time.Time
}

// Option настраивает MoMoClient.
type Option func(*MoMoClient)

// WithHTTPClient задаёт HTTP клиент (тесты подменяют Transport).
func WithHTTPClient(c *http.Client) Option {
	return func(m *MoMoClient) { m.http = c }
}

// WithBreaker задаёт circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(m *MoMoClient) { m.breaker = b }
}

// NewMoMoClient создаёт клиент шлюза.
func NewMoMoClient(cfg config.MoMoConfig, opts ...Option) *MoMoClient {
	c := &MoMoClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		s := circuitbreaker.DefaultSettings()
		// Отказ шлюза по resultCode не ошибка, сбоем считаем только недоступность.
		s.IsFailure = func(err error) bool { return errors.Is(err, domain.ErrGatewayUnavailable) }
		c.breaker = circuitbreaker.NewWithSettings(Name, s)
	}
	return c
}

// ValidateAmount проверяет, что сумму можно передать шлюзу (целое число больше нуля).
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(0)) {
		return domain.Validation("gateway.ValidateAmount", "сумма для шлюза должна быть целым числом")
	}
	return nil
}

// OrderInfo формирует описание платежа для шлюза.
func OrderInfo(orderNumber string) string {
	return "Thanh toán đơn hàng " + orderNumber
}

// CreateSignatureFields возвращает поля подписи исходящего запроса в порядке протокола.
func CreateSignatureFields(accessKey string, amount int64, extraData, ipnURL, orderID, orderInfo, partnerCode, redirectURL, requestID, requestType string) signature.Fields {
	return signature.Fields{
		signature.F("accessKey", accessKey),
		signature.F("amount", fmt.Sprintf("%d", amount)),
		signature.F("extraData", extraData),
		signature.F("ipnUrl", ipnURL),
		signature.F("orderId", orderID),
		signature.F("orderInfo", orderInfo),
		signature.F("partnerCode", partnerCode),
		signature.F("redirectUrl", redirectURL),
		signature.F("requestId", requestID),
		signature.F("requestType", requestType),
	}
}

// CreateIntent отправляет подписанный запрос создания платежа.
func (c *MoMoClient) CreateIntent(ctx context.Context, req CreateRequest) (*CreateResult, []byte, error) {
	if !c.cfg.Enabled {
		return nil, nil, domain.ErrGatewayDisabled
	}
	if err := ValidateAmount(req.Amount); err != nil {
		return nil, nil, err
	}

	body := c.buildBody(req)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка сериализации запроса: %w", err)
	}

	log := logger.FromContext(ctx).With().
		Str("gateway", Name).
		Str("order_id", body.OrderID).
		Str("request_id", body.RequestID).
		Logger()

	var (
		result *CreateResult
		raw    []byte
	)

	start := c.now()
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		var callErr error
		result, raw, callErr = c.post(ctx, payload)
		return callErr
	})
	duration := time.Since(start)

	switch {
	case errors.Is(err, circuitbreaker.ErrOpen), errors.Is(err, circuitbreaker.ErrTooManyRequests):
		metrics.RecordGatewayCall(Name, "breaker_open", duration)
		log.Warn().Err(err).Msg("Вызов шлюза отклонён circuit breaker")
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	case err != nil:
		metrics.RecordGatewayCall(Name, "error", duration)
		log.Error().Err(err).Dur("duration", duration).Msg("Ошибка вызова шлюза")
		return nil, raw, err
	}

	outcome := "accepted"
	if !result.Succeeded() {
		outcome = "rejected"
	}
	metrics.RecordGatewayCall(Name, outcome, duration)

	log.Info().
		Int("result_code", result.ResultCode).
		Str("message", result.Message).
		Dur("duration", duration).
		Msg("Ответ шлюза получен")

	return result, raw, nil
}

func (c *MoMoClient) buildBody(req CreateRequest) *createBody {
	redirectURL := req.RedirectURL
	if redirectURL == "" {
		redirectURL = c.cfg.ReturnURL
	}
	amount := req.Amount.IntPart()
	orderInfo := OrderInfo(req.OrderNumber)

	fields := CreateSignatureFields(c.cfg.AccessKey, amount, req.ExtraData, c.cfg.NotifyURL,
		req.TransactionID, orderInfo, c.cfg.PartnerCode, redirectURL, req.RequestID, c.cfg.RequestType)

	return &createBody{
		PartnerCode:     c.cfg.PartnerCode,
		RequestID:       req.RequestID,
		Amount:          amount,
		OrderID:         req.TransactionID,
		OrderInfo:       orderInfo,
		RedirectURL:     redirectURL,
		IpnURL:          c.cfg.NotifyURL,
		Lang:            c.cfg.Lang,
		OrderExpireTime: c.cfg.OrderExpireTime,
		ExtraData:       req.ExtraData,
		RequestType:     c.cfg.RequestType,
		Signature:       signature.Sign(fields, c.cfg.SecretKey),
		AutoCapture:     true,
	}
}

// post выполняет HTTP запрос с ограничением по времени.
func (c *MoMoClient) post(ctx context.Context, payload []byte) (*CreateResult, []byte, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка создания запроса: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: чтение ответа: %v", domain.ErrGatewayUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, raw, fmt.Errorf("%w: HTTP %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	}

	var result CreateResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, raw, fmt.Errorf("%w: неразборчивый ответ: %v", domain.ErrGatewayUnavailable, err)
	}

	return &result, raw, nil
}
