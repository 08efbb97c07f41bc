package gateway

import (
	"encoding/json"
	"net/url"
	"strconv"

	"example.com/payment-engine/pkg/signature"
)

// Callback — уведомление шлюза о результате платежа (IPN).
// Все значения хранятся строками в том виде, в каком пришли:
// подпись считается от исходного текста.
type Callback struct {
	PartnerCode  string `json:"partnerCode" form:"partnerCode"`
	OrderID      string `json:"orderId" form:"orderId"`
	RequestID    string `json:"requestId" form:"requestId"`
	Amount       string `json:"amount" form:"amount"`
	OrderInfo    string `json:"orderInfo" form:"orderInfo"`
	OrderType    string `json:"orderType" form:"orderType"`
	TransID      string `json:"transId" form:"transId"`
	ResultCode   string `json:"resultCode" form:"resultCode"`
	Message      string `json:"message" form:"message"`
	LocalMessage string `json:"localMessage" form:"localMessage"`
	ResponseTime string `json:"responseTime" form:"responseTime"`
	ExtraData    string `json:"extraData" form:"extraData"`
	Signature    string `json:"signature" form:"signature"`
}

// CallbackFromValues собирает уведомление из form/query параметров.
func CallbackFromValues(v url.Values) *Callback {
	return &Callback{
		PartnerCode:  v.Get("partnerCode"),
		OrderID:      v.Get("orderId"),
		RequestID:    v.Get("requestId"),
		Amount:       v.Get("amount"),
		OrderInfo:    v.Get("orderInfo"),
		OrderType:    v.Get("orderType"),
		TransID:      v.Get("transId"),
		ResultCode:   v.Get("resultCode"),
		Message:      v.Get("message"),
		LocalMessage: v.Get("localMessage"),
		ResponseTime: v.Get("responseTime"),
		ExtraData:    v.Get("extraData"),
		Signature:    v.Get("signature"),
	}
}

// rawCallback принимает JSON, где числа приходят числами.
type rawCallback struct {
	PartnerCode  string          `json:"partnerCode"`
	OrderID      string          `json:"orderId"`
	RequestID    string          `json:"requestId"`
	Amount       json.RawMessage `json:"amount"`
	OrderInfo    string          `json:"orderInfo"`
	OrderType    string          `json:"orderType"`
	TransID      json.RawMessage `json:"transId"`
	ResultCode   json.RawMessage `json:"resultCode"`
	Message      string          `json:"message"`
	LocalMessage string          `json:"localMessage"`
	ResponseTime json.RawMessage `json:"responseTime"`
	ExtraData    string          `json:"extraData"`
	Signature    string          `json:"signature"`
}

// CallbackFromJSON разбирает JSON тело уведомления.
// Числовые поля переводятся в строку без изменения записи.
func CallbackFromJSON(data []byte) (*Callback, error) {
	var raw rawCallback
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return &Callback{
		PartnerCode:  raw.PartnerCode,
		OrderID:      raw.OrderID,
		RequestID:    raw.RequestID,
		Amount:       scalar(raw.Amount),
		OrderInfo:    raw.OrderInfo,
		OrderType:    raw.OrderType,
		TransID:      scalar(raw.TransID),
		ResultCode:   scalar(raw.ResultCode),
		Message:      raw.Message,
		LocalMessage: raw.LocalMessage,
		ResponseTime: scalar(raw.ResponseTime),
		ExtraData:    raw.ExtraData,
		Signature:    raw.Signature,
	}, nil
}

func scalar(m json.RawMessage) string {
	if len(m) == 0 || string(m) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(m, &s); err == nil {
		return s
	}
	return string(m)
}

// Fields возвращает поля подписи уведомления в порядке протокола.
func (cb *Callback) Fields(accessKey string) signature.Fields {
	return signature.Fields{
		signature.F("accessKey", accessKey),
		signature.F("amount", cb.Amount),
		signature.F("extraData", cb.ExtraData),
		signature.F("message", cb.Message),
		signature.F("orderId", cb.OrderID),
		signature.F("orderInfo", cb.OrderInfo),
		signature.F("orderType", cb.OrderType),
		signature.F("partnerCode", cb.PartnerCode),
		signature.F("requestId", cb.RequestID),
		signature.F("responseTime", cb.ResponseTime),
		signature.F("resultCode", cb.ResultCode),
		signature.F("transId", cb.TransID),
	}
}

// Succeeded возвращает true при resultCode = 0.
func (cb *Callback) Succeeded() bool {
	code, err := strconv.Atoi(cb.ResultCode)
	return err == nil && code == ResultSuccess
}

// AmountValue возвращает сумму как целое число.
func (cb *Callback) AmountValue() (int64, bool) {
	v, err := strconv.ParseInt(cb.Amount, 10, 64)
	return v, err == nil
}

// JSON возвращает уведомление в JSON для журнала событий.
func (cb *Callback) JSON() []byte {
	data, _ := json.Marshal(cb)
	return data
}

// Sign подписывает уведомление (используется тестами и симуляцией шлюза).
func (cb *Callback) Sign(accessKey, secretKey string) {
	cb.Signature = signature.Sign(cb.Fields(accessKey), secretKey)
}

// VerifyCallback проверяет подпись уведомления.
func (c *MoMoClient) VerifyCallback(cb *Callback) bool {
	return signature.Verify(cb.Fields(c.cfg.AccessKey), c.cfg.SecretKey, cb.Signature)
}
