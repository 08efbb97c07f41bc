package config

import "time"

// MoMoConfig содержит настройки платёжного шлюза MoMo.
// Значения по умолчанию — публичная песочница шлюза.
type MoMoConfig struct {
	Enabled         bool          `env:"MOMO_ENABLED" envDefault:"true"`
	PartnerCode     string        `env:"MOMO_PARTNER_CODE" envDefault:"MOMO"`
	AccessKey       string        `env:"MOMO_ACCESS_KEY" envDefault:"F8BBA842ECF85"`
	SecretKey       string        `env:"MOMO_SECRET_KEY" envDefault:"K951B6PE1waDMi640xX08PD3vg6EkVlz"`
	Endpoint        string        `env:"MOMO_ENDPOINT" envDefault:"https://test-payment.momo.vn/v2/gateway/api/create"`
	ReturnURL       string        `env:"MOMO_RETURN_URL" envDefault:"http://localhost:3000/payment/return"`
	NotifyURL       string        `env:"MOMO_NOTIFY_URL" envDefault:"http://localhost:8080/api/v1/payments/momo/callback"`
	RequestType     string        `env:"MOMO_REQUEST_TYPE" envDefault:"captureWallet"`
	Lang            string        `env:"MOMO_LANG" envDefault:"vi"`
	OrderExpireTime int           `env:"MOMO_ORDER_EXPIRE_MINUTES" envDefault:"15"`
	Timeout         time.Duration `env:"MOMO_TIMEOUT" envDefault:"30s"`
}

// PaymentConfig содержит настройки жизненного цикла платежей.
type PaymentConfig struct {
	// CreateLockTTL — время жизни блокировки создания платежа для пары (заказ, метод).
	CreateLockTTL time.Duration `env:"PAYMENT_CREATE_LOCK_TTL" envDefault:"45s"`

	// SweepInterval — период проверки зависших платежей.
	SweepInterval time.Duration `env:"PAYMENT_SWEEP_INTERVAL" envDefault:"1m"`

	// PendingTimeout — через сколько платёж шлюза в PENDING считается неудачным
	// (вызов шлюза так и не завершился).
	PendingTimeout time.Duration `env:"PAYMENT_PENDING_TIMEOUT" envDefault:"5m"`

	// ProcessingExpiry — через сколько PROCESSING платёж отменяется
	// (срок оплаты на стороне шлюза плюс запас на поздний webhook).
	ProcessingExpiry time.Duration `env:"PAYMENT_PROCESSING_EXPIRY" envDefault:"45m"`

	// NotificationRetention — срок хранения прочитанных уведомлений.
	NotificationRetention time.Duration `env:"NOTIFICATION_RETENTION" envDefault:"720h"`
}
