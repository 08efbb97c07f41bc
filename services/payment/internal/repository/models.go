// Package repository содержит GORM-реализацию хранилища платежей, заказов,
// уведомлений и журнала сообщений шлюза.
package repository

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"example.com/payment-engine/pkg/outbox"
	"example.com/payment-engine/services/payment/internal/domain"
)

// =============================================================================
// Payment
// =============================================================================

// PaymentModel — GORM модель для таблицы payments.
type PaymentModel struct {
	ID               string          `gorm:"column:id;type:varchar(36);primaryKey"`
	PaymentID        string          `gorm:"column:payment_id;type:varchar(64);not null;uniqueIndex"`
	TransactionID    string          `gorm:"column:transaction_id;type:varchar(64);not null;uniqueIndex"`
	OrderID          string          `gorm:"column:order_id;type:varchar(36);not null;index:idx_payments_order_method"`
	UserID           string          `gorm:"column:user_id;type:varchar(36);not null;index"`
	Amount           decimal.Decimal `gorm:"column:amount;type:decimal(15,2);not null"`
	Method           string          `gorm:"column:method;type:varchar(20);not null;index:idx_payments_order_method"`
	Status           string          `gorm:"column:status;type:varchar(20);not null;index"`
	GatewayRequestID *string         `gorm:"column:gateway_request_id;type:varchar(64)"`
	GatewayTransID   *string         `gorm:"column:gateway_trans_id;type:varchar(64)"`
	ResponseCode     *string         `gorm:"column:response_code;type:varchar(16)"`
	ResponseMessage  *string         `gorm:"column:response_message;type:text"`
	RawResponse      datatypes.JSON  `gorm:"column:raw_response;type:json"`
	PayURL           string          `gorm:"column:pay_url;type:text"`
	QRCodeURL        string          `gorm:"column:qr_code_url;type:text"`
	Deeplink         string          `gorm:"column:deeplink;type:text"`
	PaidAt           *time.Time      `gorm:"column:paid_at"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime;index"`
}

// TableName возвращает имя таблицы в БД.
func (PaymentModel) TableName() string {
	return "payments"
}

func (m *PaymentModel) toDomain() *domain.Payment {
	p := &domain.Payment{
		ID:               m.ID,
		PaymentID:        m.PaymentID,
		TransactionID:    m.TransactionID,
		OrderID:          m.OrderID,
		UserID:           m.UserID,
		Amount:           m.Amount,
		Method:           domain.PaymentMethod(m.Method),
		Status:           domain.PaymentStatus(m.Status),
		GatewayRequestID: m.GatewayRequestID,
		GatewayTransID:   m.GatewayTransID,
		ResponseCode:     m.ResponseCode,
		ResponseMessage:  m.ResponseMessage,
		PayURL:           m.PayURL,
		QRCodeURL:        m.QRCodeURL,
		Deeplink:         m.Deeplink,
		PaidAt:           m.PaidAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
	if len(m.RawResponse) > 0 {
		p.RawResponse = []byte(m.RawResponse)
	}
	return p
}

func paymentModelFromDomain(p *domain.Payment) *PaymentModel {
	m := &PaymentModel{
		ID:               p.ID,
		PaymentID:        p.PaymentID,
		TransactionID:    p.TransactionID,
		OrderID:          p.OrderID,
		UserID:           p.UserID,
		Amount:           p.Amount,
		Method:           string(p.Method),
		Status:           string(p.Status),
		GatewayRequestID: p.GatewayRequestID,
		GatewayTransID:   p.GatewayTransID,
		ResponseCode:     p.ResponseCode,
		ResponseMessage:  p.ResponseMessage,
		PayURL:           p.PayURL,
		QRCodeURL:        p.QRCodeURL,
		Deeplink:         p.Deeplink,
		PaidAt:           p.PaidAt,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
	if len(p.RawResponse) > 0 {
		m.RawResponse = datatypes.JSON(p.RawResponse)
	}
	return m
}

// =============================================================================
// Order, OrderItem, Product
// =============================================================================

// OrderModel — GORM модель для таблицы orders.
// Заказы создаёт внешний сервис оформления, здесь нужен только статус и сумма.
type OrderModel struct {
	ID            string           `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderNumber   string           `gorm:"column:order_number;type:varchar(64);not null;uniqueIndex"`
	UserID        string           `gorm:"column:user_id;type:varchar(36);not null;index"`
	Status        string           `gorm:"column:status;type:varchar(20);not null;index"`
	TotalAmount   decimal.Decimal  `gorm:"column:total_amount;type:decimal(15,2);not null"`
	PaymentMethod string           `gorm:"column:payment_method;type:varchar(20)"`
	CreatedAt     time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time        `gorm:"column:updated_at;autoUpdateTime"`
	Items         []OrderItemModel `gorm:"foreignKey:OrderID;references:ID"`
}

// TableName возвращает имя таблицы в БД.
func (OrderModel) TableName() string {
	return "orders"
}

// OrderItemModel — GORM модель для таблицы order_items.
type OrderItemModel struct {
	ID          string          `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID     string          `gorm:"column:order_id;type:varchar(36);not null;index"`
	ProductID   string          `gorm:"column:product_id;type:varchar(36);not null"`
	ProductName string          `gorm:"column:product_name;type:varchar(255);not null"`
	Quantity    int             `gorm:"column:quantity;not null"`
	Price       decimal.Decimal `gorm:"column:price;type:decimal(15,2);not null"`
}

// TableName возвращает имя таблицы в БД.
func (OrderItemModel) TableName() string {
	return "order_items"
}

// ProductModel — остатки товара. Каталог ведётся вне движка.
type ProductModel struct {
	ID        string    `gorm:"column:id;type:varchar(36);primaryKey"`
	Name      string    `gorm:"column:name;type:varchar(255);not null"`
	Quantity  int       `gorm:"column:quantity;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (ProductModel) TableName() string {
	return "products"
}

func (m *OrderModel) toDomain() *domain.Order {
	o := &domain.Order{
		ID:            m.ID,
		OrderNumber:   m.OrderNumber,
		UserID:        m.UserID,
		Status:        domain.OrderStatus(m.Status),
		TotalAmount:   m.TotalAmount,
		PaymentMethod: domain.PaymentMethod(m.PaymentMethod),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
		Items:         make([]domain.OrderItem, 0, len(m.Items)),
	}
	for _, it := range m.Items {
		o.Items = append(o.Items, domain.OrderItem{
			ID:          it.ID,
			OrderID:     it.OrderID,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			Price:       it.Price,
		})
	}
	return o
}

// =============================================================================
// Notification
// =============================================================================

// NotificationModel — GORM модель для таблицы notifications.
type NotificationModel struct {
	ID        string         `gorm:"column:id;type:varchar(36);primaryKey"`
	UserID    string         `gorm:"column:user_id;type:varchar(36);not null;index:idx_notifications_user_read"`
	Type      string         `gorm:"column:type;type:varchar(32);not null"`
	Title     string         `gorm:"column:title;type:varchar(255);not null"`
	Message   string         `gorm:"column:message;type:text;not null"`
	OrderID   *string        `gorm:"column:order_id;type:varchar(36)"`
	ActionURL string         `gorm:"column:action_url;type:varchar(255)"`
	Metadata  datatypes.JSON `gorm:"column:metadata;type:json"`
	IsRead    bool           `gorm:"column:is_read;not null;default:false;index:idx_notifications_user_read"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime;index"`
	ReadAt    *time.Time     `gorm:"column:read_at"`
}

// TableName возвращает имя таблицы в БД.
func (NotificationModel) TableName() string {
	return "notifications"
}

func (m *NotificationModel) toDomain() *domain.Notification {
	n := &domain.Notification{
		ID:        m.ID,
		UserID:    m.UserID,
		Type:      domain.NotificationType(m.Type),
		Title:     m.Title,
		Message:   m.Message,
		OrderID:   m.OrderID,
		ActionURL: m.ActionURL,
		IsRead:    m.IsRead,
		CreatedAt: m.CreatedAt,
		ReadAt:    m.ReadAt,
	}
	if len(m.Metadata) > 0 {
		n.Metadata = []byte(m.Metadata)
	}
	return n
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	m := &NotificationModel{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		OrderID:   n.OrderID,
		ActionURL: n.ActionURL,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
		ReadAt:    n.ReadAt,
	}
	if len(n.Metadata) > 0 {
		m.Metadata = datatypes.JSON(n.Metadata)
	}
	return m
}

// =============================================================================
// GatewayEvent
// =============================================================================

// GatewayEventModel — GORM модель для таблицы payment_gateway_events.
type GatewayEventModel struct {
	ID             string         `gorm:"column:id;type:varchar(36);primaryKey"`
	Gateway        string         `gorm:"column:gateway;type:varchar(20);not null"`
	Kind           string         `gorm:"column:kind;type:varchar(20);not null"`
	TransactionID  string         `gorm:"column:transaction_id;type:varchar(64);index"`
	RequestID      string         `gorm:"column:request_id;type:varchar(64)"`
	TransID        string         `gorm:"column:trans_id;type:varchar(64)"`
	ResultCode     string         `gorm:"column:result_code;type:varchar(16)"`
	Payload        datatypes.JSON `gorm:"column:payload;type:json;not null"`
	SignatureValid bool           `gorm:"column:signature_valid;not null"`
	Outcome        string         `gorm:"column:outcome;type:varchar(32);not null"`
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime"`
}

// TableName возвращает имя таблицы в БД.
func (GatewayEventModel) TableName() string {
	return "payment_gateway_events"
}

// Models возвращает все модели для AutoMigrate.
func Models() []any {
	return []any{
		&PaymentModel{},
		&OrderModel{},
		&OrderItemModel{},
		&ProductModel{},
		&NotificationModel{},
		&GatewayEventModel{},
		&outbox.OutboxModel{},
	}
}
