package domain

// Page — параметры постраничной выборки.
type Page struct {
	Page int // с нуля
	Size int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Normalize приводит параметры к допустимым значениям.
func (p Page) Normalize() Page {
	if p.Page < 0 {
		p.Page = 0
	}
	if p.Size <= 0 {
		p.Size = defaultPageSize
	}
	if p.Size > maxPageSize {
		p.Size = maxPageSize
	}
	return p
}

// Offset возвращает смещение для SQL.
func (p Page) Offset() int {
	return p.Page * p.Size
}

// PaymentFilter — фильтр административного списка платежей.
type PaymentFilter struct {
	Status *PaymentStatus
	Method *PaymentMethod
	UserID string
}
