// Package testutil содержит in-memory реализации хранилища и внешних
// зависимостей для тестов сервисного слоя.
package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"example.com/payment-engine/pkg/outbox"
	"example.com/payment-engine/services/payment/internal/domain"
	"example.com/payment-engine/services/payment/internal/repository"
)

// state — общие данные MemStore и его транзакционных представлений.
type state struct {
	txMu sync.Mutex // Сериализует транзакции (аналог блокировок строк)
	mu   sync.Mutex // Защищает данные

	payments      map[string]domain.Payment
	orders        map[string]domain.Order
	stock         map[string]int
	notifications map[string]domain.Notification
	events        []domain.GatewayEvent
	outbox        []outbox.Outbox

	// FailUpdate — ошибка для следующего UpdateStatusIf платежа.
	failUpdate error
}

type snapshot struct {
	payments      map[string]domain.Payment
	orders        map[string]domain.Order
	stock         map[string]int
	notifications map[string]domain.Notification
	outbox        []outbox.Outbox
}

// MemStore — in-memory repository.Store с условными обновлениями
// и откатом транзакции.
type MemStore struct {
	st   *state
	inTx bool
}

var _ repository.Store = (*MemStore)(nil)

// NewMemStore создаёт пустое хранилище.
func NewMemStore() *MemStore {
	return &MemStore{st: &state{
		payments:      map[string]domain.Payment{},
		orders:        map[string]domain.Order{},
		stock:         map[string]int{},
		notifications: map[string]domain.Notification{},
	}}
}

func (s *MemStore) Payments() repository.PaymentRepository { return memPayments{s.st} }
func (s *MemStore) Orders() repository.OrderRepository     { return memOrders{s.st} }
func (s *MemStore) Notifications() repository.NotificationRepository {
	return memNotifications{s.st}
}
func (s *MemStore) GatewayEvents() repository.GatewayEventRepository { return memEvents{s.st} }
func (s *MemStore) Outbox() repository.OutboxWriter                  { return memOutbox{s.st} }

// Transaction выполняет fn под общей блокировкой транзакций.
// Ошибка fn восстанавливает данные на момент начала.
func (s *MemStore) Transaction(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	s.st.txMu.Lock()
	defer s.st.txMu.Unlock()

	snap := s.st.snapshot()
	if err := fn(&MemStore{st: s.st, inTx: true}); err != nil {
		s.st.restore(snap)
		return err
	}
	return nil
}

func (st *state) snapshot() snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()

	snap := snapshot{
		payments:      make(map[string]domain.Payment, len(st.payments)),
		orders:        make(map[string]domain.Order, len(st.orders)),
		stock:         make(map[string]int, len(st.stock)),
		notifications: make(map[string]domain.Notification, len(st.notifications)),
		outbox:        append([]outbox.Outbox(nil), st.outbox...),
	}
	for k, v := range st.payments {
		snap.payments[k] = v
	}
	for k, v := range st.orders {
		snap.orders[k] = copyOrder(v)
	}
	for k, v := range st.stock {
		snap.stock[k] = v
	}
	for k, v := range st.notifications {
		snap.notifications[k] = v
	}
	return snap
}

func (st *state) restore(snap snapshot) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.payments = snap.payments
	st.orders = snap.orders
	st.stock = snap.stock
	st.notifications = snap.notifications
	st.outbox = snap.outbox
}

func copyOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	return o
}

// =============================================================================
// Наполнение и проверки
// =============================================================================

// AddOrder сохраняет заказ.
func (s *MemStore) AddOrder(o *domain.Order) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	s.st.orders[o.ID] = copyOrder(*o)
}

// AddPayment сохраняет платёж как есть.
func (s *MemStore) AddPayment(p *domain.Payment) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	s.st.payments[p.ID] = *p
}

// SetStock задаёт остаток товара.
func (s *MemStore) SetStock(productID string, qty int) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	s.st.stock[productID] = qty
}

// Stock возвращает остаток товара.
func (s *MemStore) Stock(productID string) int {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	return s.st.stock[productID]
}

// Order возвращает текущую копию заказа.
func (s *MemStore) Order(id string) domain.Order {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	return copyOrder(s.st.orders[id])
}

// AllPayments возвращает все платежи.
func (s *MemStore) AllPayments() []domain.Payment {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	out := make([]domain.Payment, 0, len(s.st.payments))
	for _, p := range s.st.payments {
		out = append(out, p)
	}
	return out
}

// NotificationsOf возвращает уведомления пользователя типа t (пустой t — все).
func (s *MemStore) NotificationsOf(userID string, t domain.NotificationType) []domain.Notification {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var out []domain.Notification
	for _, n := range s.st.notifications {
		if n.UserID == userID && (t == "" || n.Type == t) {
			out = append(out, n)
		}
	}
	return out
}

// OutboxRecords возвращает записанные события outbox.
func (s *MemStore) OutboxRecords() []outbox.Outbox {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	return append([]outbox.Outbox(nil), s.st.outbox...)
}

// RecordedEvents возвращает журнал сообщений шлюза.
func (s *MemStore) RecordedEvents() []domain.GatewayEvent {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	return append([]domain.GatewayEvent(nil), s.st.events...)
}

// FailNextPaymentUpdate заставляет следующий UpdateStatusIf платежа вернуть err.
func (s *MemStore) FailNextPaymentUpdate(err error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	s.st.failUpdate = err
}

// =============================================================================
// Платежи
// =============================================================================

type memPayments struct{ st *state }

func (r memPayments) Create(_ context.Context, p *domain.Payment) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, existing := range r.st.payments {
		if existing.ID == p.ID || existing.PaymentID == p.PaymentID || existing.TransactionID == p.TransactionID {
			return domain.ErrDuplicatePayment
		}
	}
	r.st.payments[p.ID] = *p
	return nil
}

func (r memPayments) GetByID(_ context.Context, id string) (*domain.Payment, error) {
	return r.find(func(p domain.Payment) bool { return p.ID == id })
}

func (r memPayments) GetByTransactionID(_ context.Context, transactionID string) (*domain.Payment, error) {
	return r.find(func(p domain.Payment) bool { return p.TransactionID == transactionID })
}

func (r memPayments) GetByPaymentID(_ context.Context, paymentID string) (*domain.Payment, error) {
	return r.find(func(p domain.Payment) bool { return p.PaymentID == paymentID })
}

func (r memPayments) FindActive(_ context.Context, orderID string, method domain.PaymentMethod) (*domain.Payment, error) {
	active := r.filter(func(p domain.Payment) bool {
		return p.OrderID == orderID && p.Method == method && p.Status.IsActive()
	})
	if len(active) == 0 {
		return nil, domain.ErrPaymentNotFound
	}
	return active[0], nil
}

func (r memPayments) ListByOrder(_ context.Context, orderID string) ([]*domain.Payment, error) {
	return r.filter(func(p domain.Payment) bool { return p.OrderID == orderID }), nil
}

func (r memPayments) List(_ context.Context, f domain.PaymentFilter, page domain.Page) ([]*domain.Payment, int64, error) {
	all := r.filter(func(p domain.Payment) bool {
		return (f.Status == nil || p.Status == *f.Status) &&
			(f.Method == nil || p.Method == *f.Method) &&
			(f.UserID == "" || p.UserID == f.UserID)
	})
	page = page.Normalize()
	total := int64(len(all))
	start := page.Offset()
	if start >= len(all) {
		return []*domain.Payment{}, total, nil
	}
	end := start + page.Size
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (r memPayments) UpdateStatusIf(_ context.Context, id string, c *domain.StatusChange) (bool, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	if err := r.st.failUpdate; err != nil {
		r.st.failUpdate = nil
		return false, err
	}

	p, ok := r.st.payments[id]
	if !ok || p.Status != c.From {
		return false, nil
	}
	p.Apply(c)
	r.st.payments[id] = p
	return true, nil
}

func (r memPayments) ListStale(_ context.Context, status domain.PaymentStatus, method domain.PaymentMethod, before time.Time, limit int) ([]*domain.Payment, error) {
	stale := r.filter(func(p domain.Payment) bool {
		return p.Status == status && p.Method == method && p.UpdatedAt.Before(before)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (r memPayments) find(match func(domain.Payment) bool) (*domain.Payment, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, p := range r.st.payments {
		if match(p) {
			cp := p
			return &cp, nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}

// filter возвращает копии подходящих платежей, новые первыми.
func (r memPayments) filter(match func(domain.Payment) bool) []*domain.Payment {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	out := []*domain.Payment{}
	for _, p := range r.st.payments {
		if match(p) {
			cp := p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// =============================================================================
// Заказы
// =============================================================================

type memOrders struct{ st *state }

func (r memOrders) GetByID(_ context.Context, id string) (*domain.Order, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	o, ok := r.st.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := copyOrder(o)
	return &cp, nil
}

func (r memOrders) UpdateStatusIf(_ context.Context, id string, from, to domain.OrderStatus) (bool, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	o, ok := r.st.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	r.st.orders[id] = o
	return true, nil
}

func (r memOrders) RestoreStock(_ context.Context, productID string, quantity int) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	qty, ok := r.st.stock[productID]
	if !ok {
		return errors.New("товар не найден: " + productID)
	}
	r.st.stock[productID] = qty + quantity
	return nil
}

// =============================================================================
// Уведомления, журнал шлюза, outbox
// =============================================================================

type memNotifications struct{ st *state }

func (r memNotifications) Create(_ context.Context, n *domain.Notification) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	r.st.notifications[n.ID] = *n
	return nil
}

func (r memNotifications) ListByUser(_ context.Context, userID string, page domain.Page) ([]*domain.Notification, int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	all := []*domain.Notification{}
	for _, n := range r.st.notifications {
		if n.UserID == userID {
			cp := n
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	page = page.Normalize()
	total := int64(len(all))
	start := page.Offset()
	if start >= len(all) {
		return []*domain.Notification{}, total, nil
	}
	end := start + page.Size
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (r memNotifications) CountUnread(_ context.Context, userID string) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var n int64
	for _, item := range r.st.notifications {
		if item.UserID == userID && !item.IsRead {
			n++
		}
	}
	return n, nil
}

func (r memNotifications) MarkRead(_ context.Context, userID, id string, at time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	n, ok := r.st.notifications[id]
	if !ok || n.UserID != userID {
		return domain.ErrNotificationNotFound
	}
	n.MarkRead(at)
	r.st.notifications[id] = n
	return nil
}

func (r memNotifications) MarkAllRead(_ context.Context, userID string, at time.Time) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var count int64
	for id, n := range r.st.notifications {
		if n.UserID == userID && !n.IsRead {
			n.MarkRead(at)
			r.st.notifications[id] = n
			count++
		}
	}
	return count, nil
}

func (r memNotifications) DeleteReadBefore(_ context.Context, before time.Time) (int64, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var count int64
	for id, n := range r.st.notifications {
		if n.IsRead && n.CreatedAt.Before(before) {
			delete(r.st.notifications, id)
			count++
		}
	}
	return count, nil
}

type memEvents struct{ st *state }

func (r memEvents) Record(_ context.Context, e *domain.GatewayEvent) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	r.st.events = append(r.st.events, *e)
	return nil
}

type memOutbox struct{ st *state }

func (r memOutbox) Create(_ context.Context, record *outbox.Outbox) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	r.st.outbox = append(r.st.outbox, *record)
	return nil
}
