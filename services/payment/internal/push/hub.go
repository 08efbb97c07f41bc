// Package push доставляет real-time сообщения подключённым пользователям:
// реестр онлайн-пользователей, локальная доставка в SSE-потоки и
// межэкземплярная ретрансляция через Kafka.
package push

import (
	"context"
	"sync"

	"example.com/payment-engine/pkg/events"
	"example.com/payment-engine/pkg/logger"
	"example.com/payment-engine/pkg/metrics"
)

// Исход доставки для метрик.
const (
	outcomeDelivered = "delivered"
	outcomeOffline   = "offline"
	outcomeDropped   = "dropped"
	outcomeRelayed   = "relayed"
	outcomeFailed    = "failed"
)

// Pusher отправляет сообщение пользователю.
// Доставка best-effort: ошибка не должна откатывать сохранённое уведомление.
type Pusher interface {
	Push(ctx context.Context, msg *events.PushMessage) error
}

// Hub — реестр подключений этого экземпляра.
// Пользователь онлайн, пока у него есть хотя бы одна подписка.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	buffer int
}

// Subscription — один открытый поток пользователя.
type Subscription struct {
	UserID string

	ch   chan *events.PushMessage
	hub  *Hub
	once sync.Once
}

// NewHub создаёт реестр. buffer — размер очереди одного потока.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe регистрирует поток пользователя и отмечает его онлайн.
func (h *Hub) Subscribe(userID string) *Subscription {
	sub := &Subscription{
		UserID: userID,
		ch:     make(chan *events.PushMessage, h.buffer),
		hub:    h,
	}

	h.mu.Lock()
	userSubs, ok := h.subs[userID]
	if !ok {
		userSubs = make(map[*Subscription]struct{})
		h.subs[userID] = userSubs
		metrics.OnlineUsers.Inc()
	}
	userSubs[sub] = struct{}{}
	h.mu.Unlock()

	logger.Debug().Str("user_id", userID).Msg("Пользователь подключился к push-потоку")
	return sub
}

// C возвращает канал сообщений подписки. Закрывается при Close.
func (s *Subscription) C() <-chan *events.PushMessage {
	return s.ch
}

// Close снимает подписку. Последняя закрытая подписка переводит пользователя в офлайн.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		if userSubs, ok := h.subs[s.UserID]; ok {
			delete(userSubs, s)
			if len(userSubs) == 0 {
				delete(h.subs, s.UserID)
				metrics.OnlineUsers.Dec()
			}
		}
		close(s.ch)
		h.mu.Unlock()

		logger.Debug().Str("user_id", s.UserID).Msg("Пользователь отключился от push-потока")
	})
}

// IsOnline проверяет, есть ли у пользователя открытый поток на этом экземпляре.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID]) > 0
}

// OnlineUsers возвращает пользователей с открытыми потоками.
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make([]string, 0, len(h.subs))
	for id := range h.subs {
		users = append(users, id)
	}
	return users
}

// Close закрывает все открытые потоки. Вызывается при остановке сервера,
// чтобы SSE обработчики завершились до таймаута Shutdown.
func (h *Hub) Close() {
	h.mu.RLock()
	var all []*Subscription
	for _, userSubs := range h.subs {
		for sub := range userSubs {
			all = append(all, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range all {
		sub.Close()
	}
}

// Push доставляет сообщение во все потоки пользователя без блокировки.
// Переполненный поток пропускает сообщение.
func (h *Hub) Push(_ context.Context, msg *events.PushMessage) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	userSubs := h.subs[msg.UserID]
	if len(userSubs) == 0 {
		metrics.RecordPush(string(msg.Type), outcomeOffline)
		return nil
	}

	for sub := range userSubs {
		select {
		case sub.ch <- msg:
			metrics.RecordPush(string(msg.Type), outcomeDelivered)
		default:
			metrics.RecordPush(string(msg.Type), outcomeDropped)
			logger.Warn().
				Str("user_id", msg.UserID).
				Str("type", string(msg.Type)).
				Msg("Очередь push-потока переполнена, сообщение пропущено")
		}
	}
	return nil
}
