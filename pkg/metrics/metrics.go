// Package metrics предоставляет Prometheus метрики движка платежей
// и HTTP сервер для /metrics, /healthz и /readyz.
//
// Counter — "сколько всего произошло", Histogram — "как быстро",
// Gauge — "сколько сейчас".
package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "payment_engine"

// =============================================================================
// Метрики
// =============================================================================

var (
	// RequestsTotal — HTTP запросы по маршруту и результату.
	// PromQL: rate(payment_engine_requests_total{route="/api/v1/payments"}[5m])
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Количество HTTP запросов по маршруту и статусу",
		},
		[]string{"route", "status"},
	)

	// RequestDuration — latency HTTP запросов.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Время выполнения HTTP запроса в секундах",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"route"},
	)

	// PaymentTransitions — применённые переходы статуса платежа.
	// source — точка входа: webhook, return, admin, delivery, sweeper, create.
	PaymentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_transitions_total",
			Help:      "Применённые переходы статуса платежа",
		},
		[]string{"from", "to", "source"},
	)

	// WebhookTotal — входящие webhook шлюза по результату обработки.
	WebhookTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_total",
			Help:      "Входящие webhook по результату обработки",
		},
		[]string{"outcome"},
	)

	// GatewayDuration — длительность вызовов платёжного шлюза.
	GatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Длительность вызова платёжного шлюза",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"gateway", "outcome"},
	)

	// PushTotal — попытки real-time доставки.
	PushTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_total",
			Help:      "Попытки real-time доставки по типу и результату",
		},
		[]string{"type", "outcome"},
	)

	// OnlineUsers — пользователи с открытым push-потоком на этом экземпляре.
	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Пользователи с активным push-потоком",
		},
	)
)

// =============================================================================
// Запись метрик
// =============================================================================

// RecordRequest записывает метрики HTTP запроса.
func RecordRequest(route, status string, duration time.Duration) {
	RequestsTotal.WithLabelValues(route, status).Inc()
	RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordTransition учитывает применённый переход статуса платежа.
func RecordTransition(from, to, source string) {
	PaymentTransitions.WithLabelValues(from, to, source).Inc()
}

// RecordWebhook учитывает результат обработки webhook.
func RecordWebhook(outcome string) {
	WebhookTotal.WithLabelValues(outcome).Inc()
}

// RecordGatewayCall учитывает вызов шлюза.
func RecordGatewayCall(gateway, outcome string, duration time.Duration) {
	GatewayDuration.WithLabelValues(gateway, outcome).Observe(duration.Seconds())
}

// RecordPush учитывает попытку real-time доставки.
func RecordPush(msgType, outcome string) {
	PushTotal.WithLabelValues(msgType, outcome).Inc()
}

// GinMetricsMiddleware собирает метрики каждого HTTP запроса.
func GinMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := "success"
		if c.Writer.Status() >= 400 {
			status = "error"
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		RecordRequest(route, status, time.Since(start))
	}
}
