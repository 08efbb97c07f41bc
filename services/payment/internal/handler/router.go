package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/payment-engine/pkg/metrics"
	"example.com/payment-engine/services/payment/internal/middleware"
	"example.com/payment-engine/services/payment/internal/push"
)

// ReadinessChecker — функция проверки готовности сервиса.
type ReadinessChecker func(ctx context.Context) error

// Router — HTTP роутер движка платежей.
type Router struct {
	engine         *gin.Engine
	cfg            RouterConfig
	readinessCheck ReadinessChecker
}

// RouterConfig — параметры для создания роутера.
type RouterConfig struct {
	Payments      PaymentService
	Orders        OrderService
	Notifications NotificationService
	Hub           *push.Hub

	AuthMW         *middleware.AuthMiddleware
	RateLimitMW    *middleware.RateLimitMiddleware // Ограничение создания платежей; nil — без ограничения
	AdminRole      string
	AllowedOrigins []string
	ServiceName    string
	ReadinessCheck ReadinessChecker // Опциональная проверка для /readyz
	Debug          bool             // Режим отладки Gin
}

// NewRouter создаёт и настраивает HTTP роутер.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(middleware.Recovery())
	engine.Use(middleware.CORS(cfg.AllowedOrigins))
	engine.Use(middleware.SecurityHeaders())
	if cfg.ServiceName != "" {
		engine.Use(otelgin.Middleware(cfg.ServiceName))
	}
	engine.Use(metrics.GinMetricsMiddleware())
	engine.Use(middleware.RequestContext())

	r := &Router{engine: engine, cfg: cfg, readinessCheck: cfg.ReadinessCheck}
	r.setupRoutes()
	return r
}

// setupRoutes настраивает все маршруты API.
func (r *Router) setupRoutes() {
	cfg := r.cfg

	r.engine.GET("/health", r.healthCheck)
	r.engine.GET("/healthz", r.livenessCheck)
	r.engine.GET("/readyz", r.readinessCheckHandler)

	v1 := r.engine.Group("/api/v1")

	paymentHandler := NewPaymentHandler(cfg.Payments, cfg.AdminRole)
	orderHandler := NewOrderHandler(cfg.Orders, cfg.AdminRole)
	notificationHandler := NewNotificationHandler(cfg.Notifications, cfg.Hub)
	adminHandler := NewAdminHandler(cfg.Payments)

	// === Шлюз (публичные, подлинность — подпись) ===
	v1.POST("/payments/momo/callback", paymentHandler.MoMoCallback)
	v1.GET("/payments/momo/return", paymentHandler.MoMoReturn)

	authed := v1.Group("")
	authed.Use(cfg.AuthMW.Handle())

	// === Платежи ===
	payments := authed.Group("/payments")
	{
		create := []gin.HandlerFunc{paymentHandler.Create}
		if cfg.RateLimitMW != nil {
			create = append([]gin.HandlerFunc{cfg.RateLimitMW.Handle()}, create...)
		}
		payments.POST("", create...)
		payments.GET("", paymentHandler.ListMine)
		payments.GET("/external/:paymentId", paymentHandler.GetByPaymentID)
		payments.GET("/:transactionId", paymentHandler.Get)
	}

	// === Заказы ===
	orders := authed.Group("/orders")
	{
		orders.GET("/:id", orderHandler.Get)
		orders.GET("/:id/payments", paymentHandler.ListByOrder)
		orders.POST("/:id/cancel", orderHandler.Cancel)
	}

	// === Уведомления ===
	notifications := authed.Group("/notifications")
	{
		notifications.GET("", notificationHandler.List)
		notifications.GET("/unread-count", notificationHandler.UnreadCount)
		notifications.PUT("/read-all", notificationHandler.MarkAllRead)
		notifications.PUT("/:id/read", notificationHandler.MarkRead)
		notifications.GET("/stream", notificationHandler.Stream)
	}

	// === Администратор ===
	admin := authed.Group("/admin")
	admin.Use(cfg.AuthMW.RequireAdmin())
	{
		admin.GET("/payments", adminHandler.ListPayments)
		admin.POST("/payments/:transactionId/complete", adminHandler.Complete)
		admin.POST("/payments/:transactionId/refund", adminHandler.Refund)
		admin.POST("/payments/:transactionId/cancel", adminHandler.Cancel)
		admin.PUT("/orders/:id/status", orderHandler.UpdateStatus)
	}
}

// Engine возвращает Gin engine для запуска сервера.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": r.cfg.ServiceName})
}

// livenessCheck — процесс жив, раз отвечает.
func (r *Router) livenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// readinessCheckHandler — готовность принимать трафик (БД и Redis доступны).
func (r *Router) readinessCheckHandler(c *gin.Context) {
	if r.readinessCheck == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := r.readinessCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
