// Payment Engine — сервис жизненного цикла платежей и сверки заказов.
// Создаёт платежи через MoMo, принимает webhook шлюза, подтверждает или
// отменяет заказы и доставляет уведомления подключённым пользователям.
// Доменные события пишутся в outbox и публикуются в Kafka OutboxWorker'ом.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"example.com/payment-engine/pkg/config"
	dbpkg "example.com/payment-engine/pkg/db"
	"example.com/payment-engine/pkg/healthcheck"
	"example.com/payment-engine/pkg/jwt"
	"example.com/payment-engine/pkg/kafka"
	"example.com/payment-engine/pkg/logger"
	"example.com/payment-engine/pkg/metrics"
	"example.com/payment-engine/pkg/outbox"
	"example.com/payment-engine/pkg/tracing"
	"example.com/payment-engine/services/payment/internal/gateway"
	"example.com/payment-engine/services/payment/internal/handler"
	"example.com/payment-engine/services/payment/internal/middleware"
	"example.com/payment-engine/services/payment/internal/push"
	"example.com/payment-engine/services/payment/internal/repository"
	"example.com/payment-engine/services/payment/internal/service"
	"example.com/payment-engine/services/payment/internal/worker"
)

// hubBuffer — очередь сообщений одного SSE потока.
const hubBuffer = 32

func main() {
	// Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Инициализируем логгер
	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Pretty: cfg.App.LogPretty,
	})

	log := logger.With().Str("service", cfg.App.Name).Logger()

	log.Info().
		Str("env", cfg.App.Env).
		Int("port", cfg.HTTP.Port).
		Msg("Запуск Payment Engine")

	// === Observability: Tracing ===

	shutdownTracing, err := tracing.InitTracer(tracing.Config{
		ServiceName:    cfg.App.Name,
		Environment:    cfg.App.Env,
		JaegerEndpoint: cfg.Jaeger.OTLPEndpoint(),
		SampleRatio:    cfg.Jaeger.SampleRatio,
		Enabled:        cfg.Jaeger.Enabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Не удалось инициализировать tracing")
	}

	// === Подключение к зависимостям ===

	db, err := dbpkg.ConnectMySQL(cfg.MySQL, cfg.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к MySQL")
	}
	if err := dbpkg.AutoMigrate(db, repository.Models()...); err != nil {
		log.Fatal().Err(err).Msg("Ошибка миграции схемы")
	}
	log.Info().Msg("Подключение к MySQL установлено")

	rdb, err := dbpkg.ConnectRedis(context.Background(), cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к Redis")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Redis")
		}
	}()
	log.Info().Str("addr", cfg.Redis.Addr()).Msg("Подключение к Redis установлено")

	// ReadinessChecker для /readyz — проверяет MySQL, Redis и Kafka (если включена)
	dependencies := []healthcheck.Check{
		func(ctx context.Context) error { return healthcheck.CheckMySQL(ctx, db) },
		func(ctx context.Context) error { return healthcheck.CheckRedis(ctx, rdb) },
	}
	if cfg.Kafka.Enabled {
		dependencies = append(dependencies, func(ctx context.Context) error {
			return healthcheck.CheckKafka(ctx, cfg.Kafka.Brokers)
		})
	}
	checks := healthcheck.Composite(dependencies...)
	readinessCheck := func(ctx context.Context) error { return checks(ctx) }

	// === Observability: Metrics ===

	var metricsServer *metrics.Server
	var metricsWg sync.WaitGroup
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(
			cfg.Metrics.Addr(),
			cfg.App.Name,
			metrics.WithReadinessCheck(readinessCheck),
		)
		metricsWg.Add(1)
		go func() {
			defer metricsWg.Done()
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Ошибка Metrics Server")
			}
		}()
	}

	// === Аутентификация ===

	validator, err := jwt.NewValidator(jwt.Config{
		PublicKeyPath: cfg.JWT.PublicKeyPath,
		Issuer:        cfg.JWT.Issuer,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка загрузки публичного ключа JWT")
	}
	validator.SetRevocations(jwt.NewRevocations(rdb))

	// Контекст фоновых воркеров
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var workersWg sync.WaitGroup
	runWorker := func(name string, fn func(ctx context.Context)) {
		workersWg.Add(1)
		go func() {
			defer workersWg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("worker", name).Msg("Паника в фоновом воркере")
				}
			}()
			fn(ctx)
		}()
	}

	// === Push и Kafka ===

	hub := push.NewHub(hubBuffer)
	var pusher push.Pusher = hub

	var kafkaProducer *kafka.Producer
	var relayConsumer *kafka.Consumer

	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 {
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("Инициализация Kafka")

		kafkaProducer, err = kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Producer")
		}

		// Push идёт через общий топик: пользователь может быть подключён к другому экземпляру.
		// Каждый экземпляр читает топик своей группой, чтобы получить все сообщения.
		relayConsumer, err = kafka.NewConsumer(
			kafka.Config{Brokers: cfg.Kafka.Brokers},
			kafka.TopicNotificationPush,
			relayGroup(cfg.Kafka),
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Consumer")
		}
		relayConsumer.SetDLQProducer(kafkaProducer)
		pusher = push.NewKafkaPusher(kafkaProducer)

		relay := push.NewRelay(hub)
		runWorker("push-relay", func(ctx context.Context) {
			if err := relay.Run(ctx, relayConsumer); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Ошибка Push Relay")
			}
		})

		// Outbox Worker публикует доменные события payment.events
		outboxRepo := outbox.NewOutboxRepository(db, outbox.AggregatePayment, outbox.AggregateOrder)
		outboxWorker := outbox.NewOutboxWorker(outboxRepo, kafkaProducer, outbox.DefaultWorkerConfig(), cfg.App.Name)
		runWorker("outbox", outboxWorker.Run)

		log.Info().Msg("Push Relay и Outbox Worker запущены")
	} else {
		log.Warn().Msg("Kafka не настроена — push доставляется только локальным подключениям, outbox не публикуется")
	}

	// === Инициализация бизнес-логики ===

	store := repository.NewStore(db)
	notifier := service.NewNotifier(store, pusher)
	reconciler := service.NewReconciler(notifier)

	var gw gateway.Client = gateway.NewMoMoClient(cfg.MoMo)
	paymentService := service.NewPaymentService(store, gw, service.NewRedisLocker(rdb), notifier, reconciler, cfg.Payment)
	orderService := service.NewOrderService(store, notifier, reconciler)
	notificationService := service.NewNotificationService(store)

	sweeper := worker.NewSweeper(paymentService, notificationService, worker.SweeperConfig{
		Interval:              cfg.Payment.SweepInterval,
		NotificationRetention: cfg.Payment.NotificationRetention,
	})
	runWorker("sweeper", sweeper.Run)

	// === HTTP ===

	var rateLimitMW *middleware.RateLimitMiddleware
	if cfg.RateLimit.Enabled {
		rateLimitMW = middleware.NewRateLimitMiddleware(middleware.RateLimitConfig{
			Redis:  rdb,
			Limit:  cfg.RateLimit.Requests,
			Window: cfg.RateLimit.Window,
			Prefix: "create-payment",
		})
		log.Info().
			Int("limit", cfg.RateLimit.Requests).
			Dur("window", cfg.RateLimit.Window).
			Msg("Rate limiting включён")
	}

	router := handler.NewRouter(handler.RouterConfig{
		Payments:       paymentService,
		Orders:         orderService,
		Notifications:  notificationService,
		Hub:            hub,
		AuthMW:         middleware.NewAuthMiddleware(validator, cfg.JWT.AdminRole),
		RateLimitMW:    rateLimitMW,
		AdminRole:      cfg.JWT.AdminRole,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		ServiceName:    cfg.App.Name,
		ReadinessCheck: readinessCheck,
		Debug:          cfg.IsDevelopment(),
	})

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router.Engine(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	// SSE потоки держат соединение открытым, закрываем их при начале Shutdown
	srv.RegisterOnShutdown(hub.Close)

	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr()).Msg("HTTP сервер запущен")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Ошибка HTTP сервера")
		}
	}()

	// Ожидаем сигнал завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Получен сигнал завершения, останавливаем сервер...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	// Останавливаем приём запросов, затем воркеры
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка при остановке HTTP сервера")
	}

	// Ждём завершения всех фоновых воркеров перед закрытием ресурсов
	cancel()
	workersWg.Wait()

	if relayConsumer != nil {
		if err := relayConsumer.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Kafka Consumer")
		}
	}
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Kafka Producer")
		}
	}

	if sqlDB, err := db.DB(); err == nil && sqlDB != nil {
		if err := sqlDB.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия MySQL")
		}
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Metrics Server")
		}
		metricsWg.Wait()
	}

	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Tracing")
		}
	}

	log.Info().Msg("Payment Engine остановлен")
}

// relayGroup возвращает группу Kafka для ретранслятора push этого экземпляра.
func relayGroup(cfg config.KafkaConfig) string {
	id := cfg.InstanceID
	if id == "" {
		id, _ = os.Hostname()
	}
	if id == "" {
		id = "local"
	}
	return cfg.ConsumerGroup + "-push-" + id
}
