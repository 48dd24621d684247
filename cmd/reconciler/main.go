package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"reconciler/internal/app/payments"
	"reconciler/internal/app/webhooks"
	"reconciler/internal/config"
	"reconciler/internal/domain"
	"reconciler/internal/expiry"
	"reconciler/internal/gateway"
	"reconciler/internal/handler/http/middleware"
	payments_http "reconciler/internal/handler/http/payments"
	webhooks_http "reconciler/internal/handler/http/webhooks"
	kafka_handler "reconciler/internal/handler/kafka"
	"reconciler/internal/infrastructure/database"
	kafka_infra "reconciler/internal/infrastructure/kafka"
	redis_infra "reconciler/internal/infrastructure/redis"
	"reconciler/internal/notify"
	"reconciler/internal/publisher"
	"reconciler/internal/ratelimit"
	"reconciler/internal/repository/audit_repo"
	"reconciler/internal/repository/deadletter_repo"
	"reconciler/internal/repository/inbox_repo"
	"reconciler/internal/repository/payments_repo"
	"reconciler/internal/repository/retry_repo"
	"reconciler/internal/retry"
	"reconciler/internal/signature"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.EncoderConfig.TimeKey = "timestamp"

	appLogger, err := zapConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create zap logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	if err := cfg.Validate(); err != nil {
		appLogger.Fatal("Invalid configuration", zap.Error(err))
	}
	appLogger.Info("Reconciler service starting...")

	appLogger.Info("Waiting for database to be available...")
	dbConfig := database.DBConfig{
		Host:     cfg.DBConfig.Host,
		Port:     cfg.DBConfig.Port,
		User:     cfg.DBConfig.User,
		Password: cfg.DBConfig.Password,
		DBName:   cfg.DBConfig.Name,
		SSLMode:  cfg.DBConfig.SSLMode,
	}

	var db *sql.DB
	maxRetries := 10
	retryDelay := 5 * time.Second

	for i := 0; i < maxRetries; i++ {
		db, err = database.NewPostgresDB(dbConfig)
		if err == nil {
			appLogger.Info("Successfully connected to PostgreSQL database!")
			break
		}
		appLogger.Warn("Failed to connect to database, retrying",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
			zap.Duration("retry_in", retryDelay),
			zap.Error(err),
		)
		time.Sleep(retryDelay)
	}

	if db == nil {
		appLogger.Fatal("Could not connect to database after multiple retries. Exiting.", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			appLogger.Error("Error closing database connection", zap.Error(err))
		} else {
			appLogger.Info("Database connection closed.")
		}
	}()

	appLogger.Info("Running database migrations...")
	m, err := migrate.New(cfg.MigrationsPath, cfg.GetDBMigrationConnectionString())
	if err != nil {
		appLogger.Fatal("Failed to create migrate instance", zap.Error(err))
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		appLogger.Fatal("Failed to run database migrations", zap.Error(err))
	}
	appLogger.Info("Database migrations completed successfully (or no new migrations).")

	kafkaBrokers := cfg.GetKafkaBrokers()
	topics := publisher.Topics{
		Success: cfg.KafkaPaymentSuccessTopic,
		Failed:  cfg.KafkaPaymentFailedTopic,
		Retry:   cfg.KafkaPaymentRetryTopic,
	}

	topicsCtx, cancelTopics := context.WithTimeout(context.Background(), 10*time.Second)
	err = kafka_infra.EnsureTopics(topicsCtx, kafkaBrokers, []string{topics.Success, topics.Failed, topics.Retry}, appLogger)
	cancelTopics()
	if err != nil {
		appLogger.Fatal("Failed to ensure Kafka topics", zap.Error(err))
	}

	store := database.NewPostgres(db, appLogger.With(zap.String("component", "Postgres")))
	paymentRepository := payments_repo.NewPaymentRepository()
	inboxRepository := inbox_repo.NewInboxRepository()
	retryRepository := retry_repo.NewRetryTaskRepository()
	auditRepository := audit_repo.NewAuditRepository()
	deadLetterRepository := deadletter_repo.NewDeadLetterRepository()

	kafkaProducer := kafka_infra.NewProducer(
		kafkaBrokers,
		cfg.KafkaPublishTimeout,
		appLogger.With(zap.String("component", "KafkaProducer")),
	)
	defer func() {
		if err := kafkaProducer.Close(); err != nil {
			appLogger.Error("Error closing Kafka producer", zap.Error(err))
		} else {
			appLogger.Info("Kafka producer closed.")
		}
	}()

	eventPublisher := publisher.NewKafkaPublisher(
		kafkaProducer,
		topics,
		cfg.KafkaPublishTimeout,
		appLogger.With(zap.String("component", "EventPublisher")),
	)

	gateways := gateway.NewRegistry()
	if cfg.StripeAPIKey != "" {
		gateways.Register(domain.ProviderStripe, gateway.NewStripeGateway(cfg.StripeAPIKey, cfg.StripeSuccessURL, cfg.StripeCancelURL))
	}
	if cfg.RazorpayKeyID != "" {
		gateways.Register(domain.ProviderRazorpay, gateway.NewRazorpayGateway(cfg.RazorpayKeyID, cfg.RazorpayKeySecret))
	}

	webhookService := webhooks.NewService(
		store,
		paymentRepository,
		inboxRepository,
		retryRepository,
		auditRepository,
		eventPublisher,
		[]webhooks.ProviderAdapter{
			webhooks.NewStripeAdapter(signature.NewStripeVerifier(cfg.StripeWebhookSecret, cfg.StripeSignatureTolerance)),
			webhooks.NewRazorpayAdapter(signature.NewRazorpayVerifier(cfg.RazorpayWebhookSecret)),
		},
		appLogger.With(zap.String("component", "WebhookService")),
	).
		WithAdmission(ratelimit.New(ratelimit.Config{
			Capacity:     cfg.RateLimitCapacity,
			RefillTokens: cfg.RateLimitRefillTokens,
			RefillPeriod: cfg.RateLimitRefillPeriod,
		})).
		WithNotifier(notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			Sender:   cfg.SMTPSender,
		}, appLogger.With(zap.String("component", "SMTPNotifier"))))

	if cfg.RedisAddr != "" {
		redisClient := redis_infra.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer redisClient.Close()
		webhookService.WithLocker(redis_infra.NewWebhookLock(redisClient), cfg.WebhookLockTTL)
		appLogger.Info("Webhook in-flight lock enabled", zap.String("redis_addr", cfg.RedisAddr))
	}
	appLogger.Info("Webhook Service initialized.")

	paymentService := payments.NewPaymentService(
		store,
		paymentRepository,
		auditRepository,
		gateways,
		eventPublisher,
		appLogger.With(zap.String("component", "PaymentService")),
	)
	appLogger.Info("Payment Service initialized.")

	retryScheduler := retry.NewScheduler(store, retryRepository, webhookService, retry.Config{
		Enabled:        cfg.RetryEnabled,
		Interval:       cfg.RetrySweepInterval,
		BatchSize:      cfg.RetryBatchSize,
		Backoff:        retry.Backoff{Base: cfg.RetryBackoffBase, Max: cfg.RetryBackoffMax},
		AlertAttempts:  cfg.RetryAlertAttempts,
		AttemptTimeout: cfg.RetryAttemptTimeout,
	}, appLogger.With(zap.String("component", "RetryScheduler")))

	expirySweeper := expiry.NewSweeper(store, paymentRepository, auditRepository, eventPublisher, expiry.Config{
		Enabled:   cfg.ExpiryEnabled,
		Interval:  cfg.ExpirySweepInterval,
		Cutoff:    cfg.ExpiryCutoff,
		BatchSize: cfg.ExpiryBatchSize,
	}, appLogger.With(zap.String("component", "ExpirySweeper")))

	publishRetryConsumer := kafka_infra.NewConsumer(
		kafkaBrokers,
		topics.Retry,
		cfg.KafkaRetryConsumerGroup,
		kafka_handler.PublishRetryMessageHandler(
			eventPublisher,
			store,
			deadLetterRepository,
			time.Now,
			appLogger.With(zap.String("component", "PublishRetryHandler")),
		),
		appLogger.With(zap.String("component", "PublishRetryConsumer")),
	)

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(middleware.Correlation)
	router.Use(chimiddleware.Logger)
	router.Use(chimiddleware.Recoverer)
	payments_http.RegisterRoutes(router, paymentService, cfg.AllowedOrigins, appLogger)
	webhooks_http.RegisterRoutes(router, webhookService, cfg.WebhookTimeout, appLogger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctxMain, cancelMain := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	go func() {
		appLogger.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	wg.Add(3)
	go func() {
		defer wg.Done()
		retryScheduler.Start(ctxMain)
		appLogger.Info("Retry Scheduler stopped.")
	}()
	go func() {
		defer wg.Done()
		expirySweeper.Start(ctxMain)
		appLogger.Info("Expiry Sweeper stopped.")
	}()
	go func() {
		defer wg.Done()
		if err := publishRetryConsumer.Consume(ctxMain); err != nil &&
			!errors.Is(err, context.Canceled) && !errors.Is(err, kafka.ErrGroupClosed) {
			appLogger.Error("Publish retry consumer failed", zap.Error(err))
		}
		appLogger.Info("Publish retry consumer stopped.")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	appLogger.Info("Shutting down application...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	// Stop accepting webhooks before the background loops go away.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP server graceful shutdown failed", zap.Error(err))
	} else {
		appLogger.Info("HTTP server gracefully shut down.")
	}

	cancelMain()
	if err := publishRetryConsumer.Close(); err != nil {
		appLogger.Error("Error closing publish retry consumer", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		appLogger.Warn("Background workers did not stop before the shutdown deadline.")
	}

	appLogger.Info("Application gracefully shut down.")
}
