package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/alerting"
	"github.com/lalithlochan/beacon/internal/api"
	"github.com/lalithlochan/beacon/internal/auth"
	"github.com/lalithlochan/beacon/internal/circuitbreaker"
	appconfig "github.com/lalithlochan/beacon/internal/config"
	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/metrics"
	"github.com/lalithlochan/beacon/internal/observ"
	"github.com/lalithlochan/beacon/internal/redis"
	"github.com/lalithlochan/beacon/internal/sns"
	"github.com/lalithlochan/beacon/internal/sqs"
	"github.com/lalithlochan/beacon/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := appconfig.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting beacon gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("timezone", cfg.Location.String()),
	)

	authn, err := auth.New(auth.Config{Mode: cfg.AuthMode, JWTSecret: cfg.AuthJWTSecret})
	if err != nil {
		return fmt.Errorf("failed to configure auth: %w", err)
	}

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	store := alerting.NewPostgres(db.NewRepository(database, logger))

	// Redis backs idempotency, rate limiting and the sweep lease
	var (
		idempotencyService *redis.IdempotencyService
		rateLimiter        *redis.RateLimiter
		sweepLock          worker.Lock
	)
	if cfg.RedisEnabled() {
		redisClient, err := redis.New(ctx, redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, idempotency and rate limiting disabled",
				zap.Error(err),
				zap.String("host", cfg.RedisHost),
			)
		} else {
			defer redisClient.Close()
			idempotencyService = redis.NewIdempotencyService(redisClient, logger)
			rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
				Limit:  cfg.RateLimitPerMinute,
				Window: time.Minute,
			})
			sweepLock = redis.NewSweepLock(redisClient, logger)
		}
	}

	// Lifecycle events go to SNS behind a circuit breaker
	var events alerting.EventPublisher
	if cfg.SNSEventsTopicARN != "" {
		var publisher *sns.Publisher
		if cfg.SNSEndpoint != "" {
			publisher, err = sns.NewPublisherWithEndpoint(ctx, cfg.SNSEventsTopicARN, cfg.SNSEndpoint, cfg.SNSRegion)
		} else {
			publisher, err = sns.NewPublisher(ctx, cfg.SNSEventsTopicARN, config.WithRegion(cfg.SNSRegion))
		}
		if err != nil {
			logger.Warn("sns publisher unavailable, lifecycle events disabled", zap.Error(err))
		} else {
			breaker := circuitbreaker.New(circuitbreaker.DefaultConfig("sns-events"), logger)
			events = circuitbreaker.NewProtectedPublisher(publisher, breaker, logger)
		}
	}

	service := alerting.NewService(store, alerting.Config{Location: cfg.Location}, events, logger)
	sweeper := alerting.NewSweeper(store, alerting.NewEvaluator(cfg.ReminderCooldown), events, logger)
	scheduler := worker.New(sweeper, sweepLock, worker.Config{Interval: cfg.SweepInterval}, logger)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	if cfg.SweepEnabled {
		go scheduler.Start(workerCtx)
	}

	// SQS carries externally triggered sweeps
	var producer *sqs.Producer
	if cfg.SQSSweepQueueURL != "" {
		sqsCfg := sqs.Config{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSSweepQueueURL,
			Endpoint: cfg.SQSEndpoint,
		}
		producer, err = sqs.NewProducer(ctx, sqsCfg, logger)
		if err != nil {
			logger.Warn("sqs producer unavailable, sweeps will run inline", zap.Error(err))
			producer = nil
		}

		if cfg.SweepEnabled {
			consumer, err := sqs.NewConsumer(ctx, sqsCfg, logger)
			if err != nil {
				logger.Warn("sqs consumer unavailable, queued sweeps will not run", zap.Error(err))
			} else {
				go scheduler.Consume(workerCtx, consumer)
			}
		}
	}

	go reportPoolStats(workerCtx, database)

	logger.Info("background workers started",
		zap.Bool("sweep_enabled", cfg.SweepEnabled),
		zap.Duration("sweep_interval", cfg.SweepInterval),
		zap.Duration("reminder_cooldown", cfg.ReminderCooldown),
		zap.Bool("redis_enabled", idempotencyService != nil),
		zap.Bool("events_enabled", events != nil),
		zap.Bool("sweep_queue_enabled", producer != nil),
	)

	// API handler
	handler := api.NewHandler(logger, service).
		WithIdempotency(idempotencyService).
		WithHealth(database)
	if producer != nil {
		handler.WithSweeps(scheduler, producer)
	} else {
		handler.WithSweeps(scheduler, nil)
	}

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(api.RequestLogger(logger))

	r.Mount("/v1", handler.Routes(api.RouterConfig{
		Authenticator: authn,
		AdminKey:      cfg.AdminAPIKey,
		RateLimiter:   rateLimiter,
		Logger:        logger,
	}))

	// Health check
	r.Get("/health", handler.Health)

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key", "X-Admin-Key"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After", "X-Idempotency-Replayed"},
	})

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      corsHandler.Handler(r),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// stop scheduling before draining requests
		workerCancel()

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

func reportPoolStats(ctx context.Context, database *db.DB) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetDBConnections(database.AcquiredConns())
		}
	}
}
