package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"smsgateway/internal/admin"
	"smsgateway/internal/api"
	"smsgateway/internal/auth"
	"smsgateway/internal/config"
	"smsgateway/internal/db"
	"smsgateway/internal/distribution"
	"smsgateway/internal/health"
	"smsgateway/internal/intake"
	"smsgateway/internal/kv"
	"smsgateway/internal/observability"
	"smsgateway/internal/queue"
	"smsgateway/internal/ratelimit"
	"smsgateway/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting sms gateway", zap.String("port", cfg.Port))

	otelShutdown, err := observability.SetupOpenTelemetry("sms-gateway", logger)
	if err != nil {
		logger.Fatal("failed to set up OpenTelemetry", zap.Error(err))
	}
	defer otelShutdown()
	metrics := observability.NewMetrics()

	ctx := context.Background()

	database, err := db.NewPostgres(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer database.Close()

	if err := database.RunMigrations("migrations"); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	kvStore, err := kv.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer kvStore.Close()

	providers := cfg.Providers()

	requestStore := store.New(database, logger)
	if err := requestStore.SyncProviders(ctx, providers); err != nil {
		logger.Warn("failed to mirror provider config", zap.Error(err))
	}

	limiter := ratelimit.New(kvStore, logger, int64(cfg.RateLimitWindow.Seconds()))
	tracker := health.New(kvStore, logger,
		int64(cfg.HealthWindowDuration.Seconds()), cfg.HealthMinSamples, cfg.HealthFailureThreshold)
	engine := distribution.New(providers, tracker, limiter, kvStore, logger)
	dispatchQueue := queue.New(kvStore, logger, cfg.VisibilityTimeout)

	intakeAdapter := intake.New(limiter, requestStore, dispatchQueue, logger, cfg.TotalRateLimit).
		WithMetrics(metrics)
	adminAdapter := admin.New(limiter, tracker, engine, kvStore, requestStore, providers, cfg.TotalRateLimit)
	authService := auth.New(cfg.AdminAPIKeyHash, logger)

	handlers := api.NewHandlers(logger, intakeAdapter, adminAdapter, requestStore, kvStore)

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			logger.Error("unhandled request error", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
		},
	})

	api.SetupRoutes(app, logger, metrics, handlers, authService)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	logger.Info("sms gateway started", zap.String("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("failed to shut down gracefully", zap.Error(err))
	}

	logger.Info("sms gateway stopped")
}
