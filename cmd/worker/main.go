package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"smsgateway/internal/admin"
	"smsgateway/internal/config"
	"smsgateway/internal/db"
	"smsgateway/internal/dispatch"
	"smsgateway/internal/distribution"
	"smsgateway/internal/health"
	"smsgateway/internal/kv"
	"smsgateway/internal/observability"
	"smsgateway/internal/provider"
	"smsgateway/internal/queue"
	"smsgateway/internal/ratelimit"
	"smsgateway/internal/retry"
	"smsgateway/internal/store"
	"smsgateway/internal/worker"
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

	logger.Info("starting dispatch worker",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Duration("visibility_timeout", cfg.VisibilityTimeout))

	metrics := observability.NewMetrics()

	ctx := context.Background()

	database, err := db.NewPostgres(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer database.Close()

	kvStore, err := kv.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer kvStore.Close()

	providers := cfg.Providers()

	requestStore := store.New(database, logger)
	limiter := ratelimit.New(kvStore, logger, int64(cfg.RateLimitWindow.Seconds()))
	tracker := health.New(kvStore, logger,
		int64(cfg.HealthWindowDuration.Seconds()), cfg.HealthMinSamples, cfg.HealthFailureThreshold)
	engine := distribution.New(providers, tracker, limiter, kvStore, logger)
	dispatchQueue := queue.New(kvStore, logger, cfg.VisibilityTimeout)
	scheduler := retry.New(kvStore, logger, cfg.RetryBaseDelay, cfg.RetryMaxDelay)
	caller := provider.New(cfg.DispatchTimeout)

	runner := dispatch.New(requestStore, engine, tracker, scheduler, caller,
		providers, logger, cfg.MaxAttempts, cfg.DispatchTimeout).
		WithMetrics(metrics)

	if cfg.NATSURL != "" {
		events, err := admin.NewEventPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Fatal("failed to connect to nats", zap.Error(err))
		}
		defer events.Close()
		runner.WithEvents(events)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool := worker.New(logger, dispatchQueue, runner, cfg.WorkerConcurrency)
	pool.Start(runCtx)

	// Every worker process runs a promoter and a reaper; the ZREM race
	// makes duplicate instances across replicas harmless.
	promoter := retry.NewPromoter(kvStore, dispatchQueue, logger, cfg.PromoterInterval)
	go promoter.Run(runCtx)

	reaper := queue.NewReaper(dispatchQueue, logger, cfg.PromoterInterval)
	go reaper.Run(runCtx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()

	done := make(chan struct{})
	go func() {
		pool.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logger.Warn("worker drain timed out")
	}

	logger.Info("dispatch worker stopped")
}
