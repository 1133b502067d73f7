// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"smsgateway/internal/domain"
)

// Config is the full set of options recognized by both cmd/gateway and
// cmd/worker. Each process only reads the fields it needs; loading the same
// struct in both keeps the env contract identical between them.
type Config struct {
	// HTTP server (cmd/gateway)
	Port         string        `envconfig:"PORT" default:"8080"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"120s"`

	// Datastores
	PostgresURL string `envconfig:"POSTGRES_URL" required:"true"`
	RedisURL    string `envconfig:"REDIS_URL" required:"true"`

	// NATS_URL is optional: admin event fan-out no-ops when unset.
	NATSURL string `envconfig:"NATS_URL"`

	// Outbound provider endpoints.
	Provider1URL string `envconfig:"PROVIDER1_URL" required:"true"`
	Provider2URL string `envconfig:"PROVIDER2_URL" required:"true"`
	Provider3URL string `envconfig:"PROVIDER3_URL" required:"true"`

	// Rate limiting
	ProviderRateLimit int64         `envconfig:"PROVIDER_RATE_LIMIT" default:"50"`
	TotalRateLimit    int64         `envconfig:"TOTAL_RATE_LIMIT" default:"200"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1s"`

	// Provider health tracking
	HealthWindowDuration   time.Duration `envconfig:"HEALTH_WINDOW_DURATION" default:"300s"`
	HealthFailureThreshold float64       `envconfig:"HEALTH_FAILURE_THRESHOLD" default:"0.70"`
	HealthMinSamples       int64         `envconfig:"HEALTH_MIN_SAMPLES" default:"10"`

	// Dispatch and retry
	MaxAttempts     int           `envconfig:"MAX_ATTEMPTS" default:"5"`
	RetryBaseDelay  time.Duration `envconfig:"RETRY_BASE_DELAY" default:"1s"`
	RetryMaxDelay   time.Duration `envconfig:"RETRY_MAX_DELAY" default:"60s"`
	DispatchTimeout time.Duration `envconfig:"DISPATCH_TIMEOUT" default:"5s"`

	// Worker pool / queue
	WorkerConcurrency int           `envconfig:"WORKER_CONCURRENCY" default:"16"`
	VisibilityTimeout time.Duration `envconfig:"VISIBILITY_TIMEOUT" default:"30s"`
	PromoterInterval  time.Duration `envconfig:"PROMOTER_INTERVAL" default:"200ms"`

	// Admin API gating (reset endpoints)
	AdminAPIKeyHash string `envconfig:"ADMIN_API_KEY_HASH" required:"true"`

	// Observability
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads Config from the environment, applying the defaults above.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Providers returns the configured provider set, equal-weighted, each
// capped at the per-provider rate limit.
func (c *Config) Providers() []domain.Provider {
	urls := []string{c.Provider1URL, c.Provider2URL, c.Provider3URL}
	out := make([]domain.Provider, len(urls))
	for i, url := range urls {
		out[i] = domain.Provider{
			ID:             fmt.Sprintf("provider%d", i+1),
			URL:            url,
			Weight:         1,
			PerSecondLimit: int(c.ProviderRateLimit),
		}
	}
	return out
}

// Validate reports a descriptive error for option combinations envconfig
// can't catch on its own (ranges, not just presence).
func (c *Config) Validate() error {
	if c.HealthFailureThreshold <= 0 || c.HealthFailureThreshold > 1 {
		return fmt.Errorf("config: HEALTH_FAILURE_THRESHOLD must be in (0,1], got %f", c.HealthFailureThreshold)
	}
	if c.RateLimitWindow < time.Second {
		return fmt.Errorf("config: RATE_LIMIT_WINDOW must be at least 1s, got %s", c.RateLimitWindow)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("config: MAX_ATTEMPTS must be >= 1, got %d", c.MaxAttempts)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("config: WORKER_CONCURRENCY must be >= 1, got %d", c.WorkerConcurrency)
	}
	return nil
}
