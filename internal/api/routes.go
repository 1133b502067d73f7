package api

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"smsgateway/internal/auth"
	"smsgateway/internal/observability"
)

func SetupRoutes(
	app *fiber.App,
	logger *zap.Logger,
	metrics *observability.Metrics,
	handlers *Handlers,
	authService *auth.Service,
) {
	SetupMiddleware(app, logger, metrics)

	// Health endpoints (no auth required)
	app.Get("/healthz", handlers.HealthCheck)
	app.Get("/readyz", handlers.ReadyCheck)

	// API documentation endpoint
	app.Get("/docs", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"title":   "SMS Gateway API",
			"version": "1.0",
			"endpoints": fiber.Map{
				"health":             "GET /healthz - Health check",
				"ready":              "GET /readyz - Readiness check",
				"send_sms":           "POST /v1/messages - Queue an SMS for dispatch",
				"rate_limits":        "GET /v1/rate-limits - Current rate-limit window counts",
				"provider_health":    "GET /v1/health - Per-provider health scores",
				"distribution_stats": "GET /v1/distribution-stats - Weighted round-robin state",
				"requests":           "GET /v1/requests - List requests (filter by status, provider, time range)",
				"request_detail":     "GET /v1/requests/{id} - Request detail including attempts",
				"metrics":            "GET /metrics - Prometheus metrics",
			},
			"example_send": fiber.Map{
				"method":  "POST",
				"url":     "/v1/messages",
				"headers": fiber.Map{"Content-Type": "application/json"},
				"body":    fiber.Map{"phone": "+1234567890", "text": "Hello SMS Gateway!"},
			},
		})
	})

	// Metrics endpoint (no auth required, but could be restricted in production)
	app.Get("/metrics", func(c *fiber.Ctx) error {
		registry := prometheus.DefaultGatherer
		metricFamilies, err := registry.Gather()
		if err != nil {
			return c.Status(500).SendString("Error gathering metrics")
		}

		c.Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		for _, mf := range metricFamilies {
			name := mf.GetName()
			for _, m := range mf.GetMetric() {
				if m.GetCounter() != nil {
					c.WriteString(fmt.Sprintf("# TYPE %s counter\n%s %g\n", name, name, m.GetCounter().GetValue()))
				} else if m.GetGauge() != nil {
					c.WriteString(fmt.Sprintf("# TYPE %s gauge\n%s %g\n", name, name, m.GetGauge().GetValue()))
				} else if m.GetHistogram() != nil {
					h := m.GetHistogram()
					c.WriteString(fmt.Sprintf("# TYPE %s histogram\n%s_count %d\n%s_sum %g\n",
						name, name, h.GetSampleCount(), name, h.GetSampleSum()))
				}
			}
		}
		return nil
	})

	// API v1 routes
	v1 := app.Group("/v1")

	// Intake
	v1.Post("/messages", handlers.SendMessage)

	// Observability read views
	v1.Get("/rate-limits", handlers.RateLimits)
	v1.Get("/health", handlers.ProviderHealth)
	v1.Get("/health/:provider", handlers.ProviderHealth)
	v1.Get("/distribution-stats", handlers.DistributionStats)
	v1.Get("/requests", handlers.ListRequests)
	v1.Get("/requests/:id", handlers.GetRequest)

	// Reset endpoints for tests and operators (requires admin API key)
	v1.Post("/health/:provider/reset", authService.RequireAPIKey(), handlers.ResetProviderHealth)
	v1.Post("/distribution/reset", authService.RequireAPIKey(), handlers.ResetDistribution)
}
