// Package admin provides read-only views into the rate limiter, health
// tracker, and distribution engine, plus the persisted request rows, and the
// reset operations tests use. Methods are thin delegations structured for a
// Fiber handler to call directly.
package admin

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"smsgateway/internal/distribution"
	"smsgateway/internal/domain"
	"smsgateway/internal/health"
	"smsgateway/internal/kv"
	"smsgateway/internal/ratelimit"
	"smsgateway/internal/store"
)

// RequestReader is the narrow persistence slice the admin views need.
type RequestReader interface {
	GetRequest(ctx context.Context, requestID uuid.UUID) (*domain.Request, error)
	ListRequests(ctx context.Context, filter store.ListFilter) ([]*domain.Request, error)
	ListAttempts(ctx context.Context, requestID uuid.UUID) ([]*domain.Attempt, error)
}

// Adapter serves the admin/observability read views and resets.
type Adapter struct {
	limiter   *ratelimit.Limiter
	tracker   *health.Tracker
	engine    *distribution.Engine
	kv        kv.Store
	requests  RequestReader
	providers []domain.Provider

	globalLimit int64
}

// New constructs an Adapter over the already-wired pipeline collaborators.
func New(limiter *ratelimit.Limiter, tracker *health.Tracker, engine *distribution.Engine, kvStore kv.Store, requests RequestReader, providers []domain.Provider, globalLimit int64) *Adapter {
	return &Adapter{
		limiter:     limiter,
		tracker:     tracker,
		engine:      engine,
		kv:          kvStore,
		requests:    requests,
		providers:   providers,
		globalLimit: globalLimit,
	}
}

// RateLimitStats reports the current window count for the global scope and
// every configured provider.
func (a *Adapter) RateLimitStats(ctx context.Context) ([]ratelimit.ScopeStats, error) {
	scopes := make([]ratelimit.ScopeLimit, 0, len(a.providers)+1)
	scopes = append(scopes, ratelimit.ScopeLimit{Scope: "global", Limit: a.globalLimit})
	for _, p := range a.providers {
		scopes = append(scopes, ratelimit.ScopeLimit{Scope: "provider:" + p.ID, Limit: int64(p.PerSecondLimit)})
	}
	return a.limiter.Stats(ctx, scopes)
}

// HealthStatus reports one provider's rolling counters and sticky flag.
func (a *Adapter) HealthStatus(ctx context.Context, providerID string) (health.Status, error) {
	return a.tracker.Status(ctx, providerID)
}

// HealthStatusAll reports every configured provider's health, keyed by
// provider id.
func (a *Adapter) HealthStatusAll(ctx context.Context) (map[string]health.Status, error) {
	out := make(map[string]health.Status, len(a.providers))
	for _, p := range a.providers {
		st, err := a.tracker.Status(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("admin: health status %s: %w", p.ID, err)
		}
		out[p.ID] = st
	}
	return out, nil
}

// ResetHealth clears one provider's rolling counters and sticky flag.
func (a *Adapter) ResetHealth(ctx context.Context, providerID string) error {
	return a.tracker.Reset(ctx, providerID)
}

// DistributionStats reports every provider's smooth-WRR deficit and health.
func (a *Adapter) DistributionStats(ctx context.Context) ([]distribution.ProviderStat, error) {
	return a.engine.Stats(ctx, a.kv)
}

// ResetDistribution clears every provider's round-robin deficit counter.
func (a *Adapter) ResetDistribution(ctx context.Context) error {
	return a.engine.Reset(ctx, a.kv)
}

// ListRequests is a paged, filtered read view over the request store.
func (a *Adapter) ListRequests(ctx context.Context, filter store.ListFilter) ([]*domain.Request, error) {
	return a.requests.ListRequests(ctx, filter)
}

// RequestDetail loads one request plus its full attempt history.
type RequestDetail struct {
	Request  *domain.Request
	Attempts []*domain.Attempt
}

// RequestDetail reports a single request's full attempt history, for the
// GET /v1/requests/:id view.
func (a *Adapter) RequestDetail(ctx context.Context, requestID uuid.UUID) (*RequestDetail, error) {
	req, err := a.requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	attempts, err := a.requests.ListAttempts(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("admin: list attempts for %s: %w", requestID, err)
	}
	return &RequestDetail{Request: req, Attempts: attempts}, nil
}
