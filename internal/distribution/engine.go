// Package distribution implements the provider selection engine: smooth
// weighted round-robin across healthy, non-excluded providers, with rate
// limiter admission as the final, committed-only-for-the-winner step.
package distribution

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"smsgateway/internal/domain"
	"smsgateway/internal/health"
	"smsgateway/internal/ratelimit"
)

// ErrNoProviderAvailable is returned when every candidate is excluded,
// unhealthy, or rate limited. Callers branch on this sentinel; it is an
// expected outcome, not a fault.
var ErrNoProviderAvailable = errors.New("distribution: no provider available")

// Engine selects a provider for a dispatch attempt.
type Engine struct {
	providers []domain.Provider
	tracker   *health.Tracker
	limiter   *ratelimit.Limiter
	store     deficitStore
	logger    *zap.Logger
}

// deficitStore is the narrow slice of kv.Store the engine needs; kept as its
// own interface so tests can swap in a trivial fake without pulling in the
// full kv package surface.
type deficitStore interface {
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
}

// New constructs an Engine over a static provider list (weight and
// per-provider rate limit come from each domain.Provider).
func New(providers []domain.Provider, tracker *health.Tracker, limiter *ratelimit.Limiter, store deficitStore, logger *zap.Logger) *Engine {
	return &Engine{providers: providers, tracker: tracker, limiter: limiter, store: store, logger: logger}
}

// Select picks a provider id, honoring exclusions, health, weights, and rate
// admission. Admission is attempted only against the current top-deficit
// candidate; losing candidates are never admitted, so they never suffer a
// phantom rate-limit increment.
func (e *Engine) Select(ctx context.Context, excluded map[string]bool) (string, error) {
	candidates, err := e.candidates(ctx, excluded)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", ErrNoProviderAvailable
	}

	totalWeight := int64(0)
	for _, c := range candidates {
		totalWeight += int64(c.Weight)
	}

	deficits := make(map[string]int64, len(candidates))
	for _, c := range candidates {
		d, err := e.store.IncrBy(ctx, deficitKey(c.ID), int64(c.Weight))
		if err != nil {
			return "", fmt.Errorf("distribution: bump deficit for %s: %w", c.ID, err)
		}
		deficits[c.ID] = d
	}

	remaining := candidates
	for len(remaining) > 0 {
		winner, rest := pickHighestDeficit(remaining, deficits)
		decision, err := e.limiter.AdmitProvider(ctx, winner.ID, int64(winner.PerSecondLimit))
		if err != nil {
			return "", fmt.Errorf("distribution: admit %s: %w", winner.ID, err)
		}
		if decision.Admitted {
			if _, err := e.store.IncrBy(ctx, deficitKey(winner.ID), -totalWeight); err != nil {
				e.logger.Error("distribution: failed to settle deficit after win",
					zap.String("provider_id", winner.ID), zap.Error(err))
			}
			return winner.ID, nil
		}
		remaining = rest
	}

	return "", ErrNoProviderAvailable
}

func (e *Engine) candidates(ctx context.Context, excluded map[string]bool) ([]domain.Provider, error) {
	var out []domain.Provider
	for _, p := range e.providers {
		if excluded[p.ID] {
			continue
		}
		healthy, err := e.tracker.IsHealthy(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("distribution: health check %s: %w", p.ID, err)
		}
		if !healthy {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// pickHighestDeficit returns the provider with the highest deficit (ties
// broken by provider id lex order), plus the candidate slice with that
// provider removed for the next iteration.
func pickHighestDeficit(candidates []domain.Provider, deficits map[string]int64) (domain.Provider, []domain.Provider) {
	best := 0
	for i := 1; i < len(candidates); i++ {
		if deficits[candidates[i].ID] > deficits[candidates[best].ID] {
			best = i
		} else if deficits[candidates[i].ID] == deficits[candidates[best].ID] &&
			candidates[i].ID < candidates[best].ID {
			best = i
		}
	}
	winner := candidates[best]
	rest := make([]domain.Provider, 0, len(candidates)-1)
	rest = append(rest, candidates[:best]...)
	rest = append(rest, candidates[best+1:]...)
	return winner, rest
}

func deficitKey(providerID string) string {
	return "distribution:deficit:" + providerID
}

// sortedIDs is a small helper used by the admin views to report deficits in
// a stable order.
func sortedIDs(providers []domain.Provider) []string {
	ids := make([]string, len(providers))
	for i, p := range providers {
		ids[i] = p.ID
	}
	sort.Strings(ids)
	return ids
}
