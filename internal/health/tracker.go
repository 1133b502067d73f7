// Package health implements the rolling success/failure health tracker with
// a sticky unhealthy flag. It uses the same fixed-key-with-TTL counter
// mechanism as internal/ratelimit, tracking two rolling counters per
// provider instead of one admission counter.
package health

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"smsgateway/internal/kv"
)

// Status is a point-in-time snapshot of a provider's health state.
// UnhealthyUntil is the zero time unless the sticky flag is set.
type Status struct {
	Success        int64
	Failure        int64
	FailureRatio   float64
	Unhealthy      bool
	UnhealthyUntil time.Time
}

// Tracker scores providers over a rolling window and parks them behind a
// sticky unhealthy flag once their failure ratio crosses a threshold.
type Tracker struct {
	store            kv.Store
	logger           *zap.Logger
	windowSeconds    int64
	minSamples       int64
	failureThreshold float64

	// Now defaults to time.Now; overridable in tests.
	Now func() time.Time
}

// New constructs a Tracker. windowSeconds is the rolling window (default
// 300s); minSamples is the floor of samples required before the sticky flag
// can trip (default 10); failureThreshold is the ratio at or above which a
// provider becomes sticky-unhealthy (default 0.70).
func New(store kv.Store, logger *zap.Logger, windowSeconds, minSamples int64, failureThreshold float64) *Tracker {
	return &Tracker{
		store:            store,
		logger:           logger,
		windowSeconds:    windowSeconds,
		minSamples:       minSamples,
		failureThreshold: failureThreshold,
		Now:              time.Now,
	}
}

// RecordSuccess increments the rolling success counter and re-evaluates the
// sticky flag. A success lowers the failure ratio, but this call still sets
// the flag when it brings the sample count up to the floor while the ratio
// is at or above the threshold.
func (t *Tracker) RecordSuccess(ctx context.Context, providerID string) error {
	if _, err := kv.IncrWithExpire(ctx, t.store, successKey(providerID), t.windowSeconds); err != nil {
		return fmt.Errorf("health: record success: %w", err)
	}
	return t.reevaluate(ctx, providerID)
}

// RecordFailure increments the rolling failure counter and re-evaluates the
// sticky flag, setting it if the ratio now crosses the threshold.
func (t *Tracker) RecordFailure(ctx context.Context, providerID string) error {
	if _, err := kv.IncrWithExpire(ctx, t.store, failureKey(providerID), t.windowSeconds); err != nil {
		return fmt.Errorf("health: record failure: %w", err)
	}
	return t.reevaluate(ctx, providerID)
}

func (t *Tracker) reevaluate(ctx context.Context, providerID string) error {
	status, err := t.Status(ctx, providerID)
	if err != nil {
		return err
	}
	total := status.Success + status.Failure
	if total < t.minSamples {
		return nil
	}
	if status.FailureRatio < t.failureThreshold {
		return nil
	}

	// The key's value is its own expiry, so Status can report when the
	// flag will clear without a TTL lookup.
	until := t.Now().Add(time.Duration(t.windowSeconds) * time.Second)
	if err := t.store.Set(ctx, unhealthyKey(providerID), strconv.FormatInt(until.Unix(), 10), t.windowSeconds); err != nil {
		return fmt.Errorf("health: set sticky unhealthy: %w", err)
	}
	t.logger.Warn("provider marked sticky-unhealthy",
		zap.String("provider_id", providerID),
		zap.Int64("success", status.Success),
		zap.Int64("failure", status.Failure),
		zap.Float64("failure_ratio", status.FailureRatio))
	return nil
}

// IsHealthy returns true iff the sticky unhealthy key is absent.
func (t *Tracker) IsHealthy(ctx context.Context, providerID string) (bool, error) {
	_, ok, err := t.store.Get(ctx, unhealthyKey(providerID))
	if err != nil {
		return false, fmt.Errorf("health: is healthy: %w", err)
	}
	return !ok, nil
}

// Status returns the current rolling counters, ratio and sticky flag for a
// provider.
func (t *Tracker) Status(ctx context.Context, providerID string) (Status, error) {
	success, err := t.readCounter(ctx, successKey(providerID))
	if err != nil {
		return Status{}, err
	}
	failure, err := t.readCounter(ctx, failureKey(providerID))
	if err != nil {
		return Status{}, err
	}
	untilRaw, unhealthy, err := t.store.Get(ctx, unhealthyKey(providerID))
	if err != nil {
		return Status{}, fmt.Errorf("health: status unhealthy flag: %w", err)
	}

	denom := success + failure
	if denom < 1 {
		denom = 1
	}

	st := Status{
		Success:      success,
		Failure:      failure,
		FailureRatio: float64(failure) / float64(denom),
		Unhealthy:    unhealthy,
	}
	if unhealthy {
		if untilUnix, err := strconv.ParseInt(untilRaw, 10, 64); err == nil {
			st.UnhealthyUntil = time.Unix(untilUnix, 0)
		}
	}
	return st, nil
}

func (t *Tracker) readCounter(ctx context.Context, key string) (int64, error) {
	raw, ok, err := t.store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("health: read counter %s: %w", key, err)
	}
	if !ok {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("health: decode counter %s: %w", key, err)
	}
	return v, nil
}

// Reset clears a provider back to success=0, failure=0, unhealthy=absent.
func (t *Tracker) Reset(ctx context.Context, providerID string) error {
	if err := t.store.Del(ctx, successKey(providerID)); err != nil {
		return err
	}
	if err := t.store.Del(ctx, failureKey(providerID)); err != nil {
		return err
	}
	return t.store.Del(ctx, unhealthyKey(providerID))
}

func successKey(providerID string) string   { return "health:success:" + providerID }
func failureKey(providerID string) string   { return "health:failure:" + providerID }
func unhealthyKey(providerID string) string { return "health:unhealthy:" + providerID }
