// Package ratelimit implements the fixed-window admission limiter: a
// per-scope counter keyed by a fixed name (never a timestamped key — that
// would give every caller its own count-of-one bucket and defeat the
// limiter entirely), incremented on every admission attempt and TTL'd to
// the window size on first use.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"smsgateway/internal/kv"
)

// Decision is the result of an admission attempt. It replaces exceptions for
// control flow: callers branch on Admitted rather than catching a rejection.
type Decision struct {
	Admitted bool
	Count    int64
	Limit    int64
}

// Limiter enforces fixed-window per-scope rate caps over a shared kv.Store.
type Limiter struct {
	store         kv.Store
	logger        *zap.Logger
	windowSeconds int64
}

// New constructs a Limiter. windowSeconds is the fixed-window size
// (RATE_LIMIT_WINDOW, 1s by default).
func New(store kv.Store, logger *zap.Logger, windowSeconds int64) *Limiter {
	return &Limiter{store: store, logger: logger, windowSeconds: windowSeconds}
}

// AdmitGlobal attempts to admit one request against the global cap.
func (l *Limiter) AdmitGlobal(ctx context.Context, limit int64) (Decision, error) {
	return l.admit(ctx, "global", limit)
}

// AdmitProvider attempts to admit one request against a single provider's cap.
func (l *Limiter) AdmitProvider(ctx context.Context, providerID string, limit int64) (Decision, error) {
	return l.admit(ctx, "provider:"+providerID, limit)
}

func (l *Limiter) admit(ctx context.Context, scope string, limit int64) (Decision, error) {
	key := rateLimitKey(scope)

	count, err := kv.IncrWithExpire(ctx, l.store, key, l.windowSeconds)
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: incr %s: %w", key, err)
	}

	if count > limit {
		// Roll back: this caller's increment pushed the counter over the
		// cap, so it must not count as an admission. The window itself
		// still belongs to whoever incremented it first (no timestamp in
		// the key), so a plain Decr suffices — the worst case is a
		// transient overshoot visible to concurrent Stats() readers, and
		// those reads are best-effort anyway.
		if _, decrErr := l.store.Decr(ctx, key); decrErr != nil {
			l.logger.Error("ratelimit: rollback decrement failed",
				zap.String("scope", scope), zap.Error(decrErr))
		}
		return Decision{Admitted: false, Count: limit, Limit: limit}, nil
	}

	return Decision{Admitted: true, Count: count, Limit: limit}, nil
}

// GetCurrentCount returns the current window's count for scope without
// mutating it, alongside the remaining budget. The read is best-effort and
// may momentarily lag a concurrent admission.
func (l *Limiter) GetCurrentCount(ctx context.Context, scope string, limit int64) (count, remaining int64, err error) {
	raw, ok, err := l.store.Get(ctx, rateLimitKey(scope))
	if err != nil {
		return 0, 0, fmt.Errorf("ratelimit: get %s: %w", scope, err)
	}
	if !ok {
		return 0, limit, nil
	}
	count, err = strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("ratelimit: decode count for %s: %w", scope, err)
	}
	return count, limit - count, nil
}

func rateLimitKey(scope string) string {
	return "rate_limit:" + scope
}
