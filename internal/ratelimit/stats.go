package ratelimit

import "context"

// ScopeLimit names a scope and the cap configured for it, the unit the
// admin adapter iterates over to build its rate-limits view.
type ScopeLimit struct {
	Scope string
	Limit int64
}

// ScopeStats is one row of Limiter.Stats' result.
type ScopeStats struct {
	Scope     string
	Count     int64
	Limit     int64
	Remaining int64
}

// Stats reads the current count for every scope in scopes. It is read-only
// and best-effort, mirroring GetCurrentCount.
func (l *Limiter) Stats(ctx context.Context, scopes []ScopeLimit) ([]ScopeStats, error) {
	out := make([]ScopeStats, 0, len(scopes))
	for _, s := range scopes {
		count, remaining, err := l.GetCurrentCount(ctx, s.Scope, s.Limit)
		if err != nil {
			return nil, err
		}
		out = append(out, ScopeStats{Scope: s.Scope, Count: count, Limit: s.Limit, Remaining: remaining})
	}
	return out, nil
}
