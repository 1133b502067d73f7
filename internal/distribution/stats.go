package distribution

import (
	"context"
	"fmt"
	"strconv"

	"smsgateway/internal/domain"
)

// deficitReader is the read counterpart of deficitStore, used by Stats.
type deficitReader interface {
	Get(ctx context.Context, key string) (string, bool, error)
}

// deficitDeleter is the delete counterpart, used by Reset.
type deficitDeleter interface {
	Del(ctx context.Context, key string) error
}

// ProviderStat is one row of Engine.Stats' result, consumed by the admin
// distribution view.
type ProviderStat struct {
	ProviderID string
	Weight     int
	Deficit    int64
	Healthy    bool
}

// Stats reports the current deficit and health for every configured
// provider, in lexical id order, for the admin adapter.
func (e *Engine) Stats(ctx context.Context, store deficitReader) ([]ProviderStat, error) {
	out := make([]ProviderStat, 0, len(e.providers))
	for _, id := range sortedIDs(e.providers) {
		p := e.providerByID(id)
		raw, ok, err := store.Get(ctx, deficitKey(id))
		if err != nil {
			return nil, fmt.Errorf("distribution: stats read deficit %s: %w", id, err)
		}
		deficit := int64(0)
		if ok {
			deficit, err = strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("distribution: decode deficit %s: %w", id, err)
			}
		}
		healthy, err := e.tracker.IsHealthy(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("distribution: stats health %s: %w", id, err)
		}
		out = append(out, ProviderStat{ProviderID: id, Weight: p.Weight, Deficit: deficit, Healthy: healthy})
	}
	return out, nil
}

// Reset clears every provider's deficit counter, returning the round-robin
// to a clean slate. Used by the admin reset endpoint in tests.
func (e *Engine) Reset(ctx context.Context, store deficitDeleter) error {
	for _, p := range e.providers {
		if err := store.Del(ctx, deficitKey(p.ID)); err != nil {
			return fmt.Errorf("distribution: reset deficit %s: %w", p.ID, err)
		}
	}
	return nil
}

func (e *Engine) providerByID(id string) domain.Provider {
	for _, p := range e.providers {
		if p.ID == id {
			return p
		}
	}
	return domain.Provider{}
}
