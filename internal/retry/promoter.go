package retry

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"go.uber.org/zap"

	"smsgateway/internal/queue"
)

// zsetStore is the narrow slice of kv.Store the promoter needs.
type zsetStore interface {
	ZRangeByScore(ctx context.Context, key string, min, max float64, limit int64) ([]string, error)
	ZRem(ctx context.Context, key, member string) (bool, error)
}

// Promoter polls the retry set for due entries and moves them onto the live
// dispatch queue. One Promoter runs per process (see cmd/worker); multiple
// instances across replicas race on ZRem, and only the winner promotes a
// given entry, so a retry is never enqueued twice.
type Promoter struct {
	store    zsetStore
	dispatch *queue.Queue
	logger   *zap.Logger
	interval time.Duration

	// Now defaults to time.Now; overridable in tests.
	Now func() time.Time
}

// NewPromoter constructs a Promoter. interval is the poll cadence
// (PROMOTER_INTERVAL, 200ms by default).
func NewPromoter(store zsetStore, dispatch *queue.Queue, logger *zap.Logger, interval time.Duration) *Promoter {
	return &Promoter{store: store, dispatch: dispatch, logger: logger, interval: interval, Now: time.Now}
}

// Run blocks, promoting due retries every interval until ctx is canceled.
func (p *Promoter) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.promoteOnce(ctx); err != nil {
				p.logger.Error("retry promoter: pass failed", zap.Error(err))
			}
		}
	}
}

func (p *Promoter) promoteOnce(ctx context.Context) error {
	now := float64(p.Now().UnixMilli())
	due, err := p.store.ZRangeByScore(ctx, retryZSetKey, math.Inf(-1), now, 0)
	if err != nil {
		return err
	}

	for _, raw := range due {
		removed, err := p.store.ZRem(ctx, retryZSetKey, raw)
		if err != nil {
			p.logger.Error("retry promoter: zrem failed", zap.Error(err))
			continue
		}
		if !removed {
			continue
		}

		var entry retryEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			p.logger.Error("retry promoter: decode entry failed", zap.Error(err))
			continue
		}
		if err := p.dispatch.Enqueue(ctx, entry.Task); err != nil {
			p.logger.Error("retry promoter: re-enqueue failed",
				zap.String("request_id", entry.Task.RequestID.String()), zap.Error(err))
			continue
		}
	}
	return nil
}
