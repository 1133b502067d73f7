package queue

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
)

// Reaper periodically reclaims tasks whose visibility timeout expired
// without an Ack, pushing them back onto the live queue. This is the
// crash-recovery path: if a worker dies mid-dispatch, the task it was
// holding reappears here instead of being lost.
type Reaper struct {
	queue    *Queue
	logger   *zap.Logger
	interval time.Duration
}

// NewReaper constructs a Reaper polling at the given interval (same cadence
// as the retry promoter, 200ms by default).
func NewReaper(q *Queue, logger *zap.Logger, interval time.Duration) *Reaper {
	return &Reaper{queue: q, logger: logger, interval: interval}
}

// Run blocks, reclaiming due tasks every interval until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.reclaimOnce(ctx); err != nil {
				r.logger.Error("reaper: reclaim pass failed", zap.Error(err))
			}
		}
	}
}

// reclaimOnce scans for in-flight tasks past their visibility deadline and
// re-enqueues each one it wins the ZREM race for — if two reaper instances
// (across worker replicas) observe the same due entry, only one succeeds
// at ZRem and re-enqueues it, so the task is never duplicated onto the live
// list.
func (r *Reaper) reclaimOnce(ctx context.Context) error {
	now := float64(r.queue.Now().UnixMilli())
	due, err := r.queue.store.ZRangeByScore(ctx, inFlightZSetKey, math.Inf(-1), now, 0)
	if err != nil {
		return err
	}

	for _, raw := range due {
		removed, err := r.queue.store.ZRem(ctx, inFlightZSetKey, raw)
		if err != nil {
			r.logger.Error("reaper: zrem failed", zap.Error(err))
			continue
		}
		if !removed {
			continue
		}

		if err := r.queue.store.LRem(ctx, inFlightListKey, 1, raw); err != nil {
			r.logger.Error("reaper: lrem in-flight bookkeeping failed", zap.Error(err))
		}
		if err := r.queue.store.LPush(ctx, dispatchListKey, raw); err != nil {
			r.logger.Error("reaper: re-enqueue failed", zap.Error(err))
			continue
		}
		r.logger.Warn("reaper: reclaimed task past visibility timeout")
	}
	return nil
}
