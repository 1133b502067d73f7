// Package retry schedules delayed re-dispatch without a sleeping goroutine
// per pending task: each retry's due time is encoded as a score in a Redis
// sorted set, and a single Promoter goroutine polls for due entries. A
// parked goroutine per pending retry would neither survive a process
// restart nor scale past a few thousand concurrent retries.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"time"

	"go.uber.org/zap"

	"smsgateway/internal/kv"
	"smsgateway/internal/queue"
)

const retryZSetKey = "queue:retry"

// Scheduler computes backoff delays and parks due-but-not-yet-promoted
// retries in a time-indexed sorted set.
type Scheduler struct {
	store  kv.Store
	logger *zap.Logger
	base   time.Duration
	max    time.Duration

	// Now defaults to time.Now; overridable in tests.
	Now func() time.Time
}

// New constructs a Scheduler. base and max are RETRY_BASE_DELAY and
// RETRY_MAX_DELAY from config.
func New(store kv.Store, logger *zap.Logger, base, max time.Duration) *Scheduler {
	return &Scheduler{store: store, logger: logger, base: base, max: max, Now: time.Now}
}

// ScheduleRetry computes base*2^(attemptNumber-1) capped at max, jitters it
// ±20%, and parks task in the retry set scored by its due time.
func (s *Scheduler) ScheduleRetry(ctx context.Context, task queue.Task, attemptNumber int) error {
	delay := s.backoff(attemptNumber)
	dueAt := s.Now().Add(delay)

	entry := retryEntry{Task: task, DueAtEpochMillis: dueAt.UnixMilli()}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("retry: encode entry: %w", err)
	}

	if err := s.store.ZAdd(ctx, retryZSetKey, float64(entry.DueAtEpochMillis), string(raw)); err != nil {
		return fmt.Errorf("retry: schedule: %w", err)
	}
	s.logger.Info("retry scheduled",
		zap.String("request_id", task.RequestID.String()),
		zap.Int("attempt_number", attemptNumber),
		zap.Duration("delay", delay))
	return nil
}

// backoff computes base*2^(n-1) capped at max, jittered ±20%.
func (s *Scheduler) backoff(attemptNumber int) time.Duration {
	n := attemptNumber - 1
	if n < 0 {
		n = 0
	}
	multiplier := math.Pow(2, float64(n))
	delay := time.Duration(float64(s.base) * multiplier)
	if delay > s.max || delay <= 0 {
		delay = s.max
	}
	return jitter(delay, 0.2)
}

// jitter returns delay scaled by a uniform random factor in
// [1-fraction, 1+fraction].
func jitter(delay time.Duration, fraction float64) time.Duration {
	// crypto/rand rather than math/rand: nothing else in the pipeline
	// seeds a PRNG, and the rest of the stack (uuid.New, bcrypt) already
	// reads crypto/rand.
	n, err := rand.Int(rand.Reader, big.NewInt(2001))
	if err != nil {
		return delay
	}
	// n is in [0, 2000]; map to [-fraction, +fraction].
	factor := 1.0 + fraction*(float64(n.Int64())/1000.0-1.0)
	return time.Duration(float64(delay) * factor)
}

type retryEntry struct {
	Task             queue.Task `json:"task"`
	DueAtEpochMillis int64      `json:"due_at_epoch_millis"`
}
