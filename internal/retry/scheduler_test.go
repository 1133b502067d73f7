package retry

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"smsgateway/internal/kv"
	"smsgateway/internal/queue"
)

func TestScheduleRetry_BackoffDoublesAndCaps(t *testing.T) {
	store := kv.NewMemoryStore()
	scheduler := New(store, zap.NewNop(), time.Second, 16*time.Second)

	tests := []struct {
		attempt  int
		wantLow  time.Duration
		wantHigh time.Duration
	}{
		{1, 800 * time.Millisecond, 1200 * time.Millisecond},
		{2, 1600 * time.Millisecond, 2400 * time.Millisecond},
		{3, 3200 * time.Millisecond, 4800 * time.Millisecond},
		{5, 12800 * time.Millisecond, 16 * time.Second}, // base*2^4=16s already at cap
		{10, 12800 * time.Millisecond, 16 * time.Second},
	}

	for _, tt := range tests {
		d := scheduler.backoff(tt.attempt)
		if d < tt.wantLow || d > tt.wantHigh {
			t.Fatalf("attempt %d: backoff %v out of expected range [%v, %v]", tt.attempt, d, tt.wantLow, tt.wantHigh)
		}
	}
}

func TestScheduleRetry_ParksEntryInZSet(t *testing.T) {
	store := kv.NewMemoryStore()
	now := time.Unix(1000, 0)
	store.Now = func() time.Time { return now }
	scheduler := New(store, zap.NewNop(), time.Second, 16*time.Second)
	scheduler.Now = func() time.Time { return now }
	ctx := context.Background()

	task := queue.Task{RequestID: uuid.New(), AttemptNumber: 2}
	if err := scheduler.ScheduleRetry(ctx, task, 2); err != nil {
		t.Fatalf("schedule retry: %v", err)
	}

	members, err := store.ZRangeByScore(ctx, retryZSetKey, 0, float64(now.Add(time.Hour).UnixMilli()), 0)
	if err != nil {
		t.Fatalf("zrangebyscore: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("expected exactly one parked retry entry, got %d", len(members))
	}
}

func TestPromoter_PromotesDueEntryOntoQueue(t *testing.T) {
	store := kv.NewMemoryStore()
	now := time.Unix(1000, 0)
	store.Now = func() time.Time { return now }
	scheduler := New(store, zap.NewNop(), time.Second, 16*time.Second)
	scheduler.Now = func() time.Time { return now }
	ctx := context.Background()

	q := queue.New(store, zap.NewNop(), 30*time.Second)

	task := queue.Task{RequestID: uuid.New(), AttemptNumber: 2}
	if err := scheduler.ScheduleRetry(ctx, task, 1); err != nil {
		t.Fatalf("schedule retry: %v", err)
	}

	promoter := NewPromoter(store, q, zap.NewNop(), time.Millisecond)
	promoter.Now = func() time.Time { return now }

	// Before due time: nothing promoted.
	if err := promoter.promoteOnce(ctx); err != nil {
		t.Fatalf("promote before due: %v", err)
	}
	if _, _, ok, _ := q.Dequeue(ctx, 0); ok {
		t.Fatalf("retry should not be promoted before its due time")
	}

	// Advance well past the retry delay (base 1s, jittered up to 1.2s).
	now = now.Add(2 * time.Second)
	if err := promoter.promoteOnce(ctx); err != nil {
		t.Fatalf("promote after due: %v", err)
	}

	got, _, ok, err := q.Dequeue(ctx, 0)
	if err != nil {
		t.Fatalf("dequeue promoted task: %v", err)
	}
	if !ok {
		t.Fatalf("expected the due retry to have been promoted onto the live queue")
	}
	if got.RequestID != task.RequestID {
		t.Fatalf("promoted task mismatch: got %+v", got)
	}
}

func TestPromoter_NeverPromotesSameEntryTwice(t *testing.T) {
	store := kv.NewMemoryStore()
	now := time.Unix(1000, 0)
	store.Now = func() time.Time { return now }
	scheduler := New(store, zap.NewNop(), time.Second, 16*time.Second)
	scheduler.Now = func() time.Time { return now }
	ctx := context.Background()

	q := queue.New(store, zap.NewNop(), 30*time.Second)
	task := queue.Task{RequestID: uuid.New(), AttemptNumber: 1}
	if err := scheduler.ScheduleRetry(ctx, task, 1); err != nil {
		t.Fatalf("schedule retry: %v", err)
	}

	promoter := NewPromoter(store, q, zap.NewNop(), time.Millisecond)
	promoter.Now = func() time.Time { return now }
	now = now.Add(2 * time.Second)

	if err := promoter.promoteOnce(ctx); err != nil {
		t.Fatalf("first promote: %v", err)
	}
	if err := promoter.promoteOnce(ctx); err != nil {
		t.Fatalf("second promote: %v", err)
	}

	count := 0
	for {
		_, _, ok, err := q.Dequeue(ctx, 0)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if !ok {
			break
		}
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one promoted task on the queue, got %d", count)
	}
}
