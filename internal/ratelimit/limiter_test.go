package ratelimit

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"smsgateway/internal/kv"
)

func TestAdmitProvider_CapsAtLimit(t *testing.T) {
	store := kv.NewMemoryStore()
	limiter := New(store, zap.NewNop(), 1)
	ctx := context.Background()

	var admitted int
	for i := 0; i < 10; i++ {
		d, err := limiter.AdmitProvider(ctx, "provider1", 5)
		if err != nil {
			t.Fatalf("admit: %v", err)
		}
		if d.Admitted {
			admitted++
		}
	}

	if admitted != 5 {
		t.Fatalf("expected exactly 5 admissions at limit=5, got %d", admitted)
	}
}

func TestAdmitProvider_ResetsOnNextWindow(t *testing.T) {
	store := kv.NewMemoryStore()
	now := time.Unix(1000, 0)
	store.Now = func() time.Time { return now }
	limiter := New(store, zap.NewNop(), 1)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if d, err := limiter.AdmitProvider(ctx, "p1", 5); err != nil || !d.Admitted {
			t.Fatalf("expected admission %d to succeed: admitted=%v err=%v", i, d.Admitted, err)
		}
	}
	if d, _ := limiter.AdmitProvider(ctx, "p1", 5); d.Admitted {
		t.Fatalf("6th admission within the same window should be rejected")
	}

	now = now.Add(time.Second)
	if d, err := limiter.AdmitProvider(ctx, "p1", 5); err != nil || !d.Admitted {
		t.Fatalf("admission after window rollover should succeed: admitted=%v err=%v", d.Admitted, err)
	}
}

func TestAdmitGlobal_RollbackDoesNotLeakCount(t *testing.T) {
	store := kv.NewMemoryStore()
	limiter := New(store, zap.NewNop(), 1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		limiter.AdmitGlobal(ctx, 2)
	}

	count, remaining, err := limiter.GetCurrentCount(ctx, "global", 2)
	if err != nil {
		t.Fatalf("get current count: %v", err)
	}
	if count != 2 {
		t.Fatalf("rejected admissions must not inflate the counter, got count=%d want=2", count)
	}
	if remaining != 0 {
		t.Fatalf("expected 0 remaining, got %d", remaining)
	}
}
