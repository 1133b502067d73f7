package health

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"smsgateway/internal/kv"
)

func TestIsHealthy_DefaultsTrueWithNoSamples(t *testing.T) {
	store := kv.NewMemoryStore()
	tracker := New(store, zap.NewNop(), 300, 10, 0.7)
	ctx := context.Background()

	healthy, err := tracker.IsHealthy(ctx, "p1")
	if err != nil {
		t.Fatalf("is healthy: %v", err)
	}
	if !healthy {
		t.Fatalf("a provider with no recorded samples must be healthy")
	}
}

func TestRecordFailure_BelowMinSamplesStaysHealthy(t *testing.T) {
	store := kv.NewMemoryStore()
	tracker := New(store, zap.NewNop(), 300, 10, 0.7)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := tracker.RecordFailure(ctx, "p1"); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}

	healthy, err := tracker.IsHealthy(ctx, "p1")
	if err != nil {
		t.Fatalf("is healthy: %v", err)
	}
	if !healthy {
		t.Fatalf("5 failures is below the min-sample floor of 10, must still be healthy")
	}
}

func TestRecordFailure_CrossesThresholdBecomesStickyUnhealthy(t *testing.T) {
	store := kv.NewMemoryStore()
	tracker := New(store, zap.NewNop(), 300, 10, 0.7)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		if err := tracker.RecordFailure(ctx, "p1"); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := tracker.RecordSuccess(ctx, "p1"); err != nil {
			t.Fatalf("record success: %v", err)
		}
	}

	healthy, err := tracker.IsHealthy(ctx, "p1")
	if err != nil {
		t.Fatalf("is healthy: %v", err)
	}
	if healthy {
		t.Fatalf("8/10 failures (ratio 0.8) exceeds threshold 0.7, provider must be sticky-unhealthy")
	}

	status, err := tracker.Status(ctx, "p1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Unhealthy {
		t.Fatalf("status.Unhealthy must reflect the sticky flag")
	}
}

func TestRecordSuccess_StaysHealthyBelowThreshold(t *testing.T) {
	store := kv.NewMemoryStore()
	tracker := New(store, zap.NewNop(), 300, 10, 0.7)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		if err := tracker.RecordSuccess(ctx, "p1"); err != nil {
			t.Fatalf("record success: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := tracker.RecordFailure(ctx, "p1"); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}

	healthy, err := tracker.IsHealthy(ctx, "p1")
	if err != nil {
		t.Fatalf("is healthy: %v", err)
	}
	if !healthy {
		t.Fatalf("2/10 failures (ratio 0.2) is below threshold 0.7, provider must stay healthy")
	}
}

func TestReset_ClearsCountersAndStickyFlag(t *testing.T) {
	store := kv.NewMemoryStore()
	tracker := New(store, zap.NewNop(), 300, 10, 0.7)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := tracker.RecordFailure(ctx, "p1"); err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}
	if healthy, _ := tracker.IsHealthy(ctx, "p1"); healthy {
		t.Fatalf("precondition: provider should be unhealthy before reset")
	}

	if err := tracker.Reset(ctx, "p1"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	healthy, err := tracker.IsHealthy(ctx, "p1")
	if err != nil {
		t.Fatalf("is healthy: %v", err)
	}
	if !healthy {
		t.Fatalf("reset must clear the sticky unhealthy flag")
	}
	status, err := tracker.Status(ctx, "p1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Success != 0 || status.Failure != 0 {
		t.Fatalf("reset must zero both counters, got success=%d failure=%d", status.Success, status.Failure)
	}
}
