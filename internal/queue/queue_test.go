package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"smsgateway/internal/kv"
)

func TestEnqueueDequeueAck_RoundTrips(t *testing.T) {
	store := kv.NewMemoryStore()
	q := New(store, zap.NewNop(), 30*time.Second)
	ctx := context.Background()

	task := Task{RequestID: uuid.New(), ExcludedProviders: nil, AttemptNumber: 1}
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, handle, ok, err := q.Dequeue(ctx, 0)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if !ok {
		t.Fatalf("expected a task to be dequeued")
	}
	if got.RequestID != task.RequestID || got.AttemptNumber != task.AttemptNumber {
		t.Fatalf("dequeued task mismatch: got %+v want %+v", got, task)
	}

	if err := q.Ack(ctx, handle); err != nil {
		t.Fatalf("ack: %v", err)
	}

	// Nothing left to dequeue.
	_, _, ok, err = q.Dequeue(ctx, 0)
	if err != nil {
		t.Fatalf("dequeue after ack: %v", err)
	}
	if ok {
		t.Fatalf("expected queue to be empty after ack")
	}
}

func TestDequeue_EmptyQueueReturnsNotOK(t *testing.T) {
	store := kv.NewMemoryStore()
	q := New(store, zap.NewNop(), 30*time.Second)
	ctx := context.Background()

	_, _, ok, err := q.Dequeue(ctx, 0)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if ok {
		t.Fatalf("expected no task on an empty queue")
	}
}

func TestNack_ReenqueuesImmediately(t *testing.T) {
	store := kv.NewMemoryStore()
	q := New(store, zap.NewNop(), 30*time.Second)
	ctx := context.Background()

	task := Task{RequestID: uuid.New(), AttemptNumber: 1}
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	_, handle, ok, err := q.Dequeue(ctx, 0)
	if err != nil || !ok {
		t.Fatalf("dequeue: ok=%v err=%v", ok, err)
	}

	retryTask := Task{RequestID: task.RequestID, ExcludedProviders: []string{"provider1"}, AttemptNumber: 2}
	if err := q.Nack(ctx, handle, retryTask); err != nil {
		t.Fatalf("nack: %v", err)
	}

	got, _, ok, err := q.Dequeue(ctx, 0)
	if err != nil || !ok {
		t.Fatalf("dequeue after nack: ok=%v err=%v", ok, err)
	}
	if got.AttemptNumber != 2 || len(got.ExcludedProviders) != 1 {
		t.Fatalf("expected the re-enqueued follow-up task, got %+v", got)
	}
}

func TestReaper_ReclaimsPastVisibilityTimeout(t *testing.T) {
	store := kv.NewMemoryStore()
	now := time.Unix(1000, 0)
	store.Now = func() time.Time { return now }
	q := New(store, zap.NewNop(), 10*time.Second)
	q.Now = func() time.Time { return now }
	ctx := context.Background()

	task := Task{RequestID: uuid.New(), AttemptNumber: 1}
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, _, ok, err := q.Dequeue(ctx, 0); err != nil || !ok {
		t.Fatalf("dequeue: ok=%v err=%v", ok, err)
	}

	// Not yet due: reaper must not reclaim early.
	reaper := NewReaper(q, zap.NewNop(), time.Millisecond)
	if err := reaper.reclaimOnce(ctx); err != nil {
		t.Fatalf("reclaim before deadline: %v", err)
	}
	if _, _, ok, _ := q.Dequeue(ctx, 0); ok {
		t.Fatalf("task should still be in-flight before its visibility deadline")
	}

	// Advance past the visibility timeout; the reaper should now requeue it.
	now = now.Add(11 * time.Second)
	if err := reaper.reclaimOnce(ctx); err != nil {
		t.Fatalf("reclaim after deadline: %v", err)
	}

	got, _, ok, err := q.Dequeue(ctx, 0)
	if err != nil {
		t.Fatalf("dequeue after reclaim: %v", err)
	}
	if !ok {
		t.Fatalf("expected the reaper to have reclaimed the task back onto the live queue")
	}
	if got.RequestID != task.RequestID {
		t.Fatalf("reclaimed task mismatch: got %+v", got)
	}
}
