package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"smsgateway/internal/kv"
	"smsgateway/internal/queue"
)

// fakeRunner records every task it runs and can fail a configured number of
// times before succeeding.
type fakeRunner struct {
	mu       sync.Mutex
	ran      []queue.Task
	failures int
}

func (f *fakeRunner) Run(_ context.Context, task queue.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, task)
	if f.failures > 0 {
		f.failures--
		return errors.New("fake runner failure")
	}
	return nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ran)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestPoolProcessesAndAcksTasks(t *testing.T) {
	store := kv.NewMemoryStore()
	q := queue.New(store, zap.NewNop(), 30*time.Second)
	runner := &fakeRunner{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 3; i++ {
		if err := q.Enqueue(ctx, queue.Task{RequestID: uuid.New(), AttemptNumber: 1}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	pool := New(zap.NewNop(), q, runner, 2)
	pool.Start(ctx)

	waitFor(t, 2*time.Second, func() bool { return runner.count() == 3 })

	cancel()
	pool.Wait()

	// Every task was acked: nothing left for a second pool to pick up.
	task, _, ok, err := q.Dequeue(context.Background(), 0)
	if err != nil {
		t.Fatalf("dequeue after drain: %v", err)
	}
	if ok {
		t.Fatalf("expected empty queue after acks, got task %+v", task)
	}
}

func TestPoolNacksFailedTaskBackOntoQueue(t *testing.T) {
	store := kv.NewMemoryStore()
	q := queue.New(store, zap.NewNop(), 30*time.Second)

	// First run fails (infrastructure error), the nack re-enqueues, the
	// second run succeeds.
	runner := &fakeRunner{failures: 1}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reqID := uuid.New()
	if err := q.Enqueue(ctx, queue.Task{RequestID: reqID, AttemptNumber: 1}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	pool := New(zap.NewNop(), q, runner, 1)
	pool.Start(ctx)

	waitFor(t, 2*time.Second, func() bool { return runner.count() >= 2 })

	cancel()
	pool.Wait()

	if runner.ran[0].RequestID != reqID || runner.ran[1].RequestID != reqID {
		t.Fatalf("expected the same task redelivered after nack, got %+v", runner.ran)
	}
}
