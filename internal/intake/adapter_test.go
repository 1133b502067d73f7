package intake

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"smsgateway/internal/domain"
	"smsgateway/internal/kv"
	"smsgateway/internal/queue"
	"smsgateway/internal/ratelimit"
)

type fakeStore struct {
	created []*domain.Request
}

func (f *fakeStore) CreateRequest(_ context.Context, req *domain.Request) error {
	f.created = append(f.created, req)
	return nil
}

type fakeEnqueuer struct {
	enqueued []queue.Task
	failNext bool
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, task queue.Task) error {
	if f.failNext {
		return errors.New("enqueue failed")
	}
	f.enqueued = append(f.enqueued, task)
	return nil
}

func newAdapter(limit int64) (*Adapter, *fakeStore, *fakeEnqueuer) {
	store := kv.NewMemoryStore()
	limiter := ratelimit.New(store, zap.NewNop(), 1)
	rs := &fakeStore{}
	eq := &fakeEnqueuer{}
	return New(limiter, rs, eq, zap.NewNop(), limit), rs, eq
}

func TestQueueSMSAdmitsAndEnqueues(t *testing.T) {
	a, rs, eq := newAdapter(200)
	id, err := a.QueueSMS(context.Background(), "+15551234", "hello")
	if err != nil {
		t.Fatalf("QueueSMS: %v", err)
	}
	if len(rs.created) != 1 || rs.created[0].ID != id {
		t.Fatalf("expected request persisted with matching id")
	}
	if len(eq.enqueued) != 1 || eq.enqueued[0].RequestID != id || eq.enqueued[0].AttemptNumber != 1 {
		t.Fatalf("expected one dispatch task enqueued at attempt 1, got %+v", eq.enqueued)
	}
	if rs.created[0].Status != domain.StatusPending {
		t.Fatalf("expected PENDING status, got %s", rs.created[0].Status)
	}
}

func TestQueueSMSRejectsOverGlobalCap(t *testing.T) {
	a, rs, _ := newAdapter(2)
	for i := 0; i < 2; i++ {
		if _, err := a.QueueSMS(context.Background(), "+1", "x"); err != nil {
			t.Fatalf("unexpected rejection on admission %d: %v", i, err)
		}
	}
	if _, err := a.QueueSMS(context.Background(), "+1", "x"); !errors.Is(err, ErrGlobalRateLimited) {
		t.Fatalf("expected ErrGlobalRateLimited, got %v", err)
	}
	if len(rs.created) != 2 {
		t.Fatalf("expected the rejected request to not be persisted, got %d created", len(rs.created))
	}
}
