// Package intake is the only path that creates a Request and its first
// dispatch task. The single admission gate is the global rate limiter; a
// rejected request is neither persisted nor enqueued.
package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"smsgateway/internal/domain"
	"smsgateway/internal/observability"
	"smsgateway/internal/queue"
	"smsgateway/internal/ratelimit"
)

// ErrGlobalRateLimited is returned when the global admission cap rejects the
// request.
var ErrGlobalRateLimited = errors.New("intake: global rate limited")

// RequestStore is the narrow persistence slice intake needs.
type RequestStore interface {
	CreateRequest(ctx context.Context, req *domain.Request) error
}

// Enqueuer is the narrow queue slice intake needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, task queue.Task) error
}

// Adapter accepts send requests from the HTTP surface.
type Adapter struct {
	limiter        *ratelimit.Limiter
	store          RequestStore
	queue          Enqueuer
	logger         *zap.Logger
	metrics        *observability.Metrics
	totalRateLimit int64

	// Now defaults to time.Now; overridable in tests.
	Now func() time.Time
}

// WithMetrics attaches a Prometheus metric set and returns the Adapter for
// chaining at wiring time. Optional — a nil metrics field is checked before
// every use.
func (a *Adapter) WithMetrics(metrics *observability.Metrics) *Adapter {
	a.metrics = metrics
	return a
}

// New constructs an Adapter. totalRateLimit is TOTAL_RATE_LIMIT from config.
func New(limiter *ratelimit.Limiter, store RequestStore, q Enqueuer, logger *zap.Logger, totalRateLimit int64) *Adapter {
	return &Adapter{limiter: limiter, store: store, queue: q, logger: logger, totalRateLimit: totalRateLimit, Now: time.Now}
}

// QueueSMS admits against the global cap, persists a PENDING Request, and
// enqueues its first dispatch task.
func (a *Adapter) QueueSMS(ctx context.Context, phone, text string) (uuid.UUID, error) {
	decision, err := a.limiter.AdmitGlobal(ctx, a.totalRateLimit)
	if err != nil {
		return uuid.Nil, fmt.Errorf("intake: admit global: %w", err)
	}
	if !decision.Admitted {
		if a.metrics != nil {
			a.metrics.RequestsAcceptedTotal.WithLabelValues("rejected").Inc()
		}
		return uuid.Nil, ErrGlobalRateLimited
	}

	now := a.Now()
	req := &domain.Request{
		ID:        uuid.New(),
		Phone:     phone,
		Text:      text,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateRequest(ctx, req); err != nil {
		return uuid.Nil, fmt.Errorf("intake: persist request: %w", err)
	}

	task := queue.Task{RequestID: req.ID, ExcludedProviders: nil, AttemptNumber: 1}
	if err := a.queue.Enqueue(ctx, task); err != nil {
		a.logger.Error("intake: enqueue failed after persisting request",
			zap.String("request_id", req.ID.String()), zap.Error(err))
		return uuid.Nil, fmt.Errorf("intake: enqueue dispatch task: %w", err)
	}

	if a.metrics != nil {
		a.metrics.RequestsAcceptedTotal.WithLabelValues("admitted").Inc()
	}
	a.logger.Info("request accepted", zap.String("request_id", req.ID.String()), zap.String("phone", req.Phone))
	return req.ID, nil
}
