// Package dispatch implements the per-attempt unit of work: select a
// provider, perform the outbound call, record the outcome, and decide
// whether to succeed, retry, or dead-letter the Request. A worker goroutine
// runs each task to completion; retry delays are never slept out here (see
// internal/retry).
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"smsgateway/internal/distribution"
	"smsgateway/internal/domain"
	"smsgateway/internal/observability"
	"smsgateway/internal/provider"
	"smsgateway/internal/queue"
)

// RequestStore is the narrow persistence slice dispatch needs, kept as its
// own interface so tests can swap in an in-memory fake instead of a live
// Postgres connection.
type RequestStore interface {
	GetRequest(ctx context.Context, requestID uuid.UUID) (*domain.Request, error)
	MarkInFlight(ctx context.Context, requestID uuid.UUID, providerID string) error
	AppendAttempt(ctx context.Context, a *domain.Attempt) error
	MarkSucceeded(ctx context.Context, requestID uuid.UUID) error
	MarkFailedPermanent(ctx context.Context, requestID uuid.UUID, excludedProviders []string) error
	UpdateExcludedProviders(ctx context.Context, requestID uuid.UUID, excludedProviders []string) error
	RecordDeadLetter(ctx context.Context, dl *domain.DeadLetter) error
}

// Selector picks a provider for an attempt.
type Selector interface {
	Select(ctx context.Context, excluded map[string]bool) (string, error)
}

// HealthRecorder feeds attempt outcomes into the provider health tracker.
type HealthRecorder interface {
	RecordSuccess(ctx context.Context, providerID string) error
	RecordFailure(ctx context.Context, providerID string) error
}

// RetryScheduler parks a follow-up task for delayed re-dispatch.
type RetryScheduler interface {
	ScheduleRetry(ctx context.Context, task queue.Task, attemptNumber int) error
}

// ProviderCaller performs the outbound call; satisfied by *provider.Client.
type ProviderCaller interface {
	Send(ctx context.Context, url, phone, text string) provider.Result
}

// EventSink fans out terminal outcomes for external observability; satisfied
// by *admin.EventPublisher. Optional — a Runner with no EventSink attached
// simply skips the fan-out.
type EventSink interface {
	PublishDeadLetter(requestID uuid.UUID, reason string, attempts int)
	PublishDelivered(requestID uuid.UUID, providerID string)
}

// Runner executes dispatch tasks dequeued from the task queue. Workers are
// stateless; one Runner is shared by every worker goroutine in a process.
type Runner struct {
	store     RequestStore
	selector  Selector
	health    HealthRecorder
	retry     RetryScheduler
	caller    ProviderCaller
	providers map[string]domain.Provider
	logger    *zap.Logger
	events    EventSink
	metrics   *observability.Metrics

	maxAttempts     int
	dispatchTimeout time.Duration

	// Now defaults to time.Now; overridable in tests.
	Now func() time.Time
}

// New constructs a Runner. providers is keyed by provider id for URL lookup
// at call time.
func New(
	store RequestStore,
	selector Selector,
	healthTracker HealthRecorder,
	retryScheduler RetryScheduler,
	caller ProviderCaller,
	providers []domain.Provider,
	logger *zap.Logger,
	maxAttempts int,
	dispatchTimeout time.Duration,
) *Runner {
	byID := make(map[string]domain.Provider, len(providers))
	for _, p := range providers {
		byID[p.ID] = p
	}
	return &Runner{
		store:           store,
		selector:        selector,
		health:          healthTracker,
		retry:           retryScheduler,
		caller:          caller,
		providers:       byID,
		logger:          logger,
		maxAttempts:     maxAttempts,
		dispatchTimeout: dispatchTimeout,
		Now:             time.Now,
	}
}

// WithEvents attaches an EventSink for terminal-outcome fan-out and returns
// the Runner for chaining at wiring time.
func (r *Runner) WithEvents(events EventSink) *Runner {
	r.events = events
	return r
}

// WithMetrics attaches a Prometheus metric set and returns the Runner for
// chaining at wiring time. Optional — a nil metrics field is checked before
// every use.
func (r *Runner) WithMetrics(metrics *observability.Metrics) *Runner {
	r.metrics = metrics
	return r
}

// Run executes one dispatch task end to end. It never returns an error for
// a provider-side or business outcome — those are terminal handling within
// this call. A returned error means an infrastructure step (persistence,
// KV) failed and the surrounding worker should Nack (not Ack) the task so
// queue redelivery retries it.
func (r *Runner) Run(ctx context.Context, task queue.Task) error {
	req, err := r.store.GetRequest(ctx, task.RequestID)
	if err != nil {
		return fmt.Errorf("dispatch: load request %s: %w", task.RequestID, err)
	}

	// Terminal requests are a no-op — this is what makes redelivery of an
	// already-finished task harmless.
	if req.Status.Terminal() {
		r.logger.Debug("dispatch: request already terminal, dropping",
			zap.String("request_id", req.ID.String()), zap.String("status", string(req.Status)))
		return nil
	}

	excluded := toSet(task.ExcludedProviders)

	providerID, err := r.selector.Select(ctx, excluded)
	if err != nil {
		if errors.Is(err, distribution.ErrNoProviderAvailable) {
			return r.handleNoProviderAvailable(ctx, req, task)
		}
		return fmt.Errorf("dispatch: select provider for %s: %w", req.ID, err)
	}

	if err := r.store.MarkInFlight(ctx, req.ID, providerID); err != nil {
		return fmt.Errorf("dispatch: mark in flight %s: %w", req.ID, err)
	}
	attemptNumber := req.AttemptsCount + 1

	p := r.providers[providerID]
	callCtx, cancel := context.WithTimeout(ctx, r.dispatchTimeout)
	defer cancel()

	startedAt := r.Now()
	result := r.caller.Send(callCtx, p.URL, req.Phone, req.Text)
	endedAt := r.Now()

	status, transient, permanent := classify(result)
	if r.metrics != nil {
		r.metrics.DispatchDuration.WithLabelValues(providerID).Observe(endedAt.Sub(startedAt).Seconds())
		r.metrics.DispatchAttemptsTotal.WithLabelValues(providerID, string(status)).Inc()
	}

	attempt := &domain.Attempt{
		RequestID:             req.ID,
		ProviderID:            providerID,
		StartedAt:             startedAt,
		EndedAt:               endedAt,
		Status:                status,
		HTTPStatus:            result.HTTPStatus,
		ResponseBodyTruncated: result.Body,
	}
	if result.Err != nil {
		attempt.ErrorMessage = result.Err.Error()
	} else if result.BodyReadError {
		attempt.ErrorMessage = "response body read error"
	}
	if err := r.store.AppendAttempt(ctx, attempt); err != nil {
		return fmt.Errorf("dispatch: append attempt for %s: %w", req.ID, err)
	}

	switch {
	case status == domain.AttemptOK:
		if err := r.health.RecordSuccess(ctx, providerID); err != nil {
			r.logger.Error("dispatch: record success failed", zap.Error(err))
		}
		if err := r.store.MarkSucceeded(ctx, req.ID); err != nil {
			return fmt.Errorf("dispatch: mark succeeded %s: %w", req.ID, err)
		}
		if r.events != nil {
			r.events.PublishDelivered(req.ID, providerID)
		}
		return nil

	case permanent:
		if err := r.store.MarkFailedPermanent(ctx, req.ID, task.ExcludedProviders); err != nil {
			return fmt.Errorf("dispatch: mark failed permanent %s: %w", req.ID, err)
		}
		if err := r.store.RecordDeadLetter(ctx, &domain.DeadLetter{
			RequestID:        req.ID,
			Reason:           domain.ReasonProviderPermanentRejection,
			AttemptsSnapshot: attemptNumber,
			CreatedAt:        r.Now(),
		}); err != nil {
			return fmt.Errorf("dispatch: record dead letter %s: %w", req.ID, err)
		}
		if r.events != nil {
			r.events.PublishDeadLetter(req.ID, string(domain.ReasonProviderPermanentRejection), attemptNumber)
		}
		if r.metrics != nil {
			r.metrics.DeadLettersTotal.WithLabelValues(string(domain.ReasonProviderPermanentRejection)).Inc()
		}
		return nil

	case transient:
		if err := r.health.RecordFailure(ctx, providerID); err != nil {
			r.logger.Error("dispatch: record failure failed", zap.Error(err))
		}
		nextExcluded := append(append([]string{}, task.ExcludedProviders...), providerID)

		if attemptNumber >= r.maxAttempts {
			return r.deadLetterMaxAttempts(ctx, req, nextExcluded, attemptNumber)
		}

		if err := r.store.UpdateExcludedProviders(ctx, req.ID, nextExcluded); err != nil {
			r.logger.Error("dispatch: persist exclusion set failed", zap.Error(err))
		}
		return r.scheduleRetry(ctx, req.ID, nextExcluded, attemptNumber+1)

	default:
		return fmt.Errorf("dispatch: unreachable classification for %s", req.ID)
	}
}

// handleNoProviderAvailable reschedules with the exclusion set unchanged.
// No outbound call happened, so no Attempt row is written and
// Request.attempts_count is not bumped — but the task's own attempt_number
// still advances, so persistent unavailability exhausts the attempt budget
// and dead-letters as MAX_ATTEMPTS_EXCEEDED.
func (r *Runner) handleNoProviderAvailable(ctx context.Context, req *domain.Request, task queue.Task) error {
	if task.AttemptNumber >= r.maxAttempts {
		return r.deadLetterMaxAttempts(ctx, req, task.ExcludedProviders, task.AttemptNumber)
	}
	return r.scheduleRetry(ctx, req.ID, task.ExcludedProviders, task.AttemptNumber+1)
}

func (r *Runner) deadLetterMaxAttempts(ctx context.Context, req *domain.Request, excluded []string, attemptsSnapshot int) error {
	if err := r.store.MarkFailedPermanent(ctx, req.ID, excluded); err != nil {
		return fmt.Errorf("dispatch: mark failed permanent %s: %w", req.ID, err)
	}
	if err := r.store.RecordDeadLetter(ctx, &domain.DeadLetter{
		RequestID:        req.ID,
		Reason:           domain.ReasonMaxAttemptsExceeded,
		AttemptsSnapshot: attemptsSnapshot,
		CreatedAt:        r.Now(),
	}); err != nil {
		return fmt.Errorf("dispatch: record dead letter %s: %w", req.ID, err)
	}
	if r.events != nil {
		r.events.PublishDeadLetter(req.ID, string(domain.ReasonMaxAttemptsExceeded), attemptsSnapshot)
	}
	if r.metrics != nil {
		r.metrics.DeadLettersTotal.WithLabelValues(string(domain.ReasonMaxAttemptsExceeded)).Inc()
	}
	return nil
}

func (r *Runner) scheduleRetry(ctx context.Context, requestID uuid.UUID, excluded []string, nextAttempt int) error {
	nextTask := queue.Task{RequestID: requestID, ExcludedProviders: excluded, AttemptNumber: nextAttempt}
	if err := r.retry.ScheduleRetry(ctx, nextTask, nextAttempt); err != nil {
		return fmt.Errorf("dispatch: schedule retry %s: %w", requestID, err)
	}
	if r.metrics != nil {
		r.metrics.RetryScheduledTotal.Inc()
	}
	return nil
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// classify maps an outbound call result to an attempt outcome: 2xx is OK;
// connection errors, timeouts, 5xx and 429 are transient; 4xx other than
// 408/425/429 is permanent; an unreadable body or an unrecognized status is
// transient.
func classify(result provider.Result) (status domain.AttemptStatus, transient, permanent bool) {
	if result.TimedOut {
		return domain.AttemptTimeout, true, false
	}
	if result.Err != nil {
		return domain.AttemptErrorTransient, true, false
	}
	if result.BodyReadError {
		return domain.AttemptErrorTransient, true, false
	}

	switch {
	case result.HTTPStatus >= 200 && result.HTTPStatus < 300:
		return domain.AttemptOK, false, false
	case result.HTTPStatus == 408, result.HTTPStatus == 425, result.HTTPStatus == 429:
		return domain.AttemptErrorTransient, true, false
	case result.HTTPStatus >= 500:
		return domain.AttemptErrorTransient, true, false
	case result.HTTPStatus >= 400:
		return domain.AttemptErrorPermanent, false, true
	default:
		// Unknown/unexpected status (1xx, 3xx, 0): treated as transient.
		return domain.AttemptErrorTransient, true, false
	}
}
