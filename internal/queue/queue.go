// Package queue implements the durable dispatch queue: a Redis list for
// pending tasks plus a visibility-timeout in-flight set. A dequeued task
// stays invisible until acked or until its visibility timeout expires, at
// which point the reaper puts it back on the live list — so a task survives
// a worker crash mid-dispatch.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"smsgateway/internal/kv"
)

const (
	dispatchListKey = "queue:dispatch"
	inFlightListKey = "queue:in_flight_list"
	inFlightZSetKey = "queue:in_flight"
)

// Task is one unit of dispatch work: a request to attempt against a
// provider, with the exclusion set accumulated by prior failed attempts.
type Task struct {
	RequestID         uuid.UUID `json:"request_id"`
	ExcludedProviders []string  `json:"excluded_providers"`
	AttemptNumber     int       `json:"attempt_number"`
}

// Handle identifies an in-flight task for Ack/Nack. It wraps the raw encoded
// payload because that payload is also the unique member used in the
// in-flight ZSET and list — Ack/Nack must reference the exact same string to
// remove it.
type Handle struct {
	raw string
}

// Queue is the durable task queue shared by intake and the workers.
type Queue struct {
	store             kv.Store
	logger            *zap.Logger
	visibilityTimeout time.Duration

	// Now defaults to time.Now; overridable in tests so the reaper's
	// due-for-reclaim check is deterministic.
	Now func() time.Time
}

// New constructs a Queue. visibilityTimeout is how long a dequeued task
// stays invisible before the reaper reclaims it.
func New(store kv.Store, logger *zap.Logger, visibilityTimeout time.Duration) *Queue {
	return &Queue{store: store, logger: logger, visibilityTimeout: visibilityTimeout, Now: time.Now}
}

// Enqueue pushes a new task onto the live queue.
func (q *Queue) Enqueue(ctx context.Context, task Task) error {
	raw, err := encodeTask(task)
	if err != nil {
		return fmt.Errorf("queue: encode task: %w", err)
	}
	if err := q.store.LPush(ctx, dispatchListKey, raw); err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}
	return nil
}

// Dequeue blocks (up to waitSeconds) for a task, atomically moving it into
// the in-flight bookkeeping list and marking it invisible until
// visibilityTimeout elapses. ok is false if nothing arrived before the
// deadline.
func (q *Queue) Dequeue(ctx context.Context, waitSeconds int64) (task Task, handle Handle, ok bool, err error) {
	raw, found, err := q.store.BRPopLPush(ctx, dispatchListKey, inFlightListKey, waitSeconds)
	if err != nil {
		return Task{}, Handle{}, false, fmt.Errorf("queue: dequeue: %w", err)
	}
	if !found {
		return Task{}, Handle{}, false, nil
	}

	score := float64(q.Now().Add(q.visibilityTimeout).UnixMilli())
	if err := q.store.ZAdd(ctx, inFlightZSetKey, score, raw); err != nil {
		return Task{}, Handle{}, false, fmt.Errorf("queue: mark in-flight: %w", err)
	}

	decoded, err := decodeTask(raw)
	if err != nil {
		return Task{}, Handle{}, false, fmt.Errorf("queue: decode task: %w", err)
	}
	return decoded, Handle{raw: raw}, true, nil
}

// Ack confirms successful processing and removes the task from in-flight
// bookkeeping permanently.
func (q *Queue) Ack(ctx context.Context, handle Handle) error {
	return q.clearInFlight(ctx, handle)
}

// Nack clears handle's in-flight entry and pushes task onto the live queue
// immediately, instead of waiting for the visibility timeout to expire. The
// worker pool uses it when a run fails on an infrastructure step, so the
// task is redelivered.
func (q *Queue) Nack(ctx context.Context, handle Handle, task Task) error {
	if err := q.clearInFlight(ctx, handle); err != nil {
		return err
	}
	return q.Enqueue(ctx, task)
}

func (q *Queue) clearInFlight(ctx context.Context, handle Handle) error {
	if _, err := q.store.ZRem(ctx, inFlightZSetKey, handle.raw); err != nil {
		return fmt.Errorf("queue: clear in-flight zset: %w", err)
	}
	if err := q.store.LRem(ctx, inFlightListKey, 1, handle.raw); err != nil {
		return fmt.Errorf("queue: clear in-flight list: %w", err)
	}
	return nil
}

func encodeTask(task Task) (string, error) {
	b, err := json.Marshal(task)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeTask(raw string) (Task, error) {
	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return Task{}, err
	}
	return task, nil
}
