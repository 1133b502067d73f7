// Package worker runs the dispatch worker pool: a fixed set of goroutines
// that pull tasks from the durable queue and run them to completion. Workers
// hold no state of their own; horizontal scale is instance count times
// pool size.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"smsgateway/internal/queue"
)

// dequeueWaitSeconds bounds each blocking dequeue so workers notice
// shutdown promptly.
const dequeueWaitSeconds = 5

// TaskRunner executes one dispatch task; satisfied by *dispatch.Runner.
type TaskRunner interface {
	Run(ctx context.Context, task queue.Task) error
}

// Pool is a fixed-size dispatch worker pool.
type Pool struct {
	logger      *zap.Logger
	queue       *queue.Queue
	runner      TaskRunner
	concurrency int

	wg sync.WaitGroup

	processed atomic.Int64
	failed    atomic.Int64
	inFlight  atomic.Int64
}

// New constructs a Pool with the given concurrency (WORKER_CONCURRENCY).
func New(logger *zap.Logger, q *queue.Queue, runner TaskRunner, concurrency int) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pool{logger: logger, queue: q, runner: runner, concurrency: concurrency}
}

// Start launches the worker goroutines plus a periodic stats logger. It
// returns immediately; cancel ctx and call Wait to drain.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("starting dispatch workers", zap.Int("concurrency", p.concurrency))

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.wg.Add(1)
	go p.statsLogger(ctx)
}

// Wait blocks until every worker goroutine has exited. In-flight dispatches
// finish (or hit their own deadline) before workers exit, so cancel ctx and
// then Wait for a graceful drain.
func (p *Pool) Wait() {
	p.wg.Wait()
	p.logger.Info("all dispatch workers stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		task, handle, ok, err := p.queue.Dequeue(ctx, dequeueWaitSeconds)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("dequeue failed", zap.Int("worker_id", id), zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			continue
		}

		p.inFlight.Add(1)
		runErr := p.runner.Run(ctx, task)
		p.inFlight.Add(-1)

		if runErr != nil {
			// Infrastructure failure mid-dispatch: put the task straight
			// back so redelivery retries it rather than waiting out the
			// visibility timeout.
			p.failed.Add(1)
			p.logger.Error("dispatch task failed",
				zap.Int("worker_id", id),
				zap.String("request_id", task.RequestID.String()),
				zap.Error(runErr))
			if nackErr := p.queue.Nack(ctx, handle, task); nackErr != nil {
				p.logger.Error("nack failed", zap.String("request_id", task.RequestID.String()), zap.Error(nackErr))
			}
			continue
		}

		p.processed.Add(1)
		if ackErr := p.queue.Ack(ctx, handle); ackErr != nil {
			p.logger.Error("ack failed", zap.String("request_id", task.RequestID.String()), zap.Error(ackErr))
		}
	}
}

func (p *Pool) statsLogger(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.logger.Info("worker stats",
				zap.Int64("processed", p.processed.Load()),
				zap.Int64("failed", p.failed.Load()),
				zap.Int64("in_flight", p.inFlight.Load()),
				zap.Int("concurrency", p.concurrency))
		}
	}
}
