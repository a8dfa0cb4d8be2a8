package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	DefaultPollInterval  = time.Second
	DefaultStallInterval = 75 * time.Second
	DefaultJobTimeout    = 5 * time.Minute
	settleTimeout        = 10 * time.Second
)

type Handler func(ctx context.Context, job *Job) error

// Hooks observe worker events. They never stop the worker.
type Hooks struct {
	OnStalled func(job Job)
	OnError   func(job *Job, err error)
	OnFailed  func(job Job, err error)
}

type WorkerOptions struct {
	Concurrency   int
	PollInterval  time.Duration
	StallInterval time.Duration
	JobTimeout    time.Duration
	Hooks         Hooks
}

type Worker struct {
	queue   *Queue
	handler Handler
	opts    WorkerOptions
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewWorker(q *Queue, handler Handler, opts WorkerOptions) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StallInterval <= 0 {
		opts.StallInterval = DefaultStallInterval
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = DefaultJobTimeout
	}

	name := q.Name()
	if opts.Hooks.OnStalled == nil {
		opts.Hooks.OnStalled = func(job Job) {
			slog.Warn("Job stalled", "queue", name, "job", job.ID, "feed", job.Payload.Feed, "attempts", job.Attempts)
		}
	}
	if opts.Hooks.OnError == nil {
		opts.Hooks.OnError = func(job *Job, err error) {
			if job == nil {
				slog.Error("Queue error", "queue", name, "error", err)
				return
			}
			slog.Error("Job error", "queue", name, "job", job.ID, "feed", job.Payload.Feed, "attempts", job.Attempts, "error", err)
		}
	}
	if opts.Hooks.OnFailed == nil {
		opts.Hooks.OnFailed = func(job Job, err error) {
			slog.Error("Job failed after maximum attempts", "queue", name, "job", job.ID, "feed", job.Payload.Feed, "attempts", job.Attempts, "last_error", err)
		}
	}

	return &Worker{
		queue:   q,
		handler: handler,
		opts:    opts,
	}
}

// Start launches the worker slots and the stall sweeper. Stop cancels them
// and waits for running handlers to return.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	for i := 0; i < w.opts.Concurrency; i++ {
		w.wg.Add(1)
		go w.slot(ctx)
	}

	w.wg.Add(1)
	go w.sweepStalled(ctx)

	slog.Debug("Worker started", "queue", w.queue.Name(), "concurrency", w.opts.Concurrency)
}

func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	slog.Debug("Worker stopped", "queue", w.queue.Name())
}

func (w *Worker) slot(ctx context.Context) {
	defer w.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		job, err := w.queue.Lease(ctx)
		if err != nil {
			if errors.Is(err, ErrEmpty) {
				w.wait(ctx, w.opts.PollInterval)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			if job != nil {
				// Undecodable payloads can never succeed
				w.settle(job, err, false)
				continue
			}
			w.opts.Hooks.OnError(nil, err)
			w.wait(ctx, w.opts.PollInterval)
			continue
		}

		w.process(ctx, job)
	}
}

func (w *Worker) wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	jobCtx, cancel := context.WithTimeout(ctx, w.opts.JobTimeout)
	defer cancel()

	stopHeartbeat := w.heartbeat(jobCtx, job)
	err := w.run(jobCtx, job)
	stopHeartbeat()

	if err != nil && ctx.Err() != nil {
		releaseCtx, cancel := context.WithTimeout(context.Background(), settleTimeout)
		defer cancel()
		if relErr := w.queue.Release(releaseCtx, job); relErr != nil {
			w.opts.Hooks.OnError(job, relErr)
		}
		return
	}

	w.settle(job, err, true)
}

// settle acks a successful job and nacks a failed one. Settling runs on a
// fresh context so a finished job is recorded even during shutdown.
func (w *Worker) settle(job *Job, jobErr error, retry bool) {
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()

	if jobErr == nil {
		if err := w.queue.Ack(ctx, job); err != nil {
			w.opts.Hooks.OnError(job, err)
		}
		return
	}

	w.opts.Hooks.OnError(job, jobErr)

	if !retry {
		if err := w.queue.Ack(ctx, job); err != nil {
			w.opts.Hooks.OnError(job, err)
		}
		w.opts.Hooks.OnFailed(*job, jobErr)
		return
	}

	retried, err := w.queue.Nack(ctx, job)
	if err != nil {
		w.opts.Hooks.OnError(job, err)
		return
	}
	if !retried {
		w.opts.Hooks.OnFailed(*job, jobErr)
	}
}

func (w *Worker) run(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Job handler panicked", "queue", w.queue.Name(), "job", job.ID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return w.handler(ctx, job)
}

func (w *Worker) heartbeat(ctx context.Context, job *Job) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(max(w.queue.LockDuration()/3, 10*time.Millisecond))
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.queue.Extend(ctx, job); err != nil && ctx.Err() == nil {
					w.opts.Hooks.OnError(job, fmt.Errorf("heartbeat: %w", err))
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (w *Worker) sweepStalled(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.opts.StallInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			released, discarded, err := w.queue.ReleaseStalled(ctx)
			if err != nil {
				if ctx.Err() == nil {
					w.opts.Hooks.OnError(nil, err)
				}
				continue
			}
			for _, job := range released {
				w.opts.Hooks.OnStalled(job)
			}
			for _, job := range discarded {
				w.opts.Hooks.OnStalled(job)
				w.opts.Hooks.OnFailed(job, errors.New("job stalled after maximum attempts"))
			}
		}
	}
}
