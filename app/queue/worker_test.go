package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func queueLen(q *Queue) int {
	n, err := q.Len(context.Background())
	if err != nil {
		return -1
	}
	return n
}

func TestWorkerProcessesJobs(t *testing.T) {
	ctx := context.Background()
	q := New(openTestDB(t), FeedQueue, Options{})

	var mu sync.Mutex
	seen := map[string]bool{}

	w := NewWorker(q, func(_ context.Context, job *Job) error {
		mu.Lock()
		seen[job.Payload.Feed] = true
		mu.Unlock()
		return nil
	}, WorkerOptions{Concurrency: 3, PollInterval: 10 * time.Millisecond})

	if err := q.EnqueueBulk(ctx, []Payload{{Feed: "a"}, {Feed: "b"}, {Feed: "c"}, {Feed: "d"}}); err != nil {
		t.Fatal(err)
	}

	w.Start(ctx)
	defer w.Stop()

	waitFor(t, "queue to drain", func() bool { return queueLen(q) == 0 })

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 4 {
		t.Errorf("Expected 4 distinct feeds, got %v", seen)
	}
}

func TestWorkerRetriesThenFails(t *testing.T) {
	ctx := context.Background()
	q := New(openTestDB(t), FeedQueue, Options{MaxAttempts: 3, BackoffBase: time.Millisecond})

	var calls atomic.Int32
	failed := make(chan Job, 1)

	w := NewWorker(q, func(_ context.Context, _ *Job) error {
		calls.Add(1)
		return errors.New("boom")
	}, WorkerOptions{
		PollInterval: 5 * time.Millisecond,
		Hooks: Hooks{
			OnError:  func(*Job, error) {},
			OnFailed: func(job Job, _ error) { failed <- job },
		},
	})

	if err := q.Enqueue(ctx, Payload{Feed: "a"}); err != nil {
		t.Fatal(err)
	}

	w.Start(ctx)
	defer w.Stop()

	select {
	case job := <-failed:
		if job.Attempts != 3 {
			t.Errorf("Expected failure on attempt 3, got %d", job.Attempts)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for OnFailed")
	}

	if calls.Load() != 3 {
		t.Errorf("Expected 3 handler calls, got %d", calls.Load())
	}
	if n := queueLen(q); n != 0 {
		t.Errorf("Expected failed job to be removed, got %d", n)
	}
}

func TestWorkerRecoversPanics(t *testing.T) {
	ctx := context.Background()
	q := New(openTestDB(t), FeedQueue, Options{BackoffBase: time.Millisecond})

	var calls atomic.Int32
	var errs atomic.Int32

	w := NewWorker(q, func(_ context.Context, _ *Job) error {
		if calls.Add(1) == 1 {
			panic("unexpected nil")
		}
		return nil
	}, WorkerOptions{
		PollInterval: 5 * time.Millisecond,
		Hooks:        Hooks{OnError: func(*Job, error) { errs.Add(1) }},
	})

	if err := q.Enqueue(ctx, Payload{Feed: "a"}); err != nil {
		t.Fatal(err)
	}

	w.Start(ctx)
	defer w.Stop()

	waitFor(t, "job to succeed after panic", func() bool { return queueLen(q) == 0 })

	if calls.Load() != 2 {
		t.Errorf("Expected 2 handler calls, got %d", calls.Load())
	}
	if errs.Load() == 0 {
		t.Error("Expected panic to be reported through OnError")
	}
}

func TestWorkerStopReleasesRunningJob(t *testing.T) {
	ctx := context.Background()
	q := New(openTestDB(t), FeedQueue, Options{})

	started := make(chan struct{})
	w := NewWorker(q, func(ctx context.Context, _ *Job) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, WorkerOptions{PollInterval: 5 * time.Millisecond})

	if err := q.Enqueue(ctx, Payload{Feed: "a"}); err != nil {
		t.Fatal(err)
	}

	w.Start(ctx)
	<-started
	w.Stop()

	job, err := q.Lease(ctx)
	if err != nil {
		t.Fatalf("Expected released job to be available, got %v", err)
	}
	if job.Attempts != 1 {
		t.Errorf("Expected interrupted attempt not to count, got %d", job.Attempts)
	}
}
