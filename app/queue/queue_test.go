package queue

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lysyi3m/rss-ingest/app/database"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

func TestQueueLeaseOrderAndAck(t *testing.T) {
	ctx := context.Background()
	q := New(openTestDB(t), FeedQueue, Options{})

	if _, err := q.Lease(ctx); !errors.Is(err, ErrEmpty) {
		t.Fatalf("Expected ErrEmpty, got %v", err)
	}

	if err := q.EnqueueBulk(ctx, []Payload{{Feed: "a"}, {Feed: "b"}}); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	first, err := q.Lease(ctx)
	if err != nil {
		t.Fatalf("Expected job, got %v", err)
	}
	if first.Payload.Feed != "a" || first.Attempts != 1 {
		t.Errorf("Expected feed 'a' on attempt 1, got %+v", first)
	}

	second, err := q.Lease(ctx)
	if err != nil {
		t.Fatalf("Expected job, got %v", err)
	}
	if second.Payload.Feed != "b" {
		t.Errorf("Expected feed 'b', got '%s'", second.Payload.Feed)
	}

	if _, err := q.Lease(ctx); !errors.Is(err, ErrEmpty) {
		t.Errorf("Expected leased jobs to be hidden, got %v", err)
	}

	if n, _ := q.Len(ctx); n != 2 {
		t.Errorf("Expected 2 jobs, got %d", n)
	}

	if err := q.Ack(ctx, first); err != nil {
		t.Fatal(err)
	}
	if n, _ := q.Len(ctx); n != 1 {
		t.Errorf("Expected 1 job after ack, got %d", n)
	}
}

func TestQueueNamesAreIsolated(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	feeds := New(db, FeedQueue, Options{})
	og := New(db, OGQueue, Options{})

	if err := feeds.Enqueue(ctx, Payload{Feed: "a"}); err != nil {
		t.Fatal(err)
	}

	if _, err := og.Lease(ctx); !errors.Is(err, ErrEmpty) {
		t.Errorf("Expected og queue to be empty, got %v", err)
	}
}

func TestQueueNackBackoffAndExhaustion(t *testing.T) {
	ctx := context.Background()
	q := New(openTestDB(t), FeedQueue, Options{MaxAttempts: 2})

	now := time.UnixMilli(1_700_000_000_000)
	q.now = func() time.Time { return now }

	if err := q.Enqueue(ctx, Payload{Feed: "a"}); err != nil {
		t.Fatal(err)
	}

	job, err := q.Lease(ctx)
	if err != nil {
		t.Fatal(err)
	}

	retried, err := q.Nack(ctx, job)
	if err != nil || !retried {
		t.Fatalf("Expected retry, got (%v, %v)", retried, err)
	}

	if _, err := q.Lease(ctx); !errors.Is(err, ErrEmpty) {
		t.Errorf("Expected job hidden during backoff, got %v", err)
	}

	now = now.Add(time.Second)
	job, err = q.Lease(ctx)
	if err != nil {
		t.Fatalf("Expected job after backoff, got %v", err)
	}
	if job.Attempts != 2 {
		t.Errorf("Expected attempt 2, got %d", job.Attempts)
	}

	retried, err = q.Nack(ctx, job)
	if err != nil || retried {
		t.Fatalf("Expected no retry after max attempts, got (%v, %v)", retried, err)
	}
	if n, _ := q.Len(ctx); n != 0 {
		t.Errorf("Expected exhausted job to be removed, got %d", n)
	}
}

func TestQueueBackoff(t *testing.T) {
	q := New(nil, FeedQueue, Options{})

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{20, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := q.Backoff(tt.attempt); got != tt.expected {
			t.Errorf("Backoff(%d): expected %v, got %v", tt.attempt, tt.expected, got)
		}
	}
}

func TestQueueReleaseStalled(t *testing.T) {
	ctx := context.Background()
	q := New(openTestDB(t), FeedQueue, Options{LockDuration: time.Minute, MaxAttempts: 2})

	now := time.UnixMilli(1_700_000_000_000)
	q.now = func() time.Time { return now }

	if err := q.EnqueueBulk(ctx, []Payload{{Feed: "a"}, {Feed: "b"}}); err != nil {
		t.Fatal(err)
	}
	a, _ := q.Lease(ctx)
	b, _ := q.Lease(ctx)

	// b has already used its last attempt
	if _, err := q.db.Exec("UPDATE jobs SET attempts = 2 WHERE id = ?", b.ID); err != nil {
		t.Fatal(err)
	}

	released, discarded, err := q.ReleaseStalled(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(released) != 0 || len(discarded) != 0 {
		t.Fatalf("Expected nothing stalled before lease expiry, got %d/%d", len(released), len(discarded))
	}

	now = now.Add(2 * time.Minute)
	released, discarded, err = q.ReleaseStalled(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(released) != 1 || released[0].ID != a.ID {
		t.Errorf("Expected job a released, got %+v", released)
	}
	if len(discarded) != 1 || discarded[0].ID != b.ID {
		t.Errorf("Expected job b discarded, got %+v", discarded)
	}

	again, err := q.Lease(ctx)
	if err != nil {
		t.Fatalf("Expected redelivery, got %v", err)
	}
	if again.ID != a.ID || again.Attempts != 2 {
		t.Errorf("Expected job a on attempt 2, got %+v", again)
	}
}

func TestQueueReleaseStalledLogsBadPayload(t *testing.T) {
	var logs bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(previous) })

	ctx := context.Background()
	q := New(openTestDB(t), FeedQueue, Options{LockDuration: time.Minute})

	now := time.UnixMilli(1_700_000_000_000)
	q.now = func() time.Time { return now }

	if err := q.Enqueue(ctx, Payload{Feed: "a"}); err != nil {
		t.Fatal(err)
	}
	job, err := q.Lease(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := q.db.Exec("UPDATE jobs SET payload = ? WHERE id = ?", "{broken", job.ID); err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Minute)
	released, _, err := q.ReleaseStalled(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(released) != 1 || released[0].ID != job.ID {
		t.Fatalf("Expected job released, got %+v", released)
	}

	out := logs.String()
	if !strings.Contains(out, "Stalled job has undecodable payload") || !strings.Contains(out, "queue=feed") {
		t.Errorf("Expected decode failure to be logged, got %q", out)
	}
}

func TestQueueExtendAndRelease(t *testing.T) {
	ctx := context.Background()
	q := New(openTestDB(t), FeedQueue, Options{LockDuration: time.Minute})

	now := time.UnixMilli(1_700_000_000_000)
	q.now = func() time.Time { return now }

	if err := q.Enqueue(ctx, Payload{Feed: "a"}); err != nil {
		t.Fatal(err)
	}
	job, _ := q.Lease(ctx)

	now = now.Add(50 * time.Second)
	if err := q.Extend(ctx, job); err != nil {
		t.Fatalf("Expected extend to succeed, got %v", err)
	}

	now = now.Add(50 * time.Second)
	released, _, err := q.ReleaseStalled(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(released) != 0 {
		t.Error("Expected extended lease to be kept")
	}

	if err := q.Release(ctx, job); err != nil {
		t.Fatal(err)
	}
	if err := q.Extend(ctx, job); !errors.Is(err, ErrLeaseLost) {
		t.Errorf("Expected ErrLeaseLost, got %v", err)
	}

	again, err := q.Lease(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again.Attempts != 1 {
		t.Errorf("Expected released attempt not to count, got %d", again.Attempts)
	}
}
