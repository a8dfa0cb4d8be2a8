package tasks

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/lysyi3m/rss-ingest/app/database"
	"github.com/lysyi3m/rss-ingest/app/fetcher"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

func newTestFetcher() *fetcher.Fetcher {
	return fetcher.New(fetcher.Options{UserAgent: "rss-ingest-test"})
}

type fakeQueues struct {
	mu       sync.Mutex
	started  map[string][]string
	enqueued map[string][]string
}

func newFakeQueues() *fakeQueues {
	return &fakeQueues{
		started:  map[string][]string{},
		enqueued: map[string][]string{},
	}
}

func (q *fakeQueues) EnqueueUnique(_ context.Context, name string, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, existing := range q.enqueued[name] {
		if existing == id {
			return false, nil
		}
	}
	q.enqueued[name] = append(q.enqueued[name], id)
	return true, nil
}

func (q *fakeQueues) MarkStarted(_ context.Context, name string, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.started[name] = append(q.started[name], id)
	return nil
}

func (q *fakeQueues) count(name string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.enqueued[name])
}
