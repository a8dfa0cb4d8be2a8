package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/lysyi3m/rss-ingest/app/database"
)

const (
	FeedQueue     = "feed"
	OGQueue       = "og"
	FulltextQueue = "fulltext"
)

var Names = []string{FeedQueue, OGQueue, FulltextQueue}

type Stats struct {
	Jobs     int   `json:"jobs"`
	InFlight int64 `json:"in_flight"`
}

// Registry owns the queue and status index handles of every named queue.
// It is built once at startup and passed to whoever enqueues.
type Registry struct {
	client   redis.UniversalClient
	queues   map[string]*Queue
	statuses map[string]*StatusIndex
}

func NewRegistry(db *database.DB, client redis.UniversalClient, opts Options) *Registry {
	r := &Registry{
		client:   client,
		queues:   make(map[string]*Queue, len(Names)),
		statuses: make(map[string]*StatusIndex, len(Names)),
	}
	for _, name := range Names {
		r.queues[name] = New(db, name, opts)
		r.statuses[name] = NewStatusIndex(client, name)
	}
	return r
}

func (r *Registry) Queue(name string) *Queue {
	return r.queues[name]
}

func (r *Registry) Status(name string) *StatusIndex {
	return r.statuses[name]
}

func (r *Registry) lookup(name string) (*Queue, *StatusIndex, error) {
	q, ok := r.queues[name]
	if !ok {
		return nil, nil, fmt.Errorf("unknown queue %q", name)
	}
	return q, r.statuses[name], nil
}

// EnqueueUnique enqueues a job for id unless one is already waiting. The
// status claim is rolled back when the enqueue fails.
func (r *Registry) EnqueueUnique(ctx context.Context, name string, id string) (bool, error) {
	q, status, err := r.lookup(name)
	if err != nil {
		return false, err
	}

	claimed, err := status.Claim(ctx, id)
	if err != nil {
		return false, err
	}
	if !claimed {
		slog.Debug("Job already queued", "queue", name, "feed", id)
		return false, nil
	}

	if err := q.Enqueue(ctx, Payload{Feed: id}); err != nil {
		if rmErr := status.Remove(ctx, id); rmErr != nil {
			slog.Warn("Failed to roll back status claim", "queue", name, "feed", id, "error", rmErr)
		}
		return false, err
	}

	return true, nil
}

func (r *Registry) Stats(ctx context.Context) (map[string]Stats, error) {
	stats := make(map[string]Stats, len(Names))
	for _, name := range Names {
		jobs, err := r.queues[name].Len(ctx)
		if err != nil {
			return nil, err
		}
		inFlight, err := r.statuses[name].Count(ctx)
		if err != nil {
			return nil, err
		}
		stats[name] = Stats{Jobs: jobs, InFlight: inFlight}
	}
	return stats, nil
}

func (r *Registry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Registry) Close() error {
	return r.client.Close()
}

// MarkStarted drops id from the status index of name. Workers call it before
// doing any work so the entity can be scheduled again.
func (r *Registry) MarkStarted(ctx context.Context, name string, id string) error {
	_, status, err := r.lookup(name)
	if err != nil {
		return err
	}
	return status.Remove(ctx, id)
}
