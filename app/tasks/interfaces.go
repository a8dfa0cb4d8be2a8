package tasks

import (
	"context"

	"github.com/lysyi3m/rss-ingest/app/queue"
)

// JobQueues is the part of queue.Registry the workers use: clearing their own
// in-flight marker and fanning out follow-up jobs.
type JobQueues interface {
	EnqueueUnique(ctx context.Context, name string, id string) (bool, error)
	MarkStarted(ctx context.Context, name string, id string) error
}

// StatusTracker is the conductor's view of the feed status index.
type StatusTracker interface {
	Members(ctx context.Context) ([]string, error)
	Add(ctx context.Context, ids ...string) error
	Remove(ctx context.Context, id string) error
}

type JobEnqueuer interface {
	EnqueueBulk(ctx context.Context, payloads []queue.Payload) error
}

var (
	_ JobQueues     = (*queue.Registry)(nil)
	_ StatusTracker = (*queue.StatusIndex)(nil)
	_ JobEnqueuer   = (*queue.Queue)(nil)
)
