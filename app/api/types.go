package api

import (
	"context"

	"github.com/lysyi3m/rss-ingest/app/database"
	"github.com/lysyi3m/rss-ingest/app/feed"
	"github.com/lysyi3m/rss-ingest/app/fetcher"
	"github.com/lysyi3m/rss-ingest/app/queue"
	"github.com/lysyi3m/rss-ingest/app/tasks"
)

type ParserInterface interface {
	Run(resp *fetcher.Response) (*feed.Content, error)
}

type QueueRegistry interface {
	EnqueueUnique(ctx context.Context, name string, id string) (bool, error)
	Stats(ctx context.Context) (map[string]queue.Stats, error)
	Ping(ctx context.Context) error
}

type CycleRunner interface {
	RunCycle(ctx context.Context) (int, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

var (
	_ ParserInterface = (*feed.Parser)(nil)
	_ QueueRegistry   = (*queue.Registry)(nil)
	_ CycleRunner     = (*tasks.Conductor)(nil)
	_ Pinger          = (*database.DB)(nil)
)

type Handler struct {
	db        Pinger
	feedRepo  database.FeedRepository
	fetcher   feed.Fetcher
	parser    ParserInterface
	queues    QueueRegistry
	conductor CycleRunner
	version   string
}

type RegisterFeedRequest struct {
	URL            string `json:"url" binding:"required"`
	ScrapeInterval int    `json:"scrape_interval" binding:"min=0"`
	Fulltext       bool   `json:"fulltext"`
}
