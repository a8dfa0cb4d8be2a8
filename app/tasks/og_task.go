package tasks

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/rss-ingest/app/database"
	"github.com/lysyi3m/rss-ingest/app/feed"
	"github.com/lysyi3m/rss-ingest/app/queue"
)

type OGTask struct {
	Task
	fetcher   feed.Fetcher
	extractor *feed.MetadataExtractor
	feedRepo  database.FeedRepository
	queues    JobQueues
}

func NewOGTask(feedID string, httpFetcher feed.Fetcher, extractor *feed.MetadataExtractor,
	feedRepo database.FeedRepository, queues JobQueues) *OGTask {
	return &OGTask{
		Task:      NewTask(TaskTypeOG, feedID),
		fetcher:   httpFetcher,
		extractor: extractor,
		feedRepo:  feedRepo,
		queues:    queues,
	}
}

// Execute fills missing feed images and the canonical URL from the feed's
// home page. Values already stored are kept. Fetch and extraction failures
// are logged only.
func (t *OGTask) Execute(ctx context.Context) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	if err := t.queues.MarkStarted(ctx, queue.OGQueue, t.FeedID); err != nil {
		slog.Warn("Failed to clear in-flight marker", "queue", queue.OGQueue, "feed", t.FeedID, "error", err)
	}

	f, err := t.feedRepo.GetFeed(ctx, t.FeedID)
	if err != nil {
		return fmt.Errorf("failed to load feed: %w", err)
	}
	if f == nil || f.IsAlias() {
		slog.Debug("Feed not found or alias, skipping", "feed", t.FeedID)
		return nil
	}

	siteURL := cmp.Or(f.URL, f.CanonicalURL)
	if siteURL == "" {
		slog.Debug("Feed has no site URL, skipping", "feed", t.FeedID)
		return nil
	}

	resp, err := t.fetcher.Get(ctx, siteURL)
	if err != nil {
		slog.Warn("Failed to fetch feed site", "feed", t.FeedID, "url", siteURL, "error", err)
		return nil
	}

	found, err := t.extractor.Run(resp.Body, resp.URI)
	if err != nil {
		slog.Warn("Failed to extract page metadata", "feed", t.FeedID, "url", resp.URI, "error", err)
		return nil
	}

	images, canonical, changed := feed.MergeMetadata(f.Images, f.CanonicalURL, found)
	if changed {
		if err := t.feedRepo.UpdateFeedImages(ctx, f.ID, images, canonical); err != nil {
			return fmt.Errorf("failed to update feed images: %w", err)
		}
	}

	slog.Info("Task completed",
		"type", t.GetType(),
		"feed", t.FeedID,
		"duration", t.GetDuration(),
		"changed", changed)

	return nil
}
