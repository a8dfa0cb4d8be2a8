package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/rss-ingest/app/database"
	"github.com/lysyi3m/rss-ingest/app/feed"
	"github.com/lysyi3m/rss-ingest/app/fetcher"
	"github.com/lysyi3m/rss-ingest/app/queue"
)

type ProcessFeedTask struct {
	Task
	fetcher  feed.Fetcher
	parser   *feed.Parser
	upserter *feed.Upserter
	feedRepo database.FeedRepository
	queues   JobQueues
	now      func() time.Time
}

func NewProcessFeedTask(feedID string, httpFetcher feed.Fetcher, parser *feed.Parser, upserter *feed.Upserter,
	feedRepo database.FeedRepository, queues JobQueues) *ProcessFeedTask {
	return &ProcessFeedTask{
		Task:     NewTask(TaskTypeProcessFeed, feedID),
		fetcher:  httpFetcher,
		parser:   parser,
		upserter: upserter,
		feedRepo: feedRepo,
		queues:   queues,
		now:      time.Now,
	}
}

// Execute fetches, parses and stores one feed. Fetch and parse failures are
// recorded on the feed and do not fail the job; storage errors do, so the
// queue retries them.
func (t *ProcessFeedTask) Execute(ctx context.Context) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	if err := t.queues.MarkStarted(ctx, queue.FeedQueue, t.FeedID); err != nil {
		slog.Warn("Failed to clear in-flight marker", "feed", t.FeedID, "error", err)
	}

	f, err := t.feedRepo.GetFeed(ctx, t.FeedID)
	if err != nil {
		return fmt.Errorf("failed to load feed: %w", err)
	}
	if f == nil {
		slog.Debug("Feed not found, skipping", "feed", t.FeedID)
		return nil
	}
	if f.IsAlias() {
		slog.Debug("Feed is an alias, skipping", "feed", t.FeedID, "duplicate_of", f.DuplicateOfID)
		return nil
	}

	resp, err := t.fetcher.Get(ctx, f.FeedURL)
	if err != nil {
		return t.recordFailure(ctx, f, fmt.Errorf("failed to fetch feed: %w", err))
	}

	content, err := t.parser.Run(resp)
	if err != nil {
		return t.recordFailure(ctx, f, fmt.Errorf("failed to parse feed: %w", err))
	}

	merged, err := t.reconcileURL(ctx, f, resp.URI)
	if err != nil {
		return err
	}
	if merged {
		return nil
	}

	if err := t.storeFeedImages(ctx, f, content); err != nil {
		return err
	}

	scrapedAt := t.now()

	if len(content.Items) == 0 || content.Fingerprint == f.Fingerprint {
		if err := t.feedRepo.RecordScrapeSuccess(ctx, f.ID, scrapedAt); err != nil {
			return fmt.Errorf("failed to record scrape: %w", err)
		}
		slog.Info("Task completed",
			"type", t.GetType(),
			"feed", t.FeedID,
			"duration", t.GetDuration(),
			"total", len(content.Items),
			"unchanged", true)
		return nil
	}

	changed, err := t.upserter.Run(ctx, f.ID, content.Items)
	if err != nil {
		return fmt.Errorf("failed to store articles: %w", err)
	}

	err = t.feedRepo.UpdateFeedContent(ctx, f.ID, database.FeedContentUpdate{
		URL:           content.URL,
		Title:         content.Title,
		Description:   content.Description,
		Language:      content.Language,
		Type:          content.Type,
		Fingerprint:   content.Fingerprint,
		DatePublished: content.DatePublished,
		DateModified:  content.DateModified,
		ScrapedAt:     scrapedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to update feed: %w", err)
	}

	if changed > 0 {
		t.enqueueFollowUp(ctx, queue.OGQueue)
		if f.FulltextEnabled {
			t.enqueueFollowUp(ctx, queue.FulltextQueue)
		}
	}

	slog.Info("Task completed",
		"type", t.GetType(),
		"feed", t.FeedID,
		"duration", t.GetDuration(),
		"total", len(content.Items),
		"changed", changed,
		"feed_type", content.Type)

	return nil
}

// recordFailure counts a failed scrape. Client errors and documents that are
// not feeds mark the feed invalid; everything else is treated as transient.
func (t *ProcessFeedTask) recordFailure(ctx context.Context, f *database.Feed, cause error) error {
	permanent := errors.Is(cause, feed.ErrNotFeed)
	var statusErr *fetcher.StatusError
	if errors.As(cause, &statusErr) {
		permanent = statusErr.Permanent()
	}

	if err := t.feedRepo.RecordScrapeFailure(ctx, f.ID, t.now(), permanent); err != nil {
		return fmt.Errorf("failed to record scrape failure: %w", err)
	}

	slog.Warn("Task failed",
		"type", t.GetType(),
		"feed", t.FeedID,
		"url", f.FeedURL,
		"failures", f.ConsecutiveScrapeFailures+1,
		"invalidated", permanent,
		"error", cause)

	return nil
}

// reconcileURL handles a feed whose fetch ended on a different URL. When
// another feed already owns that URL this feed becomes its alias and
// reconcileURL reports true. Otherwise the URL is remembered as an alias URL
// of this feed.
func (t *ProcessFeedTask) reconcileURL(ctx context.Context, f *database.Feed, resolvedURL string) (bool, error) {
	if resolvedURL == "" || resolvedURL == f.FeedURL {
		return false, nil
	}

	owner, err := t.feedRepo.GetFeedByURL(ctx, resolvedURL)
	if err != nil {
		return false, fmt.Errorf("failed to look up resolved URL: %w", err)
	}

	if owner != nil && owner.ID != f.ID {
		if err := t.feedRepo.MarkDuplicate(ctx, f.ID, owner.ID); err != nil {
			return false, fmt.Errorf("failed to mark feed duplicate: %w", err)
		}
		slog.Info("Feed merged into existing feed", "feed", f.ID, "duplicate_of", owner.ID, "url", resolvedURL)
		return true, nil
	}

	if owner == nil {
		if err := t.feedRepo.AddFeedURL(ctx, f.ID, resolvedURL); err != nil {
			return false, fmt.Errorf("failed to record resolved URL: %w", err)
		}
	}

	return false, nil
}

// storeFeedImages fills empty image slots from icons the feed declares.
func (t *ProcessFeedTask) storeFeedImages(ctx context.Context, f *database.Feed, content *feed.Content) error {
	images, canonical, changed := feed.MergeMetadata(f.Images, f.CanonicalURL, &feed.PageMetadata{
		Icon:    content.Icon,
		Favicon: content.Favicon,
	})
	if !changed {
		return nil
	}

	if err := t.feedRepo.UpdateFeedImages(ctx, f.ID, images, canonical); err != nil {
		return fmt.Errorf("failed to update feed images: %w", err)
	}
	f.Images = images
	return nil
}

func (t *ProcessFeedTask) enqueueFollowUp(ctx context.Context, name string) {
	added, err := t.queues.EnqueueUnique(ctx, name, t.FeedID)
	if err != nil {
		slog.Warn("Failed to enqueue follow-up job", "queue", name, "feed", t.FeedID, "error", err)
		return
	}
	if added {
		slog.Debug("Follow-up job enqueued", "queue", name, "feed", t.FeedID)
	}
}
