package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/lysyi3m/rss-ingest/app/database"
	"github.com/lysyi3m/rss-ingest/app/feed"
	"github.com/lysyi3m/rss-ingest/app/queue"
)

const DefaultFulltextWindow = 24 * time.Hour

// Hosts whose pages never yield a readable article body.
var fulltextDeniedHosts = map[string]bool{
	"youtube.com":          true,
	"www.youtube.com":      true,
	"twitter.com":          true,
	"x.com":                true,
	"news.ycombinator.com": true,
}

type FulltextTask struct {
	Task
	fetcher          feed.Fetcher
	contentExtractor *feed.ContentExtractor
	feedRepo         database.FeedRepository
	articleRepo      database.ArticleRepository
	queues           JobQueues
	window           time.Duration
	now              func() time.Time
}

func NewFulltextTask(feedID string, httpFetcher feed.Fetcher, contentExtractor *feed.ContentExtractor,
	feedRepo database.FeedRepository, articleRepo database.ArticleRepository, queues JobQueues, window time.Duration) *FulltextTask {
	if window <= 0 {
		window = DefaultFulltextWindow
	}
	return &FulltextTask{
		Task:             NewTask(TaskTypeFulltext, feedID),
		fetcher:          httpFetcher,
		contentExtractor: contentExtractor,
		feedRepo:         feedRepo,
		articleRepo:      articleRepo,
		queues:           queues,
		window:           window,
		now:              time.Now,
	}
}

// Execute stores readable bodies for recent articles of a full-text feed.
// Per-article failures are logged and skipped.
func (t *FulltextTask) Execute(ctx context.Context) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	if err := t.queues.MarkStarted(ctx, queue.FulltextQueue, t.FeedID); err != nil {
		slog.Warn("Failed to clear in-flight marker", "queue", queue.FulltextQueue, "feed", t.FeedID, "error", err)
	}

	f, err := t.feedRepo.GetFeed(ctx, t.FeedID)
	if err != nil {
		return fmt.Errorf("failed to load feed: %w", err)
	}
	if f == nil || f.IsAlias() || !f.FulltextEnabled {
		slog.Debug("Full-text extraction not enabled for feed", "feed", t.FeedID)
		return nil
	}

	articles, err := t.articleRepo.GetArticlesWithoutContent(ctx, f.ID, t.now().Add(-t.window))
	if err != nil {
		return fmt.Errorf("failed to get articles for extraction: %w", err)
	}

	if len(articles) == 0 {
		slog.Debug("No articles need full-text extraction", "feed", t.FeedID)
		return nil
	}

	successCount := 0
	errorCount := 0
	skipCount := 0

	for _, article := range articles {
		if err := checkContext(ctx); err != nil {
			return err
		}

		if !fulltextAllowed(article.URL) {
			skipCount++
			continue
		}

		if err := t.extractArticle(ctx, article); err != nil {
			slog.Warn("Failed to extract article content", "feed", t.FeedID, "article", article.ID, "url", article.URL, "error", err)
			errorCount++
			continue
		}
		successCount++
	}

	slog.Info("Task completed",
		"type", t.GetType(),
		"feed", t.FeedID,
		"duration", t.GetDuration(),
		"success", successCount,
		"errors", errorCount,
		"skipped", skipCount)

	return nil
}

func (t *FulltextTask) extractArticle(ctx context.Context, article database.ArticleRef) error {
	resp, err := t.fetcher.Get(ctx, article.URL)
	if err != nil {
		return fmt.Errorf("failed to fetch article: %w", err)
	}

	if ct := resp.ContentType(); ct != "" && !strings.Contains(ct, "html") {
		return fmt.Errorf("content type is not HTML: %s", ct)
	}

	content, err := t.contentExtractor.Run(resp.Body, resp.URI)
	if err != nil {
		return fmt.Errorf("failed to extract content: %w", err)
	}

	if err := t.articleRepo.SaveArticleContent(ctx, article.URL, article.ID, content); err != nil {
		return fmt.Errorf("failed to save content: %w", err)
	}

	slog.Debug("Article content extracted", "article", article.ID, "url", article.URL, "content_length", len(content))
	return nil
}

func fulltextAllowed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	return !fulltextDeniedHosts[strings.ToLower(u.Hostname())]
}
