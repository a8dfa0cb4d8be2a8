package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/rss-ingest/app/database"
	"github.com/lysyi3m/rss-ingest/app/feed"
	"github.com/lysyi3m/rss-ingest/app/fetcher"
	"github.com/lysyi3m/rss-ingest/app/queue"
)

var errNoFeed = errors.New("no feed found at URL")

func NewHandler(db Pinger, feedRepo database.FeedRepository, httpFetcher feed.Fetcher,
	parser ParserInterface, queues QueueRegistry, conductor CycleRunner, version string) *Handler {
	return &Handler{
		db:        db,
		feedRepo:  feedRepo,
		fetcher:   httpFetcher,
		parser:    parser,
		queues:    queues,
		conductor: conductor,
		version:   version,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	ctx := c.Request.Context()
	status := http.StatusOK
	checks := gin.H{}

	if err := h.db.PingContext(ctx); err != nil {
		slog.Error("Health check failed", "component", "database", "error", err)
		checks["database"] = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if err := h.queues.Ping(ctx); err != nil {
		slog.Error("Health check failed", "component", "redis", "error", err)
		checks["redis"] = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		checks["redis"] = "ok"
	}

	c.JSON(status, gin.H{
		"timestamp": time.Now().Format(time.RFC3339),
		"version":   h.version,
		"checks":    checks,
	})
}

func (h *Handler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()

	stats, err := h.feedRepo.GetStats(ctx)
	if err != nil {
		slog.Error("Database error", "operation", "get_stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	queues, err := h.queues.Stats(ctx)
	if err != nil {
		slog.Error("Queue error", "operation", "get_stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Queue error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"feeds": gin.H{
			"total":   stats.Feeds,
			"active":  stats.ActiveFeeds,
			"invalid": stats.InvalidFeeds,
		},
		"articles": gin.H{
			"total":          stats.Articles,
			"stored_content": stats.StoredContent,
		},
		"queues": queues,
	})
}

// RegisterFeed adds a feed by URL. A web page URL is resolved to the feed it
// advertises. The new feed is queued for an immediate scrape.
func (h *Handler) RegisterFeed(c *gin.Context) {
	var req RegisterFeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	if !validFeedURL(req.URL) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "URL must be absolute http(s)"})
		return
	}

	ctx := c.Request.Context()

	existing, err := h.feedRepo.GetFeedByURL(ctx, req.URL)
	if err != nil {
		slog.Error("Database error", "operation", "get_feed_by_url", "url", req.URL, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if existing != nil {
		c.JSON(http.StatusOK, gin.H{"id": existing.ID, "feed_url": existing.FeedURL, "created": false})
		return
	}

	feedURL, err := h.resolveFeedURL(ctx, req.URL)
	if err != nil {
		slog.Warn("Feed registration rejected", "url", req.URL, "error", err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "No feed found", "details": err.Error()})
		return
	}

	if feedURL != req.URL {
		existing, err := h.feedRepo.GetFeedByURL(ctx, feedURL)
		if err != nil {
			slog.Error("Database error", "operation", "get_feed_by_url", "url", feedURL, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
			return
		}
		if existing != nil {
			c.JSON(http.StatusOK, gin.H{"id": existing.ID, "feed_url": existing.FeedURL, "created": false})
			return
		}
	}

	id, err := h.feedRepo.UpsertFeed(ctx, feedURL, req.ScrapeInterval, req.Fulltext)
	if err != nil {
		slog.Error("Database error", "operation", "upsert_feed", "url", feedURL, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	enqueued, err := h.queues.EnqueueUnique(ctx, queue.FeedQueue, id)
	if err != nil {
		slog.Error("Error enqueueing feed", "feed", id, "error", err)
	}

	slog.Info("Feed registered", "feed", id, "url", feedURL, "discovered", feedURL != req.URL)

	c.JSON(http.StatusCreated, gin.H{
		"id":       id,
		"feed_url": feedURL,
		"created":  true,
		"enqueued": enqueued,
	})
}

// resolveFeedURL returns rawURL when it serves a feed, otherwise the feed URL
// discovered in the page. The discovered URL must parse as a feed too.
func (h *Handler) resolveFeedURL(ctx context.Context, rawURL string) (string, error) {
	resp, err := h.fetcher.Get(ctx, rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}

	if _, err := h.parser.Run(resp); err == nil {
		return rawURL, nil
	} else if !errors.Is(err, feed.ErrNotFeed) {
		return "", fmt.Errorf("failed to parse %s: %w", rawURL, err)
	}

	discovered := feed.DiscoverFromResponse(resp)
	if discovered == "" || discovered == rawURL {
		return "", errNoFeed
	}

	resp, err = h.fetcher.Get(ctx, discovered)
	if err != nil {
		return "", fmt.Errorf("failed to fetch discovered feed %s: %w", discovered, err)
	}
	if _, err := h.parser.Run(resp); err != nil {
		return "", fmt.Errorf("failed to parse discovered feed %s: %w", discovered, err)
	}

	return discovered, nil
}

func (h *Handler) RefreshFeed(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	f, err := h.feedRepo.GetFeed(ctx, id)
	if err != nil {
		slog.Error("Database error", "operation", "get_feed", "feed", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if f == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
		return
	}

	target := f.ID
	if f.IsAlias() {
		target = f.DuplicateOfID
	}

	enqueued, err := h.queues.EnqueueUnique(ctx, queue.FeedQueue, target)
	if err != nil {
		slog.Error("Error enqueueing feed", "feed", target, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue feed", "details": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"id": target, "enqueued": enqueued})
}

func (h *Handler) RunConductor(c *gin.Context) {
	enqueued, err := h.conductor.RunCycle(c.Request.Context())
	if err != nil {
		slog.Error("Conductor cycle failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Conductor cycle failed", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"enqueued": enqueued})
}

func validFeedURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

var _ feed.Fetcher = (*fetcher.Fetcher)(nil)
