package database

import (
	"context"
	"time"
)

type FeedRepository interface {
	GetFeed(ctx context.Context, id string) (*Feed, error)
	GetFeedByURL(ctx context.Context, url string) (*Feed, error)
	GetScheduleCandidates(ctx context.Context) ([]ScheduleCandidate, error)
	GetStats(ctx context.Context) (*Stats, error)

	UpsertFeed(ctx context.Context, feedURL string, scrapeInterval int, fulltextEnabled bool) (string, error)
	UpdateFeedContent(ctx context.Context, id string, update FeedContentUpdate) error
	UpdateFeedImages(ctx context.Context, id string, images Images, canonicalURL string) error
	RecordScrapeSuccess(ctx context.Context, id string, scrapedAt time.Time) error
	RecordScrapeFailure(ctx context.Context, id string, scrapedAt time.Time, invalidate bool) error
	MarkDuplicate(ctx context.Context, id string, duplicateOfID string) error
	AddFeedURL(ctx context.Context, id string, url string) error
}

type ArticleRepository interface {
	GetExistingFingerprints(ctx context.Context, feedID string, fingerprints []string) (map[string]bool, error)
	GetByGUIDHashes(ctx context.Context, feedID string, guidHashes []string) (map[string]ArticleRef, error)
	InsertArticles(ctx context.Context, articles []Article) (int, error)
	UpdateArticle(ctx context.Context, article Article) error

	GetArticlesWithoutContent(ctx context.Context, feedID string, since time.Time) ([]ArticleRef, error)
	SaveArticleContent(ctx context.Context, url string, articleID string, content string) error
}
