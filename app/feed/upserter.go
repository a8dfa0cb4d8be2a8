package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/rss-ingest/app/database"
)

const insertBatchSize = 50

// Upserter reconciles parsed items against stored articles.
type Upserter struct {
	articleRepo database.ArticleRepository
	now         func() time.Time
}

func NewUpserter(articleRepo database.ArticleRepository) *Upserter {
	return &Upserter{
		articleRepo: articleRepo,
		now:         time.Now,
	}
}

// Run stores new and changed items and returns how many rows were written.
//
// Items whose fingerprint is already stored are dropped. The rest are matched
// by guid hash: a match is updated in place, anything else is inserted. New
// articles get created_at = base + (n-1-i) ms so the first item in the feed
// sorts as the most recent. Inserts go out in batches; a failing batch is
// logged and skipped so one bad row cannot block the rest.
func (u *Upserter) Run(ctx context.Context, feedID string, items []Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	fingerprints := make([]string, 0, len(items))
	for _, item := range items {
		fingerprints = append(fingerprints, item.Fingerprint)
	}

	existing, err := u.articleRepo.GetExistingFingerprints(ctx, feedID, fingerprints)
	if err != nil {
		return 0, fmt.Errorf("failed to load existing fingerprints: %w", err)
	}

	type candidate struct {
		index int
		item  Item
		hash  string
	}

	var candidates []candidate
	guidHashes := make([]string, 0, len(items))
	for i, item := range items {
		if existing[item.Fingerprint] {
			continue
		}
		hash := hashString(item.GUID)
		candidates = append(candidates, candidate{index: i, item: item, hash: hash})
		guidHashes = append(guidHashes, hash)
	}

	if len(candidates) == 0 {
		return 0, nil
	}

	matches, err := u.articleRepo.GetByGUIDHashes(ctx, feedID, guidHashes)
	if err != nil {
		return 0, fmt.Errorf("failed to load articles by guid: %w", err)
	}

	base := u.now()
	var inserts, updates []database.Article
	skipped := 0

	for _, c := range candidates {
		article := toArticle(feedID, c.item, c.hash)

		if ref, ok := matches[c.hash]; ok {
			if ref.Fingerprint == c.item.Fingerprint {
				skipped++
				continue
			}
			article.ID = ref.ID
			updates = append(updates, article)
			continue
		}

		article.CreatedAt = base.Add(time.Duration(len(items)-1-c.index) * time.Millisecond)
		inserts = append(inserts, article)
	}

	changed := 0

	for start, batch := 0, 0; start < len(inserts); start, batch = start+insertBatchSize, batch+1 {
		end := min(start+insertBatchSize, len(inserts))
		chunk := inserts[start:end]

		n, err := u.articleRepo.InsertArticles(ctx, chunk)
		if err != nil {
			slog.Error("Failed to insert article batch", "feed", feedID, "batch", batch, "size", len(chunk), "error", err)
			continue
		}
		changed += n
	}

	for _, article := range updates {
		if err := u.articleRepo.UpdateArticle(ctx, article); err != nil {
			return changed, fmt.Errorf("failed to update article %s: %w", article.ID, err)
		}
		changed++
	}

	slog.Debug("Articles upserted",
		"feed", feedID,
		"items", len(items),
		"unchanged", len(items)-len(candidates)+skipped,
		"inserted", len(inserts),
		"updated", len(updates),
		"changed", changed)

	return changed, nil
}

func toArticle(feedID string, item Item, guidHash string) database.Article {
	return database.Article{
		FeedID:        feedID,
		GUID:          item.GUID,
		GUIDHash:      guidHash,
		URL:           item.Link,
		Title:         item.Title,
		Description:   item.Summary,
		Content:       item.Content,
		Attachments:   item.Attachments,
		Author:        item.Author,
		Images:        database.ArticleImages{Preview: item.Image},
		Fingerprint:   item.Fingerprint,
		DatePublished: item.DatePublished,
		DateModified:  item.DateModified,
	}
}
