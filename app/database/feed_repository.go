package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ FeedRepository = (*FeedStore)(nil)

// FeedStore is the SQLite implementation of FeedRepository.
type FeedStore struct {
	db *DB
}

func NewFeedStore(db *DB) *FeedStore {
	return &FeedStore{db: db}
}

const feedColumns = `
	id, feed_url, url, title, description, language, type, images, canonical_url,
	date_published, date_modified, fingerprint, last_scraped, scrape_interval,
	consecutive_scrape_failures, valid, duplicate_of_id, fulltext_enabled,
	created_at, updated_at`

func scanFeed(row rowScanner) (*Feed, error) {
	var (
		feed           Feed
		images         string
		datePublished  sql.NullInt64
		dateModified   sql.NullInt64
		lastScraped    sql.NullInt64
		scrapeInterval sql.NullInt64
		duplicateOfID  sql.NullString
		createdAt      int64
		updatedAt      int64
	)

	err := row.Scan(
		&feed.ID, &feed.FeedURL, &feed.URL, &feed.Title, &feed.Description, &feed.Language,
		&feed.Type, &images, &feed.CanonicalURL, &datePublished, &dateModified,
		&feed.Fingerprint, &lastScraped, &scrapeInterval, &feed.ConsecutiveScrapeFailures,
		&feed.Valid, &duplicateOfID, &feed.FulltextEnabled, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if images != "" {
		if err := json.Unmarshal([]byte(images), &feed.Images); err != nil {
			return nil, fmt.Errorf("failed to decode feed images: %w", err)
		}
	}

	feed.DatePublished = fromNullMillis(datePublished)
	feed.DateModified = fromNullMillis(dateModified)
	feed.LastScraped = fromNullMillis(lastScraped)
	feed.ScrapeInterval = int(scrapeInterval.Int64)
	feed.DuplicateOfID = duplicateOfID.String
	feed.CreatedAt = fromMillis(createdAt)
	feed.UpdatedAt = fromMillis(updatedAt)

	return &feed, nil
}

func (r *FeedStore) GetFeed(ctx context.Context, id string) (*Feed, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+feedColumns+` FROM feeds WHERE id = ?`, id)

	feed, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed: %w", err)
	}

	return feed, nil
}

// GetFeedByURL resolves a URL to the active feed that owns it, following
// duplicate links. Both the primary feed_url and registered aliases match.
func (r *FeedStore) GetFeedByURL(ctx context.Context, url string) (*Feed, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		SELECT id FROM feeds WHERE feed_url = ?
		UNION ALL
		SELECT feed_id FROM feed_urls WHERE url = ?
		LIMIT 1
	`, url, url).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed by URL: %w", err)
	}

	seen := make(map[string]bool)
	for {
		feed, err := r.GetFeed(ctx, id)
		if err != nil || feed == nil {
			return feed, err
		}
		if !feed.IsAlias() || seen[feed.ID] {
			return feed, nil
		}
		seen[feed.ID] = true
		id = feed.DuplicateOfID
	}
}

func (r *FeedStore) GetScheduleCandidates(ctx context.Context) ([]ScheduleCandidate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, last_scraped, scrape_interval, valid, consecutive_scrape_failures
		FROM feeds
		WHERE duplicate_of_id IS NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule candidates: %w", err)
	}
	defer rows.Close()

	var candidates []ScheduleCandidate
	for rows.Next() {
		var (
			c              ScheduleCandidate
			lastScraped    sql.NullInt64
			scrapeInterval sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &lastScraped, &scrapeInterval, &c.Valid, &c.ConsecutiveScrapeFailures); err != nil {
			return nil, fmt.Errorf("failed to scan schedule candidate: %w", err)
		}
		c.LastScraped = fromNullMillis(lastScraped)
		c.ScrapeInterval = int(scrapeInterval.Int64)
		candidates = append(candidates, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedule candidates: %w", err)
	}

	return candidates, nil
}

func (r *FeedStore) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	err := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM feeds),
			(SELECT COUNT(*) FROM feeds WHERE duplicate_of_id IS NULL),
			(SELECT COUNT(*) FROM feeds WHERE duplicate_of_id IS NULL AND valid = 0),
			(SELECT COUNT(*) FROM articles),
			(SELECT COUNT(*) FROM article_contents)
	`).Scan(&stats.Feeds, &stats.ActiveFeeds, &stats.InvalidFeeds, &stats.Articles, &stats.StoredContent)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &stats, nil
}

// UpsertFeed registers feedURL or refreshes the settings of the feed that
// already owns it (directly or through an alias) and returns its id.
func (r *FeedStore) UpsertFeed(ctx context.Context, feedURL string, scrapeInterval int, fulltextEnabled bool) (string, error) {
	existing, err := r.GetFeedByURL(ctx, feedURL)
	if err != nil {
		return "", fmt.Errorf("failed to check existing feed: %w", err)
	}

	now := millis(time.Now())

	if existing != nil {
		_, err = r.db.ExecContext(ctx, `
			UPDATE feeds
			SET scrape_interval = ?, fulltext_enabled = ?, updated_at = ?
			WHERE id = ?
		`, nullInt(scrapeInterval), boolInt(fulltextEnabled), now, existing.ID)
		if err != nil {
			return "", fmt.Errorf("failed to update feed: %w", err)
		}
		return existing.ID, nil
	}

	id := uuid.NewString()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO feeds (id, feed_url, scrape_interval, fulltext_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, feedURL, nullInt(scrapeInterval), boolInt(fulltextEnabled), now, now)
	if err != nil {
		return "", fmt.Errorf("failed to insert feed: %w", err)
	}

	return id, nil
}

// UpdateFeedContent stores a successful scrape: metadata is replaced, the
// failure counter is reset and the feed is marked valid.
func (r *FeedStore) UpdateFeedContent(ctx context.Context, id string, u FeedContentUpdate) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE feeds
		SET url = ?, title = ?, description = ?, language = ?, type = ?, fingerprint = ?,
		    date_published = ?, date_modified = ?, last_scraped = ?,
		    consecutive_scrape_failures = 0, valid = 1, updated_at = ?
		WHERE id = ?
	`, u.URL, u.Title, u.Description, u.Language, u.Type, u.Fingerprint,
		nullMillis(u.DatePublished), nullMillis(u.DateModified), millis(u.ScrapedAt),
		millis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update feed content: %w", err)
	}
	return nil
}

func (r *FeedStore) UpdateFeedImages(ctx context.Context, id string, images Images, canonicalURL string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE feeds
		SET images = ?, canonical_url = ?, updated_at = ?
		WHERE id = ?
	`, marshalJSON(images, "{}"), canonicalURL, millis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update feed images: %w", err)
	}
	return nil
}

// RecordScrapeSuccess stores a successful scrape that brought no new
// content. Like UpdateFeedContent it resets the failure counter and marks
// the feed valid, but leaves the feed metadata untouched.
func (r *FeedStore) RecordScrapeSuccess(ctx context.Context, id string, scrapedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE feeds
		SET last_scraped = ?, consecutive_scrape_failures = 0, valid = 1, updated_at = ?
		WHERE id = ?
	`, millis(scrapedAt), millis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to record scrape success: %w", err)
	}
	return nil
}

// RecordScrapeFailure bumps the failure counter. The valid flag is only
// cleared when invalidate is set; a transient failure leaves it untouched.
func (r *FeedStore) RecordScrapeFailure(ctx context.Context, id string, scrapedAt time.Time, invalidate bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE feeds
		SET consecutive_scrape_failures = consecutive_scrape_failures + 1,
		    last_scraped = ?,
		    valid = CASE WHEN ? THEN 0 ELSE valid END,
		    updated_at = ?
		WHERE id = ?
	`, millis(scrapedAt), boolInt(invalidate), millis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to record scrape failure: %w", err)
	}
	return nil
}

// MarkDuplicate turns id into an alias of duplicateOfID and moves its URLs
// over so later lookups land on the surviving feed.
func (r *FeedStore) MarkDuplicate(ctx context.Context, id string, duplicateOfID string) error {
	if id == duplicateOfID {
		return fmt.Errorf("feed %s cannot be a duplicate of itself", id)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE feeds SET duplicate_of_id = ?, updated_at = ? WHERE id = ?
	`, duplicateOfID, millis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to mark feed duplicate: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO feed_urls (url, feed_id)
		SELECT feed_url, ? FROM feeds WHERE id = ?
	`, duplicateOfID, id)
	if err != nil {
		return fmt.Errorf("failed to move feed URL: %w", err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE feed_urls SET feed_id = ? WHERE feed_id = ?`, duplicateOfID, id)
	if err != nil {
		return fmt.Errorf("failed to move feed aliases: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit duplicate marking: %w", err)
	}

	return nil
}

func (r *FeedStore) AddFeedURL(ctx context.Context, id string, url string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO feed_urls (url, feed_id)
		SELECT ?, ?
		WHERE NOT EXISTS (SELECT 1 FROM feeds WHERE feed_url = ?)
	`, url, id, url)
	if err != nil {
		return fmt.Errorf("failed to add feed URL: %w", err)
	}
	return nil
}
