package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var _ ArticleRepository = (*ArticleStore)(nil)

// ArticleStore is the SQLite implementation of ArticleRepository.
type ArticleStore struct {
	db *DB
}

func NewArticleStore(db *DB) *ArticleStore {
	return &ArticleStore{db: db}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func inArgs(first string, values []string) []any {
	args := make([]any, 0, len(values)+1)
	args = append(args, first)
	for _, v := range values {
		args = append(args, v)
	}
	return args
}

func (r *ArticleStore) GetExistingFingerprints(ctx context.Context, feedID string, fingerprints []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	if len(fingerprints) == 0 {
		return existing, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT fingerprint FROM articles WHERE feed_id = ? AND fingerprint IN (`+placeholders(len(fingerprints))+`)`,
		inArgs(feedID, fingerprints)...)
	if err != nil {
		return nil, fmt.Errorf("failed to get existing fingerprints: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var fingerprint string
		if err := rows.Scan(&fingerprint); err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		existing[fingerprint] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fingerprints: %w", err)
	}

	return existing, nil
}

// GetByGUIDHashes maps guid hash to the stored article. When several rows
// share a hash the most recently created one wins.
func (r *ArticleStore) GetByGUIDHashes(ctx context.Context, feedID string, guidHashes []string) (map[string]ArticleRef, error) {
	found := make(map[string]ArticleRef)
	if len(guidHashes) == 0 {
		return found, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT guid_hash, id, url, fingerprint FROM articles
		 WHERE feed_id = ? AND guid_hash IN (`+placeholders(len(guidHashes))+`)
		 ORDER BY created_at ASC`,
		inArgs(feedID, guidHashes)...)
	if err != nil {
		return nil, fmt.Errorf("failed to get articles by guid hash: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			hash string
			ref  ArticleRef
		)
		if err := rows.Scan(&hash, &ref.ID, &ref.URL, &ref.Fingerprint); err != nil {
			return nil, fmt.Errorf("failed to scan article ref: %w", err)
		}
		found[hash] = ref
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating article refs: %w", err)
	}

	return found, nil
}

// InsertArticles writes articles in one transaction, ignoring rows that
// collide on (feed_id, fingerprint). It returns the number of rows written.
func (r *ArticleStore) InsertArticles(ctx context.Context, articles []Article) (int, error) {
	if len(articles) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO articles (
			id, feed_id, guid, guid_hash, url, title, description, content,
			attachments, author, images, fingerprint, date_published, date_modified, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, a := range articles {
		id := a.ID
		if id == "" {
			id = uuid.NewString()
		}

		res, err := stmt.ExecContext(ctx,
			id, a.FeedID, a.GUID, a.GUIDHash, a.URL, a.Title, a.Description, a.Content,
			marshalJSON(a.Attachments, "[]"), a.Author, marshalJSON(a.Images, "{}"), a.Fingerprint,
			nullMillis(a.DatePublished), nullMillis(a.DateModified), millis(a.CreatedAt))
		if err != nil {
			return 0, fmt.Errorf("failed to insert article: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit articles: %w", err)
	}

	return inserted, nil
}

// UpdateArticle replaces the content fields of an existing article in place.
// created_at is kept so the article keeps its position.
func (r *ArticleStore) UpdateArticle(ctx context.Context, a Article) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE articles
		SET guid = ?, url = ?, title = ?, description = ?, content = ?, attachments = ?,
		    author = ?, images = ?, fingerprint = ?, date_published = ?, date_modified = ?
		WHERE id = ?
	`, a.GUID, a.URL, a.Title, a.Description, a.Content, marshalJSON(a.Attachments, "[]"),
		a.Author, marshalJSON(a.Images, "{}"), a.Fingerprint,
		nullMillis(a.DatePublished), nullMillis(a.DateModified), a.ID)
	if err != nil {
		return fmt.Errorf("failed to update article: %w", err)
	}
	return nil
}

func (r *ArticleStore) GetArticlesWithoutContent(ctx context.Context, feedID string, since time.Time) ([]ArticleRef, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT a.id, a.url, a.fingerprint
		FROM articles a
		WHERE a.feed_id = ?
		  AND a.created_at >= ?
		  AND a.url != ''
		  AND NOT EXISTS (SELECT 1 FROM article_contents c WHERE c.article_id = a.id)
		ORDER BY a.created_at DESC
	`, feedID, millis(since))
	if err != nil {
		return nil, fmt.Errorf("failed to get articles without content: %w", err)
	}
	defer rows.Close()

	var refs []ArticleRef
	for rows.Next() {
		var ref ArticleRef
		if err := rows.Scan(&ref.ID, &ref.URL, &ref.Fingerprint); err != nil {
			return nil, fmt.Errorf("failed to scan article ref: %w", err)
		}
		refs = append(refs, ref)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating article refs: %w", err)
	}

	return refs, nil
}

func (r *ArticleStore) SaveArticleContent(ctx context.Context, url string, articleID string, content string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO article_contents (url, article_id, content, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (url, article_id) DO UPDATE SET content = excluded.content
	`, url, articleID, content, millis(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save article content: %w", err)
	}
	return nil
}
