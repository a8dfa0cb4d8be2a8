package feed

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/lysyi3m/rss-ingest/app/database"
	"github.com/lysyi3m/rss-ingest/app/fetcher"
)

var ErrNotFeed = errors.New("document is not a feed")

const podcastSampleSize = 10

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Run(resp *fetcher.Response) (*Content, error) {
	return p.Parse(resp.Body, resp.ContentType(), resp.Charset(), resp.URI)
}

// Parse decodes an RSS, Atom, RDF or JSON Feed document fetched from
// feedURL. The host of feedURL selects host-specific patches.
func (p *Parser) Parse(data []byte, contentType, charset, feedURL string) (*Content, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrNotFeed)
	}

	raw, err := selectSource(contentType, data).Parse(data, charset)
	if err != nil {
		return nil, err
	}

	applyPatches(hostname(feedURL), raw.Items)

	items := make([]Item, 0, len(raw.Items))
	for _, rawItem := range raw.Items {
		item, ok := normalizeItem(rawItem)
		if !ok {
			continue
		}
		item.Fingerprint = ItemFingerprint(item.Title, item.Summary, item.Content, item.Attachments)
		items = append(items, item)
	}

	content := &Content{
		Items:         items,
		URL:           clean(raw.Link),
		FeedURL:       feedURL,
		Title:         cleanTitle(raw.Title),
		Description:   clean(stripTags(raw.Description)),
		Icon:          clean(raw.Icon),
		Favicon:       clean(raw.Favicon),
		Type:          feedType(items),
		DatePublished: parseDate(raw.PublishedParsed, raw.Published),
		DateModified:  parseDate(raw.UpdatedParsed, raw.Updated),
	}

	if content.Title == "" && content.Description == "" && len(items) <= 1 {
		return nil, ErrNotFeed
	}

	content.Language = detectLanguage(items, raw.Language)

	content.Fingerprint, err = FeedFingerprint(items)
	if err != nil {
		return nil, fmt.Errorf("failed to compute feed fingerprint: %w", err)
	}

	slog.Debug("Feed parsed",
		"url", feedURL,
		"items", len(items),
		"skipped", len(raw.Items)-len(items),
		"type", content.Type,
		"language", content.Language)

	return content, nil
}

// feedType reports a podcast when every sampled item leads with audio.
func feedType(items []Item) string {
	if len(items) == 0 {
		return database.FeedTypeRSS
	}

	for i, item := range items {
		if i == podcastSampleSize {
			break
		}
		if len(item.Attachments) == 0 || !isAudio(item.Attachments[0].MimeType) {
			return database.FeedTypeRSS
		}
	}

	return database.FeedTypePodcast
}

func hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
