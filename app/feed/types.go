package feed

import (
	"time"

	"github.com/lysyi3m/rss-ingest/app/database"
)

// Feed processing types

type Content struct {
	Items         []Item
	Fingerprint   string
	URL           string // site URL from the feed's <link>
	FeedURL       string // URL the document was finally fetched from
	Title         string
	Description   string
	Icon          string
	Favicon       string
	Language      string
	Type          string
	DatePublished *time.Time
	DateModified  *time.Time
}

type Item struct {
	GUID          string
	Link          string
	Title         string
	Summary       string // plain text, at most summaryLength runes
	Content       string
	Author        string
	Image         string
	Attachments   []database.Attachment
	DatePublished *time.Time
	DateModified  *time.Time
	Fingerprint   string
}

// Configuration types

type Config struct {
	Name     string         // Derived from filename (without .yml extension)
	URL      string         `yaml:"url"`
	Settings ConfigSettings `yaml:"settings"`
}

type ConfigSettings struct {
	ScrapeInterval int  `yaml:"scrape_interval"` // minutes, 0 uses the tier default
	Fulltext       bool `yaml:"fulltext"`        // enable full-text extraction
}
