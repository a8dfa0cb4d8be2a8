package database

import (
	"time"
)

const (
	FeedTypeRSS     = "rss"
	FeedTypePodcast = "podcast"
)

type Images struct {
	Icon    string `json:"icon,omitempty"`
	Favicon string `json:"favicon,omitempty"`
	OG      string `json:"og,omitempty"`
}

type Feed struct {
	ID                        string // Database UUID
	FeedURL                   string // Primary fetch URL, aliases live in feed_urls
	URL                       string // Site URL from the feed's <link>
	Title                     string
	Description               string
	Language                  string
	Type                      string
	Images                    Images
	CanonicalURL              string
	DatePublished             *time.Time
	DateModified              *time.Time
	Fingerprint               string
	LastScraped               *time.Time
	ScrapeInterval            int // minutes, 0 means tier default
	ConsecutiveScrapeFailures int
	Valid                     bool
	DuplicateOfID             string
	FulltextEnabled           bool
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

func (f *Feed) IsAlias() bool {
	return f.DuplicateOfID != ""
}

// ScheduleCandidate carries only what interval tiering needs.
type ScheduleCandidate struct {
	ID                        string
	LastScraped               *time.Time
	ScrapeInterval            int
	Valid                     bool
	ConsecutiveScrapeFailures int
}

type FeedContentUpdate struct {
	URL           string
	Title         string
	Description   string
	Language      string
	Type          string
	Fingerprint   string
	DatePublished *time.Time
	DateModified  *time.Time
	ScrapedAt     time.Time
}

type Attachment struct {
	URL               string `json:"url"`
	MimeType          string `json:"mimeType,omitempty"`
	SizeInBytes       int64  `json:"sizeInBytes,omitempty"`
	DurationInSeconds int    `json:"durationInSeconds,omitempty"`
}

type ArticleImages struct {
	Preview string `json:"preview,omitempty"`
}

type Article struct {
	ID            string
	FeedID        string
	GUID          string
	GUIDHash      string
	URL           string
	Title         string
	Description   string
	Content       string
	Attachments   []Attachment
	Author        string
	Images        ArticleImages
	Fingerprint   string
	DatePublished *time.Time
	DateModified  *time.Time
	CreatedAt     time.Time
}

// ArticleRef identifies a stored article without loading its body.
type ArticleRef struct {
	ID          string
	URL         string
	Fingerprint string
}

type Stats struct {
	Feeds         int
	ActiveFeeds   int
	InvalidFeeds  int
	Articles      int
	StoredContent int
}
