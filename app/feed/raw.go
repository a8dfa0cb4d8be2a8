package feed

import (
	"time"

	"github.com/lysyi3m/rss-ingest/app/database"
)

// rawFeed is the source-independent shape both the XML and JSON sources
// produce. Patches and normalization only ever see this shape.
type rawFeed struct {
	Title           string
	Description     string
	Link            string
	Icon            string
	Favicon         string
	Language        string
	Published       string
	PublishedParsed *time.Time
	Updated         string
	UpdatedParsed   *time.Time
	Items           []*rawItem
}

type rawEnclosure struct {
	URL      string
	Type     string
	Length   string
	Duration string
}

type rawItem struct {
	GUID             string
	Link             string
	Title            string
	Summary          string
	Content          string
	AltContent       string
	ITunesSummary    string
	MediaDescription string
	Author           string
	Image            string
	MediaThumbnail   string
	ITunesImage      string
	ITunesDuration   string
	YouTubeVideoID   string
	Enclosures       []rawEnclosure
	MediaContents    []rawEnclosure
	Published        string
	PublishedParsed  *time.Time
	Updated          string
	UpdatedParsed    *time.Time

	// Filled in by patches
	Duration    int
	Attachments []database.Attachment
}
