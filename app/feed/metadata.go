package feed

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/lysyi3m/rss-ingest/app/database"
)

type PageMetadata struct {
	Icon      string
	Favicon   string
	OG        string
	Canonical string
}

type attrRule struct {
	tag    string
	attr   string
	value  string
	target string
}

// Rules are tried in order; for each rule the first matching element in
// document order wins.
var (
	iconRules = []attrRule{
		{"link", "rel", "apple-touch-icon", "href"},
		{"link", "rel", "apple-touch-icon-precomposed", "href"},
		{"link", "rel", "mask-icon", "href"},
		{"meta", "name", "msapplication-TileImage", "content"},
	}
	faviconRules = []attrRule{
		{"link", "rel", "icon", "href"},
		{"link", "rel", "shortcut icon", "href"},
	}
	ogImageRules = []attrRule{
		{"meta", "property", "og:image", "content"},
		{"meta", "property", "og:image:url", "content"},
		{"meta", "property", "og:image:secure_url", "content"},
		{"meta", "name", "twitter:image", "content"},
		{"meta", "name", "twitter:image:src", "content"},
		{"meta", "itemprop", "image", "content"},
	}
	canonicalRules = []attrRule{
		{"link", "rel", "canonical", "href"},
		{"meta", "property", "og:url", "content"},
	}
)

type MetadataExtractor struct{}

func NewMetadataExtractor() *MetadataExtractor {
	return &MetadataExtractor{}
}

// Run extracts page metadata from an HTML document. Relative URLs are
// resolved against <base href> or pageURL.
func (e *MetadataExtractor) Run(data []byte, pageURL string) (*PageMetadata, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("HTML data is empty")
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	base := pageURL
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok && strings.TrimSpace(href) != "" {
		base = resolveURL(pageURL, strings.TrimSpace(href))
	}

	lookup := func(rules []attrRule) string {
		if v := findAttr(doc, rules); v != "" {
			return resolveURL(base, v)
		}
		return ""
	}

	return &PageMetadata{
		Icon:      lookup(iconRules),
		Favicon:   lookup(faviconRules),
		OG:        lookup(ogImageRules),
		Canonical: lookup(canonicalRules),
	}, nil
}

func findAttr(doc *goquery.Document, rules []attrRule) string {
	for _, rule := range rules {
		var found string
		doc.Find(rule.tag).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if !strings.EqualFold(strings.TrimSpace(s.AttrOr(rule.attr, "")), rule.value) {
				return true
			}
			found = strings.TrimSpace(s.AttrOr(rule.target, ""))
			return found == ""
		})
		if found != "" && !strings.HasPrefix(found, "data:") {
			return found
		}
	}
	return ""
}

// MergeMetadata fills empty image slots and an empty canonical URL from found.
// Values already stored are never replaced. It reports whether anything
// changed.
func MergeMetadata(images database.Images, canonical string, found *PageMetadata) (database.Images, string, bool) {
	if found == nil {
		return images, canonical, false
	}

	changed := false
	fill := func(dst *string, value string) {
		if *dst == "" && value != "" {
			*dst = value
			changed = true
		}
	}

	fill(&images.Icon, found.Icon)
	fill(&images.Favicon, found.Favicon)
	fill(&images.OG, found.OG)
	fill(&canonical, found.Canonical)

	return images, canonical, changed
}
