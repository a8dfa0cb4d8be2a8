package feed

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/lysyi3m/rss-ingest/app/fetcher"
)

type Fetcher interface {
	Get(ctx context.Context, rawURL string) (*fetcher.Response, error)
}

var feedLinkTypes = map[string]bool{
	"application/rss+xml":   true,
	"application/atom+xml":  true,
	"application/feed+json": true,
	"application/json":      true,
	"application/rdf+xml":   true,
	"application/xml":       true,
	"text/xml":              true,
}

// Discover fetches pageURL and returns the feed URL it advertises, or "" when
// the page cannot be fetched or declares no feed.
func Discover(ctx context.Context, f Fetcher, pageURL string) string {
	resp, err := f.Get(ctx, pageURL)
	if err != nil {
		slog.Debug("Discovery fetch failed", "url", pageURL, "error", err)
		return ""
	}
	return DiscoverFromResponse(resp)
}

// DiscoverFromResponse scans <link> elements for a feed media type. When a
// page declares several feeds the last one wins. Relative hrefs are resolved
// against the final response URL.
func DiscoverFromResponse(resp *fetcher.Response) string {
	if resp == nil || len(resp.Body) == 0 {
		return ""
	}

	var found string
	z := html.NewTokenizer(bytes.NewReader(resp.Body))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}

		name, hasAttr := z.TagName()
		if string(name) != "link" || !hasAttr {
			continue
		}

		var linkType, href string
		for {
			key, val, more := z.TagAttr()
			switch string(key) {
			case "type":
				linkType = strings.ToLower(strings.TrimSpace(string(val)))
			case "href":
				href = strings.TrimSpace(string(val))
			}
			if !more {
				break
			}
		}

		linkType, _, _ = strings.Cut(linkType, ";")
		if feedLinkTypes[strings.TrimSpace(linkType)] && href != "" {
			found = href
		}
	}

	if found == "" {
		return ""
	}
	return resolveURL(resp.URI, found)
}

func resolveURL(base, ref string) string {
	refURL, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil || base == "" {
		return refURL.String()
	}
	return baseURL.ResolveReference(refURL).String()
}
