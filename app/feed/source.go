package feed

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
	jsonfeed "github.com/mmcdole/gofeed/json"
)

type rawFeedSource interface {
	Parse(data []byte, charset string) (*rawFeed, error)
}

var jsonContentTypes = map[string]bool{
	"application/json":      true,
	"application/feed+json": true,
	"application/json+feed": true,
}

var genericContentTypes = map[string]bool{
	"":                         true,
	"text/plain":               true,
	"text/html":                true,
	"application/octet-stream": true,
	"binary/octet-stream":      true,
}

// selectSource picks the decoder for a document. Missing or generic content
// types are resolved by sniffing the body.
func selectSource(contentType string, data []byte) rawFeedSource {
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	if jsonContentTypes[contentType] {
		return &jsonSource{}
	}

	if genericContentTypes[contentType] {
		if sniffJSON(data) {
			return &jsonSource{}
		}
	}

	return &xmlSource{parser: gofeed.NewParser()}
}

func sniffJSON(data []byte) bool {
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is("application/json") {
			return true
		}
	}
	// Large documents can be cut off before the detector sees valid JSON
	trimmed := bytes.TrimLeft(data, "\ufeff \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

type xmlSource struct {
	parser *gofeed.Parser
}

func (s *xmlSource) Parse(data []byte, charset string) (*rawFeed, error) {
	data, err := toUTF8(data, charset)
	if err != nil {
		return nil, err
	}

	parsed, err := s.parser.Parse(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, gofeed.ErrFeedTypeNotDetected) {
			return nil, fmt.Errorf("%w: %v", ErrNotFeed, err)
		}
		return nil, fmt.Errorf("failed to parse XML feed: %w", err)
	}

	raw := &rawFeed{
		Title:           parsed.Title,
		Description:     parsed.Description,
		Link:            parsed.Link,
		Language:        parsed.Language,
		Published:       parsed.Published,
		PublishedParsed: parsed.PublishedParsed,
		Updated:         parsed.Updated,
		UpdatedParsed:   parsed.UpdatedParsed,
		Items:           make([]*rawItem, 0, len(parsed.Items)),
	}

	if parsed.Image != nil {
		raw.Icon = parsed.Image.URL
	}
	if raw.Icon == "" && parsed.ITunesExt != nil {
		raw.Icon = parsed.ITunesExt.Image
	}

	for _, item := range parsed.Items {
		if item != nil {
			raw.Items = append(raw.Items, xmlItem(item))
		}
	}

	return raw, nil
}

func xmlItem(item *gofeed.Item) *rawItem {
	raw := &rawItem{
		GUID:            item.GUID,
		Link:            item.Link,
		Title:           item.Title,
		Summary:         item.Description,
		Content:         item.Content,
		AltContent:      extValue(item.Extensions, "content", "encoded"),
		YouTubeVideoID:  extValue(item.Extensions, "yt", "videoId"),
		Published:       item.Published,
		PublishedParsed: item.PublishedParsed,
		Updated:         item.Updated,
		UpdatedParsed:   item.UpdatedParsed,
	}

	if item.Image != nil {
		raw.Image = item.Image.URL
	}

	raw.Author = itemAuthor(item)

	if item.ITunesExt != nil {
		raw.ITunesSummary = item.ITunesExt.Summary
		raw.ITunesImage = item.ITunesExt.Image
		raw.ITunesDuration = item.ITunesExt.Duration
	}

	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" {
			raw.Enclosures = append(raw.Enclosures, rawEnclosure{URL: enc.URL, Type: enc.Type, Length: enc.Length})
		}
	}

	media := mediaElements(item.Extensions)
	raw.MediaDescription = firstValue(media["description"])
	if thumbs := media["thumbnail"]; len(thumbs) > 0 {
		raw.MediaThumbnail = thumbs[0].Attrs["url"]
	}
	for _, c := range media["content"] {
		if u := c.Attrs["url"]; u != "" {
			raw.MediaContents = append(raw.MediaContents, rawEnclosure{
				URL:      u,
				Type:     cmp.Or(c.Attrs["type"], mediumType(c.Attrs["medium"])),
				Length:   c.Attrs["fileSize"],
				Duration: c.Attrs["duration"],
			})
		}
	}

	return raw
}

func itemAuthor(item *gofeed.Item) string {
	for _, author := range item.Authors {
		if author != nil {
			if name := cmp.Or(strings.TrimSpace(author.Name), strings.TrimSpace(author.Email)); name != "" {
				return name
			}
		}
	}
	if item.Author != nil {
		if name := cmp.Or(strings.TrimSpace(item.Author.Name), strings.TrimSpace(item.Author.Email)); name != "" {
			return name
		}
	}
	if item.ITunesExt != nil && item.ITunesExt.Author != "" {
		return strings.TrimSpace(item.ITunesExt.Author)
	}
	if item.DublinCoreExt != nil && len(item.DublinCoreExt.Creator) > 0 {
		return strings.TrimSpace(item.DublinCoreExt.Creator[0])
	}
	return ""
}

// mediaElements flattens top-level media:* elements and those nested in
// media:group, top-level first.
func mediaElements(extensions ext.Extensions) map[string][]ext.Extension {
	result := make(map[string][]ext.Extension)
	media, ok := extensions["media"]
	if !ok {
		return result
	}

	for name, elements := range media {
		if name != "group" {
			result[name] = append(result[name], elements...)
		}
	}
	for _, group := range media["group"] {
		for name, elements := range group.Children {
			result[name] = append(result[name], elements...)
		}
	}

	return result
}

func extValue(extensions ext.Extensions, prefix, name string) string {
	if ns, ok := extensions[prefix]; ok {
		return firstValue(ns[name])
	}
	return ""
}

func firstValue(elements []ext.Extension) string {
	if len(elements) == 0 {
		return ""
	}
	return strings.TrimSpace(elements[0].Value)
}

func mediumType(medium string) string {
	switch medium {
	case "audio", "video", "image":
		return medium + "/*"
	}
	return ""
}

type jsonSource struct{}

func (s *jsonSource) Parse(data []byte, _ string) (*rawFeed, error) {
	parser := &jsonfeed.Parser{}
	parsed, err := parser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse JSON feed: %v", ErrNotFeed, err)
	}

	raw := &rawFeed{
		Title:       parsed.Title,
		Description: parsed.Description,
		Link:        parsed.HomePageURL,
		Icon:        parsed.Icon,
		Favicon:     parsed.Favicon,
		Language:    parsed.Language,
		Items:       make([]*rawItem, 0, len(parsed.Items)),
	}

	for _, item := range parsed.Items {
		if item != nil {
			raw.Items = append(raw.Items, jsonItem(item))
		}
	}

	return raw, nil
}

func jsonItem(item *jsonfeed.Item) *rawItem {
	raw := &rawItem{
		GUID:       item.ID,
		Link:       cmp.Or(item.URL, item.ExternalURL),
		Title:      item.Title,
		Summary:    item.Summary,
		Content:    item.ContentText,
		AltContent: item.ContentHTML,
		Image:      cmp.Or(item.Image, item.BannerImage),
		Published:  item.DatePublished,
		Updated:    item.DateModified,
	}

	for _, author := range item.Authors {
		if author != nil && author.Name != "" {
			raw.Author = author.Name
			break
		}
	}
	if raw.Author == "" && item.Author != nil {
		raw.Author = item.Author.Name
	}

	if item.Attachments != nil {
		for _, a := range *item.Attachments {
			if a.URL == "" {
				continue
			}
			enc := rawEnclosure{URL: a.URL, Type: a.MimeType}
			if a.SizeInBytes > 0 {
				enc.Length = strconv.FormatInt(a.SizeInBytes, 10)
			}
			if a.DurationInSeconds > 0 {
				enc.Duration = strconv.FormatInt(a.DurationInSeconds, 10)
			}
			raw.Enclosures = append(raw.Enclosures, enc)
		}
	}

	return raw
}
