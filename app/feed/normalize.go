package feed

import (
	"html"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	xhtml "golang.org/x/net/html"
)

const summaryLength = 200

var absentValues = map[string]bool{
	"":          true,
	"null":      true,
	"undefined": true,
	"-":         true,
}

// clean trims s and maps placeholder values some generators emit to "".
func clean(s string) string {
	s = strings.TrimSpace(s)
	if absentValues[strings.ToLower(s)] {
		return ""
	}
	return s
}

func firstPresent(values ...string) string {
	for _, v := range values {
		if c := clean(v); c != "" {
			return c
		}
	}
	return ""
}

// stripTags returns the text content of an HTML fragment with whitespace
// collapsed. Entities are decoded by the tokenizer.
func stripTags(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return collapseSpace(fragment)
	}

	var sb strings.Builder
	z := xhtml.NewTokenizer(strings.NewReader(fragment))
	skip := 0
	for {
		switch z.Next() {
		case xhtml.ErrorToken:
			return collapseSpace(sb.String())
		case xhtml.StartTagToken:
			name, _ := z.TagName()
			if isInvisible(string(name)) {
				skip++
			}
			sb.WriteByte(' ')
		case xhtml.EndTagToken:
			name, _ := z.TagName()
			if isInvisible(string(name)) && skip > 0 {
				skip--
			}
			sb.WriteByte(' ')
		case xhtml.SelfClosingTagToken:
			sb.WriteByte(' ')
		case xhtml.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
			}
		}
	}
}

func isInvisible(tag string) bool {
	return tag == "script" || tag == "style"
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return strings.TrimSpace(s[:i])
		}
		count++
	}
	return s
}

func cleanTitle(s string) string {
	return clean(stripTags(html.UnescapeString(clean(s))))
}

func makeSummary(values ...string) string {
	return truncateRunes(clean(stripTags(firstPresent(values...))), summaryLength)
}

// parseDate prefers the value the feed parser already understood and falls
// back to a permissive parse of the raw string.
func parseDate(parsed *time.Time, raw string) *time.Time {
	if parsed != nil && !parsed.IsZero() {
		t := parsed.UTC()
		return &t
	}

	raw = clean(raw)
	if raw == "" {
		return nil
	}

	t, err := dateparse.ParseAny(raw)
	if err != nil || t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}

// normalizeItem turns a patched raw item into an Item. It reports false for
// items that carry no title, summary or content.
func normalizeItem(raw *rawItem) (Item, bool) {
	item := Item{
		GUID:          clean(raw.GUID),
		Link:          clean(raw.Link),
		Title:         cleanTitle(raw.Title),
		Summary:       makeSummary(raw.Summary, raw.ITunesSummary, raw.MediaDescription, raw.Content),
		Content:       firstPresent(raw.Content, raw.Summary, raw.ITunesSummary, raw.MediaDescription),
		Author:        clean(raw.Author),
		Image:         clean(raw.Image),
		Attachments:   raw.Attachments,
		DatePublished: parseDate(raw.PublishedParsed, raw.Published),
		DateModified:  parseDate(raw.UpdatedParsed, raw.Updated),
	}

	if item.Title == "" && item.Summary == "" && item.Content == "" {
		return Item{}, false
	}

	return item, true
}
