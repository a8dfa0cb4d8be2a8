package feed

import (
	"mime"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/lysyi3m/rss-ingest/app/database"
)

var bbcodeImage = regexp.MustCompile(`(?i)\[img\]\s*([^\[\s]+)\s*\[/img\]`)

// findImage picks the best-effort preview image in order of how explicit the
// source is: declared images first, then markup embedded in the body.
func findImage(it *rawItem) string {
	if u := firstPresent(it.Image, it.MediaThumbnail, it.ITunesImage); u != "" {
		return u
	}

	for _, enc := range append(append([]rawEnclosure{}, it.Enclosures...), it.MediaContents...) {
		if strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}

	for _, body := range []string{it.Content, it.AltContent, it.Summary} {
		if u := inlineImage(body); u != "" {
			return u
		}
	}

	for _, body := range []string{it.Content, it.Summary} {
		if m := bbcodeImage.FindStringSubmatch(body); m != nil {
			return m[1]
		}
	}

	return ""
}

func inlineImage(body string) string {
	if !strings.Contains(body, "<img") {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return ""
	}

	var src string
	doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src = clean(s.AttrOr("src", ""))
		if strings.HasPrefix(src, "data:") {
			src = ""
		}
		return src == ""
	})
	return src
}

// parseDuration accepts HH:MM:SS, MM:SS and plain seconds.
func parseDuration(s string) (int, bool) {
	s = clean(s)
	if s == "" {
		return 0, false
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, false
	}

	total := 0
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if i == len(parts)-1 {
			// Seconds may carry a fraction
			f, err := strconv.ParseFloat(part, 64)
			if err != nil || f < 0 {
				return 0, false
			}
			total = total*60 + int(f)
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, false
		}
		total = total*60 + n
	}

	return total, true
}

func youtubeURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// buildAttachments merges enclosures, media:content, YouTube video ids and
// media thumbnails into one list, keeping the first occurrence of every URL.
// Thumbnails go last so a playable attachment stays first.
func buildAttachments(it *rawItem) []database.Attachment {
	var attachments []database.Attachment
	seen := make(map[string]bool)

	add := func(enc rawEnclosure) {
		u := clean(enc.URL)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true

		a := database.Attachment{URL: u, MimeType: clean(enc.Type)}
		if size, err := strconv.ParseInt(strings.TrimSpace(enc.Length), 10, 64); err == nil && size > 0 {
			a.SizeInBytes = size
		}
		if d, ok := parseDuration(enc.Duration); ok {
			a.DurationInSeconds = d
		}
		attachments = append(attachments, a)
	}

	for _, enc := range it.Enclosures {
		add(enc)
	}
	for _, enc := range it.MediaContents {
		add(enc)
	}
	if id := clean(it.YouTubeVideoID); id != "" {
		add(rawEnclosure{URL: youtubeURL(id), Type: "text/html"})
	}
	if thumb := clean(it.MediaThumbnail); thumb != "" {
		add(rawEnclosure{URL: thumb, Type: imageType(thumb)})
	}

	if it.Duration > 0 {
		for i := range attachments {
			if attachments[i].DurationInSeconds == 0 && isPlayable(attachments[i].MimeType) {
				attachments[i].DurationInSeconds = it.Duration
				break
			}
		}
	}

	return attachments
}

// imageType guesses an image mime type from the URL path extension, or
// returns "" when the extension is not a known image type.
func imageType(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	t := mime.TypeByExtension(strings.ToLower(path.Ext(u.Path)))
	if !strings.HasPrefix(t, "image/") {
		return ""
	}
	return t
}

func isPlayable(mimeType string) bool {
	return strings.HasPrefix(mimeType, "audio/") || strings.HasPrefix(mimeType, "video/")
}

func isAudio(mimeType string) bool {
	return strings.HasPrefix(mimeType, "audio/")
}
