package feed

import (
	"strings"
)

type patchContext struct {
	host string
}

// patch is one quirk fix. Patches run in table order on every item and
// later entries see the output of earlier ones.
type patch struct {
	name    string
	applies func(pc patchContext, it *rawItem) bool
	apply   func(pc patchContext, it *rawItem)
}

var itemPatches = []patch{
	{"leading-garbage", hasLeadingGarbage, trimLeadingGarbage},
	{"youtube-guid", hostIs("www.youtube.com"), stripGUIDPrefix("yt:video:")},
	{"feedburner-guid", hostIs("feeds.feedburner.com"), stripGUIDPrefix("tag:blogger.com,1999:")},
	{"habr-images", hostIs("habr.com"), fixHabrImages},
	{"alternate-content", hasAlternateContent, useAlternateContent},
	{"image", missingImage, extractImage},
	{"episode-duration", hasEpisodeDuration, parseEpisodeDuration},
	{"attachments", hasAttachmentSources, synthesizeAttachments},
	{"guid", missingGUID, synthesizeGUID},
}

func applyPatches(host string, items []*rawItem) {
	pc := patchContext{host: host}
	for _, it := range items {
		for _, p := range itemPatches {
			if p.applies(pc, it) {
				p.apply(pc, it)
			}
		}
	}
}

func hostIs(host string) func(patchContext, *rawItem) bool {
	return func(pc patchContext, _ *rawItem) bool {
		return pc.host == host
	}
}

var garbagePrefixes = []string{"\ufeff", "]]>", "\u200b"}

func hasGarbagePrefix(s string) bool {
	s = strings.TrimLeft(s, " \t\r\n")
	for _, prefix := range garbagePrefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

func trimGarbage(s string) string {
	for {
		trimmed := strings.TrimLeft(s, " \t\r\n")
		for _, prefix := range garbagePrefixes {
			trimmed = strings.TrimPrefix(trimmed, prefix)
		}
		if trimmed == s {
			return s
		}
		s = trimmed
	}
}

func hasLeadingGarbage(_ patchContext, it *rawItem) bool {
	return hasGarbagePrefix(it.Title) || hasGarbagePrefix(it.Summary) ||
		hasGarbagePrefix(it.Content) || hasGarbagePrefix(it.AltContent)
}

func trimLeadingGarbage(_ patchContext, it *rawItem) {
	it.Title = trimGarbage(it.Title)
	it.Summary = trimGarbage(it.Summary)
	it.Content = trimGarbage(it.Content)
	it.AltContent = trimGarbage(it.AltContent)
}

func stripGUIDPrefix(prefix string) func(patchContext, *rawItem) {
	return func(_ patchContext, it *rawItem) {
		it.GUID = strings.TrimPrefix(it.GUID, prefix)
	}
}

func fixHabrImages(_ patchContext, it *rawItem) {
	fix := func(s string) string {
		s = strings.ReplaceAll(s, `"//habrastorage.org`, `"https://habrastorage.org`)
		return strings.ReplaceAll(s, `'//habrastorage.org`, `'https://habrastorage.org`)
	}
	it.Content = fix(it.Content)
	it.AltContent = fix(it.AltContent)
	it.Summary = fix(it.Summary)
	if strings.HasPrefix(it.Image, "//habrastorage.org") {
		it.Image = "https:" + it.Image
	}
}

func hasAlternateContent(_ patchContext, it *rawItem) bool {
	alt := clean(it.AltContent)
	return alt != "" && alt != clean(it.Content)
}

func useAlternateContent(_ patchContext, it *rawItem) {
	it.Content = it.AltContent
}

func missingImage(_ patchContext, it *rawItem) bool {
	return clean(it.Image) == ""
}

func extractImage(_ patchContext, it *rawItem) {
	it.Image = findImage(it)
}

func hasEpisodeDuration(_ patchContext, it *rawItem) bool {
	return clean(it.ITunesDuration) != ""
}

func parseEpisodeDuration(_ patchContext, it *rawItem) {
	if seconds, ok := parseDuration(it.ITunesDuration); ok {
		it.Duration = seconds
	}
}

func hasAttachmentSources(_ patchContext, it *rawItem) bool {
	return len(it.Enclosures) > 0 || len(it.MediaContents) > 0 || clean(it.YouTubeVideoID) != "" || clean(it.MediaThumbnail) != ""
}

func synthesizeAttachments(_ patchContext, it *rawItem) {
	it.Attachments = buildAttachments(it)
}

func missingGUID(_ patchContext, it *rawItem) bool {
	return clean(it.GUID) == ""
}

// synthesizeGUID uses the link, or a hash of the title and attachment URLs
// when the item has no link either.
func synthesizeGUID(_ patchContext, it *rawItem) {
	if link := clean(it.Link); link != "" {
		it.GUID = link
		return
	}

	urls := make([]string, 0, len(it.Attachments))
	for _, a := range it.Attachments {
		urls = append(urls, a.URL)
	}

	seed := clean(it.Title) + "|" + strings.Join(urls, ",")
	if seed == "|" {
		seed = firstPresent(it.Content, it.Summary)
	}
	it.GUID = hashString(seed)
}
