package feed

import (
	"sort"
	"strings"

	"github.com/abadojack/whatlanggo"
)

const (
	defaultLanguage    = "en"
	languageSampleSize = 20
)

// detectLanguage sums detector confidence per ISO 639-1 code over the first
// items. The declared language is only used when nothing is detected.
func detectLanguage(items []Item, declared string) string {
	scores := make(map[string]float64)

	for i, item := range items {
		if i == languageSampleSize {
			break
		}
		text := strings.TrimSpace(item.Title + " " + item.Summary)
		if text == "" {
			continue
		}
		info := whatlanggo.Detect(text)
		code := info.Lang.Iso6391()
		if code == "" || info.Confidence <= 0 {
			continue
		}
		scores[code] += info.Confidence
	}

	codes := make([]string, 0, len(scores))
	for code := range scores {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	best := ""
	for _, code := range codes {
		if best == "" || scores[code] > scores[best] {
			best = code
		}
	}
	if best != "" {
		return best
	}

	if code := declaredLanguage(declared); code != "" {
		return code
	}
	return defaultLanguage
}

func declaredLanguage(declared string) string {
	declared = strings.ToLower(clean(declared))
	code, _, _ := strings.Cut(strings.ReplaceAll(declared, "_", "-"), "-")
	if len(code) != 2 {
		return ""
	}
	return code
}
