package feed

import (
	"errors"
	"testing"

	"github.com/lysyi3m/rss-ingest/app/database"
)

func TestItemFingerprint(t *testing.T) {
	attachments := []database.Attachment{{URL: "https://a/1.mp3"}}
	base := ItemFingerprint("title", "summary", "content", attachments)

	if base != ItemFingerprint("title", "summary", "content", attachments) {
		t.Error("Expected fingerprint to be deterministic")
	}
	if len(base) != 64 {
		t.Errorf("Expected hex sha256, got length %d", len(base))
	}

	variants := map[string]string{
		"title":       ItemFingerprint("title!", "summary", "content", attachments),
		"summary":     ItemFingerprint("title", "summary!", "content", attachments),
		"content":     ItemFingerprint("title", "summary", "content!", attachments),
		"attachments": ItemFingerprint("title", "summary", "content", []database.Attachment{{URL: "https://a/2.mp3"}}),
	}
	for field, fp := range variants {
		if fp == base {
			t.Errorf("Expected fingerprint to change with %s", field)
		}
	}
}

func TestFeedFingerprint(t *testing.T) {
	a := Item{Fingerprint: hashString("a")}
	b := Item{Fingerprint: hashString("b")}
	c := Item{Fingerprint: hashString("c")}

	base, err := FeedFingerprint([]Item{a, b})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	same, _ := FeedFingerprint([]Item{a, b})
	if base != same {
		t.Error("Expected equal item lists to fingerprint equally")
	}

	reordered, _ := FeedFingerprint([]Item{b, a})
	added, _ := FeedFingerprint([]Item{a, b, c})
	removed, _ := FeedFingerprint([]Item{a})
	changed, _ := FeedFingerprint([]Item{a, c})

	for name, fp := range map[string]string{"reordered": reordered, "added": added, "removed": removed, "changed": changed} {
		if fp == base {
			t.Errorf("Expected %s list to change the fingerprint", name)
		}
	}

	if _, err := FeedFingerprint([]Item{a, {}}); !errors.Is(err, ErrMissingFingerprint) {
		t.Errorf("Expected ErrMissingFingerprint, got %v", err)
	}
}

func TestDetectLanguage(t *testing.T) {
	english := []Item{
		{Title: "The quick brown fox", Summary: "jumps over the lazy dog while everyone is watching the show"},
		{Title: "Another story", Summary: "this one is about the weather and how it changes during the year"},
	}
	if lang := detectLanguage(english, "fr"); lang != "en" {
		t.Errorf("Expected detected 'en', got '%s'", lang)
	}

	if lang := detectLanguage(nil, "de-DE"); lang != "de" {
		t.Errorf("Expected declared 'de', got '%s'", lang)
	}
	if lang := detectLanguage(nil, ""); lang != "en" {
		t.Errorf("Expected default 'en', got '%s'", lang)
	}
}
