package feed

import (
	"testing"

	"github.com/lysyi3m/rss-ingest/app/database"
)

func TestMetadataExtractorRun(t *testing.T) {
	html := `<html><head>
		<link rel="apple-touch-icon" href="/touch.png">
		<link rel="icon" href="favicon.ico">
		<meta property="og:image" content="https://cdn.example.com/og.jpg">
		<link rel="canonical" href="https://example.com/canonical">
	</head><body></body></html>`

	meta, err := NewMetadataExtractor().Run([]byte(html), "https://example.com/blog/")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if meta.Icon != "https://example.com/touch.png" {
		t.Errorf("Expected icon, got '%s'", meta.Icon)
	}
	if meta.Favicon != "https://example.com/blog/favicon.ico" {
		t.Errorf("Expected favicon, got '%s'", meta.Favicon)
	}
	if meta.OG != "https://cdn.example.com/og.jpg" {
		t.Errorf("Expected og image, got '%s'", meta.OG)
	}
	if meta.Canonical != "https://example.com/canonical" {
		t.Errorf("Expected canonical, got '%s'", meta.Canonical)
	}
}

func TestMetadataExtractorBaseAndFallbacks(t *testing.T) {
	html := `<html><head>
		<base href="https://static.example.com/assets/">
		<link rel="Shortcut Icon" href="fav.png">
		<meta property="og:image" content="">
		<meta name="twitter:image" content="card.png">
		<meta property="og:url" content="/page">
	</head></html>`

	meta, err := NewMetadataExtractor().Run([]byte(html), "https://example.com/page")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if meta.Icon != "" {
		t.Errorf("Expected no icon, got '%s'", meta.Icon)
	}
	if meta.Favicon != "https://static.example.com/assets/fav.png" {
		t.Errorf("Expected favicon resolved against base, got '%s'", meta.Favicon)
	}
	if meta.OG != "https://static.example.com/assets/card.png" {
		t.Errorf("Expected twitter image fallback, got '%s'", meta.OG)
	}
	if meta.Canonical != "https://static.example.com/page" {
		t.Errorf("Expected og:url canonical, got '%s'", meta.Canonical)
	}
}

func TestMetadataExtractorEmpty(t *testing.T) {
	if _, err := NewMetadataExtractor().Run(nil, "https://example.com"); err == nil {
		t.Error("Expected error for empty document")
	}
}

func TestMergeMetadata(t *testing.T) {
	stored := database.Images{Icon: "https://old/icon.png"}
	found := &PageMetadata{
		Icon:      "https://new/icon.png",
		Favicon:   "https://new/favicon.ico",
		OG:        "https://new/og.png",
		Canonical: "https://new/",
	}

	images, canonical, changed := MergeMetadata(stored, "", found)
	if !changed {
		t.Error("Expected change")
	}
	if images.Icon != "https://old/icon.png" {
		t.Errorf("Expected stored icon to be kept, got '%s'", images.Icon)
	}
	if images.Favicon != "https://new/favicon.ico" || images.OG != "https://new/og.png" {
		t.Errorf("Expected empty slots filled, got %+v", images)
	}
	if canonical != "https://new/" {
		t.Errorf("Expected canonical filled, got '%s'", canonical)
	}

	_, _, changed = MergeMetadata(images, canonical, found)
	if changed {
		t.Error("Expected second merge to be a no-op")
	}

	_, _, changed = MergeMetadata(images, canonical, nil)
	if changed {
		t.Error("Expected nil metadata to be a no-op")
	}
}
