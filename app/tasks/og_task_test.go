package tasks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lysyi3m/rss-ingest/app/database"
	"github.com/lysyi3m/rss-ingest/app/feed"
	"github.com/lysyi3m/rss-ingest/app/queue"
)

func TestOGTaskMergesPageMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head>
			<link rel="apple-touch-icon" href="/touch.png">
			<link rel="icon" href="/favicon.ico">
			<meta property="og:image" content="/og.png">
			<link rel="canonical" href="/home">
		</head></html>`))
	}))
	defer server.Close()

	ctx := context.Background()
	db := openTestDB(t)
	feedRepo := database.NewFeedStore(db)
	queues := newFakeQueues()

	feedID, _ := feedRepo.UpsertFeed(ctx, server.URL+"/feed.xml", 0, false)
	err := feedRepo.UpdateFeedContent(ctx, feedID, database.FeedContentUpdate{URL: server.URL + "/", Title: "Site"})
	if err != nil {
		t.Fatal(err)
	}
	if err := feedRepo.UpdateFeedImages(ctx, feedID, database.Images{Icon: "https://kept.example.com/icon.png"}, ""); err != nil {
		t.Fatal(err)
	}

	task := NewOGTask(feedID, newTestFetcher(), feed.NewMetadataExtractor(), feedRepo, queues)
	task.Start()
	if err := task.Execute(ctx); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	stored, _ := feedRepo.GetFeed(ctx, feedID)
	if stored.Images.Icon != "https://kept.example.com/icon.png" {
		t.Errorf("Expected existing icon to be kept, got '%s'", stored.Images.Icon)
	}
	if stored.Images.Favicon != server.URL+"/favicon.ico" {
		t.Errorf("Expected favicon, got '%s'", stored.Images.Favicon)
	}
	if stored.Images.OG != server.URL+"/og.png" {
		t.Errorf("Expected og image, got '%s'", stored.Images.OG)
	}
	if stored.CanonicalURL != server.URL+"/home" {
		t.Errorf("Expected canonical URL, got '%s'", stored.CanonicalURL)
	}
	if len(queues.started[queue.OGQueue]) != 1 {
		t.Errorf("Expected og in-flight marker to be cleared, got %v", queues.started)
	}
}

func TestOGTaskFetchFailureIsNotFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	ctx := context.Background()
	feedRepo := database.NewFeedStore(openTestDB(t))
	feedID, _ := feedRepo.UpsertFeed(ctx, server.URL+"/feed.xml", 0, false)
	if err := feedRepo.UpdateFeedContent(ctx, feedID, database.FeedContentUpdate{URL: server.URL}); err != nil {
		t.Fatal(err)
	}

	task := NewOGTask(feedID, newTestFetcher(), feed.NewMetadataExtractor(), feedRepo, newFakeQueues())
	if err := task.Execute(ctx); err != nil {
		t.Errorf("Expected enrichment failure to be swallowed, got %v", err)
	}
}
