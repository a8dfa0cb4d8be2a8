package queue

import (
	"context"
	"testing"
)

func TestRegistryEnqueueUnique(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	registry := NewRegistry(openTestDB(t), client, Options{})

	added, err := registry.EnqueueUnique(ctx, OGQueue, "feed-1")
	if err != nil || !added {
		t.Fatalf("Expected job to be added, got (%v, %v)", added, err)
	}

	added, err = registry.EnqueueUnique(ctx, OGQueue, "feed-1")
	if err != nil || added {
		t.Errorf("Expected duplicate to be skipped, got (%v, %v)", added, err)
	}

	if n, _ := registry.Queue(OGQueue).Len(ctx); n != 1 {
		t.Errorf("Expected 1 og job, got %d", n)
	}

	stats, err := registry.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats[OGQueue].Jobs != 1 || stats[OGQueue].InFlight != 1 {
		t.Errorf("Unexpected og stats: %+v", stats[OGQueue])
	}
	if stats[FeedQueue].Jobs != 0 {
		t.Errorf("Unexpected feed stats: %+v", stats[FeedQueue])
	}
}

func TestRegistryRollsBackClaim(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	db := openTestDB(t)
	registry := NewRegistry(db, client, Options{})

	if _, err := db.Exec("DROP TABLE jobs"); err != nil {
		t.Fatal(err)
	}

	if _, err := registry.EnqueueUnique(ctx, FulltextQueue, "feed-1"); err == nil {
		t.Fatal("Expected enqueue error")
	}

	ok, err := registry.Status(FulltextQueue).Contains(ctx, "feed-1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Expected claim to be rolled back")
	}
}

func TestRegistryUnknownQueue(t *testing.T) {
	_, client := newTestRedis(t)
	registry := NewRegistry(openTestDB(t), client, Options{})

	if _, err := registry.EnqueueUnique(context.Background(), "nope", "x"); err == nil {
		t.Error("Expected error for unknown queue")
	}
}

func TestRegistryMarkStarted(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	registry := NewRegistry(openTestDB(t), client, Options{})

	if _, err := registry.EnqueueUnique(ctx, FeedQueue, "feed-1"); err != nil {
		t.Fatal(err)
	}
	if err := registry.MarkStarted(ctx, FeedQueue, "feed-1"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	added, err := registry.EnqueueUnique(ctx, FeedQueue, "feed-1")
	if err != nil || !added {
		t.Errorf("Expected feed to be enqueueable again after start, got (%v, %v)", added, err)
	}

	if err := registry.MarkStarted(ctx, "nope", "feed-1"); err == nil {
		t.Error("Expected error for unknown queue")
	}
}
