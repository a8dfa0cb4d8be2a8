package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/rss-ingest/app/database"
	"github.com/lysyi3m/rss-ingest/app/feed"
)

type SyncFeedConfigTask struct {
	Task
	FeedConfig *feed.Config
	feedRepo   database.FeedRepository
}

func NewSyncFeedConfigTask(feedConfig *feed.Config, feedRepo database.FeedRepository) *SyncFeedConfigTask {
	return &SyncFeedConfigTask{
		Task:       NewTask(TaskTypeSyncFeedConfig, feedConfig.Name),
		FeedConfig: feedConfig,
		feedRepo:   feedRepo,
	}
}

// Execute registers the configured feed URL, or refreshes the settings of
// the feed that owns it. The resulting feed id replaces the config name as
// FeedID.
func (t *SyncFeedConfigTask) Execute(ctx context.Context) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	id, err := t.feedRepo.UpsertFeed(ctx,
		t.FeedConfig.URL,
		t.FeedConfig.Settings.ScrapeInterval,
		t.FeedConfig.Settings.Fulltext)
	if err != nil {
		slog.Error("Task failed", "type", t.GetType(), "config", t.FeedConfig.Name, "error", err)
		return fmt.Errorf("failed to sync feed config to database: %w", err)
	}
	t.FeedID = id

	slog.Info("Task completed",
		"type", t.GetType(),
		"config", t.FeedConfig.Name,
		"feed", id,
		"duration", t.GetDuration())

	return nil
}

// SyncFeedConfigs upserts every loaded feed config and returns how many
// succeeded. A failing config does not stop the others.
func SyncFeedConfigs(ctx context.Context, configCache *feed.ConfigCache, feedRepo database.FeedRepository) int {
	configs := configCache.GetConfigs()
	if len(configs) == 0 {
		slog.Debug("No feed configurations found")
		return 0
	}

	synced := 0
	for _, config := range configs {
		task := NewSyncFeedConfigTask(config, feedRepo)
		task.Start()
		if err := task.Execute(ctx); err != nil {
			continue
		}
		synced++
	}
	return synced
}
