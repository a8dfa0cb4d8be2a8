package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lysyi3m/rss-ingest/app/api"
	"github.com/lysyi3m/rss-ingest/app/cfg"
	"github.com/lysyi3m/rss-ingest/app/database"
	"github.com/lysyi3m/rss-ingest/app/feed"
	"github.com/lysyi3m/rss-ingest/app/fetcher"
	"github.com/lysyi3m/rss-ingest/app/queue"
	"github.com/lysyi3m/rss-ingest/app/tasks"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	if appCfg == nil {
		return
	}

	setupLogger(appCfg.Debug)

	if err := run(appCfg); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func run(appCfg *cfg.Cfg) error {
	slog.Info("Starting RSS Ingest", "version", appCfg.Version, "timezone", appCfg.Timezone)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(appCfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "schema_version", version, "dirty", dirty)

	redisClient, err := queue.Connect(ctx, queue.RedisOptions{
		Addr:     appCfg.RedisAddr,
		Password: appCfg.RedisPassword,
		DB:       appCfg.RedisDB,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	registry := queue.NewRegistry(db, redisClient, queue.Options{
		LockDuration: appCfg.LockDuration,
		MaxAttempts:  appCfg.MaxAttempts,
	})
	defer registry.Close()

	feedRepo := database.NewFeedStore(db)
	articleRepo := database.NewArticleStore(db)

	configCache := feed.NewConfigCache(appCfg.FeedsDir)
	if err := configCache.Run(); err != nil {
		slog.Warn("Failed to load feed seeds", "dir", appCfg.FeedsDir, "error", err)
	} else {
		synced := tasks.SyncFeedConfigs(ctx, configCache, feedRepo)
		slog.Info("Feed seeds synced", "loaded", configCache.GetConfigCount(), "synced", synced)
	}

	httpFetcher := fetcher.New(fetcher.Options{
		UserAgent:   appCfg.UserAgent,
		Timeout:     appCfg.FetchTimeout,
		ProxyURL:    appCfg.ProxyURL,
		ProxySecret: appCfg.ProxySecret,
	})
	parser := feed.NewParser()
	upserter := feed.NewUpserter(articleRepo)
	metadataExtractor := feed.NewMetadataExtractor()
	contentExtractor := feed.NewContentExtractor()

	workerOpts := func(concurrency int) queue.WorkerOptions {
		return queue.WorkerOptions{
			Concurrency:   concurrency,
			StallInterval: appCfg.StallInterval,
		}
	}

	workers := []*queue.Worker{
		queue.NewWorker(registry.Queue(queue.FeedQueue), tasks.Handler(func(job *queue.Job) tasks.TaskInterface {
			return tasks.NewProcessFeedTask(job.Payload.Feed, httpFetcher, parser, upserter, feedRepo, registry)
		}), workerOpts(appCfg.FeedConcurrency)),
		queue.NewWorker(registry.Queue(queue.OGQueue), tasks.Handler(func(job *queue.Job) tasks.TaskInterface {
			return tasks.NewOGTask(job.Payload.Feed, httpFetcher, metadataExtractor, feedRepo, registry)
		}), workerOpts(appCfg.OGConcurrency)),
		queue.NewWorker(registry.Queue(queue.FulltextQueue), tasks.Handler(func(job *queue.Job) tasks.TaskInterface {
			return tasks.NewFulltextTask(job.Payload.Feed, httpFetcher, contentExtractor, feedRepo, articleRepo, registry, appCfg.FulltextWindow)
		}), workerOpts(appCfg.FulltextConcurrency)),
	}

	for _, w := range workers {
		w.Start(ctx)
	}
	defer func() {
		for _, w := range workers {
			w.Stop()
		}
		slog.Info("Workers stopped")
	}()

	conductor := tasks.NewConductor(feedRepo, registry.Status(queue.FeedQueue), registry.Queue(queue.FeedQueue),
		tasks.Policy{
			NormalInterval:   appCfg.NormalInterval,
			FailureInterval:  appCfg.FailureInterval,
			InvalidInterval:  appCfg.InvalidInterval,
			FailureThreshold: appCfg.FailureThreshold,
		}, appCfg.ConductorInterval)
	if err := conductor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start conductor: %w", err)
	}
	defer conductor.Stop()

	handler := api.NewHandler(db, feedRepo, httpFetcher, parser, registry, conductor, appCfg.Version)
	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      api.NewServer(handler, appCfg.APIAccessKey),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("HTTP server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("HTTP server stopped")
	return nil
}
