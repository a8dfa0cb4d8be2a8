package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage
	DBPath        string `long:"db-path" env:"DB_PATH" default:"./rss-ingest.db" description:"SQLite database file"`
	RedisAddr     string `long:"redis-addr" env:"REDIS_ADDR" default:"localhost:6379" description:"Redis address for queue status indexes"`
	RedisPassword string `long:"redis-password" env:"REDIS_PASSWORD" description:"Redis password"`
	RedisDB       int    `long:"redis-db" env:"REDIS_DB" default:"0" description:"Redis database number"`

	// Application configuration
	FeedsDir     string `long:"feeds-dir" env:"FEEDS_DIR" default:"./feeds" description:"Directory containing feed seed files"`
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Fetching
	UserAgent    string `long:"user-agent" env:"USER_AGENT" default:"RSS Ingest/1.0" description:"User agent string for HTTP requests"`
	FetchTimeout int    `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"15000" description:"Fetch timeout in milliseconds"`
	ProxyURL     string `long:"proxy-url" env:"PROXY_URL" description:"Forwarding proxy used when a direct fetch fails (optional)"`
	ProxySecret  string `long:"proxy-secret" env:"PROXY_SECRET" description:"Shared secret sent to the forwarding proxy"`

	// Conductor
	ConductorInterval int `long:"conductor-interval" env:"CONDUCTOR_INTERVAL" default:"60" description:"Conductor interval in seconds"`
	NormalInterval    int `long:"normal-interval" env:"NORMAL_INTERVAL" default:"10" description:"Re-fetch interval for healthy feeds in minutes"`
	FailureInterval   int `long:"failure-interval" env:"FAILURE_INTERVAL" default:"10080" description:"Re-fetch interval for repeatedly failing feeds in minutes"`
	InvalidInterval   int `long:"invalid-interval" env:"INVALID_INTERVAL" default:"720" description:"Re-fetch interval for invalid feeds in minutes"`
	FailureThreshold  int `long:"failure-threshold" env:"FAILURE_THRESHOLD" default:"10" description:"Consecutive failures tolerated before backing off"`

	// Queues
	FeedConcurrency     int `long:"feed-concurrency" env:"FEED_CONCURRENCY" default:"35" description:"Concurrent feed workers"`
	OGConcurrency       int `long:"og-concurrency" env:"OG_CONCURRENCY" default:"35" description:"Concurrent page metadata workers"`
	FulltextConcurrency int `long:"fulltext-concurrency" env:"FULLTEXT_CONCURRENCY" default:"10" description:"Concurrent full-text workers"`
	LockDuration        int `long:"lock-duration" env:"LOCK_DURATION" default:"90" description:"Job lease duration in seconds"`
	StallInterval       int `long:"stall-interval" env:"STALL_INTERVAL" default:"75" description:"Stalled job check interval in seconds"`
	MaxAttempts         int `long:"max-attempts" env:"MAX_ATTEMPTS" default:"3" description:"Delivery attempts before a job is discarded"`

	// Enrichment
	FulltextWindow int `long:"fulltext-window" env:"FULLTEXT_WINDOW" default:"24" description:"Only extract full text for articles newer than this many hours"`

	// Application metadata
	Timezone string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug    bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := fromRaw(raw)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func fromRaw(raw rawCfg) *Cfg {
	return &Cfg{
		DBPath:              raw.DBPath,
		RedisAddr:           raw.RedisAddr,
		RedisPassword:       raw.RedisPassword,
		RedisDB:             raw.RedisDB,
		FeedsDir:            raw.FeedsDir,
		Port:                raw.Port,
		APIAccessKey:        raw.APIAccessKey,
		UserAgent:           raw.UserAgent,
		FetchTimeout:        time.Duration(raw.FetchTimeout) * time.Millisecond,
		ProxyURL:            raw.ProxyURL,
		ProxySecret:         raw.ProxySecret,
		ConductorInterval:   time.Duration(raw.ConductorInterval) * time.Second,
		NormalInterval:      time.Duration(raw.NormalInterval) * time.Minute,
		FailureInterval:     time.Duration(raw.FailureInterval) * time.Minute,
		InvalidInterval:     time.Duration(raw.InvalidInterval) * time.Minute,
		FailureThreshold:    raw.FailureThreshold,
		FeedConcurrency:     raw.FeedConcurrency,
		OGConcurrency:       raw.OGConcurrency,
		FulltextConcurrency: raw.FulltextConcurrency,
		LockDuration:        time.Duration(raw.LockDuration) * time.Second,
		StallInterval:       time.Duration(raw.StallInterval) * time.Second,
		MaxAttempts:         raw.MaxAttempts,
		FulltextWindow:      time.Duration(raw.FulltextWindow) * time.Hour,
		Timezone:            raw.Timezone,
		Debug:               raw.Debug,
		Version:             GetVersion(),
	}
}

func (c *Cfg) validate() error {
	positive := map[string]int{
		"feed concurrency":     c.FeedConcurrency,
		"og concurrency":       c.OGConcurrency,
		"fulltext concurrency": c.FulltextConcurrency,
		"max attempts":         c.MaxAttempts,
	}
	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	durations := map[string]time.Duration{
		"fetch timeout":      c.FetchTimeout,
		"conductor interval": c.ConductorInterval,
		"lock duration":      c.LockDuration,
		"stall interval":     c.StallInterval,
	}
	for name, value := range durations {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if c.FailureThreshold < 0 {
		return fmt.Errorf("failure threshold must be non-negative")
	}
	if c.ProxyURL != "" && c.ProxySecret == "" {
		return fmt.Errorf("proxy secret is required when a proxy URL is set")
	}

	return nil
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
			fmt.Printf("Timezone configured: %s\n", timezone)
		}
	}
	return nil
}
