package cfg

import "time"

type Cfg struct {
	// Storage
	DBPath        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Application configuration
	FeedsDir     string
	Port         string
	APIAccessKey string

	// Fetching
	UserAgent    string
	FetchTimeout time.Duration
	ProxyURL     string
	ProxySecret  string

	// Conductor
	ConductorInterval time.Duration
	NormalInterval    time.Duration
	FailureInterval   time.Duration
	InvalidInterval   time.Duration
	FailureThreshold  int

	// Queues
	FeedConcurrency     int
	OGConcurrency       int
	FulltextConcurrency int
	LockDuration        time.Duration
	StallInterval       time.Duration
	MaxAttempts         int

	// Enrichment
	FulltextWindow time.Duration

	// Application metadata
	Timezone string
	Debug    bool
	Version  string
}
