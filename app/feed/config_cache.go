package feed

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var seedExtensions = []string{".yml", ".yaml"}

// ConfigCache holds the feed seeds found in a directory. Each seed file may
// carry several YAML documents; the second and later ones are named
// <file>-<n>.
type ConfigCache struct {
	feedsDir string

	mu     sync.RWMutex
	byName map[string]*Config
}

func NewConfigCache(feedsDir string) *ConfigCache {
	return &ConfigCache{
		feedsDir: feedsDir,
		byName:   make(map[string]*Config),
	}
}

// Run replaces the cache with the seeds on disk. A missing directory yields
// no seeds. Any invalid seed fails the whole load and keeps the old cache.
func (cc *ConfigCache) Run() error {
	entries, err := os.ReadDir(cc.feedsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read feeds directory: %w", err)
	}

	loaded := make(map[string]*Config)
	seenURLs := make(map[string]string)

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || !slices.Contains(seedExtensions, ext) {
			continue
		}

		path := filepath.Join(cc.feedsDir, entry.Name())
		configs, err := readSeedFile(path, strings.TrimSuffix(entry.Name(), ext))
		if err != nil {
			return err
		}

		for _, config := range configs {
			if owner, ok := seenURLs[config.URL]; ok {
				slog.Warn("Duplicate feed seed ignored", "feed", config.Name, "url", config.URL, "first", owner)
				continue
			}
			if _, ok := loaded[config.Name]; ok {
				return fmt.Errorf("duplicate seed name %q in %s", config.Name, path)
			}
			seenURLs[config.URL] = config.Name
			loaded[config.Name] = config

			slog.Debug("Feed seed loaded", "feed", config.Name, "url", config.URL,
				"scrape_interval", config.Settings.ScrapeInterval, "fulltext", config.Settings.Fulltext)
		}
	}

	cc.mu.Lock()
	cc.byName = loaded
	cc.mu.Unlock()

	return nil
}

func readSeedFile(path, baseName string) ([]*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	var configs []*Config
	decoder := yaml.NewDecoder(file)
	for i := 0; ; i++ {
		var config Config
		err := decoder.Decode(&config)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}

		config.Name = baseName
		if i > 0 {
			config.Name = baseName + "-" + strconv.Itoa(i+1)
		}
		config.URL = strings.TrimSpace(config.URL)

		if err := validateConfig(&config); err != nil {
			return nil, fmt.Errorf("invalid seed %s in %s: %w", config.Name, path, err)
		}
		configs = append(configs, &config)
	}

	return configs, nil
}

func validateConfig(config *Config) error {
	if config.URL == "" {
		return errors.New("feed URL is required")
	}
	if config.Settings.ScrapeInterval < 0 {
		return errors.New("scrape interval must be non-negative")
	}

	u, err := url.Parse(config.URL)
	if err != nil {
		return fmt.Errorf("invalid feed URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("feed URL must be absolute http(s): %s", config.URL)
	}

	return nil
}

func (cc *ConfigCache) GetConfig(name string) (*Config, error) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	config, ok := cc.byName[name]
	if !ok {
		return nil, fmt.Errorf("feed seed %q not found", name)
	}
	return config, nil
}

// GetConfigs returns the seeds ordered by name.
func (cc *ConfigCache) GetConfigs() []*Config {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	configs := make([]*Config, 0, len(cc.byName))
	for _, config := range cc.byName {
		configs = append(configs, config)
	}
	slices.SortFunc(configs, func(a, b *Config) int {
		return strings.Compare(a.Name, b.Name)
	})
	return configs
}

func (cc *ConfigCache) GetConfigCount() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.byName)
}
