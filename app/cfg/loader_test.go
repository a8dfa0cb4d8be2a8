package cfg

import (
	"testing"
	"time"
)

func TestGetVersion(t *testing.T) {
	if GetVersion() == "" {
		t.Error("GetVersion should never return empty string")
	}

	version := GetVersion()
	if version != "dev" && version != "unknown" {
		t.Logf("Version: %s", version)
	}
}

func validRaw() rawCfg {
	return rawCfg{
		DBPath:              "./test.db",
		RedisAddr:           "localhost:6379",
		Port:                "8080",
		UserAgent:           "Test Agent",
		FetchTimeout:        15000,
		ConductorInterval:   60,
		NormalInterval:      10,
		FailureInterval:     10080,
		InvalidInterval:     720,
		FailureThreshold:    10,
		FeedConcurrency:     35,
		OGConcurrency:       35,
		FulltextConcurrency: 10,
		LockDuration:        90,
		StallInterval:       75,
		MaxAttempts:         3,
		FulltextWindow:      24,
		Timezone:            "UTC",
	}
}

func TestFromRawConvertsUnits(t *testing.T) {
	c := fromRaw(validRaw())

	if c.FetchTimeout != 15*time.Second {
		t.Errorf("Expected fetch timeout 15s, got %v", c.FetchTimeout)
	}
	if c.ConductorInterval != time.Minute {
		t.Errorf("Expected conductor interval 1m, got %v", c.ConductorInterval)
	}
	if c.NormalInterval != 10*time.Minute {
		t.Errorf("Expected normal interval 10m, got %v", c.NormalInterval)
	}
	if c.FailureInterval != 10080*time.Minute {
		t.Errorf("Expected failure interval 10080m, got %v", c.FailureInterval)
	}
	if c.InvalidInterval != 12*time.Hour {
		t.Errorf("Expected invalid interval 12h, got %v", c.InvalidInterval)
	}
	if c.LockDuration != 90*time.Second {
		t.Errorf("Expected lock duration 90s, got %v", c.LockDuration)
	}
	if c.StallInterval != 75*time.Second {
		t.Errorf("Expected stall interval 75s, got %v", c.StallInterval)
	}
	if c.FulltextWindow != 24*time.Hour {
		t.Errorf("Expected fulltext window 24h, got %v", c.FulltextWindow)
	}
	if c.Version == "" {
		t.Error("Expected version to be populated")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*rawCfg)
		wantErr bool
	}{
		{"valid", func(r *rawCfg) {}, false},
		{"zero feed concurrency", func(r *rawCfg) { r.FeedConcurrency = 0 }, true},
		{"zero max attempts", func(r *rawCfg) { r.MaxAttempts = 0 }, true},
		{"zero lock duration", func(r *rawCfg) { r.LockDuration = 0 }, true},
		{"negative threshold", func(r *rawCfg) { r.FailureThreshold = -1 }, true},
		{"proxy without secret", func(r *rawCfg) { r.ProxyURL = "http://proxy.local" }, true},
		{"proxy with secret", func(r *rawCfg) {
			r.ProxyURL = "http://proxy.local"
			r.ProxySecret = "s3cret"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			tt.mutate(&raw)
			err := fromRaw(raw).validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestApplyTimezone(t *testing.T) {
	original := time.Local
	defer func() { time.Local = original }()

	if err := applyTimezone("UTC"); err != nil {
		t.Errorf("Expected no error for UTC, got %v", err)
	}
	if err := applyTimezone("Not/AZone"); err == nil {
		t.Error("Expected error for invalid timezone")
	}
	if err := applyTimezone(""); err != nil {
		t.Errorf("Expected empty timezone to be ignored, got %v", err)
	}
}
