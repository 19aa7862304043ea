package tracker

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all tracker configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Capture   CaptureConfig   `yaml:"capture"`
	Retention RetentionConfig `yaml:"retention"`
	Match     MatchConfig     `yaml:"match"`
	Admin     AdminConfig     `yaml:"admin"`
	Sync      SyncConfig      `yaml:"sync"`
	Browser   BrowserConfig   `yaml:"browser"`
}

// StoreConfig locates the persistence backend.
type StoreConfig struct {
	Path       string `yaml:"path"`
	QuotaBytes int64  `yaml:"quota_bytes"`
}

// CaptureConfig tunes the debounced capture pipeline.
type CaptureConfig struct {
	Debounce    time.Duration `yaml:"debounce"`
	SettleDelay time.Duration `yaml:"settle_delay"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

// RetentionConfig controls snapshot expiry.
type RetentionConfig struct {
	SnapshotTTL time.Duration `yaml:"snapshot_ttl"`
	UndoTTL     time.Duration `yaml:"undo_ttl"`
}

// MatchConfig tunes reopened-window matching.
type MatchConfig struct {
	Threshold float64 `yaml:"threshold"`
}

// AdminConfig configures the HTTP surface.
type AdminConfig struct {
	Addr string `yaml:"addr"`
	// PasswordHash is a bcrypt hash. Empty disables auth.
	PasswordHash string `yaml:"password_hash"`
}

// SyncConfig configures the optional QUIC sync bridge.
type SyncConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Listen   string   `yaml:"listen"`
	Peers    []string `yaml:"peers"`
	CertFile string   `yaml:"cert_file"`
	KeyFile  string   `yaml:"key_file"`
	Insecure bool     `yaml:"insecure"`
}

// BrowserConfig selects the browser host.
type BrowserConfig struct {
	// Remote is a DevTools websocket URL. Empty launches a local browser.
	Remote string `yaml:"remote"`
}

func (c *Config) applyDefaults() {
	if c.Store.Path == "" {
		c.Store.Path = "fenetre.db"
	}
	if c.Capture.Debounce <= 0 {
		c.Capture.Debounce = 5 * time.Second
	}
	if c.Capture.SettleDelay <= 0 {
		c.Capture.SettleDelay = 200 * time.Millisecond
	}
	if c.Capture.RetryDelay <= 0 {
		c.Capture.RetryDelay = 150 * time.Millisecond
	}
	if c.Retention.SnapshotTTL <= 0 {
		c.Retention.SnapshotTTL = 30 * 24 * time.Hour
	}
	if c.Retention.UndoTTL <= 0 {
		c.Retention.UndoTTL = 5 * time.Minute
	}
	if c.Match.Threshold <= 0 {
		c.Match.Threshold = 0.70
	}
	if c.Admin.Addr == "" {
		c.Admin.Addr = "127.0.0.1:8090"
	}
	if c.Sync.Listen == "" {
		c.Sync.Listen = "127.0.0.1:7443"
	}
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() Config {
	var c Config
	c.applyDefaults()
	return c
}

// LoadConfigFile reads a YAML config file and applies defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}
