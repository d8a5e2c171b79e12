// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/proofoffit/jobfeed-ingest/internal/ingest"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig          `mapstructure:"server"`
	Auth     AuthConfig            `mapstructure:"auth"`
	Ingest   IngestConfig          `mapstructure:"ingest"`
	HTTP     HTTPConfig            `mapstructure:"http"`
	Robots   RobotsConfig          `mapstructure:"robots"`
	Storage  StorageConfig         `mapstructure:"storage"`
	DB       DBConfig              `mapstructure:"db"`
	PubSub   PubSubConfig          `mapstructure:"pubsub"`
	Schedule ScheduleConfig        `mapstructure:"schedule"`
	Logging  LoggingConfig         `mapstructure:"logging"`
	Sources  []ingest.SourceConfig `mapstructure:"sources"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// IngestConfig governs run coordination and change detection.
type IngestConfig struct {
	LockName           string  `mapstructure:"lock_name"`
	LockTTLSeconds     int     `mapstructure:"lock_ttl_seconds"`
	UserAgent          string  `mapstructure:"user_agent"`
	SkewToleranceSec   int     `mapstructure:"skew_tolerance_seconds"`
	RefreshIntervalMin int     `mapstructure:"refresh_interval_minutes"`
	SelectorWindowDays int     `mapstructure:"selector_window_days"`
	SelectorRingSize   int     `mapstructure:"selector_ring_size"`
	PerHostRPS         float64 `mapstructure:"per_host_rps"`
	ChangeTopic        string  `mapstructure:"change_topic"`
}

// HTTPConfig configures fetch timeout and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// RobotsConfig controls robots.txt caching and the fail-open allowlist.
type RobotsConfig struct {
	CacheTTLMinutes int      `mapstructure:"cache_ttl_minutes"`
	Allowlist       []string `mapstructure:"allowlist"`
}

// StorageConfig sets paths and content types for snapshot persistence.
// GCSBucket selects Cloud Storage; BaseDir selects local disk; neither
// disables archiving.
type StorageConfig struct {
	GCSBucket   string `mapstructure:"gcs_bucket"`
	BaseDir     string `mapstructure:"base_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// in-memory stores, which is only useful for local development.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// ScheduleConfig enables periodic runs; an empty spec disables the scheduler.
type ScheduleConfig struct {
	CronSpec string `mapstructure:"cron_spec"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("ingest.lock_name", "jobfeed-ingest")
	v.SetDefault("ingest.lock_ttl_seconds", 600)
	v.SetDefault("ingest.user_agent", "proofoffit-ingest/0.1")
	v.SetDefault("ingest.skew_tolerance_seconds", 5)
	v.SetDefault("ingest.refresh_interval_minutes", 15)
	v.SetDefault("ingest.selector_window_days", 7)
	v.SetDefault("ingest.selector_ring_size", 1000)
	v.SetDefault("ingest.per_host_rps", 1.0)
	v.SetDefault("ingest.change_topic", "content-changes")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 60000)
	v.SetDefault("robots.cache_ttl_minutes", 60)
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Ingest.LockName == "" {
		return fmt.Errorf("ingest.lock_name must be set")
	}
	if c.Ingest.LockTTLSeconds <= 0 {
		return fmt.Errorf("ingest.lock_ttl_seconds must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries <= 0 {
		return fmt.Errorf("http.max_retries must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Storage.GCSBucket != "" && c.Storage.BaseDir != "" {
		return fmt.Errorf("storage.gcs_bucket and storage.base_dir are mutually exclusive")
	}
	for i, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("sources[%d].name must be set", i)
		}
		if src.URL == "" {
			return fmt.Errorf("sources[%d].url must be set", i)
		}
	}
	return nil
}

// LockTTL returns the lock TTL as a duration.
func (c Config) LockTTL() time.Duration {
	return time.Duration(c.Ingest.LockTTLSeconds) * time.Second
}

// FetchTimeout returns the per-fetch HTTP budget as a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffInitial returns the first retry delay as a duration.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond
}

// BackoffMax returns the retry delay ceiling as a duration.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}

// SkewTolerance returns the clock-skew allowance as a duration.
func (c Config) SkewTolerance() time.Duration {
	return time.Duration(c.Ingest.SkewToleranceSec) * time.Second
}

// RefreshInterval returns the per-URL freshness window as a duration.
func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.Ingest.RefreshIntervalMin) * time.Minute
}

// RobotsCacheTTL returns the robots.txt cache lifetime as a duration.
func (c Config) RobotsCacheTTL() time.Duration {
	return time.Duration(c.Robots.CacheTTLMinutes) * time.Minute
}
