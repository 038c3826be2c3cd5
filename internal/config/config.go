// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scrape    ScrapeConfig    `mapstructure:"scrape"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Search    SearchConfig    `mapstructure:"search"`
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

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ScrapeConfig governs routing and batch execution.
type ScrapeConfig struct {
	Concurrency     int               `mapstructure:"concurrency"`
	PrimaryProvider string            `mapstructure:"primary_provider"`
	DomainPolicy    map[string]string `mapstructure:"domain_policy"`
	MinContentBytes int               `mapstructure:"min_content_bytes"`
	Screenshots     bool              `mapstructure:"screenshots"`
}

// ProvidersConfig binds credentials and budgets per provider.
type ProvidersConfig struct {
	Firecrawl FirecrawlConfig `mapstructure:"firecrawl"`
	Unlocker  UnlockerConfig  `mapstructure:"unlocker"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
}

// FirecrawlConfig configures the Firecrawl provider.
type FirecrawlConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	BaseURL        string  `mapstructure:"base_url"`
	RetryBudget    int     `mapstructure:"retry_budget"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RequestsPerSec float64 `mapstructure:"requests_per_sec"`
}

// UnlockerConfig configures the Bright Data Web Unlocker provider.
type UnlockerConfig struct {
	APIToken       string  `mapstructure:"api_token"`
	Zone           string  `mapstructure:"zone"`
	BaseURL        string  `mapstructure:"base_url"`
	RetryBudget    int     `mapstructure:"retry_budget"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RequestsPerSec float64 `mapstructure:"requests_per_sec"`
}

// HeadlessConfig configures the local Chrome provider.
type HeadlessConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	RetryBudget   int    `mapstructure:"retry_budget"`
	MaxParallel   int    `mapstructure:"max_parallel"`
	UserAgent     string `mapstructure:"user_agent"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs int    `mapstructure:"settle_delay_ms"`
}

// ExtractConfig configures the Gemini extraction step.
type ExtractConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	Temperature    float64 `mapstructure:"temperature"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxChars       int     `mapstructure:"max_chars"`
}

// StorageConfig selects and configures the screenshot blob backend.
type StorageConfig struct {
	Backend       string `mapstructure:"backend"`
	GCSBucket     string `mapstructure:"gcs_bucket"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	LocalBaseDir  string `mapstructure:"local_base_dir"`
	MaxEncodes    int    `mapstructure:"max_encodes"`
}

// DBConfig controls the Postgres snapshot store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// IngestConfig controls telemetry delivery to the analytics sink.
type IngestConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	Token            string `mapstructure:"token"`
	Datasource       string `mapstructure:"datasource"`
	JobsDatasource   string `mapstructure:"jobs_datasource"`
	BatchSize        int    `mapstructure:"batch_size"`
	FlushIntervalSec int    `mapstructure:"flush_interval_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
}

// WebhookConfig holds the terminal report destination.
type WebhookConfig struct {
	URL    string `mapstructure:"url"`
	Secret string `mapstructure:"secret"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// SearchConfig configures the product discovery crawler.
type SearchConfig struct {
	UserAgent    string `mapstructure:"user_agent"`
	MaxResults   int    `mapstructure:"max_results"`
	DelaySeconds int    `mapstructure:"delay_seconds"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICEWATCH")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("scrape.concurrency", 10)
	v.SetDefault("scrape.primary_provider", "firecrawl")
	v.SetDefault("scrape.min_content_bytes", 5000)
	v.SetDefault("scrape.screenshots", true)
	v.SetDefault("providers.firecrawl.retry_budget", 1)
	v.SetDefault("providers.firecrawl.timeout_seconds", 90)
	v.SetDefault("providers.firecrawl.requests_per_sec", 5)
	v.SetDefault("providers.unlocker.retry_budget", 3)
	v.SetDefault("providers.unlocker.timeout_seconds", 120)
	v.SetDefault("providers.unlocker.requests_per_sec", 5)
	v.SetDefault("providers.headless.enabled", true)
	v.SetDefault("providers.headless.retry_budget", 2)
	v.SetDefault("providers.headless.max_parallel", 2)
	v.SetDefault("providers.headless.nav_timeout_seconds", 45)
	v.SetDefault("providers.headless.settle_delay_ms", 2000)
	v.SetDefault("extract.model", "gemini-2.0-flash")
	v.SetDefault("extract.temperature", 0.1)
	v.SetDefault("extract.timeout_seconds", 60)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.max_encodes", 4)
	v.SetDefault("db.table", "job_snapshots")
	v.SetDefault("ingest.datasource", "scrape_events")
	v.SetDefault("ingest.jobs_datasource", "job_snapshots")
	v.SetDefault("ingest.batch_size", 50)
	v.SetDefault("ingest.flush_interval_seconds", 10)
	v.SetDefault("ingest.max_retries", 5)
	v.SetDefault("search.max_results", 20)
	v.SetDefault("search.delay_seconds", 1)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scrape.Concurrency <= 0 {
		return fmt.Errorf("scrape.concurrency must be > 0")
	}
	if c.Providers.Headless.Enabled && c.Providers.Headless.MaxParallel <= 0 {
		return fmt.Errorf("providers.headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case "memory", "local", "gcs":
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs")
	}
	if c.Storage.Backend == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
	}
	if c.Storage.Backend == "local" && c.Storage.LocalBaseDir == "" {
		return fmt.Errorf("storage.local_base_dir must be set for the local backend")
	}
	return nil
}

// FlushInterval converts the configured ingest flush interval.
func (c IngestConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalSec) * time.Second
}
