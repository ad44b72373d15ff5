// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/harvesterlabs/threadharvest/internal/harvest"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Harvest     HarvestConfig     `mapstructure:"harvest"`
	Upstream    UpstreamConfig    `mapstructure:"upstream"`
	Discovery   DiscoveryConfig   `mapstructure:"discovery"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Output      OutputConfig      `mapstructure:"output"`
	Publisher   PublisherConfig   `mapstructure:"publisher"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls the HTTP API server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// HarvestConfig governs the comment harvesting pipeline.
type HarvestConfig struct {
	Concurrency        int     `mapstructure:"concurrency"`
	MaxRetries         int     `mapstructure:"max_retries"`
	BaseDelayMs        int     `mapstructure:"base_delay_ms"`
	RootPageSize       int     `mapstructure:"root_page_size"`
	ReplyPageSize      int     `mapstructure:"reply_page_size"`
	RootCap            int     `mapstructure:"root_cap"`
	MaxRepliesPerRoot  int     `mapstructure:"max_replies_per_root"`
	MinLength          int     `mapstructure:"min_length"`
	ReplyDelayMinMs    int     `mapstructure:"reply_delay_min_ms"`
	ReplyDelayMaxMs    int     `mapstructure:"reply_delay_max_ms"`
	RequestsPerSecond  float64 `mapstructure:"requests_per_second"`
	RunDeadlineSeconds int     `mapstructure:"run_deadline_seconds"`
}

// UpstreamConfig points at the comment service.
type UpstreamConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DiscoveryConfig controls the search-page scraper.
type DiscoveryConfig struct {
	SearchURL         string `mapstructure:"search_url"`
	MaxResults        int    `mapstructure:"max_results"`
	LinkSelector      string `mapstructure:"link_selector"`
	LinkPrefix        string `mapstructure:"link_prefix"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	HeadlessEnabled   bool   `mapstructure:"headless_enabled"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
}

// CredentialsConfig locates the session bundle.
type CredentialsConfig struct {
	Path string `mapstructure:"path"`
}

// OutputConfig selects the artifact sink.
type OutputConfig struct {
	Dir         string `mapstructure:"dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PublisherConfig holds metadata for run-completion notifications.
type PublisherConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("THREADHARVEST")
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
	v.SetDefault("harvest.concurrency", 3)
	v.SetDefault("harvest.max_retries", 3)
	v.SetDefault("harvest.base_delay_ms", 500)
	v.SetDefault("harvest.root_page_size", 20)
	v.SetDefault("harvest.reply_page_size", 10)
	v.SetDefault("harvest.root_cap", 60)
	v.SetDefault("harvest.max_replies_per_root", 20)
	v.SetDefault("harvest.min_length", 5)
	v.SetDefault("harvest.reply_delay_min_ms", 200)
	v.SetDefault("harvest.reply_delay_max_ms", 600)
	v.SetDefault("harvest.requests_per_second", 4)
	v.SetDefault("harvest.run_deadline_seconds", 120)
	v.SetDefault("upstream.user_agent", "threadharvest/1.0 (+https://github.com/harvesterlabs/threadharvest)")
	v.SetDefault("upstream.timeout_seconds", 10)
	v.SetDefault("discovery.max_results", 3)
	v.SetDefault("discovery.link_selector", ".result-card a")
	v.SetDefault("discovery.timeout_seconds", 15)
	v.SetDefault("discovery.headless_enabled", false)
	v.SetDefault("discovery.nav_timeout_seconds", 25)
	v.SetDefault("output.dir", "data/runs")
	v.SetDefault("output.prefix", "runs")
	v.SetDefault("output.content_type", "text/plain; charset=utf-8")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Harvest.Concurrency <= 0 {
		return fmt.Errorf("harvest.concurrency must be > 0")
	}
	if c.Harvest.MaxRetries <= 0 {
		return fmt.Errorf("harvest.max_retries must be > 0")
	}
	if c.Harvest.RootPageSize <= 0 || c.Harvest.ReplyPageSize <= 0 {
		return fmt.Errorf("harvest page sizes must be > 0")
	}
	if c.Harvest.ReplyDelayMaxMs < c.Harvest.ReplyDelayMinMs {
		return fmt.Errorf("harvest.reply_delay_max_ms must be >= reply_delay_min_ms")
	}
	if c.Harvest.RunDeadlineSeconds <= 0 {
		return fmt.Errorf("harvest.run_deadline_seconds must be > 0")
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		return fmt.Errorf("upstream.timeout_seconds must be > 0")
	}
	if c.Output.Dir == "" && c.Output.GCSBucket == "" {
		return fmt.Errorf("one of output.dir or output.gcs_bucket must be set")
	}
	return nil
}

// HarvestConfig converts the loaded knobs into the core's duration-based form.
func (c Config) HarvestConfig() harvest.Config {
	return harvest.Config{
		Concurrency:       c.Harvest.Concurrency,
		MaxRetries:        c.Harvest.MaxRetries,
		BaseDelay:         time.Duration(c.Harvest.BaseDelayMs) * time.Millisecond,
		RootPageSize:      c.Harvest.RootPageSize,
		ReplyPageSize:     c.Harvest.ReplyPageSize,
		RootCap:           c.Harvest.RootCap,
		MaxRepliesPerRoot: c.Harvest.MaxRepliesPerRoot,
		MinLength:         c.Harvest.MinLength,
		ReplyDelayMin:     time.Duration(c.Harvest.ReplyDelayMinMs) * time.Millisecond,
		ReplyDelayMax:     time.Duration(c.Harvest.ReplyDelayMaxMs) * time.Millisecond,
		RequestsPerSecond: c.Harvest.RequestsPerSecond,
		RunDeadline:       time.Duration(c.Harvest.RunDeadlineSeconds) * time.Second,
	}
}

// UpstreamTimeout returns the upstream request timeout as a duration.
func (c Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Upstream.TimeoutSeconds) * time.Second
}
