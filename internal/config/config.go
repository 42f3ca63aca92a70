// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig  `mapstructure:"server"`
	Crawl      CrawlConfig   `mapstructure:"crawl"`
	Jira       SourceConfig  `mapstructure:"jira"`
	Confluence SourceConfig  `mapstructure:"confluence"`
	Drive      SourceConfig  `mapstructure:"drive"`
	Output     OutputConfig  `mapstructure:"output"`
	DB         DBConfig      `mapstructure:"db"`
	PubSub     PubSubConfig  `mapstructure:"pubsub"`
	Logging    LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlConfig governs the worker pool and traversal behavior.
type CrawlConfig struct {
	Concurrency       int  `mapstructure:"concurrency"`
	PageSize          int  `mapstructure:"page_size"`
	SkipRemoteContent bool `mapstructure:"skip_remote_content"`
	SettleDelayMs     int  `mapstructure:"settle_delay_ms"`
}

// SourceConfig configures one remote service connection.
type SourceConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BaseURL        string `mapstructure:"base_url"`
	Username       string `mapstructure:"username"`
	APIToken       string `mapstructure:"api_token"`
	MaxConcurrent  int    `mapstructure:"max_concurrent"`
	CallDelayMs    int    `mapstructure:"call_delay_ms"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// OutputConfig sets where crawl results are written.
type OutputConfig struct {
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
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
	v.SetEnvPrefix("KBCRAWL")
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
	v.SetDefault("crawl.concurrency", 10)
	v.SetDefault("crawl.page_size", 100)
	v.SetDefault("crawl.skip_remote_content", false)
	v.SetDefault("crawl.settle_delay_ms", 50)
	v.SetDefault("jira.enabled", true)
	v.SetDefault("jira.max_concurrent", 5)
	v.SetDefault("jira.call_delay_ms", 100)
	v.SetDefault("jira.timeout_seconds", 30)
	v.SetDefault("confluence.enabled", true)
	v.SetDefault("confluence.max_concurrent", 5)
	v.SetDefault("confluence.call_delay_ms", 100)
	v.SetDefault("confluence.timeout_seconds", 30)
	v.SetDefault("drive.enabled", false)
	v.SetDefault("drive.max_concurrent", 2)
	v.SetDefault("drive.call_delay_ms", 100)
	v.SetDefault("drive.timeout_seconds", 60)
	v.SetDefault("output.dir", "out")
	v.SetDefault("output.prefix", "exports")
	v.SetDefault("db.table", "documents")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawl.Concurrency <= 0 {
		return fmt.Errorf("crawl.concurrency must be > 0")
	}
	if c.Crawl.PageSize <= 0 {
		return fmt.Errorf("crawl.page_size must be > 0")
	}
	for name, src := range map[string]SourceConfig{
		"jira":       c.Jira,
		"confluence": c.Confluence,
		"drive":      c.Drive,
	} {
		if !src.Enabled {
			continue
		}
		if src.BaseURL == "" {
			return fmt.Errorf("%s.base_url must be set when %s is enabled", name, name)
		}
		if src.MaxConcurrent <= 0 {
			return fmt.Errorf("%s.max_concurrent must be > 0", name)
		}
	}
	if !c.Jira.Enabled && !c.Confluence.Enabled && !c.Drive.Enabled {
		return fmt.Errorf("at least one source must be enabled")
	}
	return nil
}

// CallDelay converts the per-call delay into a duration.
func (s SourceConfig) CallDelay() time.Duration {
	return time.Duration(s.CallDelayMs) * time.Millisecond
}

// Timeout converts the request timeout into a duration.
func (s SourceConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// SettleDelay converts the idle settle window into a duration.
func (c CrawlConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}
