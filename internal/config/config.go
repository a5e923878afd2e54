// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sshtomar/llm-txt/internal/generator"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Summarizer SummarizerConfig `mapstructure:"summarizer"`
	Storage    StorageConfig    `mapstructure:"storage"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port             int     `mapstructure:"port"`
	RateLimitBurst   int     `mapstructure:"rate_limit_burst"`
	RateLimitRefill  float64 `mapstructure:"rate_limit_refill_seconds"`
	RequestTimeoutMs int     `mapstructure:"request_timeout_ms"`
}

// CrawlerConfig governs the crawl pipeline defaults applied to jobs.
type CrawlerConfig struct {
	MaxPagesDefault int     `mapstructure:"max_pages_default"`
	MaxDepthDefault int     `mapstructure:"max_depth_default"`
	MaxKBDefault    int     `mapstructure:"max_kb_default"`
	UserAgent       string  `mapstructure:"user_agent"`
	DelaySeconds    float64 `mapstructure:"delay_seconds"`
	Concurrency     int     `mapstructure:"concurrency"`
	PerHostMax      int     `mapstructure:"per_host_max"`
	TimeoutSeconds  int     `mapstructure:"timeout_seconds"`
	JobBudgetSec    int     `mapstructure:"job_budget_seconds"`
}

// HeadlessConfig configures the rendering fallback.
type HeadlessConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	MaxParallel   int     `mapstructure:"max_parallel"`
	NavTimeoutSec int     `mapstructure:"nav_timeout_seconds"`
	MinTextChars  int     `mapstructure:"min_text_chars"`
	DomainQPS     float64 `mapstructure:"domain_qps"`
}

// SummarizerConfig selects and tunes the LLM backend.
type SummarizerConfig struct {
	APIKey    string  `mapstructure:"api_key"`
	Model     string  `mapstructure:"model"`
	BaseURL   string  `mapstructure:"base_url"`
	RPS       float64 `mapstructure:"rps"`
	Burst     int     `mapstructure:"burst"`
	MaxTokens int     `mapstructure:"max_tokens"`
}

// StorageConfig selects the artifact store backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
	Region  string `mapstructure:"region"`
	BaseDir string `mapstructure:"base_dir"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// JobsConfig governs retention and log buffering.
type JobsConfig struct {
	TTLDays      int `mapstructure:"ttl_days"`
	LogRingLines int `mapstructure:"log_ring_lines"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LLMTXT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindLegacyEnv(v)

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
	v.SetDefault("server.rate_limit_burst", 2)
	v.SetDefault("server.rate_limit_refill_seconds", 30)
	v.SetDefault("server.request_timeout_ms", 60000)

	v.SetDefault("crawler.max_pages_default", generator.DefaultMaxPages)
	v.SetDefault("crawler.max_depth_default", generator.DefaultMaxDepth)
	v.SetDefault("crawler.max_kb_default", generator.DefaultMaxKB)
	v.SetDefault("crawler.user_agent", "llm-txt-generator/1.0 (+https://github.com/sshtomar/llm-txt)")
	v.SetDefault("crawler.delay_seconds", 1.0)
	v.SetDefault("crawler.concurrency", 16)
	v.SetDefault("crawler.per_host_max", 4)
	v.SetDefault("crawler.timeout_seconds", 30)
	v.SetDefault("crawler.job_budget_seconds", 180)

	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 20)
	v.SetDefault("headless.min_text_chars", 200)
	v.SetDefault("headless.domain_qps", 0.5)

	v.SetDefault("summarizer.model", "claude-3-sonnet-20240229")
	v.SetDefault("summarizer.base_url", "https://api.anthropic.com")
	v.SetDefault("summarizer.rps", 1.0)
	v.SetDefault("summarizer.burst", 2)
	v.SetDefault("summarizer.max_tokens", 4000)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.base_dir", ".")

	v.SetDefault("jobs.ttl_days", 7)
	v.SetDefault("jobs.log_ring_lines", 200)

	v.SetDefault("logging.development", true)
}

// bindLegacyEnv maps the flat deployment variables onto their viper keys.
func bindLegacyEnv(v *viper.Viper) {
	aliases := map[string]string{
		"crawler.max_pages_default": "MAX_PAGES",
		"crawler.max_depth_default": "MAX_DEPTH",
		"crawler.max_kb_default":    "MAX_KB",
		"crawler.delay_seconds":     "REQUEST_DELAY",
		"crawler.user_agent":        "USER_AGENT",
		"summarizer.api_key":        "LLM_API_KEY",
		"storage.backend":           "STORAGE_BACKEND",
		"storage.bucket":            "OBJECT_STORE_BUCKET",
		"storage.prefix":            "OBJECT_STORE_PREFIX",
		"storage.region":            "OBJECT_STORE_REGION",
		"jobs.ttl_days":             "JOB_TTL_DAYS",
	}
	for key, env := range aliases {
		// BindEnv only errors on empty arguments.
		_ = v.BindEnv(key, env)
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.PerHostMax <= 0 || c.Crawler.PerHostMax > 4 {
		return fmt.Errorf("crawler.per_host_max must be in [1,4]")
	}
	if c.Crawler.MaxPagesDefault < generator.MinPages || c.Crawler.MaxPagesDefault > generator.MaxPages {
		return fmt.Errorf("crawler.max_pages_default must be in [%d,%d]", generator.MinPages, generator.MaxPages)
	}
	if c.Crawler.MaxDepthDefault < generator.MinDepth || c.Crawler.MaxDepthDefault > generator.MaxDepth {
		return fmt.Errorf("crawler.max_depth_default must be in [%d,%d]", generator.MinDepth, generator.MaxDepth)
	}
	if c.Crawler.MaxKBDefault <= 0 {
		return fmt.Errorf("crawler.max_kb_default must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Storage.Backend {
	case "memory", "local":
	case "object_store":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the object_store backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Jobs.TTLDays < 0 {
		return fmt.Errorf("jobs.ttl_days must be >= 0")
	}
	return nil
}

// JobBudget returns the per-job wall-clock ceiling.
func (c Config) JobBudget() time.Duration {
	return time.Duration(c.Crawler.JobBudgetSec) * time.Second
}

// FetchTimeout returns the total per-fetch timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}

// Defaults produces a JobRequest template from the configured defaults.
func (c Config) Defaults() generator.JobRequest {
	return generator.JobRequest{
		MaxPages:      c.Crawler.MaxPagesDefault,
		MaxDepth:      c.Crawler.MaxDepthDefault,
		MaxKB:         c.Crawler.MaxKBDefault,
		RespectRobots: true,
		UserAgent:     c.Crawler.UserAgent,
		RequestDelay:  c.Crawler.DelaySeconds,
	}
}
