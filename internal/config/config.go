// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Store     StoreConfig     `mapstructure:"store"`
	SeenCache SeenCacheConfig `mapstructure:"seen_cache"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Search    SearchConfig    `mapstructure:"search"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Progress  ProgressConfig  `mapstructure:"progress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	RequestTimeout int `mapstructure:"request_timeout_seconds"`
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

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
}

// CrawlerConfig governs the frontier: site profile, seeds and scheduling.
type CrawlerConfig struct {
	Concurrency   int               `mapstructure:"concurrency"`
	MaxPages      int               `mapstructure:"max_pages"`
	UserAgent     string            `mapstructure:"user_agent"`
	Referer       string            `mapstructure:"referer"`
	Headers       map[string]string `mapstructure:"headers"`
	Profile       string            `mapstructure:"profile"`
	ListingURL    string            `mapstructure:"listing_url"`
	DetailURL     string            `mapstructure:"detail_url"`
	SourceWebsite string            `mapstructure:"source_website"`
	Keywords      []string          `mapstructure:"keywords"`
	Cities        []string          `mapstructure:"cities"`
	RespectRobots bool              `mapstructure:"respect_robots"`
	PreCheck      bool              `mapstructure:"precheck"`
	RunTimeout    time.Duration     `mapstructure:"run_timeout"`
	Schedule      string            `mapstructure:"schedule"`
}

// Seeds expands keywords x cities into frontier seeds.
func (c CrawlerConfig) Seeds() []crawler.Seed {
	seeds := make([]crawler.Seed, 0, len(c.Keywords)*len(c.Cities))
	for _, keyword := range c.Keywords {
		for _, city := range c.Cities {
			seeds = append(seeds, crawler.Seed{Keyword: keyword, City: city})
		}
	}
	return seeds
}

// HTTPConfig configures the HTTP fetcher.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int `mapstructure:"max_body_bytes"`
}

// RateLimitConfig configures per-host token buckets.
type RateLimitConfig struct {
	Enabled      bool            `mapstructure:"enabled"`
	DefaultRPS   float64         `mapstructure:"default_rps"`
	DefaultBurst int             `mapstructure:"default_burst"`
	Hosts        []HostRateLimit `mapstructure:"hosts"`
}

// HostRateLimit overrides the default bucket for one host. Hosts are a list
// because Viper splits map keys on dots.
type HostRateLimit struct {
	Host  string  `mapstructure:"host"`
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	MaxParallel     int      `mapstructure:"max_parallel"`
	NavTimeoutSec   int      `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int      `mapstructure:"promotion_threshold"`
	WaitSelector    string   `mapstructure:"wait_selector"`
	SettleDelayMs   int      `mapstructure:"settle_delay_ms"`
	ExecPath        string   `mapstructure:"exec_path"`
	ContentMarkers  []string `mapstructure:"content_markers"`
}

// IngestConfig sizes the worker pool and names the posting container.
type IngestConfig struct {
	Workers        int    `mapstructure:"workers"`
	QueueDepth     int    `mapstructure:"queue_depth"`
	ContainerSlug  string `mapstructure:"container_slug"`
	ContainerTitle string `mapstructure:"container_title"`
	Topic          string `mapstructure:"topic"`
}

// StoreConfig selects the content and run store backend.
type StoreConfig struct {
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// MongoConfig controls access to MongoDB.
type MongoConfig struct {
	URI      string        `mapstructure:"uri"`
	Database string        `mapstructure:"database"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SeenCacheConfig configures the seen cache. Driver is redis or memory.
type SeenCacheConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Driver    string        `mapstructure:"driver"`
	RedisURL  string        `mapstructure:"redis_url"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// PublisherConfig selects where posting events go.
type PublisherConfig struct {
	Driver string            `mapstructure:"driver"`
	Redis  RedisStreamConfig `mapstructure:"redis"`
	PubSub PubSubConfig      `mapstructure:"pubsub"`
}

// RedisStreamConfig configures the Redis stream publisher.
type RedisStreamConfig struct {
	URL    string `mapstructure:"url"`
	MaxLen int64  `mapstructure:"max_len"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// SearchConfig configures Elasticsearch indexing.
type SearchConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

// ArchiveConfig selects where raw detail pages are kept.
type ArchiveConfig struct {
	Driver string      `mapstructure:"driver"`
	Prefix string      `mapstructure:"prefix"`
	Local  LocalConfig `mapstructure:"local"`
	Bucket string      `mapstructure:"gcs_bucket"`
}

// LocalConfig configures the filesystem archive.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// ProgressConfig configures the progress hub.
type ProgressConfig struct {
	Enabled       bool        `mapstructure:"enabled"`
	LogEnabled    bool        `mapstructure:"log_enabled"`
	BufferSize    int         `mapstructure:"buffer_size"`
	Batch         BatchConfig `mapstructure:"batch"`
	SinkTimeoutMs int         `mapstructure:"sink_timeout_ms"`
}

// BatchConfig bounds progress batches.
type BatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("JOBCRAWLER")
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
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "jobcrawler")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("crawler.concurrency", 8)
	v.SetDefault("crawler.max_pages", 10)
	v.SetDefault("crawler.user_agent", "Mozilla/5.0 (compatible; jobcrawler/0.1)")
	v.SetDefault("crawler.profile", "zhilian")
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.precheck", true)
	v.SetDefault("crawler.run_timeout", "0s")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_body_bytes", 10<<20)
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.default_rps", 2.0)
	v.SetDefault("ratelimit.default_burst", 2)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 60)
	v.SetDefault("headless.wait_selector", "body")
	v.SetDefault("headless.settle_delay_ms", 500)
	v.SetDefault("ingest.workers", 4)
	v.SetDefault("ingest.queue_depth", 64)
	v.SetDefault("ingest.topic", crawler.PostingEventCreated)
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.postgres.max_conns", 10)
	v.SetDefault("store.postgres.min_conns", 1)
	v.SetDefault("store.postgres.max_conn_lifetime", "30m")
	v.SetDefault("store.postgres.migrate", true)
	v.SetDefault("store.mongo.database", "jobcrawler")
	v.SetDefault("store.mongo.timeout", "10s")
	v.SetDefault("seen_cache.enabled", false)
	v.SetDefault("seen_cache.driver", "redis")
	v.SetDefault("seen_cache.key_prefix", "jobcrawler:seen:")
	v.SetDefault("seen_cache.ttl", "168h")
	v.SetDefault("publisher.driver", "memory")
	v.SetDefault("publisher.redis.max_len", 10000)
	v.SetDefault("search.enabled", false)
	v.SetDefault("search.index", "postings")
	v.SetDefault("archive.driver", "none")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.local.base_dir", "./data/pages")
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.batch.max_events", 1000)
	v.SetDefault("progress.batch.max_wait_ms", 500)
	v.SetDefault("progress.sink_timeout_ms", 10000)
}

// maxListingPages is the hard cap on each seed's pagination chain.
const maxListingPages = 10

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.MaxPages <= 0 || c.Crawler.MaxPages > maxListingPages {
		return fmt.Errorf("crawler.max_pages must be between 1 and %d", maxListingPages)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest.workers must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Crawler.Schedule != "" {
		if _, err := cron.ParseStandard(c.Crawler.Schedule); err != nil {
			return fmt.Errorf("crawler.schedule: %w", err)
		}
	}
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn must be set for the postgres driver")
		}
	case "mongo":
		if c.Store.Mongo.URI == "" {
			return fmt.Errorf("store.mongo.uri must be set for the mongo driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.SeenCache.Enabled {
		switch c.SeenCache.Driver {
		case "memory":
		case "redis":
			if c.SeenCache.RedisURL == "" {
				return fmt.Errorf("seen_cache.redis_url must be set for the redis seen cache")
			}
		default:
			return fmt.Errorf("unknown seen_cache.driver %q", c.SeenCache.Driver)
		}
	}
	switch c.Publisher.Driver {
	case "none", "memory":
	case "redis":
		if c.Publisher.Redis.URL == "" {
			return fmt.Errorf("publisher.redis.url must be set for the redis publisher")
		}
	case "pubsub":
		if c.Publisher.PubSub.ProjectID == "" || c.Publisher.PubSub.TopicName == "" {
			return fmt.Errorf("publisher.pubsub.project_id and topic_name must be set for the pubsub publisher")
		}
	default:
		return fmt.Errorf("unknown publisher.driver %q", c.Publisher.Driver)
	}
	if c.Search.Enabled && len(c.Search.Addresses) == 0 {
		return fmt.Errorf("search.addresses must be set when search is enabled")
	}
	switch c.Archive.Driver {
	case "none", "memory", "local":
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set for the gcs archive")
		}
	default:
		return fmt.Errorf("unknown archive.driver %q", c.Archive.Driver)
	}
	return nil
}

// TrustSeenCache reports whether a seen-cache hit may stand in for a store
// lookup. A redis cache over the in-memory store outlives the postings it
// remembers, so its hits must be confirmed.
func (c Config) TrustSeenCache() bool {
	return c.Store.Driver != "memory" || c.SeenCache.Driver == "memory"
}

// FetchTimeout returns the per-request HTTP timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
