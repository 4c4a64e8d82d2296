// Package config loads and validates explorer configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
	"github.com/Sbajrac2/Reddit-explorer/internal/export"
	"github.com/Sbajrac2/Reddit-explorer/internal/policy/ratelimit"
)

// EnvPrefix namespaces environment overrides, e.g. EXPLORER_SERVER_PORT.
const EnvPrefix = "EXPLORER"

// Backend names shared across sections.
const (
	BackendMemory   = "memory"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMongo    = "mongo"
	BackendRedis    = "redis"
	BackendNone     = "none"
	BackendPubSub   = "pubsub"
	BackendNATS     = "nats"
	BackendKafka    = "kafka"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Pacing    PacingConfig    `mapstructure:"pacing"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Records   RecordsConfig   `mapstructure:"records"`
	Status    StatusConfig    `mapstructure:"status"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// APIKey guards /v1 routes when set.
	APIKey string `mapstructure:"api_key"`
}

// CrawlerConfig governs query planning and extraction.
type CrawlerConfig struct {
	Origin            string `mapstructure:"origin"`
	JSONOrigin        string `mapstructure:"json_origin"`
	Representation    string `mapstructure:"representation"`
	UserAgent         string `mapstructure:"user_agent"`
	HistoricalPageCap int    `mapstructure:"historical_page_cap"`
	LivePageCap       int    `mapstructure:"live_page_cap"`
	JSONPageLimit     int    `mapstructure:"json_page_limit"`
	RespectRobots     bool   `mapstructure:"respect_robots"`
	// SessionRetain bounds how many finished sessions stay addressable in memory.
	SessionRetain int `mapstructure:"session_retain"`
}

// PacingConfig controls the delay before continuation requests.
type PacingConfig struct {
	Mode  string        `mapstructure:"mode"`
	Delay time.Duration `mapstructure:"delay"`
	Burst int           `mapstructure:"burst"`
}

// HTTPConfig configures the HTTP client.
type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	MaxParallel        int           `mapstructure:"max_parallel"`
	NavigationTimeout  time.Duration `mapstructure:"navigation_timeout"`
	PromotionThreshold int           `mapstructure:"promotion_threshold"`
	WaitSelector       string        `mapstructure:"wait_selector"`
	ScrollPasses       int           `mapstructure:"scroll_passes"`
}

// StorageConfig selects where completed crawls are exported.
type StorageConfig struct {
	Backend      string             `mapstructure:"backend"`
	Local        LocalStorageConfig `mapstructure:"local"`
	GCS          GCSStorageConfig   `mapstructure:"gcs"`
	ExportFormat string             `mapstructure:"export_format"`
	Prefix       string             `mapstructure:"prefix"`
}

// LocalStorageConfig points the filesystem exporter at a directory.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// GCSStorageConfig names the export bucket.
type GCSStorageConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// RecordsConfig selects the record store.
type RecordsConfig struct {
	Backend  string         `mapstructure:"backend"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
}

// PostgresConfig holds the pgx pool settings.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// SQLiteConfig holds the database file path.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// MongoConfig holds the mongo connection settings.
type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// StatusConfig selects the session status store.
type StatusConfig struct {
	Backend string      `mapstructure:"backend"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds redis connection settings.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// PublisherConfig selects the completion notifier.
type PublisherConfig struct {
	Backend string       `mapstructure:"backend"`
	Topic   string       `mapstructure:"topic"`
	PubSub  PubSubConfig `mapstructure:"pubsub"`
	NATS    NATSConfig   `mapstructure:"nats"`
	Kafka   KafkaConfig  `mapstructure:"kafka"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// NATSConfig holds the NATS server URL.
type NATSConfig struct {
	URL string `mapstructure:"url"`
}

// KafkaConfig lists the brokers to dial.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

// ProgressConfig tunes the progress event hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
	LogEvents      bool          `mapstructure:"log_events"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig names the service for traces. Spans go to Cloud Trace
// only when ProjectID is set.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
	ProjectID   string `mapstructure:"project_id"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.api_key", "")
	v.SetDefault("crawler.origin", "https://old.reddit.com")
	v.SetDefault("crawler.json_origin", "https://www.reddit.com")
	v.SetDefault("crawler.representation", string(crawler.RepresentationHTML))
	v.SetDefault("crawler.user_agent", "reddit-explorer/0.1")
	v.SetDefault("crawler.historical_page_cap", 40)
	v.SetDefault("crawler.live_page_cap", 0)
	v.SetDefault("crawler.json_page_limit", 100)
	v.SetDefault("crawler.session_retain", 256)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("pacing.mode", ratelimit.ModeFixed)
	v.SetDefault("pacing.delay", "2s")
	v.SetDefault("pacing.burst", 1)
	v.SetDefault("http.timeout", "15s")
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.navigation_timeout", "25s")
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("headless.wait_selector", "body")
	v.SetDefault("headless.scroll_passes", 2)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.local.base_dir", "data/exports")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.export_format", export.FormatJSON)
	v.SetDefault("storage.prefix", "crawls")
	v.SetDefault("records.backend", BackendMemory)
	v.SetDefault("records.postgres.dsn", "")
	v.SetDefault("records.postgres.table", "crawl_records")
	v.SetDefault("records.postgres.max_conns", 4)
	v.SetDefault("records.sqlite.path", "data/explorer.db")
	v.SetDefault("records.mongo.uri", "")
	v.SetDefault("records.mongo.database", "explorer")
	v.SetDefault("records.mongo.collection", "records")
	v.SetDefault("status.backend", BackendMemory)
	v.SetDefault("status.redis.addr", "")
	v.SetDefault("status.redis.password", "")
	v.SetDefault("status.redis.db", 0)
	v.SetDefault("status.redis.ttl", "24h")
	v.SetDefault("publisher.backend", BackendNone)
	v.SetDefault("publisher.topic", "crawl-finished")
	v.SetDefault("publisher.pubsub.project_id", "")
	v.SetDefault("publisher.nats.url", "")
	v.SetDefault("publisher.kafka.brokers", []string{})
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 256)
	v.SetDefault("progress.max_batch_wait", "250ms")
	v.SetDefault("progress.sink_timeout", "2s")
	v.SetDefault("progress.log_events", true)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("telemetry.service_name", "reddit-explorer")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("telemetry.project_id", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 || c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server timeouts must be > 0")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	switch crawler.Representation(c.Crawler.Representation) {
	case crawler.RepresentationHTML, crawler.RepresentationJSON, crawler.RepresentationRSS:
	default:
		return fmt.Errorf("crawler.representation %q is not one of html, json, rss", c.Crawler.Representation)
	}
	if c.Crawler.HistoricalPageCap < 0 || c.Crawler.LivePageCap < 0 {
		return fmt.Errorf("crawler page caps must be >= 0")
	}
	if c.Crawler.JSONPageLimit <= 0 {
		return fmt.Errorf("crawler.json_page_limit must be > 0")
	}
	switch c.Pacing.Mode {
	case ratelimit.ModeFixed, ratelimit.ModeTokenBucket, ratelimit.ModeNone:
	default:
		return fmt.Errorf("pacing.mode %q is not one of fixed, token_bucket, none", c.Pacing.Mode)
	}
	if c.Pacing.Delay < 0 {
		return fmt.Errorf("pacing.delay must be >= 0")
	}
	if c.Pacing.Mode == ratelimit.ModeTokenBucket && (c.Pacing.Delay <= 0 || c.Pacing.Burst <= 0) {
		return fmt.Errorf("pacing.delay and pacing.burst must be > 0 for token_bucket")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Headless.Enabled && c.Headless.NavigationTimeout <= 0 {
		return fmt.Errorf("headless.navigation_timeout must be > 0 when headless is enabled")
	}
	if c.Headless.ScrollPasses < 0 {
		return fmt.Errorf("headless.scroll_passes must be >= 0")
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateRecords(); err != nil {
		return err
	}
	if err := c.validateStatus(); err != nil {
		return err
	}
	if err := c.validatePublisher(); err != nil {
		return err
	}
	if c.Progress.BufferSize <= 0 || c.Progress.MaxBatchEvents <= 0 {
		return fmt.Errorf("progress buffer_size and max_batch_events must be > 0")
	}
	if c.Telemetry.ServiceName == "" {
		return fmt.Errorf("telemetry.service_name must be set")
	}
	return nil
}

func (c Config) validateStorage() error {
	if _, err := export.ForFormat(c.Storage.ExportFormat); err != nil {
		return fmt.Errorf("storage.export_format: %w", err)
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, local, gcs", c.Storage.Backend)
	}
	return nil
}

func (c Config) validateRecords() error {
	switch c.Records.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Records.Postgres.DSN == "" {
			return fmt.Errorf("records.postgres.dsn must be set for the postgres backend")
		}
		if c.Records.Postgres.Table == "" {
			return fmt.Errorf("records.postgres.table must be set for the postgres backend")
		}
	case BackendSQLite:
		if c.Records.SQLite.Path == "" {
			return fmt.Errorf("records.sqlite.path must be set for the sqlite backend")
		}
	case BackendMongo:
		if c.Records.Mongo.URI == "" || c.Records.Mongo.Database == "" || c.Records.Mongo.Collection == "" {
			return fmt.Errorf("records.mongo uri, database and collection must be set for the mongo backend")
		}
	default:
		return fmt.Errorf("records.backend %q is not one of memory, postgres, sqlite, mongo", c.Records.Backend)
	}
	return nil
}

func (c Config) validateStatus() error {
	switch c.Status.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Status.Redis.Addr == "" {
			return fmt.Errorf("status.redis.addr must be set for the redis backend")
		}
		if c.Status.Redis.TTL < 0 {
			return fmt.Errorf("status.redis.ttl must be >= 0")
		}
	case BackendPostgres:
		if c.Records.Postgres.DSN == "" {
			return fmt.Errorf("records.postgres.dsn must be set for the postgres status backend")
		}
	case BackendSQLite:
		if c.Records.SQLite.Path == "" {
			return fmt.Errorf("records.sqlite.path must be set for the sqlite status backend")
		}
	default:
		return fmt.Errorf("status.backend %q is not one of memory, redis, postgres, sqlite", c.Status.Backend)
	}
	return nil
}

func (c Config) validatePublisher() error {
	switch c.Publisher.Backend {
	case BackendNone, BackendMemory:
		return nil
	case BackendPubSub:
		if c.Publisher.PubSub.ProjectID == "" {
			return fmt.Errorf("publisher.pubsub.project_id must be set for the pubsub backend")
		}
	case BackendNATS:
		if c.Publisher.NATS.URL == "" {
			return fmt.Errorf("publisher.nats.url must be set for the nats backend")
		}
	case BackendKafka:
		if len(c.Publisher.Kafka.Brokers) == 0 {
			return fmt.Errorf("publisher.kafka.brokers must be set for the kafka backend")
		}
	default:
		return fmt.Errorf("publisher.backend %q is not one of none, memory, pubsub, nats, kafka", c.Publisher.Backend)
	}
	if c.Publisher.Topic == "" {
		return fmt.Errorf("publisher.topic must be set")
	}
	return nil
}
