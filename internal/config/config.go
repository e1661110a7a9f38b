// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
)

// EnvPrefix is prepended to every environment override, e.g. JOBCRAWLER_PIPELINE_SEARCH_WORKERS.
const EnvPrefix = "JOBCRAWLER"

// Backend names accepted by the pluggable sections.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendPubSub   = "pubsub"
	BackendKafka    = "kafka"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig         `mapstructure:"logging"`
	Server    ServerConfig          `mapstructure:"server"`
	Auth      AuthConfig            `mapstructure:"auth"`
	Profile   crawler.ProfileConfig `mapstructure:"profile"`
	Search    SearchConfig          `mapstructure:"search"`
	Pipeline  PipelineConfig        `mapstructure:"pipeline"`
	Browser   BrowserConfig         `mapstructure:"browser"`
	Resolver  ResolverConfig        `mapstructure:"resolver"`
	Tabs      TabsConfig            `mapstructure:"tabs"`
	Validator ValidatorConfig       `mapstructure:"validator"`
	Detail    DetailConfig          `mapstructure:"detail"`
	Session   SessionConfig         `mapstructure:"session"`
	RateLimit RateLimitConfig       `mapstructure:"ratelimit"`
	Sink      SinkConfig            `mapstructure:"sink"`
	Blob      BlobConfig            `mapstructure:"blob"`
	Publisher PublisherConfig       `mapstructure:"publisher"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SearchConfig describes the job board's search URL and listing selectors.
type SearchConfig struct {
	BaseURL      string                     `mapstructure:"base_url"`
	KeywordParam string                     `mapstructure:"keyword_param"`
	PageParam    string                     `mapstructure:"page_param"`
	FirstPage    int                        `mapstructure:"first_page"`
	PageStep     int                        `mapstructure:"page_step"`
	ExtraParams  map[string]string          `mapstructure:"extra_params"`
	Strategies   []crawler.SelectorStrategy `mapstructure:"strategies"`
}

// PipelineConfig sizes the stage pools and the retry policy.
type PipelineConfig struct {
	SearchWorkers  int           `mapstructure:"search_workers"`
	ResolveWorkers int           `mapstructure:"resolve_workers"`
	QueueSize      int           `mapstructure:"queue_size"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
	BudgetWait     time.Duration `mapstructure:"budget_wait"`
	RunTimeout     time.Duration `mapstructure:"run_timeout"`
	Snapshots      bool          `mapstructure:"snapshots"`
}

// BrowserConfig controls the Chrome process and page timing.
type BrowserConfig struct {
	Headless           bool          `mapstructure:"headless"`
	UserAgent          string        `mapstructure:"user_agent"`
	ProxyURL           string        `mapstructure:"proxy_url"`
	WindowWidth        int           `mapstructure:"window_width"`
	WindowHeight       int           `mapstructure:"window_height"`
	NavigationTimeout  time.Duration `mapstructure:"navigation_timeout"`
	NetworkIdleTimeout time.Duration `mapstructure:"network_idle_timeout"`
	SettleDelay        time.Duration `mapstructure:"settle_delay"`
	ActionTimeout      time.Duration `mapstructure:"action_timeout"`
}

// ResolverConfig bounds click-and-capture waits.
type ResolverConfig struct {
	PopupTimeout    time.Duration `mapstructure:"popup_timeout"`
	LoadTimeout     time.Duration `mapstructure:"load_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	LateTabGrace    time.Duration `mapstructure:"late_tab_grace"`
	RedirectDomains []string      `mapstructure:"redirect_domains"`
}

// TabsConfig tunes the tab sweep.
type TabsConfig struct {
	MaxExtraTabs  int           `mapstructure:"max_extra_tabs"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// ValidatorConfig extends the URL validator's built-in lists.
type ValidatorConfig struct {
	MinLength        int      `mapstructure:"min_length"`
	MinPathSegments  int      `mapstructure:"min_path_segments"`
	ExtraATSDomains  []string `mapstructure:"extra_ats_domains"`
	ExtraJobKeywords []string `mapstructure:"extra_job_keywords"`
}

// DetailConfig controls detail-page enrichment.
type DetailConfig struct {
	MinSummaryLength     int           `mapstructure:"min_summary_length"`
	MaxRetries           int           `mapstructure:"max_retries"`
	RetryDelay           time.Duration `mapstructure:"retry_delay"`
	FetchTimeout         time.Duration `mapstructure:"fetch_timeout"`
	UserAgent            string        `mapstructure:"user_agent"`
	RespectRobots        bool          `mapstructure:"respect_robots"`
	MaxBodyBytes         int           `mapstructure:"max_body_bytes"`
	DescriptionSelectors []string      `mapstructure:"description_selectors"`
}

// SessionConfig selects the cookie store.
type SessionConfig struct {
	Backend string             `mapstructure:"backend"`
	Dir     string             `mapstructure:"dir"`
	TTL     time.Duration      `mapstructure:"ttl"`
	Redis   RedisSessionConfig `mapstructure:"redis"`
}

// RedisSessionConfig holds the Redis connection for shared sessions.
type RedisSessionConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// RateLimitConfig throttles requests per host.
type RateLimitConfig struct {
	RPS     float64            `mapstructure:"rps"`
	Burst   int                `mapstructure:"burst"`
	PerHost map[string]float64 `mapstructure:"per_host"`
}

// SinkConfig selects where job records are stored.
type SinkConfig struct {
	Backend  string         `mapstructure:"backend"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig controls the job table connection pool.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// BlobConfig selects where search-page snapshots go.
type BlobConfig struct {
	Backend string          `mapstructure:"backend"`
	Local   LocalBlobConfig `mapstructure:"local"`
	GCS     GCSBlobConfig   `mapstructure:"gcs"`
}

// LocalBlobConfig roots filesystem snapshots.
type LocalBlobConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// GCSBlobConfig names the snapshot bucket.
type GCSBlobConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PublisherConfig selects the job-saved notification backend.
type PublisherConfig struct {
	Backend string       `mapstructure:"backend"`
	PubSub  PubSubConfig `mapstructure:"pubsub"`
	Kafka   KafkaConfig  `mapstructure:"kafka"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// KafkaConfig names the brokers and topic for job events.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// Load builds a Config from defaults, an optional file and the environment.
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

// Default returns the configuration Load produces with no file and no environment.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "20s")
	v.SetDefault("auth.enabled", false)

	v.SetDefault("profile.keywords", []string{})
	v.SetDefault("profile.page_limit", 3)
	v.SetDefault("profile.job_limit", 0)

	v.SetDefault("search.base_url", "https://ca.indeed.com/jobs")
	v.SetDefault("search.keyword_param", "q")
	v.SetDefault("search.page_param", "start")
	v.SetDefault("search.first_page", 0)
	v.SetDefault("search.page_step", 10)

	v.SetDefault("pipeline.search_workers", 3)
	v.SetDefault("pipeline.resolve_workers", 2)
	v.SetDefault("pipeline.queue_size", 64)
	v.SetDefault("pipeline.max_retries", 2)
	v.SetDefault("pipeline.retry_base_delay", "1s")
	v.SetDefault("pipeline.retry_max_delay", "15s")
	v.SetDefault("pipeline.budget_wait", "200ms")
	v.SetDefault("pipeline.run_timeout", "0s")
	v.SetDefault("pipeline.snapshots", false)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.window_width", 1366)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.navigation_timeout", "45s")
	v.SetDefault("browser.network_idle_timeout", "10s")
	v.SetDefault("browser.settle_delay", "1500ms")
	v.SetDefault("browser.action_timeout", "10s")

	v.SetDefault("resolver.popup_timeout", "5s")
	v.SetDefault("resolver.load_timeout", "12s")
	v.SetDefault("resolver.poll_interval", "100ms")
	v.SetDefault("resolver.late_tab_grace", "5s")

	v.SetDefault("tabs.max_extra_tabs", 3)
	v.SetDefault("tabs.sweep_interval", "2s")

	v.SetDefault("validator.min_length", 12)
	v.SetDefault("validator.min_path_segments", 2)

	v.SetDefault("detail.min_summary_length", 200)
	v.SetDefault("detail.max_retries", 1)
	v.SetDefault("detail.retry_delay", "500ms")
	v.SetDefault("detail.fetch_timeout", "15s")
	v.SetDefault("detail.user_agent", "joblisting-crawler/0.1")
	v.SetDefault("detail.respect_robots", true)
	v.SetDefault("detail.max_body_bytes", 5*1024*1024)

	v.SetDefault("session.backend", BackendFile)
	v.SetDefault("session.dir", ".sessions")
	v.SetDefault("session.ttl", "72h")
	v.SetDefault("session.redis.addr", "localhost:6379")
	v.SetDefault("session.redis.db", 0)
	v.SetDefault("session.redis.key_prefix", "jobcrawler:session:")

	v.SetDefault("ratelimit.rps", 1.0)
	v.SetDefault("ratelimit.burst", 1)

	v.SetDefault("sink.backend", BackendMemory)
	v.SetDefault("sink.postgres.table", "jobs")
	v.SetDefault("sink.postgres.max_conns", 4)

	v.SetDefault("blob.backend", BackendNone)
	v.SetDefault("blob.local.base_dir", "data/snapshots")

	v.SetDefault("publisher.backend", BackendNone)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if strings.TrimSpace(c.Search.BaseURL) == "" {
		return fmt.Errorf("search.base_url is required")
	}
	if c.Search.PageStep < 0 {
		return fmt.Errorf("search.page_step must be >= 0")
	}
	for i, s := range c.Search.Strategies {
		if s.Container == "" {
			return fmt.Errorf("search.strategies[%d].container is required", i)
		}
	}
	if c.Pipeline.SearchWorkers <= 0 {
		return fmt.Errorf("pipeline.search_workers must be > 0")
	}
	if c.Pipeline.ResolveWorkers <= 0 {
		return fmt.Errorf("pipeline.resolve_workers must be > 0")
	}
	if c.Pipeline.QueueSize <= 0 {
		return fmt.Errorf("pipeline.queue_size must be > 0")
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("pipeline.max_retries must be >= 0")
	}
	if c.Pipeline.RunTimeout < 0 {
		return fmt.Errorf("pipeline.run_timeout must be >= 0")
	}
	if c.Browser.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be > 0")
	}
	if c.Resolver.PopupTimeout <= 0 || c.Resolver.LoadTimeout <= 0 {
		return fmt.Errorf("resolver.popup_timeout and resolver.load_timeout must be > 0")
	}
	if c.Tabs.MaxExtraTabs < 0 {
		return fmt.Errorf("tabs.max_extra_tabs must be >= 0")
	}
	if c.Detail.FetchTimeout <= 0 {
		return fmt.Errorf("detail.fetch_timeout must be > 0")
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("ratelimit.rps must be >= 0")
	}
	return c.validateBackends()
}

func (c Config) validateBackends() error {
	switch c.Session.Backend {
	case BackendNone:
	case BackendFile:
		if c.Session.Dir == "" {
			return fmt.Errorf("session.dir is required for the file backend")
		}
	case BackendRedis:
		if c.Session.Redis.Addr == "" {
			return fmt.Errorf("session.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown session.backend %q", c.Session.Backend)
	}

	switch c.Sink.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Sink.Postgres.DSN == "" {
			return fmt.Errorf("sink.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown sink.backend %q", c.Sink.Backend)
	}

	switch c.Blob.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Blob.Local.BaseDir == "" {
			return fmt.Errorf("blob.local.base_dir is required for the local backend")
		}
	case BackendGCS:
		if c.Blob.GCS.Bucket == "" {
			return fmt.Errorf("blob.gcs.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown blob.backend %q", c.Blob.Backend)
	}

	switch c.Publisher.Backend {
	case BackendNone, BackendMemory:
	case BackendPubSub:
		if c.Publisher.PubSub.ProjectID == "" || c.Publisher.PubSub.Topic == "" {
			return fmt.Errorf("publisher.pubsub.project_id and publisher.pubsub.topic are required")
		}
	case BackendKafka:
		if len(c.Publisher.Kafka.Brokers) == 0 || c.Publisher.Kafka.Topic == "" {
			return fmt.Errorf("publisher.kafka.brokers and publisher.kafka.topic are required")
		}
	default:
		return fmt.Errorf("unknown publisher.backend %q", c.Publisher.Backend)
	}
	return nil
}
