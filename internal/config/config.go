// Package config loads the tracker's runtime configuration from the
// environment, with command-line overrides.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/orbit-tracker/internal/feed"
	"github.com/signalsfoundry/orbit-tracker/internal/observability"
	"github.com/signalsfoundry/orbit-tracker/internal/storage/rediscache"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config is the full process configuration.
type Config struct {
	HTTPAddr    string
	MetricsAddr string // empty disables the metrics listener
	HealthAddr  string // empty disables the gRPC health listener

	LogLevel  string
	LogFormat string

	Feed    FeedConfig
	Storage StorageConfig
	Tracing observability.TracingConfig

	IngestInterval   time.Duration // zero disables scheduled ingestion
	IngestOnStart    bool
	FeedbackInterval time.Duration // zero disables the feedback job
	StreamInterval   time.Duration // zero disables pushed positions
	Workers          int           // propagation pool size; zero means GOMAXPROCS
}

// FeedConfig configures the element-set feed.
type FeedConfig struct {
	BaseURL     string
	QueryPath   string
	Timeout     time.Duration
	Credentials feed.Credentials
}

// StorageConfig selects and configures the record store.
type StorageConfig struct {
	Driver      string
	PostgresDSN string
	RedisAddr   string // empty disables the latest-state mirror
	RedisKey    string
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",
		HealthAddr:  ":50051",
		LogLevel:    "info",
		LogFormat:   "json",
		Feed: FeedConfig{
			BaseURL:   feed.DefaultBaseURL,
			QueryPath: feed.DefaultQueryPath,
			Timeout:   feed.DefaultTimeout,
		},
		Storage: StorageConfig{
			Driver:   DriverMemory,
			RedisKey: rediscache.DefaultKey,
		},
		IngestInterval:   time.Hour,
		IngestOnStart:    true,
		FeedbackInterval: time.Minute,
		StreamInterval:   5 * time.Second,
	}
}

// FromEnv overlays environment variables on Default. Malformed values are
// collected and returned together.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	env := envReader{lookup: lookup}

	env.str("ORBIT_HTTP_ADDR", &cfg.HTTPAddr)
	env.str("ORBIT_METRICS_ADDR", &cfg.MetricsAddr)
	env.str("ORBIT_HEALTH_ADDR", &cfg.HealthAddr)
	env.str("LOG_LEVEL", &cfg.LogLevel)
	env.str("LOG_FORMAT", &cfg.LogFormat)

	env.str("ORBIT_FEED_BASE_URL", &cfg.Feed.BaseURL)
	env.str("ORBIT_FEED_QUERY_PATH", &cfg.Feed.QueryPath)
	env.duration("ORBIT_FEED_TIMEOUT", &cfg.Feed.Timeout)
	env.str("SPACE_TRACK_USERNAME", &cfg.Feed.Credentials.Username)
	env.str("SPACE_TRACK_PASSWORD", &cfg.Feed.Credentials.Password)

	env.str("ORBIT_STORAGE_DRIVER", &cfg.Storage.Driver)
	env.str("ORBIT_POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	env.str("ORBIT_REDIS_ADDR", &cfg.Storage.RedisAddr)
	env.str("ORBIT_REDIS_KEY", &cfg.Storage.RedisKey)

	env.duration("ORBIT_INGEST_INTERVAL", &cfg.IngestInterval)
	env.boolean("ORBIT_INGEST_ON_START", &cfg.IngestOnStart)
	env.duration("ORBIT_FEEDBACK_INTERVAL", &cfg.FeedbackInterval)
	env.duration("ORBIT_STREAM_INTERVAL", &cfg.StreamInterval)
	env.integer("ORBIT_WORKERS", &cfg.Workers)

	cfg.Tracing = observability.TracingConfigFromEnv()
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	return cfg, errors.Join(env.errs...)
}

// RegisterFlags binds command-line overrides to c. Call it after loading
// the environment so flag defaults show the effective values.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.HTTPAddr, "http-addr", c.HTTPAddr, "HTTP API listen address")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "HTTP address for Prometheus /metrics (empty disables)")
	fs.StringVar(&c.HealthAddr, "health-addr", c.HealthAddr, "gRPC health service address (empty disables)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "log format: json or text")
	fs.StringVar(&c.Feed.BaseURL, "feed-url", c.Feed.BaseURL, "element-set feed base URL")
	fs.StringVar(&c.Feed.QueryPath, "feed-query", c.Feed.QueryPath, "feed query path")
	fs.DurationVar(&c.Feed.Timeout, "feed-timeout", c.Feed.Timeout, "bound on one feed login plus fetch")
	fs.StringVar(&c.Storage.Driver, "storage", c.Storage.Driver, "record store: memory or postgres")
	fs.StringVar(&c.Storage.PostgresDSN, "postgres-dsn", c.Storage.PostgresDSN, "Postgres connection string")
	fs.StringVar(&c.Storage.RedisAddr, "redis-addr", c.Storage.RedisAddr, "Redis address for the latest-state mirror (empty disables)")
	fs.DurationVar(&c.IngestInterval, "ingest-interval", c.IngestInterval, "scheduled ingestion period (0 disables)")
	fs.BoolVar(&c.IngestOnStart, "ingest-on-start", c.IngestOnStart, "run one ingestion at startup")
	fs.DurationVar(&c.FeedbackInterval, "feedback-interval", c.FeedbackInterval, "period of the latest-position feedback job (0 disables)")
	fs.DurationVar(&c.StreamInterval, "stream-interval", c.StreamInterval, "period of websocket position pushes (0 disables)")
	fs.IntVar(&c.Workers, "workers", c.Workers, "propagation workers (0 means GOMAXPROCS)")
}

// Validate reports every problem with c at once.
func (c Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	if u, err := url.Parse(c.Feed.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("feed base URL %q is not an absolute URL", c.Feed.BaseURL))
	}
	if !strings.HasPrefix(c.Feed.QueryPath, "/") {
		errs = append(errs, fmt.Errorf("feed query path %q must start with /", c.Feed.QueryPath))
	}
	if c.Feed.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("feed timeout %s must be positive", c.Feed.Timeout))
	}
	if c.IngestionEnabled() && !c.Feed.Credentials.Valid() {
		errs = append(errs, fmt.Errorf("ingestion enabled: %w (set SPACE_TRACK_USERNAME and SPACE_TRACK_PASSWORD)", feed.ErrMissingCredentials))
	}
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres storage requires a DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	for name, d := range map[string]time.Duration{
		"ingest interval":   c.IngestInterval,
		"feedback interval": c.FeedbackInterval,
		"stream interval":   c.StreamInterval,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s %s must not be negative", name, d))
		}
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers %d must not be negative", c.Workers))
	}
	return errors.Join(errs...)
}

// IngestionEnabled reports whether the process talks to the feed at all.
func (c Config) IngestionEnabled() bool {
	return c.IngestInterval > 0 || c.IngestOnStart
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok || v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = b
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.get(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}
