// Package config loads and validates ingestion configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Source  SourceConfig  `mapstructure:"source"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Ingest  IngestConfig  `mapstructure:"ingest"`
	Store   StoreConfig   `mapstructure:"store"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// SourceConfig describes the upstream race pages.
type SourceConfig struct {
	RaceURL       string `mapstructure:"race_url"`
	ResultURL     string `mapstructure:"result_url"`
	UserAgent     string `mapstructure:"user_agent"`
	RespectRobots bool   `mapstructure:"respect_robots"`
}

// FetchConfig configures per-request timeouts, retry and politeness.
type FetchConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	MinInterval    time.Duration `mapstructure:"min_interval"`
}

// IngestConfig governs the orchestrator's worker pool.
type IngestConfig struct {
	Concurrency   int  `mapstructure:"concurrency"`
	RacesPerDay   int  `mapstructure:"races_per_day"`
	StoreAttempts int  `mapstructure:"store_attempts"`
	FetchResults  bool `mapstructure:"fetch_results"`
}

// StoreConfig selects and connects the relational backend.
type StoreConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ArchiveConfig sets where raw pages are archived.
type ArchiveConfig struct {
	Provider    string `mapstructure:"provider"`
	BaseDir     string `mapstructure:"base_dir"`
	Bucket      string `mapstructure:"bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// NotifyConfig selects where race-ingested events are published.
type NotifyConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls the read-only HTTP server.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	// APIKey, when set, is required on every request via X-API-Key.
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Archive providers.
const (
	ArchiveNone   = "none"
	ArchiveLocal  = "local"
	ArchiveMemory = "memory"
	ArchiveGCS    = "gcs"
)

// Notify providers.
const (
	NotifyNone   = "none"
	NotifyMemory = "memory"
	NotifyPubSub = "pubsub"
)

// Load builds a Config from defaults, an optional config file and BOATRACE_*
// environment variables, in increasing order of precedence. An empty path
// searches for boatrace.{yaml,toml,json} in ., /etc/boatrace and ~/.boatrace.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BOATRACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		// Without an explicit path, a config file in the search paths is
		// optional: defaults and environment variables suffice.
		v.SetConfigName("boatrace")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/boatrace/")
		v.AddConfigPath("$HOME/.boatrace")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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
	v.SetDefault("source.race_url", "https://www.boatrace.jp/owpc/pc/race/beforeinfo")
	v.SetDefault("source.result_url", "https://www.boatrace.jp/owpc/pc/race/raceresult")
	v.SetDefault("source.user_agent", "boatrace-ingest/0.1")
	v.SetDefault("source.respect_robots", true)
	v.SetDefault("fetch.timeout", 15*time.Second)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.backoff_initial", 500*time.Millisecond)
	v.SetDefault("fetch.backoff_max", 5*time.Second)
	v.SetDefault("fetch.min_interval", time.Second)
	v.SetDefault("ingest.concurrency", 2)
	v.SetDefault("ingest.races_per_day", 12)
	v.SetDefault("ingest.store_attempts", 2)
	v.SetDefault("ingest.fetch_results", true)
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.dsn", "boatrace.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("archive.provider", ArchiveNone)
	v.SetDefault("archive.base_dir", "archive")
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("notify.provider", NotifyNone)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_header_timeout", 5*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := validateURL("source.race_url", c.Source.RaceURL, true); err != nil {
		return err
	}
	if err := validateURL("source.result_url", c.Source.ResultURL, false); err != nil {
		return err
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Fetch.MaxRetries < 1 {
		return fmt.Errorf("fetch.max_retries must be >= 1")
	}
	if c.Fetch.BackoffMax < c.Fetch.BackoffInitial {
		return fmt.Errorf("fetch.backoff_max must be >= fetch.backoff_initial")
	}
	if c.Fetch.MinInterval < 0 {
		return fmt.Errorf("fetch.min_interval must be >= 0")
	}
	if c.Ingest.Concurrency <= 0 {
		return fmt.Errorf("ingest.concurrency must be > 0")
	}
	if c.Ingest.RacesPerDay <= 0 {
		return fmt.Errorf("ingest.races_per_day must be > 0")
	}
	if c.Ingest.StoreAttempts < 1 {
		return fmt.Errorf("ingest.store_attempts must be >= 1")
	}
	switch c.Store.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("store.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Store.Driver)
	}
	if strings.TrimSpace(c.Store.DSN) == "" {
		return fmt.Errorf("store.dsn is required")
	}
	switch c.Archive.Provider {
	case ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if strings.TrimSpace(c.Archive.BaseDir) == "" {
			return fmt.Errorf("archive.base_dir is required for the local provider")
		}
	case ArchiveGCS:
		if strings.TrimSpace(c.Archive.Bucket) == "" {
			return fmt.Errorf("archive.bucket is required for the gcs provider")
		}
	default:
		return fmt.Errorf("archive.provider %q is not supported", c.Archive.Provider)
	}
	switch c.Notify.Provider {
	case NotifyNone, NotifyMemory, "":
	case NotifyPubSub:
		if strings.TrimSpace(c.Notify.ProjectID) == "" || strings.TrimSpace(c.Notify.Topic) == "" {
			return fmt.Errorf("notify.project_id and notify.topic are required for the pubsub provider")
		}
	default:
		return fmt.Errorf("notify.provider %q is not supported", c.Notify.Provider)
	}
	return nil
}

// RetryBudget is the worst-case time a single fetch can take, including backoff.
func (c Config) RetryBudget() time.Duration {
	return time.Duration(c.Fetch.MaxRetries)*c.Fetch.Timeout +
		time.Duration(c.Fetch.MaxRetries-1)*c.Fetch.BackoffMax
}

func validateURL(field, raw string, required bool) error {
	if strings.TrimSpace(raw) == "" {
		if required {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", field, raw)
	}
	return nil
}
