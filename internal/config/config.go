// Package config loads and validates scraper configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/docket-scraper/internal/records"
)

// Config captures every knob of the scraper, its API and its backends.
type Config struct {
	Server  ServerConfig        `mapstructure:"server"`
	Auth    AuthConfig          `mapstructure:"auth"`
	Scraper ScraperConfig       `mapstructure:"scraper"`
	Sources []records.Source    `mapstructure:"sources"`
	Detail  DetailConfig        `mapstructure:"detail"`
	Search  SearchConfig        `mapstructure:"search"`
	Columns map[string][]string `mapstructure:"columns"`
	DB      DBConfig            `mapstructure:"db"`
	Archive ArchiveConfig       `mapstructure:"archive"`
	PubSub  PubSubConfig        `mapstructure:"pubsub"`
	Logging LoggingConfig       `mapstructure:"logging"`
	Tracing TracingConfig       `mapstructure:"tracing"`
}

// ServerConfig controls the control API listener.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	QueueDepth     int           `mapstructure:"queue_depth"`
}

// AuthConfig guards the control API with a static key.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ScraperConfig governs fetching, retries, pagination and politeness.
type ScraperConfig struct {
	UserAgent     string        `mapstructure:"user_agent"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	BackoffMax    time.Duration `mapstructure:"backoff_max"`
	MaxPages      int           `mapstructure:"max_pages"`
	PageDelay     time.Duration `mapstructure:"page_delay"`
	DetailDelay   time.Duration `mapstructure:"detail_delay"`
	SourceDelay   time.Duration `mapstructure:"source_delay"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	// Timezone is the IANA zone upstream timestamps are written in.
	Timezone string `mapstructure:"timezone"`
}

// DetailConfig drives per-person detail fetches.
type DetailConfig struct {
	URLTemplate string        `mapstructure:"url_template"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	// RefreshAfter is how long a successful detail fetch is served from
	// the store before the page is fetched again.
	RefreshAfter time.Duration `mapstructure:"refresh_after"`
}

// SearchConfig describes the court name-search form.
type SearchConfig struct {
	URL       string            `mapstructure:"url"`
	NameField string            `mapstructure:"name_field"`
	Extra     map[string]string `mapstructure:"extra"`
}

// DBConfig selects the record store.
type DBConfig struct {
	// Driver is "memory" or "postgres".
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// Migrate applies embedded migrations on startup.
	Migrate bool `mapstructure:"migrate"`
}

// ArchiveConfig selects where raw page snapshots go.
type ArchiveConfig struct {
	// Backend is "none", "memory", "local" or "gcs".
	Backend       string `mapstructure:"backend"`
	BaseDir       string `mapstructure:"base_dir"`
	Bucket        string `mapstructure:"bucket"`
	Prefix        string `mapstructure:"prefix"`
	MalformedOnly bool   `mapstructure:"malformed_only"`
}

// PubSubConfig holds run notification settings. An empty topic disables them.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig controls OpenTelemetry spans. Spans go to Cloud Trace only
// when a project is set.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from an optional file and SCRAPER_* environment
// variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
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
	v.SetDefault("server.request_timeout", 2*time.Minute)
	v.SetDefault("server.queue_depth", 8)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("scraper.user_agent", "docket-scraper/0.1")
	v.SetDefault("scraper.timeout", 30*time.Second)
	v.SetDefault("scraper.max_attempts", 4)
	v.SetDefault("scraper.backoff_base", 2*time.Second)
	v.SetDefault("scraper.backoff_max", time.Minute)
	v.SetDefault("scraper.max_pages", 1000)
	v.SetDefault("scraper.page_delay", 2*time.Second)
	v.SetDefault("scraper.detail_delay", 5*time.Second)
	v.SetDefault("scraper.source_delay", 30*time.Second)
	v.SetDefault("scraper.respect_robots", false)
	v.SetDefault("scraper.timezone", "UTC")
	v.SetDefault("detail.url_template", "")
	v.SetDefault("detail.cooldown", 6*time.Hour)
	v.SetDefault("detail.max_attempts", 3)
	v.SetDefault("detail.refresh_after", 24*time.Hour)
	v.SetDefault("search.url", "")
	v.SetDefault("search.name_field", "name")
	v.SetDefault("db.driver", "memory")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("db.migrate", true)
	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.base_dir", "")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.malformed_only", true)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.project_id", "")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

var sourceKinds = []records.SourceKind{
	records.SourceActive, records.SourceDocket, records.SourceReleased, records.SourceSearch,
}

// Validate enforces required values and consistent backend choices.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Server.QueueDepth <= 0 {
		errs = append(errs, errors.New("server.queue_depth must be > 0"))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key must be set when auth is enabled"))
	}
	if c.Scraper.Timeout <= 0 {
		errs = append(errs, errors.New("scraper.timeout must be > 0"))
	}
	if c.Scraper.MaxAttempts <= 0 {
		errs = append(errs, errors.New("scraper.max_attempts must be > 0"))
	}
	if c.Scraper.MaxPages <= 0 {
		errs = append(errs, errors.New("scraper.max_pages must be > 0"))
	}
	if _, err := time.LoadLocation(c.Scraper.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("scraper.timezone: %w", err))
	}

	names := make(map[string]bool, len(c.Sources))
	for i, src := range c.Sources {
		switch {
		case src.Name == "":
			errs = append(errs, fmt.Errorf("sources[%d].name is required", i))
		case names[src.Name]:
			errs = append(errs, fmt.Errorf("sources[%d].name %q is duplicated", i, src.Name))
		}
		names[src.Name] = true
		if !validKind(src.Kind) {
			errs = append(errs, fmt.Errorf("sources[%d].kind %q is not one of %v", i, src.Kind, sourceKinds))
		}
		if !httpURL(src.URL) {
			errs = append(errs, fmt.Errorf("sources[%d].url %q must be an http(s) URL", i, src.URL))
		}
	}
	if c.Search.URL != "" && !httpURL(c.Search.URL) {
		errs = append(errs, fmt.Errorf("search.url %q must be an http(s) URL", c.Search.URL))
	}
	for layout, cols := range c.Columns {
		if len(cols) == 0 {
			errs = append(errs, fmt.Errorf("columns.%s must list at least one field", layout))
		}
	}

	switch c.DB.Driver {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			errs = append(errs, errors.New("db.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("db.driver %q must be memory or postgres", c.DB.Driver))
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, errors.New("tracing.sample_ratio must be between 0 and 1"))
	}

	switch c.Archive.Backend {
	case "none", "memory":
	case "local":
		if c.Archive.BaseDir == "" {
			errs = append(errs, errors.New("archive.base_dir is required for the local backend"))
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			errs = append(errs, errors.New("archive.bucket is required for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.backend %q must be none, memory, local or gcs", c.Archive.Backend))
	}

	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		errs = append(errs, errors.New("pubsub.project_id is required when pubsub.topic is set"))
	}
	return errors.Join(errs...)
}

// Location returns the configured upstream time zone.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scraper.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ColumnFields converts the per-layout column overrides to record fields.
func (c Config) ColumnFields() map[string][]records.Field {
	out := make(map[string][]records.Field, len(c.Columns))
	for layout, cols := range c.Columns {
		fields := make([]records.Field, len(cols))
		for i, col := range cols {
			fields[i] = records.Field(strings.TrimSpace(col))
		}
		out[layout] = fields
	}
	return out
}

func validKind(k records.SourceKind) bool {
	for _, known := range sourceKinds {
		if k == known {
			return true
		}
	}
	return false
}

func httpURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
