// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	csvexport "github.com/JakeFAU/listing-harvester/internal/export/csv"
	sheetsexport "github.com/JakeFAU/listing-harvester/internal/export/sheets"
	"github.com/JakeFAU/listing-harvester/internal/frontier"
	goqueryparser "github.com/JakeFAU/listing-harvester/internal/parser/goquery"
	"github.com/JakeFAU/listing-harvester/internal/storage/gcs"
	"github.com/JakeFAU/listing-harvester/internal/storage/local"
	"github.com/JakeFAU/listing-harvester/internal/storage/postgres"
)

// EnvPrefix prefixes every environment override, e.g. HARVEST_LISTING_WORKERS.
const EnvPrefix = "HARVEST"

// Snapshot providers.
const (
	ProviderFile     = "file"
	ProviderGCS      = "gcs"
	ProviderPostgres = "postgres"
	ProviderMemory   = "memory"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Listing  ListingConfig  `mapstructure:"listing"`
	Detail   DetailConfig   `mapstructure:"detail"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Parser   ParserConfig   `mapstructure:"parser"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Export   ExportConfig   `mapstructure:"export"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Run      RunConfig      `mapstructure:"run"`
}

// ListingConfig governs the listing stage.
type ListingConfig struct {
	FirstPageURL           string        `mapstructure:"first_page_url"`
	PageURLTemplate        string        `mapstructure:"page_url_template"`
	MaxPages               int           `mapstructure:"max_pages"`
	Workers                int           `mapstructure:"workers"`
	Delay                  time.Duration `mapstructure:"delay"`
	Window                 int           `mapstructure:"window"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
	StopOnNotFound         bool          `mapstructure:"stop_on_not_found"`
}

// EffectiveWindow returns the look-ahead window, defaulting to twice the
// worker count.
func (c ListingConfig) EffectiveWindow() int {
	if c.Window > 0 {
		return c.Window
	}
	return 2 * c.Workers
}

// DetailConfig governs the detail stage.
type DetailConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Workers      int           `mapstructure:"workers"`
	Delay        time.Duration `mapstructure:"delay"`
	StalenessTTL time.Duration `mapstructure:"staleness_ttl"`
	MaxItems     int           `mapstructure:"max_items"`
}

// FetchConfig configures the shared fetcher and its retry behavior.
type FetchConfig struct {
	UserAgent         string            `mapstructure:"user_agent"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	MaxAttempts       int               `mapstructure:"max_attempts"`
	Backoff           time.Duration     `mapstructure:"backoff"`
	BackoffMultiplier float64           `mapstructure:"backoff_multiplier"`
	MaxBackoff        time.Duration     `mapstructure:"max_backoff"`
	RateLimitRPS      float64           `mapstructure:"rate_limit_rps"`
	RateLimitBurst    int               `mapstructure:"rate_limit_burst"`
	Headers           map[string]string `mapstructure:"headers"`
}

// ParserConfig configures page parsing.
type ParserConfig struct {
	BaseURL           string                         `mapstructure:"base_url"`
	DescriptionMaxLen int                            `mapstructure:"description_max_len"`
	Listing           goqueryparser.ListingSelectors `mapstructure:"listing"`
	Detail            goqueryparser.DetailSelectors  `mapstructure:"detail"`
}

// SnapshotConfig selects and configures the snapshot backend.
type SnapshotConfig struct {
	Provider string          `mapstructure:"provider"`
	File     local.Config    `mapstructure:"file"`
	GCS      gcs.Config      `mapstructure:"gcs"`
	Postgres postgres.Config `mapstructure:"postgres"`
}

// ExportConfig enables export sinks. A sink with no target is disabled.
type ExportConfig struct {
	CSV    csvexport.Config    `mapstructure:"csv"`
	Sheets sheetsexport.Config `mapstructure:"sheets"`
}

// PubSubConfig holds run notification settings. An empty topic disables
// publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig controls the metrics/health HTTP server. An empty address
// disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features and the level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// RunConfig bounds a whole run. A zero deadline means none.
type RunConfig struct {
	Deadline time.Duration `mapstructure:"deadline"`
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
	v.SetDefault("listing.first_page_url", "")
	v.SetDefault("listing.page_url_template", "")
	v.SetDefault("listing.max_pages", 0)
	v.SetDefault("listing.workers", 5)
	v.SetDefault("listing.delay", time.Second)
	v.SetDefault("listing.window", 0)
	v.SetDefault("listing.max_consecutive_failures", 25)
	v.SetDefault("listing.stop_on_not_found", true)

	v.SetDefault("detail.enabled", true)
	v.SetDefault("detail.workers", 5)
	v.SetDefault("detail.delay", 2*time.Second)
	v.SetDefault("detail.staleness_ttl", frontier.DefaultStalenessTTL)
	v.SetDefault("detail.max_items", 0)

	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (compatible; listing-harvester/1.0)")
	v.SetDefault("fetch.timeout", 10*time.Second)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.backoff", 2*time.Second)
	v.SetDefault("fetch.backoff_multiplier", 1.0)
	v.SetDefault("fetch.max_backoff", time.Duration(0))
	v.SetDefault("fetch.rate_limit_rps", 0.0)
	v.SetDefault("fetch.rate_limit_burst", 1)

	listing := goqueryparser.DefaultListingSelectors()
	detail := goqueryparser.DefaultDetailSelectors()
	v.SetDefault("parser.base_url", "")
	v.SetDefault("parser.description_max_len", 500)
	v.SetDefault("parser.listing.item", listing.Item)
	v.SetDefault("parser.listing.id_attr", listing.IDAttr)
	v.SetDefault("parser.listing.id_prefix", listing.IDPrefix)
	v.SetDefault("parser.listing.anchor", listing.Anchor)
	v.SetDefault("parser.listing.thumbnail", listing.Thumbnail)
	v.SetDefault("parser.listing.thumbnail_attrs", listing.ThumbnailAttrs)
	v.SetDefault("parser.listing.ribbon", listing.Ribbon)
	v.SetDefault("parser.detail.likes", detail.Likes)
	v.SetDefault("parser.detail.dislikes", detail.Dislikes)
	v.SetDefault("parser.detail.rating", detail.Rating)
	v.SetDefault("parser.detail.views", detail.Views)
	v.SetDefault("parser.detail.description", detail.Description)
	v.SetDefault("parser.detail.actresses", detail.Actresses)
	v.SetDefault("parser.detail.categories", detail.Categories)

	v.SetDefault("snapshot.provider", ProviderFile)
	v.SetDefault("snapshot.file.path", "data/snapshot.json")
	v.SetDefault("snapshot.gcs.bucket", "")
	v.SetDefault("snapshot.gcs.object", "harvest/snapshot.json")
	v.SetDefault("snapshot.postgres.dsn", "")
	v.SetDefault("snapshot.postgres.table", "harvest_snapshot")

	v.SetDefault("export.csv.path", "")
	v.SetDefault("export.sheets.spreadsheet_id", "")
	v.SetDefault("export.sheets.range", "Sheet1")
	v.SetDefault("export.sheets.credentials_file", "")

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("run.deadline", time.Duration(0))
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Listing.PageURLTemplate == "" {
		return fmt.Errorf("listing.page_url_template is required")
	}
	if !strings.Contains(c.Listing.PageURLTemplate, frontier.PagePlaceholder) {
		return fmt.Errorf("listing.page_url_template must contain %s", frontier.PagePlaceholder)
	}
	if c.Listing.Workers <= 0 {
		return fmt.Errorf("listing.workers must be > 0")
	}
	if c.Listing.MaxPages < 0 || c.Listing.Window < 0 || c.Listing.MaxConsecutiveFailures < 0 {
		return fmt.Errorf("listing.max_pages, listing.window and listing.max_consecutive_failures must be >= 0")
	}
	if c.Listing.Delay < 0 || c.Detail.Delay < 0 {
		return fmt.Errorf("stage delays must be >= 0")
	}
	if c.Detail.Enabled && c.Detail.Workers <= 0 {
		return fmt.Errorf("detail.workers must be > 0 when detail is enabled")
	}
	if c.Detail.StalenessTTL <= 0 {
		return fmt.Errorf("detail.staleness_ttl must be > 0")
	}
	if c.Detail.MaxItems < 0 {
		return fmt.Errorf("detail.max_items must be >= 0")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be > 0")
	}
	if c.Fetch.Backoff < 0 || c.Fetch.MaxBackoff < 0 {
		return fmt.Errorf("fetch.backoff and fetch.max_backoff must be >= 0")
	}
	if c.Fetch.BackoffMultiplier < 1 {
		return fmt.Errorf("fetch.backoff_multiplier must be >= 1")
	}
	if c.Fetch.RateLimitRPS < 0 {
		return fmt.Errorf("fetch.rate_limit_rps must be >= 0")
	}
	if err := c.Snapshot.validate(); err != nil {
		return err
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Run.Deadline < 0 {
		return fmt.Errorf("run.deadline must be >= 0")
	}
	return nil
}

func (c SnapshotConfig) validate() error {
	switch c.Provider {
	case ProviderFile:
		if c.File.Path == "" {
			return fmt.Errorf("snapshot.file.path is required for the file provider")
		}
	case ProviderGCS:
		if c.GCS.Bucket == "" || c.GCS.Object == "" {
			return fmt.Errorf("snapshot.gcs.bucket and snapshot.gcs.object are required for the gcs provider")
		}
	case ProviderPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("snapshot.postgres.dsn is required for the postgres provider")
		}
	case ProviderMemory:
	default:
		return fmt.Errorf("unknown snapshot.provider %q", c.Provider)
	}
	return nil
}
