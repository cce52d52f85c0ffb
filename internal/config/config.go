// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/artvee-ingest/internal/api"
	catalogpg "github.com/JakeFAU/artvee-ingest/internal/catalog/postgres"
	"github.com/JakeFAU/artvee-ingest/internal/imaging"
	notifypubsub "github.com/JakeFAU/artvee-ingest/internal/notify/pubsub"
	"github.com/JakeFAU/artvee-ingest/internal/progress"
	cloudinarystore "github.com/JakeFAU/artvee-ingest/internal/storage/cloudinary"
	"github.com/JakeFAU/artvee-ingest/internal/storage/gcs"
	"github.com/JakeFAU/artvee-ingest/internal/storage/local"
)

// EnvPrefix namespaces environment overrides, e.g. ARTVEE_PACING_DELAY.
const EnvPrefix = "ARTVEE"

// Storage providers.
const (
	ProviderLocal      = "local"
	ProviderGCS        = "gcs"
	ProviderCloudinary = "cloudinary"
	ProviderMemory     = "memory"
)

// Config captures every knob loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	WorkDir   string          `mapstructure:"work_dir"`
	Records   RecordsConfig   `mapstructure:"records"`
	Source    SourceConfig    `mapstructure:"source"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Optimizer imaging.Config  `mapstructure:"optimizer"`
	Pacing    PacingConfig    `mapstructure:"pacing"`
	Progress  progress.Config `mapstructure:"progress"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Server    api.Config      `mapstructure:"server"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// RecordsConfig locates the discovery output.
type RecordsConfig struct {
	// Path is an explicit record file; when empty the newest file in Dir
	// whose name starts with Prefix is used.
	Path    string            `mapstructure:"path"`
	Dir     string            `mapstructure:"dir"`
	Prefix  string            `mapstructure:"prefix"`
	Aliases map[string]string `mapstructure:"aliases"`
}

// SourceConfig governs detail-page retrieval and parsing.
type SourceConfig struct {
	UserAgent        string         `mapstructure:"user_agent"`
	PageTimeout      time.Duration  `mapstructure:"page_timeout"`
	RespectRobots    bool           `mapstructure:"respect_robots"`
	CDNHost          string         `mapstructure:"cdn_host"`
	DescriptionLimit int            `mapstructure:"description_limit"`
	Headless         HeadlessConfig `mapstructure:"headless"`
}

// HeadlessConfig enables the chromedp fallback for pages whose image is
// injected by script.
type HeadlessConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
}

// FetchConfig configures image download and retry.
type FetchConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	Referer    string        `mapstructure:"referer"`
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
}

// PacingConfig holds the inter-artwork delay.
type PacingConfig struct {
	Delay time.Duration `mapstructure:"delay"`
}

// StorageConfig selects and configures the remote asset store.
type StorageConfig struct {
	Provider        string                 `mapstructure:"provider"`
	Prefix          string                 `mapstructure:"prefix"`
	ThumbnailPrefix string                 `mapstructure:"thumbnail_prefix"`
	Thumbnails      bool                   `mapstructure:"thumbnails"`
	UploadTimeout   time.Duration          `mapstructure:"upload_timeout"`
	Local           local.Config           `mapstructure:"local"`
	GCS             gcs.Config             `mapstructure:"gcs"`
	Cloudinary      cloudinarystore.Config `mapstructure:"cloudinary"`
}

// NotifyConfig selects upload event delivery.
type NotifyConfig struct {
	Provider string              `mapstructure:"provider"`
	PubSub   notifypubsub.Config `mapstructure:"pubsub"`
}

// CatalogConfig controls the collection export.
type CatalogConfig struct {
	Format      string           `mapstructure:"format"`
	OutputDir   string           `mapstructure:"output_dir"`
	ExportOnRun bool             `mapstructure:"export_on_run"`
	Postgres    catalogpg.Config `mapstructure:"postgres"`
}

// Load builds a Config from defaults, an optional file, and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("storage.cloudinary.url", EnvPrefix+"_STORAGE_CLOUDINARY_URL", "CLOUDINARY_URL"); err != nil {
		return Config{}, fmt.Errorf("bind cloudinary url: %w", err)
	}
	if err := v.BindEnv("catalog.postgres.dsn", EnvPrefix+"_CATALOG_POSTGRES_DSN", "DATABASE_URL"); err != nil {
		return Config{}, fmt.Errorf("bind postgres dsn: %w", err)
	}

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
	opt := imaging.DefaultConfig()

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("work_dir", "./artvee-work")
	v.SetDefault("records.path", "")
	v.SetDefault("records.dir", ".")
	v.SetDefault("records.prefix", "complete-artists-collection-")
	v.SetDefault("source.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("source.page_timeout", 30*time.Second)
	v.SetDefault("source.respect_robots", false)
	v.SetDefault("source.cdn_host", "mdl.artvee.com")
	v.SetDefault("source.description_limit", 200)
	v.SetDefault("source.headless.enabled", false)
	v.SetDefault("source.headless.navigation_timeout", 45*time.Second)
	v.SetDefault("source.headless.settle_delay", 1500*time.Millisecond)
	v.SetDefault("fetch.timeout", 60*time.Second)
	v.SetDefault("fetch.referer", "https://artvee.com/")
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.base_delay", 3*time.Second)
	v.SetDefault("fetch.max_delay", 30*time.Second)
	v.SetDefault("optimizer.ceiling_bytes", opt.CeilingBytes)
	v.SetDefault("optimizer.max_passes", opt.MaxPasses)
	v.SetDefault("optimizer.initial_quality", opt.InitialQuality)
	v.SetDefault("optimizer.quality_step", opt.QualityStep)
	v.SetDefault("optimizer.min_quality", opt.MinQuality)
	v.SetDefault("optimizer.scale_factor", opt.ScaleFactor)
	v.SetDefault("optimizer.width_caps", opt.WidthCaps)
	v.SetDefault("pacing.delay", 1500*time.Millisecond)
	v.SetDefault("progress.path", "upload-progress.json")
	v.SetDefault("progress.lock", true)
	v.SetDefault("storage.provider", ProviderLocal)
	v.SetDefault("storage.prefix", "artvee")
	v.SetDefault("storage.thumbnail_prefix", "artvee/thumbnails")
	v.SetDefault("storage.thumbnails", false)
	v.SetDefault("storage.upload_timeout", 120*time.Second)
	v.SetDefault("storage.local.base_dir", "./artvee-uploads")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.cache_control", "public, max-age=31536000")
	v.SetDefault("storage.cloudinary.cloud_name", "")
	v.SetDefault("storage.cloudinary.api_key", "")
	v.SetDefault("storage.cloudinary.api_secret", "")
	v.SetDefault("storage.cloudinary.folder", "artvee")
	v.SetDefault("storage.cloudinary.tags", []string{"artvee"})
	v.SetDefault("storage.cloudinary.overwrite", false)
	v.SetDefault("notify.provider", "none")
	v.SetDefault("notify.pubsub.project_id", "")
	v.SetDefault("notify.pubsub.topic", "")
	v.SetDefault("notify.pubsub.publish_timeout", 10*time.Second)
	v.SetDefault("catalog.format", "json")
	v.SetDefault("catalog.output_dir", ".")
	v.SetDefault("catalog.export_on_run", false)
	v.SetDefault("catalog.postgres.table", "artworks")
	v.SetDefault("catalog.postgres.max_conns", 4)
	v.SetDefault("catalog.postgres.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.api_key", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.WorkDir) == "" {
		errs = append(errs, errors.New("work_dir is required"))
	}
	if strings.TrimSpace(c.Progress.Path) == "" {
		errs = append(errs, errors.New("progress.path is required"))
	}
	if c.Source.PageTimeout <= 0 {
		errs = append(errs, errors.New("source.page_timeout must be > 0"))
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, errors.New("fetch.timeout must be > 0"))
	}
	if c.Fetch.MaxRetries < 0 {
		errs = append(errs, errors.New("fetch.max_retries must be >= 0"))
	}
	if c.Pacing.Delay < 0 {
		errs = append(errs, errors.New("pacing.delay must be >= 0"))
	}
	if err := c.Optimizer.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("optimizer: %w", err))
	}
	errs = append(errs, c.Storage.validate()...)
	switch c.Notify.Provider {
	case "", "none", "memory":
	case "pubsub":
		if c.Notify.PubSub.ProjectID == "" || c.Notify.PubSub.Topic == "" {
			errs = append(errs, errors.New("notify.pubsub.project_id and notify.pubsub.topic are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown notify.provider %q", c.Notify.Provider))
	}
	if err := c.Catalog.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s StorageConfig) validate() []error {
	var errs []error
	if s.UploadTimeout <= 0 {
		errs = append(errs, errors.New("storage.upload_timeout must be positive"))
	}
	switch s.Provider {
	case ProviderLocal:
		if s.Local.BaseDir == "" {
			errs = append(errs, errors.New("storage.local.base_dir is required for the local provider"))
		}
	case ProviderGCS:
		if s.GCS.Bucket == "" {
			errs = append(errs, errors.New("storage.gcs.bucket is required for the gcs provider"))
		}
	case ProviderCloudinary:
		c := s.Cloudinary
		if c.URL == "" && (c.CloudName == "" || c.APIKey == "" || c.APISecret == "") {
			errs = append(errs, errors.New("storage.cloudinary needs url or cloud_name, api_key and api_secret"))
		}
	case ProviderMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage.provider %q", s.Provider))
	}
	return errs
}

// Validate checks the export target. The postgres DSN is only required when
// postgres is the selected format.
func (c CatalogConfig) Validate() error {
	switch c.Format {
	case "json", "parquet":
		return nil
	case "postgres":
		if c.Postgres.DSN == "" {
			return errors.New("catalog.postgres.dsn is required for the postgres format")
		}
		return nil
	default:
		return fmt.Errorf("unknown catalog.format %q", c.Format)
	}
}
