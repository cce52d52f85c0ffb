// Package app initializes and holds long-lived pipeline services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	gpubsub "cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/artvee-ingest/internal/artwork"
	"github.com/JakeFAU/artvee-ingest/internal/clock/system"
	"github.com/JakeFAU/artvee-ingest/internal/config"
	"github.com/JakeFAU/artvee-ingest/internal/extractor"
	collyfetcher "github.com/JakeFAU/artvee-ingest/internal/fetcher/colly"
	"github.com/JakeFAU/artvee-ingest/internal/fetcher/headless"
	streamfetcher "github.com/JakeFAU/artvee-ingest/internal/fetcher/stream"
	"github.com/JakeFAU/artvee-ingest/internal/hash/sha256"
	"github.com/JakeFAU/artvee-ingest/internal/id/uuid"
	"github.com/JakeFAU/artvee-ingest/internal/imaging"
	memnotify "github.com/JakeFAU/artvee-ingest/internal/notify/memory"
	notifypubsub "github.com/JakeFAU/artvee-ingest/internal/notify/pubsub"
	"github.com/JakeFAU/artvee-ingest/internal/pipeline"
	"github.com/JakeFAU/artvee-ingest/internal/policy/ratelimit"
	"github.com/JakeFAU/artvee-ingest/internal/policy/retry"
	"github.com/JakeFAU/artvee-ingest/internal/progress"
	"github.com/JakeFAU/artvee-ingest/internal/records"
	"github.com/JakeFAU/artvee-ingest/internal/storage"
	cloudinarystore "github.com/JakeFAU/artvee-ingest/internal/storage/cloudinary"
	"github.com/JakeFAU/artvee-ingest/internal/storage/gcs"
	"github.com/JakeFAU/artvee-ingest/internal/storage/local"
	"github.com/JakeFAU/artvee-ingest/internal/storage/memory"
)

// Options tune how the container is assembled.
type Options struct {
	// ForceUnlock removes a stale ledger lock before opening the store.
	ForceUnlock bool
	// ClientOptions are passed to every Google Cloud client.
	ClientOptions []option.ClientOption
}

// App holds all the shared, long-lived services for one pipeline run.
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	Orchestrator *pipeline.Orchestrator
	Progress     *progress.FileStore
	Records      *records.Loader
	IDs          artwork.IDGenerator
	Clock        artwork.Clock
	// Notifier is nil when upload events are disabled.
	Notifier artwork.Notifier

	closers []func() error
}

// New wires every component named in cfg. It fails fast when any service
// cannot be initialized and releases whatever was already opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Records: records.NewLoader(records.NewStaticAliases(cfg.Records.Aliases), logger.Named("records")),
		IDs:     uuid.New(),
		Clock:   system.New(),
	}
	defer func() {
		if err != nil {
			if closeErr := a.Close(); closeErr != nil {
				logger.Warn("release partially built app failed", zap.Error(closeErr))
			}
		}
	}()

	logger.Info("initializing pipeline services",
		zap.String("storage", cfg.Storage.Provider),
		zap.String("notify", cfg.Notify.Provider),
		zap.String("work_dir", cfg.WorkDir),
	)

	if err := os.MkdirAll(cfg.WorkDir, 0o750); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	ext, err := a.newExtractor(cfg.Source, logger)
	if err != nil {
		return nil, err
	}

	optimizer, err := imaging.New(cfg.Optimizer, logger.Named("optimizer"))
	if err != nil {
		return nil, fmt.Errorf("init optimizer: %w", err)
	}

	uploader, err := a.newUploader(ctx, cfg.Storage, opts.ClientOptions, logger.Named("uploader"))
	if err != nil {
		return nil, err
	}

	notifier, err := a.newNotifier(ctx, cfg.Notify, opts.ClientOptions, logger.Named("notify"))
	if err != nil {
		return nil, err
	}

	if opts.ForceUnlock {
		if err := progress.ForceUnlock(cfg.Progress.Path); err != nil {
			return nil, err
		}
		logger.Warn("removed progress lock", zap.String("path", progress.LockPath(cfg.Progress.Path)))
	}
	store, err := progress.Open(cfg.Progress, logger.Named("progress"))
	if err != nil {
		return nil, fmt.Errorf("open progress ledger: %w", err)
	}
	a.Progress = store
	a.closers = append(a.closers, store.Close)

	deps := pipeline.Deps{
		Extractor: ext,
		Fetcher: streamfetcher.New(streamfetcher.Config{
			UserAgent: cfg.Source.UserAgent,
			Timeout:   cfg.Fetch.Timeout,
			Referer:   cfg.Fetch.Referer,
		}, logger.Named("fetcher")),
		Optimizer: optimizer,
		Uploader:  uploader,
		Progress:  store,
		Pacer:     ratelimit.New(ratelimit.Config{Interval: cfg.Pacing.Delay, Burst: 1}),
		Retry: retry.New(retry.Config{
			MaxRetries: retriesOrDisabled(cfg.Fetch.MaxRetries),
			BaseDelay:  cfg.Fetch.BaseDelay,
			MaxDelay:   cfg.Fetch.MaxDelay,
		}),
		Hasher: sha256.New(),
		Clock:  a.Clock,
	}
	deps.Notifier = notifier
	a.Notifier = notifier

	orch, err := pipeline.New(pipeline.Config{
		WorkDir:       cfg.WorkDir,
		Thumbnails:    cfg.Storage.Thumbnails,
		UploadTimeout: cfg.Storage.UploadTimeout,
	}, deps, logger.Named("pipeline"))
	if err != nil {
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}
	a.Orchestrator = orch

	logger.Info("pipeline services initialized")
	return a, nil
}

// retriesOrDisabled maps an explicit zero to the policy's "no retries" value.
func retriesOrDisabled(n int) int {
	if n == 0 {
		return -1
	}
	return n
}

func (a *App) newExtractor(cfg config.SourceConfig, logger *zap.Logger) (*extractor.Extractor, error) {
	pages := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.UserAgent,
		RespectRobots: cfg.RespectRobots,
		Timeout:       cfg.PageTimeout,
		Headers:       collyfetcher.DefaultHeaders(),
	})
	var opts []extractor.Option
	if cfg.Headless.Enabled {
		browser, err := headless.NewChromedp(headless.Config{
			UserAgent:         cfg.UserAgent,
			NavigationTimeout: cfg.Headless.NavigationTimeout,
			SettleDelay:       cfg.Headless.SettleDelay,
			Headers:           collyfetcher.DefaultHeaders(),
		})
		if err != nil {
			return nil, fmt.Errorf("init headless fallback: %w", err)
		}
		a.closers = append(a.closers, func() error {
			browser.Close()
			return nil
		})
		opts = append(opts, extractor.WithFallback(browser))
		logger.Info("headless fallback enabled")
	}
	return extractor.New(pages, extractor.Config{
		CDNHost:          cfg.CDNHost,
		DescriptionLimit: cfg.DescriptionLimit,
	}, logger.Named("extractor"), opts...), nil
}

func (a *App) newUploader(
	ctx context.Context,
	cfg config.StorageConfig,
	clientOpts []option.ClientOption,
	logger *zap.Logger,
) (artwork.Uploader, error) {
	var store storage.BlobStore
	switch cfg.Provider {
	case config.ProviderCloudinary:
		up, err := cloudinarystore.New(cfg.Cloudinary, logger)
		if err != nil {
			return nil, fmt.Errorf("init cloudinary: %w", err)
		}
		logger.Info("using cloudinary uploader", zap.String("folder", cfg.Cloudinary.Folder))
		return up, nil
	case config.ProviderGCS:
		client, err := gstorage.NewClient(ctx, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		bs, err := gcs.New(client, cfg.GCS)
		if err != nil {
			return nil, fmt.Errorf("init gcs store: %w", err)
		}
		logger.Info("using gcs uploader", zap.String("bucket", cfg.GCS.Bucket))
		store = bs
	case config.ProviderLocal:
		bs, err := local.New(cfg.Local)
		if err != nil {
			return nil, fmt.Errorf("init local store: %w", err)
		}
		logger.Info("using local uploader", zap.String("dir", cfg.Local.BaseDir))
		store = bs
	case config.ProviderMemory:
		logger.Info("using in-memory uploader; uploads are discarded on exit")
		store = memory.NewBlobStore()
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Provider)
	}
	up, err := storage.NewBlobUploader(store, storage.UploaderConfig{
		Prefix:          cfg.Prefix,
		ThumbnailPrefix: cfg.ThumbnailPrefix,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init uploader: %w", err)
	}
	return up, nil
}

func (a *App) newNotifier(
	ctx context.Context,
	cfg config.NotifyConfig,
	clientOpts []option.ClientOption,
	logger *zap.Logger,
) (artwork.Notifier, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "memory":
		logger.Info("keeping upload events in memory")
		return memnotify.New(), nil
	case "pubsub":
		client, err := gpubsub.NewClient(ctx, cfg.PubSub.ProjectID, clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		n, err := notifypubsub.New(client.Topic(cfg.PubSub.Topic), cfg.PubSub, logger)
		if err != nil {
			return nil, fmt.Errorf("init pubsub notifier: %w", err)
		}
		a.closers = append(a.closers, func() error {
			n.Stop()
			return nil
		})
		logger.Info("publishing upload events", zap.String("topic", cfg.PubSub.Topic))
		return n, nil
	default:
		return nil, fmt.Errorf("unknown notify provider: %s", cfg.Provider)
	}
}

// Close shuts services down in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
