package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/artvee-ingest/internal/artwork"
	"github.com/JakeFAU/artvee-ingest/internal/catalog"
	catalogpg "github.com/JakeFAU/artvee-ingest/internal/catalog/postgres"
	"github.com/JakeFAU/artvee-ingest/internal/config"
	"github.com/JakeFAU/artvee-ingest/internal/records"
)

// FormatPostgres upserts the catalog into a database instead of a file.
const FormatPostgres = "postgres"

type catalogWriter interface {
	EnsureSchema(ctx context.Context) error
	Upsert(ctx context.Context, entries []catalog.Entry) (int, error)
	Close()
}

var openCatalogStore = func(ctx context.Context, cfg catalogpg.Config) (catalogWriter, error) {
	store, err := catalogpg.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// ExportResult describes one catalog export.
type ExportResult struct {
	Format      string `json:"format" yaml:"format"`
	Destination string `json:"destination" yaml:"destination"`
	Entries     int    `json:"entries" yaml:"entries"`
}

// ExportCatalog writes the uploaded entries of ledger in cfg.Format.
func ExportCatalog(
	ctx context.Context,
	cfg config.CatalogConfig,
	ledger map[string]artwork.ProgressEntry,
	now time.Time,
	logger *zap.Logger,
) (ExportResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	entries := catalog.FromLedger(ledger)
	res := ExportResult{Format: cfg.Format, Entries: len(entries)}

	switch cfg.Format {
	case FormatPostgres:
		store, err := openCatalogStore(ctx, cfg.Postgres)
		if err != nil {
			return res, fmt.Errorf("open catalog store: %w", err)
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return res, err
		}
		n, err := store.Upsert(ctx, entries)
		res.Entries = n
		if err != nil {
			return res, err
		}
		res.Destination = "postgres:" + tableOrDefault(cfg.Postgres.Table)
	default:
		path, err := catalog.ExportFile(cfg.OutputDir, catalog.Format(cfg.Format), entries, now)
		if err != nil {
			return res, err
		}
		res.Destination = path
	}
	logger.Info("catalog exported",
		zap.String("format", res.Format),
		zap.String("destination", res.Destination),
		zap.Int("entries", res.Entries),
	)
	return res, nil
}

func tableOrDefault(table string) string {
	if table == "" {
		return "artworks"
	}
	return table
}

// ResolveRecordsPath returns the configured record file, or the newest
// discovery file when latest is set or no path is configured.
func ResolveRecordsPath(cfg config.RecordsConfig, latest bool) (string, error) {
	if cfg.Path != "" && !latest {
		return cfg.Path, nil
	}
	dir := cfg.Dir
	if dir == "" {
		dir = "."
	}
	return records.FindLatest(dir, cfg.Prefix)
}
