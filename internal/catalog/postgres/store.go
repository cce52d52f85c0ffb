// Package postgres upserts the artwork collection into a Postgres table.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/artvee-ingest/internal/catalog"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var columns = []string{
	"artvee_id",
	"title",
	"artist",
	"year",
	"description",
	"image_url",
	"thumbnail_url",
	"source",
	"tags",
	"sha256",
	"size_bytes",
	"uploaded_at",
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Store writes catalog entries keyed by artvee_id.
type Store struct {
	pool  execCloser
	table string
	psql  sq.StatementBuilderType
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("catalog.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "artworks"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{
		pool:  pool,
		table: table,
		psql:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	artvee_id     TEXT PRIMARY KEY,
	title         TEXT NOT NULL DEFAULT '',
	artist        TEXT NOT NULL DEFAULT '',
	year          TEXT NOT NULL DEFAULT '',
	description   TEXT NOT NULL DEFAULT '',
	image_url     TEXT NOT NULL,
	thumbnail_url TEXT NOT NULL DEFAULT '',
	source        TEXT NOT NULL DEFAULT 'artvee',
	tags          TEXT[] NOT NULL DEFAULT '{}',
	sha256        TEXT NOT NULL DEFAULT '',
	size_bytes    BIGINT NOT NULL DEFAULT 0,
	uploaded_at   TIMESTAMPTZ,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Upsert writes each entry, replacing rows with the same artvee_id. It
// returns the number of rows written before any failure.
func (s *Store) Upsert(ctx context.Context, entries []catalog.Entry) (int, error) {
	written := 0
	for _, e := range entries {
		query, args, err := s.upsertQuery(e)
		if err != nil {
			return written, err
		}
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return written, fmt.Errorf("upsert artwork %s: %w", e.ArtveeID, err)
		}
		written++
	}
	return written, nil
}

func (s *Store) upsertQuery(e catalog.Entry) (string, []any, error) {
	updates := make([]string, 0, len(columns)-1)
	for _, c := range columns[1:] {
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	updates = append(updates, "updated_at = NOW()")

	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	query, args, err := s.psql.
		Insert(s.table).
		Columns(columns...).
		Values(
			e.ArtveeID,
			e.Title,
			e.Artist,
			e.Year,
			e.Description,
			e.ImageURL,
			e.ThumbnailURL,
			e.Source,
			tags,
			e.SHA256,
			e.SizeBytes,
			e.UploadedAt,
		).
		Suffix("ON CONFLICT (artvee_id) DO UPDATE SET " + strings.Join(updates, ", ")).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build upsert: %w", err)
	}
	return query, args, nil
}
