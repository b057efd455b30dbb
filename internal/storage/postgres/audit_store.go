// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sitemap-crawler/internal/store"
)

// Config controls the Postgres connection pool used for audit rows.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
	Close()
}

// AuditStore implements store.CrawlRepository on Postgres.
type AuditStore struct {
	pool pool
}

var _ store.CrawlRepository = (*AuditStore)(nil)

// NewAuditStore connects a pool using cfg.
func NewAuditStore(ctx context.Context, cfg Config) (*AuditStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &AuditStore{pool: p}, nil
}

// NewAuditStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewAuditStoreWithPool(p pool) (*AuditStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &AuditStore{pool: p}, nil
}

// Close closes the underlying connection pool.
func (s *AuditStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertCrawlStart inserts a running crawl row unless one already exists.
func (s *AuditStore) UpsertCrawlStart(ctx context.Context, crawlID uuid.UUID, site string, startedAt time.Time) error {
	const query = `
		INSERT INTO crawl_runs (crawl_id, site, started_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (crawl_id) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, query, crawlID, site, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("upsert crawl start: %w", err)
	}
	return nil
}

// RecordURLEvents bulk-loads finished URLs with COPY.
func (s *AuditStore) RecordURLEvents(ctx context.Context, events []store.URLEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := pgx.CopyFromSlice(len(events), func(i int) ([]any, error) {
		e := events[i]
		return []any{e.CrawlID, e.URL, e.Success, e.FinishedAt}, nil
	})
	n, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"crawl_url_events"},
		[]string{"crawl_id", "url", "success", "finished_at"},
		rows,
	)
	if err != nil {
		return fmt.Errorf("copy url events: %w", err)
	}
	if int(n) != len(events) {
		return fmt.Errorf("copy url events: wrote %d of %d rows", n, len(events))
	}
	return nil
}

// CompleteCrawl marks the run done. A run whose start row was never written
// is inserted with started_at equal to finishedAt.
func (s *AuditStore) CompleteCrawl(ctx context.Context, crawlID uuid.UUID, finishedAt time.Time, totalCrawled int) error {
	const query = `
		INSERT INTO crawl_runs (crawl_id, started_at, finished_at, status, total_crawled)
		VALUES ($1, $2, $2, $3, $4)
		ON CONFLICT (crawl_id) DO UPDATE
		SET finished_at = EXCLUDED.finished_at,
			status = EXCLUDED.status,
			total_crawled = EXCLUDED.total_crawled;
	`
	if _, err := s.pool.Exec(ctx, query, crawlID, finishedAt, store.RunDone, totalCrawled); err != nil {
		return fmt.Errorf("complete crawl: %w", err)
	}
	return nil
}
