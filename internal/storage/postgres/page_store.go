// Package postgres records crawl pages and finished crawl sessions in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/leadcrawl/internal/crawler"
)

const defaultTable = "crawl_pages"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and target tables. Sessions land in
// "<Table>_sessions".
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// PageStore writes one row per fetched page and one row per finished crawl. It
// satisfies crawler.PageSink and crawler.Publisher.
type PageStore struct {
	pool     execCloser
	table    string
	sessions string
}

var (
	_ crawler.PageSink  = (*PageStore)(nil)
	_ crawler.Publisher = (*PageStore)(nil)
)

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*PageStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required")
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
func NewWithPool(pool execCloser, table string) (*PageStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PageStore{pool: pool, table: table, sessions: table + "_sessions"}, nil
}

// Close releases the underlying pool resources.
func (s *PageStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the page and session tables when they do not exist.
func (s *PageStore) EnsureSchema(ctx context.Context) error {
	pages := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	session_id     TEXT        NOT NULL,
	url            TEXT        NOT NULL,
	final_url      TEXT        NOT NULL,
	status         INTEGER     NOT NULL,
	source         TEXT        NOT NULL,
	depth          INTEGER     NOT NULL,
	bytes          INTEGER     NOT NULL,
	content_sha256 TEXT        NOT NULL,
	fetched_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, url)
)`, s.table)
	if _, err := s.pool.Exec(ctx, pages); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}

	sessions := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	session_id  TEXT        PRIMARY KEY,
	seed        TEXT        NOT NULL,
	pages       INTEGER     NOT NULL,
	urls        TEXT[]      NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
)`, s.sessions)
	if _, err := s.pool.Exec(ctx, sessions); err != nil {
		return fmt.Errorf("create %s: %w", s.sessions, err)
	}
	return nil
}

// RecordPage upserts the row for (session, url).
func (s *PageStore) RecordPage(ctx context.Context, page crawler.PageRecord) error {
	if s == nil || s.pool == nil {
		return errors.New("page store is not configured")
	}
	if page.SessionID == "" || page.URL == "" {
		return errors.New("session id and url are required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	session_id,
	url,
	final_url,
	status,
	source,
	depth,
	bytes,
	content_sha256,
	fetched_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (session_id, url) DO UPDATE SET
	final_url = EXCLUDED.final_url,
	status = EXCLUDED.status,
	source = EXCLUDED.source,
	bytes = EXCLUDED.bytes,
	content_sha256 = EXCLUDED.content_sha256,
	fetched_at = EXCLUDED.fetched_at`, s.table)

	args := []any{
		page.SessionID,
		page.URL,
		page.FinalURL,
		page.Status,
		page.Source,
		page.Depth,
		page.Bytes,
		page.ContentSHA256,
		page.FetchedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

// PublishCrawlCompleted stores the session summary row.
func (s *PageStore) PublishCrawlCompleted(ctx context.Context, event crawler.CrawlCompleted) error {
	if s == nil || s.pool == nil {
		return errors.New("page store is not configured")
	}
	if event.SessionID == "" {
		return errors.New("session id is required")
	}
	urls := event.URLs
	if urls == nil {
		urls = []string{}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (session_id, seed, pages, urls, started_at, finished_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (session_id) DO UPDATE SET
	pages = EXCLUDED.pages,
	urls = EXCLUDED.urls,
	finished_at = EXCLUDED.finished_at`, s.sessions)

	if _, err := s.pool.Exec(ctx, query,
		event.SessionID, event.Seed, event.Pages, urls, event.StartedAt, event.FinishedAt,
	); err != nil {
		return fmt.Errorf("insert crawl session: %w", err)
	}
	return nil
}
