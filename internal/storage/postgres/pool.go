// Package postgres provides Postgres-backed content and run stores.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// dbPool is the subset of *pgxpool.Pool the stores use, so pgxmock can stand in.
type dbPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// NewPool opens a pgx connection pool.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
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
	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS job_containers (
	id    uuid PRIMARY KEY,
	slug  text NOT NULL UNIQUE,
	title text NOT NULL
);
CREATE TABLE IF NOT EXISTS job_postings (
	id             uuid PRIMARY KEY,
	container_id   uuid NOT NULL REFERENCES job_containers (id),
	slug           varchar(255) NOT NULL,
	title          varchar(255) NOT NULL,
	company_name   varchar(255) NOT NULL,
	location       varchar(100) NOT NULL DEFAULT '',
	salary         varchar(100) NOT NULL DEFAULT '',
	description    text NOT NULL DEFAULT '',
	job_type       varchar(20) NOT NULL DEFAULT 'full-time',
	source_website varchar(50) NOT NULL DEFAULT '',
	source_url     text NOT NULL,
	published_at   timestamptz NOT NULL,
	live           boolean NOT NULL DEFAULT false,
	created_at     timestamptz NOT NULL,
	CONSTRAINT job_postings_source_url_key UNIQUE (source_url),
	CONSTRAINT job_postings_container_slug_key UNIQUE (container_id, slug)
);
CREATE TABLE IF NOT EXISTS crawl_runs (
	id            uuid PRIMARY KEY,
	status        text NOT NULL,
	seeds         jsonb NOT NULL DEFAULT '[]',
	submitted_at  timestamptz NOT NULL,
	started_at    timestamptz,
	finished_at   timestamptz,
	error_text    text NOT NULL DEFAULT '',
	listing_pages bigint NOT NULL DEFAULT 0,
	detail_tasks  bigint NOT NULL DEFAULT 0,
	created       bigint NOT NULL DEFAULT 0,
	duplicates    bigint NOT NULL DEFAULT 0,
	dropped       bigint NOT NULL DEFAULT 0,
	by_outcome    jsonb NOT NULL DEFAULT '{}'
);`

// Migrate creates the tables the stores need.
func Migrate(ctx context.Context, pool dbPool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}
