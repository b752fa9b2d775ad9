// Package postgres: Postgres-бэкенд релея: key-value хранилище записей и приемник журнала аудита.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xela07ax/cors-relay/internal/infra"
)

// NewPool открывает пул соединений. Доступность базы проверяется отдельно через Ping.
func NewPool(ctx context.Context, cfg infra.DatabaseConfig) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}
	pcfg.MaxConnLifetime = 30 * time.Minute
	pcfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS relay_kv (
	key        TEXT PRIMARY KEY,
	value      BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS relay_audit (
	id          UUID PRIMARY KEY,
	trace_id    TEXT NOT NULL,
	kind        TEXT NOT NULL,
	origin      TEXT NOT NULL,
	method      TEXT,
	target_host TEXT,
	http_status INT,
	hosts       TEXT[],
	decision    TEXT,
	status      TEXT NOT NULL,
	duration_ms BIGINT NOT NULL,
	error       TEXT,
	timestamp   TIMESTAMPTZ NOT NULL
);`

// EnsureSchema создает таблицы релея, если их нет.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}
