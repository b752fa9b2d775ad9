package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// KVRepo хранит ключи релея в таблице relay_kv.
type KVRepo struct {
	pool *pgxpool.Pool
}

func NewKVRepo(pool *pgxpool.Pool) *KVRepo {
	return &KVRepo{pool: pool}
}

func (r *KVRepo) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := r.pool.QueryRow(ctx, `SELECT value FROM relay_kv WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: get %s: %w", key, err)
	}
	return value, true, nil
}

func (r *KVRepo) Set(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO relay_kv (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`

	if _, err := r.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("postgres: set %s: %w", key, err)
	}
	return nil
}

// Ping проверяет доступность базы при старте
func (r *KVRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
