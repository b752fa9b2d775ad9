package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/cors-relay/internal/audit"
	"github.com/xela07ax/cors-relay/internal/infra"
)

// testPool поднимает пул на TEST_DATABASE_URL; без нее тесты пропускаются.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}
	ctx := context.Background()
	pool, err := NewPool(ctx, infra.DatabaseConfig{URL: url, MaxConns: 2})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, EnsureSchema(ctx, pool))
	return pool
}

func TestKVRepoGetSet(t *testing.T) {
	pool := testPool(t)
	repo := NewKVRepo(pool)
	ctx := context.Background()
	key := "test:" + uuid.NewString()
	t.Cleanup(func() { _, _ = pool.Exec(ctx, `DELETE FROM relay_kv WHERE key = $1`, key) })

	_, ok, err := repo.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.Set(ctx, key, []byte("1")))
	require.NoError(t, repo.Set(ctx, key, []byte("2")))

	v, ok, err := repo.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("2"), v)
}

func TestAuditRepoWriteBatch(t *testing.T) {
	pool := testPool(t)
	repo := NewAuditRepo(pool)
	ctx := context.Background()
	origin := "https://" + uuid.NewString() + ".test"
	t.Cleanup(func() { _, _ = pool.Exec(ctx, `DELETE FROM relay_audit WHERE origin = $1`, origin) })

	err := repo.WriteBatch(ctx, []audit.RelayEvent{
		{ID: uuid.NewString(), Kind: audit.KindRelay, Origin: origin, Method: "GET", TargetHost: "api.test",
			HTTPStatus: 200, Status: audit.StatusSuccess, Timestamp: time.Now()},
		{ID: uuid.NewString(), Kind: audit.KindGrant, Origin: origin, Hosts: []string{"api.test"},
			Status: audit.StatusSuccess, Timestamp: time.Now()},
	})
	require.NoError(t, err)

	var n int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM relay_audit WHERE origin = $1`, origin).Scan(&n))
	assert.Equal(t, 2, n)
}
