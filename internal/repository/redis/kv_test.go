package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKVGetSet(t *testing.T) {
	mr := miniredis.RunT(t)
	kv := NewKV(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	require.NoError(t, kv.Ping(ctx))

	_, ok, err := kv.Get(ctx, "rules")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set(ctx, "rules", []byte(`[]`)))
	v, ok, err := kv.Get(ctx, "rules")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte(`[]`), v)

	// Ключи лежат в пространстве имен релея.
	raw, err := mr.Get("corsrelay:rules")
	require.NoError(t, err)
	assert.Equal(t, "[]", raw)
}

func TestKVUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	kv := NewKV(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}))
	mr.Close()

	_, _, err := kv.Get(context.Background(), "rules")
	assert.Error(t, err)
}
