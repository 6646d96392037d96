package store

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestKV(t *testing.T) (*miniredis.Miniredis, *RedisKV) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisKV(client)
}

func TestRedisKV_GetSetDelete(t *testing.T) {
	_, kv := setupTestKV(t)
	ctx := context.Background()

	_, err := kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, kv.Set(ctx, "k1", "v1", time.Minute))
	v, err := kv.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	require.NoError(t, kv.Delete(ctx, "k1"))
	_, err = kv.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrMiss)

	// 空 key 列表不报错
	assert.NoError(t, kv.Delete(ctx))
}

func TestRedisKV_TTL(t *testing.T) {
	mr, kv := setupTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "ttl", "x", 10*time.Second))
	mr.FastForward(11 * time.Second)

	_, err := kv.Get(ctx, "ttl")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisKV_ScanKeys(t *testing.T) {
	_, kv := setupTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "medication:overlay:a", "1", 0))
	require.NoError(t, kv.Set(ctx, "medication:overlay:b", "1", 0))
	require.NoError(t, kv.Set(ctx, "other:c", "1", 0))

	keys, err := kv.ScanKeys(ctx, "medication:overlay:*")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"medication:overlay:a", "medication:overlay:b"}, keys)
}
