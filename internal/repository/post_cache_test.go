package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/post-resolver/internal/model"
)

func setupCachedStore(t *testing.T) (*CachedPostStore, *SQLPostStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	inner := setupSQLStore(t)
	return NewCachedPostStore(inner, client, time.Minute), inner, mr
}

func TestCachedPostStore_ReadThrough(t *testing.T) {
	s, _, mr := setupCachedStore(t)
	ctx := context.Background()
	putPost(t, s, "p1", "alice", 100)

	first, err := s.GetItem(ctx, GetItemRequest{Key: "p1"})
	require.NoError(t, err)
	assert.True(t, mr.Exists("post:p1"))

	second, err := s.GetItem(ctx, GetItemRequest{Key: "p1"})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, CacheCounters{Hits: 1, Misses: 1}, s.Counters())

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists("post:p1"))
}

func TestCachedPostStore_MissingNotCached(t *testing.T) {
	s, _, mr := setupCachedStore(t)
	ctx := context.Background()

	item, err := s.GetItem(ctx, GetItemRequest{Key: "later"})
	require.NoError(t, err)
	assert.Nil(t, item)
	assert.False(t, mr.Exists("post:later"))

	putPost(t, s, "later", "alice", 1)
	item, err = s.GetItem(ctx, GetItemRequest{Key: "later"})
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "alice", item["owner"])
}

func TestCachedPostStore_FallsBackWhenRedisDown(t *testing.T) {
	s, _, mr := setupCachedStore(t)
	ctx := context.Background()
	putPost(t, s, "p1", "alice", 100)
	mr.Close()

	item, err := s.GetItem(ctx, GetItemRequest{Key: "p1"})
	require.NoError(t, err)
	assert.Equal(t, "alice", item["owner"])
}

func TestCachedPostStore_SetAndQueryPassThrough(t *testing.T) {
	s, _, mr := setupCachedStore(t)
	ctx := context.Background()

	assert.Error(t, s.Set(ctx, model.Item{"owner": "x"}))
	require.NoError(t, s.Set(ctx, model.Item{"id": "p9", "owner": "carol", "timestamp": int64(9)}))
	assert.True(t, mr.Exists("post:p9"))

	// 缓存命中时不访问底层存储
	item, err := s.GetItem(ctx, GetItemRequest{Key: "p9"})
	require.NoError(t, err)
	assert.Equal(t, "carol", item["owner"])
	assert.Equal(t, int64(9), item["timestamp"])

	putPost(t, s, "p1", "alice", 1)
	res, err := s.Query(ctx, QueryRequest{Index: IndexByOwner, PartitionValue: "alice", Limit: 5, ScanIndexForward: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, ids(res.Items))
}
