package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/d60-Lab/post-resolver/internal/model"
)

func setupSQLStore(t testing.TB) *SQLPostStore {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store := NewSQLPostStore(db)
	require.NoError(t, store.InitSchema())
	return store
}

func putPost(t testing.TB, s PostStore, id, owner string, ts int64) {
	_, err := s.PutItem(context.Background(), PutItemRequest{Key: id, Attributes: model.Item{
		"owner": owner, "type": model.PostType, "timestamp": ts, "title": "t-" + id,
	}})
	require.NoError(t, err)
}

func ids(items []model.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i], _ = it["id"].(string)
	}
	return out
}

func TestSQLPostStore_PutAndGet(t *testing.T) {
	s := setupSQLStore(t)
	ctx := context.Background()

	item, err := s.PutItem(ctx, PutItemRequest{Key: "p1", Attributes: model.Item{
		"owner": "alice", "type": model.PostType, "timestamp": int64(100), "content": "hi",
		"meta": map[string]any{"lang": "en"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "p1", item["id"])

	got, err := s.GetItem(ctx, GetItemRequest{Key: "p1"})
	require.NoError(t, err)
	assert.Equal(t, "alice", got["owner"])
	assert.Equal(t, model.PostType, got["type"])
	assert.Equal(t, int64(100), got["timestamp"])
	assert.Equal(t, "hi", got["content"])
	assert.Equal(t, map[string]any{"lang": "en"}, got["meta"])

	missing, err := s.GetItem(ctx, GetItemRequest{Key: "nope"})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLPostStore_QueryOrderingAndIndexes(t *testing.T) {
	s := setupSQLStore(t)
	ctx := context.Background()
	putPost(t, s, "a1", "alice", 30)
	putPost(t, s, "b1", "bob", 10)
	putPost(t, s, "a2", "alice", 20)
	putPost(t, s, "b2", "bob", 40)

	res, err := s.Query(ctx, QueryRequest{Index: IndexByTimestamp, PartitionValue: model.PostType, Limit: 10, ScanIndexForward: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"b1", "a2", "a1", "b2"}, ids(res.Items))
	assert.Nil(t, res.NextToken)

	res, err = s.Query(ctx, QueryRequest{Index: IndexByOwner, PartitionValue: "alice", Limit: 10, ScanIndexForward: false})
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, ids(res.Items))

	_, err = s.Query(ctx, QueryRequest{Index: "byNothing", PartitionValue: "x", Limit: 10})
	assert.ErrorIs(t, err, ErrUnknownIndex)
}

func TestSQLPostStore_Pagination(t *testing.T) {
	s := setupSQLStore(t)
	ctx := context.Background()
	// 同一秒内的多条按 id 兜底排序
	for i := 0; i < 7; i++ {
		putPost(t, s, fmt.Sprintf("p%d", i), "alice", int64(100+i/2))
	}

	for _, forward := range []bool{true, false} {
		var all []string
		token := ""
		pages := 0
		for {
			res, err := s.Query(ctx, QueryRequest{Index: IndexByOwner, PartitionValue: "alice", Limit: 3, ScanIndexForward: forward, NextToken: token})
			require.NoError(t, err)
			all = append(all, ids(res.Items)...)
			pages++
			if res.NextToken == nil {
				break
			}
			token = *res.NextToken
		}
		assert.Equal(t, 3, pages)
		if forward {
			assert.Equal(t, []string{"p0", "p1", "p2", "p3", "p4", "p5", "p6"}, all)
		} else {
			assert.Equal(t, []string{"p6", "p5", "p4", "p3", "p2", "p1", "p0"}, all)
		}
	}
}

func TestSQLPostStore_InvalidToken(t *testing.T) {
	s := setupSQLStore(t)
	ctx := context.Background()
	putPost(t, s, "p1", "alice", 1)
	putPost(t, s, "p2", "alice", 2)

	_, err := s.Query(ctx, QueryRequest{Index: IndexByOwner, PartitionValue: "alice", Limit: 1, NextToken: "%%%"})
	assert.ErrorIs(t, err, ErrInvalidNextToken)

	res, err := s.Query(ctx, QueryRequest{Index: IndexByOwner, PartitionValue: "alice", Limit: 1, ScanIndexForward: true})
	require.NoError(t, err)
	require.NotNil(t, res.NextToken)

	// 续传标记不能跨查询使用
	_, err = s.Query(ctx, QueryRequest{Index: IndexByOwner, PartitionValue: "bob", Limit: 1, NextToken: *res.NextToken})
	assert.ErrorIs(t, err, ErrInvalidNextToken)
}

func TestSQLPostStore_DefaultLimit(t *testing.T) {
	s := setupSQLStore(t)
	ctx := context.Background()
	for i := 0; i < DefaultQueryLimit+5; i++ {
		putPost(t, s, fmt.Sprintf("p%03d", i), "alice", int64(i))
	}
	res, err := s.Query(ctx, QueryRequest{Index: IndexByTimestamp, PartitionValue: model.PostType, ScanIndexForward: true})
	require.NoError(t, err)
	assert.Len(t, res.Items, DefaultQueryLimit)
	assert.NotNil(t, res.NextToken)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultQueryLimit+5), n)
}
