package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/post-resolver/internal/model"
	"github.com/d60-Lab/post-resolver/pkg/logger"
)

// CachedPostStore 在 PostStore 外包一层 Redis 读穿缓存，只缓存按 id 查询。
// 帖子创建后不再修改，缓存只靠 TTL 过期；范围查询直接走底层存储
type CachedPostStore struct {
	next  PostStore
	cache *redis.Client
	ttl   time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

func NewCachedPostStore(next PostStore, cache *redis.Client, ttl time.Duration) *CachedPostStore {
	return &CachedPostStore{next: next, cache: cache, ttl: ttl}
}

func postKey(id string) string { return fmt.Sprintf("post:%s", id) }

func (s *CachedPostStore) PutItem(ctx context.Context, req PutItemRequest) (model.Item, error) {
	return s.next.PutItem(ctx, req)
}

func (s *CachedPostStore) GetItem(ctx context.Context, req GetItemRequest) (model.Item, error) {
	if data, err := s.cache.Get(ctx, postKey(req.Key)).Bytes(); err == nil {
		var item model.Item
		if uErr := json.Unmarshal(data, &item); uErr == nil {
			s.hits.Add(1)
			return model.NormalizeItem(item), nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logger.Warn("post cache get failed", zap.String("id", req.Key), zap.Error(err))
	}

	s.misses.Add(1)
	item, err := s.next.GetItem(ctx, req)
	if err != nil || item == nil {
		// 不缓存空结果，帖子可能稍后才被创建
		return item, err
	}
	if err := s.Set(ctx, item); err != nil {
		logger.Warn("post cache set failed", zap.String("id", req.Key), zap.Error(err))
	}
	return item, nil
}

func (s *CachedPostStore) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	return s.next.Query(ctx, req)
}

// Set 按 id 写入缓存
func (s *CachedPostStore) Set(ctx context.Context, item model.Item) error {
	id, _ := item[model.AttrID].(string)
	if id == "" {
		return errors.New("post cache: item has no id")
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, postKey(id), payload, s.ttl).Err()
}

// CacheCounters 启动以来的缓存命中/未命中次数
type CacheCounters struct {
	Hits   int64
	Misses int64
}

func (s *CachedPostStore) Counters() CacheCounters {
	return CacheCounters{Hits: s.hits.Load(), Misses: s.misses.Load()}
}
