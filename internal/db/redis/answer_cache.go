package redisdb

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	applog "docqa/internal/platform/log"
)

// AnswerCache 问答结果 Redis 缓存。
// 每次入库后整体失效，避免新文档入库后继续返回旧答案。
type AnswerCache struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
}

// NewAnswerCache 创建答案缓存
func NewAnswerCache(rdb *redis.Client, ttlSeconds int) *AnswerCache {
	ttl := 5 * time.Minute
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	return &AnswerCache{
		redis:  rdb,
		ttl:    ttl,
		prefix: "docqa:answer:",
	}
}

// Get 从缓存获取答案
func (c *AnswerCache) Get(ctx context.Context, key string) (string, bool) {
	answer, err := c.redis.Get(ctx, c.prefix+key).Result()
	if err != nil {
		return "", false
	}
	applog.Debug("[DocQA/Cache] Hit", "key", key)
	return answer, true
}

// Set 写入答案到缓存
func (c *AnswerCache) Set(ctx context.Context, key string, answer string) {
	if err := c.redis.Set(ctx, c.prefix+key, answer, c.ttl).Err(); err != nil {
		applog.Warn("[DocQA/Cache] Failed to set cache", "key", key, "error", err)
	}
}

// InvalidateAll 清除所有答案缓存
func (c *AnswerCache) InvalidateAll(ctx context.Context) {
	iter := c.redis.Scan(ctx, 0, c.prefix+"*", 500).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		c.redis.Del(ctx, keys...)
		applog.Info("[DocQA/Cache] Invalidated", "keys_deleted", len(keys))
	}
}
