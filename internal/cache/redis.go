package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/helpdesk-labs/support-chat/internal/domain"
)

const conversationKeyPrefix = "chat:conversation:"

// RedisConversationCache stores conversations as JSON strings with a TTL so every process
// behind the load balancer shares invalidations.
type RedisConversationCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisConversationCache builds the cache over an existing client.
func NewRedisConversationCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisConversationCache {
	return &RedisConversationCache{client: client, ttl: ttl, logger: logger}
}

func conversationKey(id int64) string {
	return conversationKeyPrefix + strconv.FormatInt(id, 10)
}

func (c *RedisConversationCache) Get(ctx context.Context, id int64) (*domain.Conversation, bool) {
	raw, err := c.client.Get(ctx, conversationKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("conversation cache get failed", zap.Int64("conversation_id", id), zap.Error(err))
		}
		return nil, false
	}
	var conv domain.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		c.logger.Warn("conversation cache entry corrupt", zap.Int64("conversation_id", id), zap.Error(err))
		c.Invalidate(ctx, id)
		return nil, false
	}
	return &conv, true
}

func (c *RedisConversationCache) Set(ctx context.Context, conv *domain.Conversation) {
	if conv == nil || c.ttl <= 0 {
		return
	}
	raw, err := json.Marshal(conv)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, conversationKey(conv.ID), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("conversation cache set failed", zap.Int64("conversation_id", conv.ID), zap.Error(err))
	}
}

func (c *RedisConversationCache) Invalidate(ctx context.Context, id int64) {
	if err := c.client.Del(ctx, conversationKey(id)).Err(); err != nil {
		c.logger.Warn("conversation cache invalidate failed", zap.Int64("conversation_id", id), zap.Error(err))
	}
}
