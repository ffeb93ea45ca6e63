package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/helpdesk-labs/support-chat/internal/domain"
)

func TestMemoryConversationCache_TTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewMemoryConversationCache(3 * time.Minute).WithClock(func() time.Time { return now })

	dept := int64(4)
	c.Set(ctx, &domain.Conversation{ID: 1, ClientID: 2, DepartmentID: &dept, Status: domain.ConversationQueued})

	got, ok := c.Get(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, int64(2), got.ClientID)

	*got.DepartmentID = 99
	again, ok := c.Get(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, int64(4), *again.DepartmentID, "callers get copies")

	now = now.Add(3 * time.Minute)
	_, ok = c.Get(ctx, 1)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestMemoryConversationCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryConversationCache(time.Minute)
	c.Set(ctx, &domain.Conversation{ID: 1})
	c.Set(ctx, nil)
	assert.Equal(t, 1, c.Len())

	c.Invalidate(ctx, 1)
	_, ok := c.Get(ctx, 1)
	assert.False(t, ok)

	disabled := NewMemoryConversationCache(0)
	disabled.Set(ctx, &domain.Conversation{ID: 1})
	_, ok = disabled.Get(ctx, 1)
	assert.False(t, ok)
}

func TestRedisConversationCache_UnreachableIsMiss(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	c := NewRedisConversationCache(client, time.Minute, zap.NewNop())
	ctx := context.Background()

	c.Set(ctx, &domain.Conversation{ID: 1})
	_, ok := c.Get(ctx, 1)
	assert.False(t, ok)
	c.Invalidate(ctx, 1)
	assert.Equal(t, "chat:conversation:1", conversationKey(1))
}
