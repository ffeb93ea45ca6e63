// Package cache holds the short-lived conversation lookup cache used by room authorization.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/helpdesk-labs/support-chat/internal/domain"
)

// ConversationCache stores recent conversation reads. Implementations treat backend failures
// as misses; a cache is never the source of truth.
type ConversationCache interface {
	Get(ctx context.Context, id int64) (*domain.Conversation, bool)
	Set(ctx context.Context, conv *domain.Conversation)
	Invalidate(ctx context.Context, id int64)
}

type memoryEntry struct {
	conv      *domain.Conversation
	expiresAt time.Time
}

// MemoryConversationCache is a TTL map guarded by a mutex.
type MemoryConversationCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[int64]memoryEntry
}

// NewMemoryConversationCache builds an in-process cache.
func NewMemoryConversationCache(ttl time.Duration) *MemoryConversationCache {
	return &MemoryConversationCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[int64]memoryEntry),
	}
}

// WithClock overrides the time source.
func (c *MemoryConversationCache) WithClock(now func() time.Time) *MemoryConversationCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

func (c *MemoryConversationCache) Get(_ context.Context, id int64) (*domain.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, id)
		return nil, false
	}
	return entry.conv.Clone(), true
}

func (c *MemoryConversationCache) Set(_ context.Context, conv *domain.Conversation) {
	if conv == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[conv.ID] = memoryEntry{conv: conv.Clone(), expiresAt: c.now().Add(c.ttl)}
}

func (c *MemoryConversationCache) Invalidate(_ context.Context, id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// Len reports the number of live and expired-but-unreaped entries.
func (c *MemoryConversationCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
