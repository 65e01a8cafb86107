package gateway

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/MegaGrindStone/evaldash/internal/models"
	"golang.org/x/sync/singleflight"
)

// Cache wraps a Gateway and caches conversation lists per user. Every mutation that goes through it
// invalidates the cache, and so does Invalidate, so a list read that starts after a mutation has
// resolved never returns pre-mutation data. Concurrent list reads of one user share a single request.
type Cache struct {
	Gateway

	group singleflight.Group

	mu      sync.Mutex
	gen     uint64
	entries map[string][]models.Conversation
}

// NewCache wraps gw.
func NewCache(gw Gateway) *Cache {
	return &Cache{
		Gateway: gw,
		entries: make(map[string][]models.Conversation),
	}
}

// ListConversations returns the cached list of userID, fetching it when missing or invalidated.
func (c *Cache) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	c.mu.Lock()
	convs, ok := c.entries[userID]
	gen := c.gen
	c.mu.Unlock()
	if ok {
		return slices.Clone(convs), nil
	}

	// Keying by generation keeps a post-invalidation reader from joining a pre-invalidation fetch. The
	// shared fetch outlives any one caller's cancellation; each caller stops waiting on its own.
	key := fmt.Sprintf("%d/%s", gen, userID)
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		convs, err := c.Gateway.ListConversations(fetchCtx, userID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gen == gen {
			c.entries[userID] = convs
		}
		c.mu.Unlock()
		return convs, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]models.Conversation)), nil
	}
}

// CreateConversation creates a conversation and invalidates the cache.
func (c *Cache) CreateConversation(ctx context.Context, nc models.NewConversation) (models.Conversation, error) {
	defer c.InvalidateAll()
	return c.Gateway.CreateConversation(ctx, nc)
}

// DeleteConversation deletes a conversation and invalidates the cache.
func (c *Cache) DeleteConversation(ctx context.Context, id string) error {
	defer c.InvalidateAll()
	return c.Gateway.DeleteConversation(ctx, id)
}

// SendMessage sends a message and invalidates the cache.
func (c *Cache) SendMessage(ctx context.Context, id string, req models.SendRequest) (models.Reply, error) {
	defer c.InvalidateAll()
	return c.Gateway.SendMessage(ctx, id, req)
}

// Invalidate drops the cached list of userID.
func (c *Cache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	delete(c.entries, userID)
}

// InvalidateAll drops every cached list.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	clear(c.entries)
}
