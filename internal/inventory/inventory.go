// Package inventory maintains the local cache of items we own.
//
// The cache is advisory: the Gateway holds the truth. After a completed
// trade the traded items are dropped eagerly and a full refresh is pulled
// so decision policies see a post-trade-consistent view.
package inventory

import (
	"context"
	"fmt"
	"sync"

	"github.com/mbd888/offerflow/internal/offers"
)

// Source loads the full inventory from the Gateway side.
type Source interface {
	FetchInventory(ctx context.Context) ([]offers.Item, error)
}

// Cache is a mutex-guarded item cache keyed by asset id.
type Cache struct {
	source Source

	mu    sync.RWMutex
	items map[string]offers.Item
}

// NewCache creates an empty cache backed by source.
func NewCache(source Source) *Cache {
	return &Cache{
		source: source,
		items:  make(map[string]offers.Item),
	}
}

// RemoveItem drops the item with the given asset id. No-op if absent.
func (c *Cache) RemoveItem(assetID string) {
	c.mu.Lock()
	delete(c.items, assetID)
	c.mu.Unlock()
}

// Refresh replaces the cache contents from the source.
func (c *Cache) Refresh(ctx context.Context) error {
	items, err := c.source.FetchInventory(ctx)
	if err != nil {
		return fmt.Errorf("inventory: refresh: %w", err)
	}

	next := make(map[string]offers.Item, len(items))
	for _, item := range items {
		next[item.AssetID] = item
	}

	c.mu.Lock()
	c.items = next
	c.mu.Unlock()
	return nil
}

// Has reports whether the cache holds the given asset id.
func (c *Cache) Has(assetID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.items[assetID]
	return ok
}

// Items returns a copy of the cached items (unordered).
func (c *Cache) Items() []offers.Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]offers.Item, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, item)
	}
	return out
}

// Len returns the number of cached items.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
