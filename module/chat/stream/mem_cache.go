package stream

import (
	"context"
	"sort"
	"sync"

	"MagicChat/module/chat/model"
)

// MemCache 进程内流式缓存,测试与单机体验用.
type MemCache struct {
	mu      sync.RWMutex
	entries map[string]*model.StreamCacheEntry
}

func NewMemCache() *MemCache {
	return &MemCache{entries: make(map[string]*model.StreamCacheEntry)}
}

func (c *MemCache) Put(ctx context.Context, e *model.StreamCacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *e
	c.entries[cp.AppMessageID] = &cp
	return nil
}

func (c *MemCache) Get(ctx context.Context, appMessageID string) (*model.StreamCacheEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.entries[appMessageID]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, nil
}

func (c *MemCache) Delete(ctx context.Context, appMessageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, appMessageID)
	return nil
}

func (c *MemCache) Stale(ctx context.Context, beforeMS int64, limit int) ([]*model.StreamCacheEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*model.StreamCacheEntry, 0)
	for _, e := range c.entries {
		if e.LastActiveMS <= beforeMS {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActiveMS < out[j].LastActiveMS })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
