package meta

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache memoizes successful Describe calls for the lifetime of a run.
// Concurrent misses for the same object type share one call; failures are not cached.
type Cache struct {
	provider Provider
	group    singleflight.Group

	mu      sync.RWMutex
	entries map[string]*ObjectMetadata
}

func NewCache(provider Provider) *Cache {
	return &Cache{provider: provider, entries: map[string]*ObjectMetadata{}}
}

func (c *Cache) Describe(ctx context.Context, objectType string) (*ObjectMetadata, error) {
	c.mu.RLock()
	md, ok := c.entries[objectType]
	c.mu.RUnlock()
	if ok {
		return md, nil
	}

	v, err, _ := c.group.Do(objectType, func() (any, error) {
		md, err := c.provider.Describe(ctx, objectType)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[objectType] = md
		c.mu.Unlock()
		return md, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ObjectMetadata), nil
}

// Put installs metadata without consulting the provider.
func (c *Cache) Put(md *ObjectMetadata) {
	c.mu.Lock()
	c.entries[md.Name] = md
	c.mu.Unlock()
}

func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = map[string]*ObjectMetadata{}
	c.mu.Unlock()
}
