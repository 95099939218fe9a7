package generation

import (
	"context"
	"sync"
)

// tableCache holds the full canonical table, keyed by the store's max _id.
// Any load that changes the max _id invalidates it.
type tableCache struct {
	mu      sync.RWMutex
	loaded  bool
	version int64
	rows    []Generation
}

func (c *tableCache) get(ctx context.Context, store Store) ([]Generation, int64, error) {
	version, err := store.MaxID(ctx)
	if err != nil {
		return nil, 0, err
	}

	c.mu.RLock()
	if c.loaded && c.version == version {
		rows := c.rows
		c.mu.RUnlock()
		return rows, version, nil
	}
	c.mu.RUnlock()

	rows, err := store.All(ctx)
	if err != nil {
		return nil, 0, err
	}

	c.mu.Lock()
	c.rows = rows
	c.version = version
	c.loaded = true
	c.mu.Unlock()

	return rows, version, nil
}

func (c *tableCache) invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.rows = nil
	c.mu.Unlock()
}
