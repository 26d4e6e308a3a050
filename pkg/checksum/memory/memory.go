package memory

import (
	"context"
	"sync"

	"github.com/marmos91/dittosync/pkg/checksum"
)

// Cache keeps checksum records in a map. Records are lost on restart.
type Cache struct {
	mu      sync.RWMutex
	records map[string]checksum.Record
	closed  bool
}

var _ checksum.Cache = (*Cache)(nil)

// New creates an empty in-memory checksum cache.
func New() *Cache {
	return &Cache{records: make(map[string]checksum.Record)}
}

func (c *Cache) Get(ctx context.Context, path string) (checksum.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return checksum.Record{}, false, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return checksum.Record{}, false, checksum.ErrCacheClosed
	}
	rec, ok := c.records[path]
	return rec, ok, nil
}

func (c *Cache) Put(ctx context.Context, path string, rec checksum.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return checksum.ErrCacheClosed
	}
	c.records[path] = rec
	return nil
}

func (c *Cache) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return checksum.ErrCacheClosed
	}
	delete(c.records, path)
	return nil
}

// Len returns the number of cached records.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.records = nil
	return nil
}
