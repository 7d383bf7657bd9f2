package cache

import (
	"time"

	"github.com/hashicorp/go-multierror"
)

// LayeredCache implements a two-layer cache (memory in front of a persistent store)
type LayeredCache struct {
	memory     Cache
	persistent Cache
}

// NewLayeredCache creates a new layered cache
func NewLayeredCache(memory, persistent Cache) *LayeredCache {
	return &LayeredCache{
		memory:     memory,
		persistent: persistent,
	}
}

// Get retrieves a value from the cache (checks memory first, then the persistent layer)
func (c *LayeredCache) Get(key string) ([]byte, bool) {
	// Check memory cache first
	if val, found := c.memory.Get(key); found {
		return val, true
	}

	if val, found := c.persistent.Get(key); found {
		// Promote to memory cache
		_ = c.memory.Set(key, val, 0) // Use default TTL
		return val, true
	}

	return nil, false
}

// Set stores a value in both layers
func (c *LayeredCache) Set(key string, value []byte, ttl time.Duration) error {
	if err := c.memory.Set(key, value, ttl); err != nil {
		return err
	}
	return c.persistent.Set(key, value, ttl)
}

// Delete removes a value from both layers
func (c *LayeredCache) Delete(key string) error {
	var result *multierror.Error
	if err := c.memory.Delete(key); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.persistent.Delete(key); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Clear removes all values from both layers
func (c *LayeredCache) Clear() error {
	var result *multierror.Error
	if err := c.memory.Clear(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.persistent.Clear(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Close closes both layers
func (c *LayeredCache) Close() error {
	return Close(c.memory, c.persistent)
}
