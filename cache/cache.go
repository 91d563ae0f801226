/*
Package cache is the LRU+TTL keyed cache with prefix invalidation
(component D). It is strictly a performance aid: every mutation path
invalidates the relevant prefix synchronously, and no reader is ever
permitted to treat a cache hit as more authoritative than the ledger/store
it fronts.
*/
package cache

import (
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Config mirrors the engine's cache.* options (§6).
type Config struct {
	MaxSize    int
	DefaultTTL time.Duration
}

// DefaultConfig matches the documented defaults: 1000 entries, 30s TTL.
func DefaultConfig() Config {
	return Config{MaxSize: 1000, DefaultTTL: 30 * time.Second}
}

// Cache is a key -> value store with global TTL eviction and prefix-based
// invalidation. The underlying expirable LRU evicts both on capacity and on
// TTL expiry; Invalidate{ByPrefix,All} additionally let mutation paths
// proactively drop entries the moment the data they reflect changes.
type Cache struct {
	mu   sync.Mutex
	lru  *lru.LRU[string, any]
	keys map[string]struct{} // tracked for prefix invalidation
}

// New builds a cache with the given configuration.
func New(cfg Config) *Cache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultConfig().MaxSize
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultConfig().DefaultTTL
	}
	c := &Cache{keys: make(map[string]struct{})}
	c.lru = lru.NewLRU[string, any](cfg.MaxSize, c.onEvict, cfg.DefaultTTL)
	return c
}

func (c *Cache) onEvict(key string, _ any) {
	delete(c.keys, key)
}

// Get returns the cached value for key, if present and unexpired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(key)
}

// Put stores value under key using the cache's default TTL.
func (c *Cache) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, value)
	c.keys[key] = struct{}{}
}

// InvalidateByPrefix drops every cached key starting with prefix. Used by
// mutation paths: "customer_", "products_", "stock_", "invoices_".
func (c *Cache) InvalidateByPrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.keys {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
			delete(c.keys, key)
		}
	}
}

// InvalidateAll clears the entire cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	c.keys = make(map[string]struct{})
}
