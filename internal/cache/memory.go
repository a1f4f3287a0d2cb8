// Package cache provides Shared Cache implementations for Cedrus Core.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryCache implements SharedCache in-process. It backs single-instance
// deployments and tests; nothing it stores survives process restart.
type MemoryCache struct {
	mu        sync.RWMutex
	data      map[string]*cacheEntry
	keyPrefix string
}

type cacheEntry struct {
	value      []byte
	expiration time.Time // zero means no expiry
}

func (e *cacheEntry) expired(now time.Time) bool {
	return !e.expiration.IsZero() && now.After(e.expiration)
}

// NewMemoryCache creates a new in-memory Shared Cache.
func NewMemoryCache() *MemoryCache {
	mc := &MemoryCache{
		data:      make(map[string]*cacheEntry),
		keyPrefix: "cedrus:",
	}
	go mc.cleanupExpired()
	return mc
}

func (c *MemoryCache) Get(_ context.Context, namespace, key string) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.data[c.prefixedKey(namespace, key)]
	if !ok || entry.expired(time.Now()) {
		return nil, nil
	}
	return entry.value, nil
}

func (c *MemoryCache) Put(_ context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiration time.Time
	if ttl > 0 {
		expiration = time.Now().Add(ttl)
	}
	c.data[c.prefixedKey(namespace, key)] = &cacheEntry{value: value, expiration: expiration}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, namespace, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, c.prefixedKey(namespace, key))
	return nil
}

func (c *MemoryCache) Scan(_ context.Context, namespace string) ([]Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	prefix := c.keyPrefix + namespace + ":"
	now := time.Now()
	var out []Entry
	for k, entry := range c.data {
		if entry.expired(now) || !strings.HasPrefix(k, prefix) {
			continue
		}
		out = append(out, Entry{Key: strings.TrimPrefix(k, prefix), Value: entry.value})
	}
	return out, nil
}

func (c *MemoryCache) Ping(context.Context) error { return nil }

func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]*cacheEntry)
	return nil
}

func (c *MemoryCache) prefixedKey(namespace, key string) string {
	return c.keyPrefix + NamespaceKey(namespace, key)
}

// cleanupExpired periodically purges stale entries so a long-lived instance
// does not accumulate TTL'd garbage.
func (c *MemoryCache) cleanupExpired() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		now := time.Now()
		for k, entry := range c.data {
			if entry.expired(now) {
				delete(c.data, k)
			}
		}
		c.mu.Unlock()
	}
}
