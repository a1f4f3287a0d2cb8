// Package cache implements the Shared Cache capability described in
// spec.md §6.2: a namespaced byte-value store that mirrors the authoritative
// durable bytes for a project so peer instances can rehydrate their Registry
// without going back to the Durable Store on every event.
package cache

import (
	"context"
	"time"
)

// Entry is a single (key, value) pair returned from a namespace scan.
type Entry struct {
	Key   string
	Value []byte
}

// SharedCache is the abstract capability the core depends on. Namespaces are
// the ones enumerated in spec.md §6.2: "schema:<pid>", "entities:<pid>",
// "policies:<pid>", "templates:<pid>", "links:<pid>", "project:<pid>".
type SharedCache interface {
	// Get retrieves a value from the cache. A nil slice with a nil error
	// means the key was not present.
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	// Put stores a value under (namespace, key). ttl of zero means no expiry.
	Put(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error
	// Delete removes a value. Deleting an absent key is a no-op.
	Delete(ctx context.Context, namespace, key string) error
	// Scan iterates every (key, value) currently stored under namespace.
	// Used by init_cache/load_cache to rehydrate every known project.
	Scan(ctx context.Context, namespace string) ([]Entry, error)
	// Ping verifies connectivity to the backing store.
	Ping(ctx context.Context) error
	// Close releases any held resources.
	Close() error
}

// Config holds cache configuration, mirroring spec.md §6.5's
// CacheConfig ∈ {InMemory{}, Distributed{urls[], cluster}}.
type Config struct {
	// Address is the cache server address (e.g., "localhost:6379").
	Address string
	// Password for cache authentication.
	Password string
	// Database number to use.
	Database int
	// DefaultTTL is the default time-to-live for cache entries lacking one.
	DefaultTTL time.Duration
	// KeyPrefix is prepended to all cache keys.
	KeyPrefix string
}

// DefaultConfig returns a default cache configuration.
func DefaultConfig() Config {
	return Config{
		Address:    "localhost:6379",
		Database:   0,
		DefaultTTL: 0,
		KeyPrefix:  "cedrus:",
	}
}

// NamespaceKey builds the "namespace:key" form used as the cache key and as
// the logical row key for scans.
func NamespaceKey(namespace, key string) string {
	return namespace + ":" + key
}
