// Package config loads Cedrus Core's construction parameters from the
// environment, the way the teacher's own config package resolves its
// listen address and API keys: plain getenv/getenvInt helpers, no
// generated flag parsing.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DBKind selects the Durable Store driver. CouchDB/DynamoDB are named in
// spec.md §6.5 but no client for either ships anywhere in the dependency
// corpus this module draws on; Postgres and SQLite are the concrete drivers
// actually available, and the core's contract (§6.1) is driver-agnostic, so
// those stand in without changing any core semantics.
type DBKind string

const (
	DBPostgres DBKind = "postgres"
	DBSQLite   DBKind = "sqlite"
)

type DBConfig struct {
	Kind DBKind
	// DSN is a postgres connection string for DBPostgres, or a file path
	// (":memory:" included) for DBSQLite.
	DSN string
}

// CacheKind selects the Shared Cache driver per spec.md §6.5's
// InMemory{} / Distributed{urls[],cluster} variants.
type CacheKind string

const (
	CacheInMemory CacheKind = "in_memory"
	CacheRedis    CacheKind = "redis"
)

type CacheConfig struct {
	Kind     CacheKind
	Address  string
	Password string
	Database int
}

// PubSubKind selects the Event Bus driver per spec.md §6.5's
// None{} / Distributed{urls[],channel_name,cluster} variants.
type PubSubKind string

const (
	PubSubNone  PubSubKind = "none"
	PubSubKafka PubSubKind = "kafka"
)

type PubSubConfig struct {
	Kind    PubSubKind
	Brokers []string
	Topic   string
	GroupID string
}

// IdentitySourceConfig is consumed but not interpreted by the core (§4.6);
// it is passed through to whatever collaborator resolves principals.
type IdentitySourceConfig struct {
	Kind string
	URI  string
}

// Config is the `{ db, cache, pubsub, admin_api_key, identity_source }`
// construction record from spec.md §6.5, plus the BatchLimit this
// implementation adds to resolve the batch-size Open Question in §9.
type Config struct {
	DB             DBConfig
	Cache          CacheConfig
	PubSub         PubSubConfig
	AdminAPIKey    string
	IdentitySource IdentitySourceConfig
	BatchLimit     int
}

// Load builds a Config from the environment. Unset values fall back to a
// local, single-instance development posture (SQLite file cedrus.db +
// in-memory cache + no pub/sub) so the core runs standalone without any
// external service.
func Load() Config {
	return Config{
		DB: DBConfig{
			Kind: DBKind(getenv("CEDRUS_DB_KIND", string(DBSQLite))),
			DSN:  getenv("CEDRUS_DB_DSN", "cedrus.db"),
		},
		Cache: CacheConfig{
			Kind:     CacheKind(getenv("CEDRUS_CACHE_KIND", string(CacheInMemory))),
			Address:  getenv("CEDRUS_CACHE_ADDR", "localhost:6379"),
			Password: getenv("CEDRUS_CACHE_PASSWORD", ""),
			Database: getenvInt("CEDRUS_CACHE_DB", 0),
		},
		PubSub: PubSubConfig{
			Kind:    PubSubKind(getenv("CEDRUS_PUBSUB_KIND", string(PubSubNone))),
			Brokers: getenvList("CEDRUS_PUBSUB_BROKERS", nil),
			Topic:   getenv("CEDRUS_PUBSUB_TOPIC", "cedrus.events"),
			GroupID: getenv("CEDRUS_PUBSUB_GROUP", "cedrus-core"),
		},
		AdminAPIKey: getenv("CEDRUS_ADMIN_API_KEY", ""),
		IdentitySource: IdentitySourceConfig{
			Kind: getenv("CEDRUS_IDENTITY_SOURCE_KIND", ""),
			URI:  getenv("CEDRUS_IDENTITY_SOURCE_URI", ""),
		},
		BatchLimit: getenvInt("CEDRUS_BATCH_LIMIT", 100),
	}
}

// Validate reports a configuration that cannot be used to construct the
// core, such as a Kafka pub/sub with no brokers configured.
func (c Config) Validate() error {
	if c.PubSub.Kind == PubSubKafka && len(c.PubSub.Brokers) == 0 {
		return fmt.Errorf("pubsub kind %q requires at least one broker", c.PubSub.Kind)
	}
	if c.Cache.Kind == CacheRedis && c.Cache.Address == "" {
		return fmt.Errorf("cache kind %q requires an address", c.Cache.Kind)
	}
	if c.BatchLimit <= 0 {
		return fmt.Errorf("batch limit must be positive, got %d", c.BatchLimit)
	}
	return nil
}

func (c Config) Snapshot() map[string]any {
	return map[string]any{
		"dbKind":     c.DB.Kind,
		"cacheKind":  c.Cache.Kind,
		"pubsubKind": c.PubSub.Kind,
		"batchLimit": c.BatchLimit,
	}
}

func getenv(k, fallback string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(k string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(k))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func getenvList(k string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(k))
	if raw == "" {
		return fallback
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
