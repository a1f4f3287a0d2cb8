package cache

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements SharedCache using go-redis, giving connection
// pooling, automatic retries and pipeline-friendly scans across instances.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
}

// RedisConfig holds connection settings for the distributed Shared Cache.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
	KeyPrefix    string
	UseTLS       bool
}

// DefaultRedisConfig returns defaults sourced from environment variables.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         getEnv("CEDRUS_REDIS_ADDR", "localhost:6379"),
		Password:     getEnv("CEDRUS_REDIS_PASSWORD", ""),
		DB:           getEnvInt("CEDRUS_REDIS_DB", 0),
		PoolSize:     getEnvInt("CEDRUS_REDIS_POOL_SIZE", 10),
		MinIdleConns: getEnvInt("CEDRUS_REDIS_MIN_IDLE_CONNS", 2),
		MaxRetries:   getEnvInt("CEDRUS_REDIS_MAX_RETRIES", 3),
		DialTimeout:  getEnvDuration("CEDRUS_REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  getEnvDuration("CEDRUS_REDIS_READ_TIMEOUT", 5*time.Second),
		WriteTimeout: getEnvDuration("CEDRUS_REDIS_WRITE_TIMEOUT", 5*time.Second),
		PoolTimeout:  getEnvDuration("CEDRUS_REDIS_POOL_TIMEOUT", 5*time.Second),
		KeyPrefix:    getEnv("CEDRUS_REDIS_KEY_PREFIX", "cedrus:"),
		UseTLS:       getEnvBool("CEDRUS_REDIS_USE_TLS", false),
	}
}

// NewRedisCache dials Redis and verifies connectivity.
func NewRedisCache(config *RedisConfig) (*RedisCache, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	opts := &redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		PoolTimeout:  config.PoolTimeout,
	}
	if config.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client, keyPrefix: config.KeyPrefix}, nil
}

func (c *RedisCache) prefixKey(namespace, key string) string {
	return c.keyPrefix + NamespaceKey(namespace, key)
}

func (c *RedisCache) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	result, err := c.client.Get(ctx, c.prefixKey(namespace, key)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get failed: %w", err)
	}
	return []byte(result), nil
}

func (c *RedisCache) Put(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefixKey(namespace, key), value, ttl).Err(); err != nil {
		return fmt.Errorf("cache put failed: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, namespace, key string) error {
	if err := c.client.Del(ctx, c.prefixKey(namespace, key)).Err(); err != nil {
		return fmt.Errorf("cache delete failed: %w", err)
	}
	return nil
}

// Scan walks the namespace with Redis's cursor-based SCAN so it never blocks
// the server the way KEYS would on a large keyspace.
func (c *RedisCache) Scan(ctx context.Context, namespace string) ([]Entry, error) {
	prefix := c.keyPrefix + namespace + ":"
	var cursor uint64
	var out []Entry
	for {
		keys, next, err := c.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("cache scan failed: %w", err)
		}
		if len(keys) > 0 {
			values, err := c.client.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, fmt.Errorf("cache scan mget failed: %w", err)
			}
			for i, k := range keys {
				v, ok := values[i].(string)
				if !ok {
					continue
				}
				out = append(out, Entry{Key: k[len(prefix):], Value: []byte(v)})
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache ping failed: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("cache close failed: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

var _ SharedCache = (*RedisCache)(nil)
var _ SharedCache = (*MemoryCache)(nil)
