package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()
	assert.Equal(t, DBSQLite, cfg.DB.Kind)
	assert.Equal(t, CacheInMemory, cfg.Cache.Kind)
	assert.Equal(t, PubSubNone, cfg.PubSub.Kind)
	assert.Equal(t, 100, cfg.BatchLimit)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CEDRUS_DB_KIND", "postgres")
	t.Setenv("CEDRUS_PUBSUB_KIND", "kafka")
	t.Setenv("CEDRUS_PUBSUB_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("CEDRUS_BATCH_LIMIT", "50")

	cfg := Load()
	assert.Equal(t, DBPostgres, cfg.DB.Kind)
	assert.Equal(t, PubSubKafka, cfg.PubSub.Kind)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.PubSub.Brokers)
	assert.Equal(t, 50, cfg.BatchLimit)
	assert.NoError(t, cfg.Validate())
}

func TestValidate_KafkaRequiresBrokers(t *testing.T) {
	cfg := Config{PubSub: PubSubConfig{Kind: PubSubKafka}, BatchLimit: 1}
	assert.Error(t, cfg.Validate())
}

func TestValidate_BatchLimitMustBePositive(t *testing.T) {
	cfg := Config{BatchLimit: 0}
	assert.Error(t, cfg.Validate())
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CEDRUS_DB_KIND", "CEDRUS_DB_DSN", "CEDRUS_CACHE_KIND", "CEDRUS_CACHE_ADDR",
		"CEDRUS_CACHE_PASSWORD", "CEDRUS_CACHE_DB", "CEDRUS_PUBSUB_KIND", "CEDRUS_PUBSUB_BROKERS",
		"CEDRUS_PUBSUB_TOPIC", "CEDRUS_PUBSUB_GROUP", "CEDRUS_ADMIN_API_KEY",
		"CEDRUS_IDENTITY_SOURCE_KIND", "CEDRUS_IDENTITY_SOURCE_URI", "CEDRUS_BATCH_LIMIT",
	} {
		os.Unsetenv(k)
	}
}
