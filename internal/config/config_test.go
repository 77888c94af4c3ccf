package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "nearest", cfg.DispatchPolicy)
	assert.Equal(t, 64, cfg.SubscriberBuffer)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.False(t, cfg.SeedDemo)
}

func TestLoadServerConfigFromEnv(t *testing.T) {
	t.Setenv("HTTP_READ_TIMEOUT", "2s")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("DISPATCH_POLICY", "FIRST")
	t.Setenv("SEED_DEMO", "true")
	t.Setenv("NEARBY_LIMIT", "3")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.ReadTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "first", cfg.DispatchPolicy)
	assert.True(t, cfg.SeedDemo)
	assert.Equal(t, 3, cfg.NearbyLimit)
}

func TestLoadServerConfigJoinsErrors(t *testing.T) {
	t.Setenv("HTTP_WRITE_TIMEOUT", "soon")
	t.Setenv("SUBSCRIBER_BUFFER", "0")
	t.Setenv("DISPATCH_POLICY", "random")

	_, err := LoadServerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP_WRITE_TIMEOUT")
	assert.Contains(t, err.Error(), "SUBSCRIBER_BUFFER")
	assert.Contains(t, err.Error(), "DISPATCH_POLICY")
}

func TestLoadConsumerConfigRequiresBrokers(t *testing.T) {
	_, err := LoadConsumerConfig()
	assert.ErrorContains(t, err, "KAFKA_BROKERS")

	t.Setenv("KAFKA_BROKERS", "k1:9092")
	cfg, err := LoadConsumerConfig()
	require.NoError(t, err)
	assert.Equal(t, "pickup-geo-mirror", cfg.KafkaGroup)
	assert.Equal(t, 5, cfg.MaxRetries)
}
