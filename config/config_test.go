package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, StoreBackendPostgres, cfg.Database.Backend)
	assert.Equal(t, SessionBackendRedis, cfg.Redis.Backend)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "payment-events", cfg.Kafka.TopicPaymentEvents)
	assert.Equal(t, 30*time.Minute, cfg.Business.SessionTTL)
	assert.Equal(t, 5*time.Second, cfg.Business.ClassifierTimeout)
	assert.Equal(t, 64, cfg.Business.ClientCacheSize)
	assert.Equal(t, "https://api.line.me", cfg.Line.APIBaseURL)

	retry := cfg.Business.Retry()
	assert.Equal(t, 3, retry.Attempts)
	assert.Equal(t, 50*time.Millisecond, retry.Backoff)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("SESSION_BACKEND", "memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("SESSION_TTL", "1h")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://admin.example.com,https://ops.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, StoreBackendMemory, cfg.Database.Backend)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, time.Hour, cfg.Business.SessionTTL)
	assert.Len(t, cfg.Server.CORSAllowedOrigins, 2)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	t.Setenv("STORE_BACKEND", "mongo")
	t.Setenv("RETRY_ATTEMPTS", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_BACKEND")
	assert.Contains(t, err.Error(), "RETRY_ATTEMPTS")

	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("RETRY_ATTEMPTS", "3")
	t.Setenv("SESSION_TTL", "soon")
	_, err = Load()
	assert.Error(t, err)
}
