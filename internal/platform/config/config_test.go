package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ALMA_ENV", "")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Storage.ConsentTxTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Redis.SignalTTL)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "alma.attribution", cfg.Kafka.AttributionTopic)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 300, cfg.RateLimit.ReadPerWindow)
	assert.Equal(t, 60, cfg.RateLimit.WritePerWindow)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ALMA_ADDR", ":9090")
	t.Setenv("ALMA_DATABASE_URL", "postgres://alma@localhost/alma")
	t.Setenv("ALMA_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("ALMA_CONSENT_TX_TIMEOUT", "2s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "postgres://alma@localhost/alma", cfg.Storage.DatabaseURL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 2*time.Second, cfg.Storage.ConsentTxTimeout)
}

func TestLoad_Rejections(t *testing.T) {
	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("ALMA_SIGNAL_CACHE_TTL", "soon")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("zero write budget", func(t *testing.T) {
		t.Setenv("ALMA_RATELIMIT_WRITE_PER_WINDOW", "0")
		_, err := Load()
		require.Error(t, err)
	})

	t.Run("production requires signing key", func(t *testing.T) {
		t.Setenv("ALMA_ENV", "production")
		_, err := Load()
		require.Error(t, err)
	})
}
