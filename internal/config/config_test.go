package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Transport.Addr)
	assert.Equal(t, 64, cfg.Transport.SinkBuffer)
	assert.Equal(t, time.Second, cfg.PresenceInterval)
	assert.Equal(t, 5*time.Minute, cfg.DirectoryCacheTTL)
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.Equal(t, "ssebot", cfg.Tracing.ServiceName)
	assert.Equal(t, "couchbase://localhost", cfg.Couchbase.ConnectionString)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.TracingEnabled)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"HTTP_ADDR":         ":9999",
		"SINK_BUFFER":       "16",
		"PRESENCE_INTERVAL": "250ms",
		"TRACING_ENABLED":   "false",
		"LOG_LEVEL":         "debug",
	})
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Transport.Addr)
	assert.Equal(t, 16, cfg.Transport.SinkBuffer)
	assert.Equal(t, 250*time.Millisecond, cfg.PresenceInterval)
	assert.False(t, cfg.TracingEnabled)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := LoadFrom(map[string]string{"SINK_BUFFER": "0", "PRESENCE_INTERVAL": "-1s"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SINK_BUFFER")
	assert.Contains(t, err.Error(), "PRESENCE_INTERVAL")

	_, err = LoadFrom(map[string]string{"PRESENCE_INTERVAL": "soon"})
	require.Error(t, err)
}
