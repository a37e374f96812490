package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()
	assert.Equal(t, ":4600", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.NotEmpty(t, cfg.Agent)
	require.Len(t, cfg.Critics, 2)
	assert.NotEqual(t, cfg.Critics[0].Provider, cfg.Critics[1].Provider)
	assert.Equal(t, 7*24*time.Hour, cfg.Retention())
	assert.True(t, cfg.TerminateOnFirst)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("DROVER_LISTEN_ADDR", ":9999")
	t.Setenv("DROVER_LOG_LEVEL", "debug")
	t.Setenv("DROVER_POOL_SIZE", "3")
	t.Setenv("DROVER_RETENTION_HOURS", "48")
	t.Setenv("DROVER_TERMINATE_ON_FIRST_STAGE_BUDGET", "0")

	cfg := loadConfig()
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3, cfg.PoolSize)
	assert.Equal(t, 48*time.Hour, cfg.Retention())
	assert.False(t, cfg.TerminateOnFirst)
}

func TestLoadConfigIgnoresBadEnvInts(t *testing.T) {
	t.Setenv("DROVER_POOL_SIZE", "many")
	cfg := loadConfig()
	require.Equal(t, defaultConfig().PoolSize, cfg.PoolSize)
}
