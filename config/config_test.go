package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigRequiresSecret(t *testing.T) {
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "3030", cfg.Port)
	assert.Equal(t, "/v1/socket", cfg.SocketPath)
	assert.Equal(t, "auth-token", cfg.TokenKey)
	assert.Equal(t, 100, cfg.HistoryKeep)
	assert.Equal(t, int64(18000), cfg.TokenExpireSeconds)
	assert.Equal(t, "test-secret", cfg.JWTSecret)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("PORT", "8080")
	t.Setenv("HISTORY_KEEP", "25")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 25, cfg.HistoryKeep)
}
