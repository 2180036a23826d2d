package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("PR_DATA_DIR", tmp)
	t.Setenv("TUSHARE_TOKEN", "")
	t.Setenv("TUSHARE_TIER", "")
	t.Setenv("GO_PORT", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(cfg.DataDir))
	assert.Equal(t, "free", cfg.TushareTier)
	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.DevMode)
}

func TestLoad_EnvOverrides(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("PR_DATA_DIR", tmp)
	t.Setenv("TUSHARE_TOKEN", "abc123")
	t.Setenv("TUSHARE_TIER", "standard")
	t.Setenv("GO_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DEV_MODE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "abc123", cfg.TushareToken)
	assert.Equal(t, "standard", cfg.TushareTier)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.DevMode)
}

func TestValidate_RejectsUnknownTier(t *testing.T) {
	cfg := &Config{TushareTier: "platinum"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TUSHARE_TIER")
}

func TestLoad_InvalidPortFallsBack(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("PR_DATA_DIR", tmp)
	t.Setenv("TUSHARE_TIER", "free")
	t.Setenv("GO_PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8001, cfg.Port)
}
