package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/market-engine/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(config.EnvFile, "")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
	assert.True(t, cfg.Fee().IsZero())
	assert.Equal(t, "America/Los_Angeles", cfg.Location().String())
	assert.Equal(t, 5, cfg.RetryPolicy().MaxAttempts)
}

func TestLoad_FileThenEnv(t *testing.T) {
	// GIVEN: A YAML file setting fee, domain and backoff, and an env var
	//        overriding the fee
	// WHEN: Loading
	// THEN: Env wins over the file, the file wins over defaults

	path := filepath.Join(t.TempDir(), "market.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
liquidity_fee: 0.05
domain: dev.manifold.markets
retry_base_backoff: 50ms
relational_driver: postgres
`), 0o600))
	t.Setenv(config.EnvFile, path)
	t.Setenv("MARKET_LIQUIDITY_FEE", "0.1")
	t.Setenv("MARKET_TRIGGER_BATCH_SIZE", "7")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, 0.1, cfg.LiquidityFee)
	assert.Equal(t, "dev.manifold.markets", cfg.Domain)
	assert.Equal(t, 50*time.Millisecond, cfg.RetryBaseBackoff)
	assert.Equal(t, "postgres", cfg.RelationalDriver)
	assert.Equal(t, 7, cfg.TriggerBatchSize)
	assert.Equal(t, ":8080", cfg.Addr)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	t.Setenv(config.EnvFile, "")
	t.Setenv("MARKET_LIQUIDITY_FEE", "1.5")
	t.Setenv("MARKET_TIMEZONE", "Mars/Olympus_Mons")

	_, err := config.Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "liquidity_fee")
	assert.Contains(t, err.Error(), "timezone")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	cfg := config.Default()
	cfg.LogFormat = "console"
	cfg.LogLevel = "debug"
	logger, err := cfg.NewLogger()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))
}
