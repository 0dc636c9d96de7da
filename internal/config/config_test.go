package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "0.001", cfg.Trading.FeeRate)
	assert.Equal(t, "100000", cfg.Trading.StartingCash)
	assert.Equal(t, 250*time.Millisecond, cfg.LockWait())
	assert.Equal(t, 2*time.Second, cfg.OracleTimeout())
	assert.Equal(t, 5*time.Second, cfg.ValuationInterval())
	assert.Equal(t, 30, cfg.Store.CacheTTLSeconds)
	assert.Equal(t, "achievements.yaml", cfg.Achievements.Path)
	assert.Equal(t, "info", cfg.Log.Level)

	assert.True(t, cfg.FeeRate().Equal(decimal.RequireFromString("0.001")))
	assert.True(t, cfg.StartingCash().Equal(decimal.NewFromInt(100000)))
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "no-such-file.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
trading:
  fee_rate: "0.0025"
  starting_cash: "50000"
  lock_wait_ms: 500
oracle:
  base_url: "http://quotes.internal:8000"
  timeout_ms: 1500
valuation:
  interval_seconds: 30
log:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.True(t, cfg.FeeRate().Equal(decimal.RequireFromString("0.0025")))
	assert.True(t, cfg.StartingCash().Equal(decimal.NewFromInt(50000)))
	assert.Equal(t, 500*time.Millisecond, cfg.LockWait())
	assert.Equal(t, "http://quotes.internal:8000", cfg.Oracle.BaseURL)
	assert.Equal(t, 1500*time.Millisecond, cfg.OracleTimeout())
	assert.Equal(t, 30*time.Second, cfg.ValuationInterval())
	assert.Equal(t, "debug", cfg.Log.Level)

	// Unset fields still default.
	assert.Equal(t, 50, cfg.Oracle.RatePerSec)
	assert.Equal(t, "achievements.yaml", cfg.Achievements.Path)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
oracle:
  base_url: "http://from-file"
`), 0o644))

	t.Setenv("PORT", "7070")
	t.Setenv("ORACLE_URL", "http://from-env")
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "http://from-env", cfg.Oracle.BaseURL)
	assert.Equal(t, "postgres://env/db", cfg.Store.DatabaseURL)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_AddrBeatsPort(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("ADDR", "127.0.0.1:6060")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6060", cfg.Server.Addr)
}

func TestLoad_InvalidDecimals(t *testing.T) {
	dir := t.TempDir()

	badFee := filepath.Join(dir, "fee.yaml")
	require.NoError(t, os.WriteFile(badFee, []byte("trading:\n  fee_rate: \"lots\"\n"), 0o644))
	_, err := Load(badFee)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid fee_rate")

	badCash := filepath.Join(dir, "cash.yaml")
	require.NoError(t, os.WriteFile(badCash, []byte("trading:\n  starting_cash: \"a million\"\n"), 0o644))
	_, err = Load(badCash)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid starting_cash")
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not: a: mapping\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
