package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
coins:
  mode: static
  symbols: [BTCUSDT, ETHUSDT]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9985", cfg.Server.Addr)
	assert.Equal(t, "data/aquant.db", cfg.Database.Path)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "15m", cfg.Market.KlineInterval)
	assert.Equal(t, 100, cfg.Market.KlineLimit)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.BuyInterval)
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `
scheduler:
  enabled: true
  buy_interval: 30m
  sell_interval: 90s
ai:
  timeout: 45s
coins:
  mode: static
  symbols: [BTCUSDT]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 30*time.Minute, cfg.Scheduler.BuyInterval)
	assert.Equal(t, 90*time.Second, cfg.Scheduler.SellInterval)
	assert.Equal(t, 45*time.Second, cfg.AI.Timeout)
}

func TestLoadRejectsBadCoinsMode(t *testing.T) {
	path := writeConfig(t, `
coins:
  mode: magic
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "coins.mode")
}

func TestLoadRejectsFileModeWithoutPath(t *testing.T) {
	path := writeConfig(t, `
coins:
  mode: file
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "coins.file")
}
