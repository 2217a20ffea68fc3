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

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scalper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "XAUUSD", cfg.Symbol)
	assert.Equal(t, 5*time.Second, cfg.BarInterval)
	assert.Equal(t, 14, cfg.Indicators.RSIPeriod)
	assert.Equal(t, 30.0, cfg.Strategy.RSIOversold)
	assert.Equal(t, 70.0, cfg.Strategy.RSIOverbought)
	assert.Equal(t, 3, cfg.Strategy.MaxConcurrentPositions)
	assert.True(t, cfg.Strategy.DefaultLotSize.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, cfg.Strategy.PartialCloseFraction.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, 60*time.Second, cfg.Strategy.LossCooldown)
	assert.Equal(t, "paper", cfg.Execution.Mode)
	assert.Equal(t, 5*time.Second, cfg.Execution.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Execution.PendingTimeout)
	assert.True(t, cfg.Execution.InitialEquity.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, "ws", cfg.Feed.Mode)
	assert.Equal(t, "ws://localhost:9001/ws", cfg.Feed.URL)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeYAML(t, `
symbol: XAUUSD
bar_interval: 10s
strategy:
  rsi_oversold: 25
  rsi_overbought: 75
  default_lot_size: "0.05"
  take_profit_mode: atr
  take_profit_atr_multiple: 1.5
  entry_cooldown: 30s
execution:
  timeout: 2s
  slippage_points: 3
risk:
  risk_percent: 1
  max_daily_loss: 250.50
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.BarInterval)
	assert.Equal(t, 25.0, cfg.Strategy.RSIOversold)
	assert.True(t, cfg.Strategy.DefaultLotSize.Equal(decimal.RequireFromString("0.05")))
	assert.Equal(t, "atr", cfg.Strategy.TakeProfitMode)
	assert.Equal(t, 1.5, cfg.Strategy.TakeProfitATRMultiple)
	assert.Equal(t, 30*time.Second, cfg.Strategy.EntryCooldown)
	assert.Equal(t, 2*time.Second, cfg.Execution.Timeout)
	assert.Equal(t, int64(3), cfg.Execution.SlippagePoints)
	assert.True(t, cfg.Risk.MaxDailyLoss.Equal(decimal.RequireFromString("250.5")))
	// untouched keys keep their defaults
	assert.Equal(t, 3, cfg.Strategy.MaxConcurrentPositions)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SCALPER_STRATEGY_MAX_CONCURRENT_POSITIONS", "5")
	t.Setenv("SCALPER_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Strategy.MaxConcurrentPositions)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_InvalidConfiguration(t *testing.T) {
	cases := map[string]string{
		"oversold above overbought": "strategy:\n  rsi_oversold: 80\n  rsi_overbought: 20\n",
		"zero positions":            "strategy:\n  max_concurrent_positions: 0\n",
		"negative stop":             "strategy:\n  stop_loss_points: -5\n",
		"unknown tp mode":           "strategy:\n  take_profit_mode: trailing\n",
		"bad mode":                  "execution:\n  mode: live\n",
		"telegram without chat":     "notify:\n  telegram_token: abc\n",
		"bad webhook":               "notify:\n  webhook_url: not a url\n",
		"bad webhook level":         "notify:\n  webhook_min_level: LOUD\n",
		"bar interval too short":    "bar_interval: 100ms\n",
		"unknown feed":              "feed:\n  mode: fix\n",
		"ws feed without url":       "feed:\n  mode: ws\n  url: \"\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeYAML(t, body))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}
}

func TestValidate_CollectsEveryFailure(t *testing.T) {
	cfg := Default()
	cfg.Strategy.RSIOversold = 90
	cfg.Execution.InitialEquity = decimal.NewFromInt(-1)

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalidConfiguration)
	assert.Contains(t, err.Error(), "rsi_oversold")
	assert.Contains(t, err.Error(), "initial_equity")
}

func TestYAML_MasksSecrets(t *testing.T) {
	path := writeYAML(t, `
notify:
  telegram_token: "123:secret"
  telegram_chat_id: "42"
storage:
  redis_password: hunter2
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "123:secret")
	assert.NotContains(t, string(out), "hunter2")
	assert.Contains(t, string(out), "telegram_chat_id: \"42\"")
	assert.Contains(t, string(out), "bar_interval: 5s")
}
