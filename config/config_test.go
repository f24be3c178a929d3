package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendrider/indicators"
	"trendrider/risk"
	"trendrider/strategy"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, "BTCUSDT", cfg.Symbol)
	assert.Equal(t, "15", cfg.Interval)
	assert.Equal(t, time.Minute, cfg.PollInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.RetryMaxElapsed)
	assert.Equal(t, indicators.DefaultPeriods(), cfg.Periods())
	assert.Equal(t, risk.DefaultParameters(), cfg.RiskParameters())
	assert.Equal(t, strategy.DefaultThresholds(), cfg.Thresholds())
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, "info", cfg.LogLevel)

	p := cfg.RetryPolicy()
	assert.Equal(t, 4, p.MaxAttempts)
	assert.Equal(t, 8*time.Second, p.MaxDelay)
}

func TestEnvironmentAliases(t *testing.T) {
	t.Setenv("TRADING_SYMBOL", "ETHUSDT")
	t.Setenv("RISK_PER_TRADE", "0.02")
	t.Setenv("BYBIT_API_KEY", "key")
	t.Setenv("TELEGRAM_CHAT_ID", "12345")
	t.Setenv("MIN_ADX", "30")

	cfg := LoadConfig()

	assert.Equal(t, "ETHUSDT", cfg.Symbol)
	assert.Equal(t, 0.02, cfg.RiskPerTrade)
	assert.Equal(t, "key", cfg.APIKey)
	assert.Equal(t, int64(12345), cfg.TelegramChatID)
	assert.Equal(t, 30.0, cfg.MinADX)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
symbol: SOLUSDT
dry_run: true
paper_equity: 5000
poll_interval: 30s
store_driver: none
atr_tp_mult: 4
trailing: false
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "SOLUSDT", cfg.Symbol)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, 5000.0, cfg.PaperEquity)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, 4.0, cfg.AtrTPMult)
	assert.False(t, cfg.EnableTrailing)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"dry run defaults", func(*Config) {}, true},
		{"live without keys", func(c *Config) { c.DryRun = false }, false},
		{"live with keys", func(c *Config) { c.DryRun = false; c.APIKey = "k"; c.APISecret = "s" }, true},
		{"risk too large", func(c *Config) { c.RiskPerTrade = 0.2 }, false},
		{"reward below risk", func(c *Config) { c.AtrTPMult = 1; c.MinRewardRisk = 0 }, false},
		{"bad macd", func(c *Config) { c.MACDFast = 30 }, false},
		{"short window", func(c *Config) { c.CandleLimit = 100 }, false},
		{"telegram without token", func(c *Config) { c.TelegramEnabled = true }, false},
		{"telegram configured", func(c *Config) { c.TelegramEnabled = true; c.TelegramToken = "t"; c.TelegramChatID = 1 }, true},
		{"unknown store", func(c *Config) { c.StoreDriver = "mongo" }, false},
		{"redis store", func(c *Config) { c.StoreDriver = "redis" }, true},
		{"no retries", func(c *Config) { c.RetryMaxAttempts = 0 }, false},
		{"no paper equity", func(c *Config) { c.PaperEquity = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadConfig()
			cfg.DryRun = true
			cfg.APIKey, cfg.APISecret = "", ""
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
