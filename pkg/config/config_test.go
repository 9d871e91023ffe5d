package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv 屏蔽宿主机上可能存在的覆盖变量
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"MODE", "MAX_LEVERAGE", "MAX_DAILY_DRAWDOWN", "MAX_POSITION_SIZE", "LOG_LEVEL", "DRY_RUN",
		"BINANCE_API_KEY", "BINANCE_API_SECRET", "BINANCE_FUTURES_API_KEY", "BINANCE_FUTURES_API_SECRET",
		"BINANCE_TESTNET", "GATEIO_API_KEY", "GATEIO_API_SECRET", "GATEIO_TESTNET",
		"TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "PERPLEXITY_API_KEY",
		"SECRET_STORE_PATH", "SECRET_STORE_KEY", "CONTROL_PLANE_TOKEN",
		"ENABLED_STRATEGIES", "CASH_COW_ENABLED", "TREND_KILLER_ENABLED", "SNIPER_ENABLED",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.10, cfg.System.MaxDailyDrawdown)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, []string{StrategyCashCow, StrategyTrendKiller, StrategySniper}, cfg.Strategies.EnabledStrategies)
}

func TestLoadFromFile_YAML(t *testing.T) {
	clearEnv(t)
	p := writeFile(t, "config.yaml", `
system:
  mode: LIVE
  riskInterval: 2s
strategies:
  enabled: [cash_cow, Sniper]
  cashcow:
    minFundingRate: 0.0003
    scanInterval: 1m
  trendkiller:
    cvdConfirmationRequired: false
dryRun: false
storage:
  signalTtl: 90s
`)
	cfg, err := LoadFromFile(p)
	require.NoError(t, err)
	assert.Equal(t, "LIVE", cfg.System.Mode)
	assert.Equal(t, 2*time.Second, cfg.System.RiskInterval)
	assert.Equal(t, []string{StrategyCashCow, StrategySniper}, cfg.Strategies.EnabledStrategies)
	assert.Equal(t, 0.0003, cfg.Strategies.CashCow.MinFundingRate)
	assert.Equal(t, time.Minute, cfg.Strategies.CashCow.ScanInterval)
	assert.False(t, cfg.Strategies.TrendKiller.CVDConfirmationRequired)
	assert.False(t, cfg.DryRun)
	assert.Equal(t, 90*time.Second, cfg.Storage.SignalTTL)
	// 未出现的字段保留默认值
	assert.Equal(t, 0.01, cfg.Strategies.CashCow.MaxBasisRisk)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile_JSON(t *testing.T) {
	clearEnv(t)
	p := writeFile(t, "config.json", `{"system":{"leverageLimit":3},"logLevel":"debug"}`)
	cfg, err := LoadFromFile(p)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.System.LeverageLimit)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadFromFile_Errors(t *testing.T) {
	clearEnv(t)
	_, err := LoadFromFile(writeFile(t, "config.toml", "a = 1"))
	require.Error(t, err)

	_, err = LoadFromFile(writeFile(t, "config.yaml", "system:\n  riskInterval: soon\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "system.riskInterval")

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	p := writeFile(t, "config.yaml", "system:\n  mode: PAPER\nbinance:\n  apiKey: from-file\n")
	t.Setenv("MODE", "TESTNET")
	t.Setenv("BINANCE_API_KEY", "from-env")
	t.Setenv("DRY_RUN", "false")
	t.Setenv("CONTROL_PLANE_TOKEN", "tok")

	cfg, err := LoadFromFile(p)
	require.NoError(t, err)
	assert.Equal(t, "TESTNET", cfg.System.Mode)
	assert.Equal(t, "from-env", cfg.Binance.APIKey)
	assert.False(t, cfg.DryRun)
	assert.Equal(t, "tok", cfg.ControlPlaneToken)
}

func TestEnabledStrategiesFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENABLED_STRATEGIES", " Trend_Killer , cashcow ")
	cfg, err := LoadFromFile("")
	require.NoError(t, err)
	assert.Equal(t, []string{StrategyTrendKiller, StrategyCashCow}, cfg.Strategies.EnabledStrategies)

	clearEnv(t)
	t.Setenv("SNIPER_ENABLED", "false")
	cfg, err = LoadFromFile("")
	require.NoError(t, err)
	assert.Equal(t, []string{StrategyCashCow, StrategyTrendKiller}, cfg.Strategies.EnabledStrategies)
	assert.False(t, cfg.IsEnabled(StrategySniper))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"drawdown out of range", func(c *Config) { c.System.MaxDailyDrawdown = 1.5 }},
		{"no strategy", func(c *Config) { c.Strategies.EnabledStrategies = nil }},
		{"unknown strategy", func(c *Config) { c.Strategies.EnabledStrategies = []string{"grid"} }},
		{"allocation over 100%", func(c *Config) { c.Strategies.CashCow.Allocation = 0.9 }},
		{"oi threshold", func(c *Config) { c.Strategies.TrendKiller.OISurgeThreshold = 1 }},
		{"sentiment threshold", func(c *Config) { c.Strategies.Sniper.SentimentThreshold = 101 }},
		{"volume band", func(c *Config) { c.Strategies.Sniper.MinQuoteVolume = 60_000_000 }},
		{"empty watchlist", func(c *Config) { c.Strategies.CashCow.Watchlist = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSampleConfigLoads(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFromFile(filepath.Join("..", "..", "yml", "config.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "TESTNET", cfg.System.Mode)
}
