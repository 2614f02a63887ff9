package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-grid-bot/internal/advisory"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bot.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func setCreds(t *testing.T) {
	t.Helper()
	t.Setenv("BYBIT_API_KEY", "test-key")
	t.Setenv("BYBIT_API_SECRET", "test-secret")
}

const minimalConfig = `{
	"exchange": {"name": "bybit", "bybit": {"demo": true}},
	"symbols": [
		{"symbol": "BTCUSDT", "order_quantity": 0.001}
	]
}`

func TestLoad_MinimalConfigGetsDefaults(t *testing.T) {
	setCreds(t)
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "test-key", cfg.Exchange.Bybit.APIKey)
	assert.Equal(t, "test-secret", cfg.Exchange.Bybit.APISecret)
	assert.True(t, cfg.Exchange.Bybit.Demo)

	assert.Equal(t, "logs", cfg.Bot.LogDir)
	assert.Equal(t, "state", cfg.Bot.StateDir)
	assert.Equal(t, "signals", cfg.Bot.SignalDir)
	assert.Equal(t, 10, cfg.Bot.RateLimitCapacity)
	assert.Equal(t, 9090, cfg.Monitoring.MetricsPort)

	require.Len(t, cfg.Symbols, 1)
	s := cfg.Symbols[0]
	assert.Equal(t, "240", s.CandleInterval)
	assert.Equal(t, 0.8, s.MaxPositionRatio)
	assert.Equal(t, 0.02, s.Grid.BaseGrid)
	assert.Equal(t, 42, s.Volatility.Lookback)
	assert.Equal(t, 0.15, s.Risk.StopLossThreshold)
	assert.Equal(t, 5, s.Orders.MaxRetries)
	assert.Equal(t, advisory.ModeOff, s.Advisory.Mode)
	require.Len(t, s.Intervals, 3)
	assert.Equal(t, 300, s.Intervals[0].Seconds)
}

func TestLoad_MissingCredentialsRejected(t *testing.T) {
	t.Setenv("BYBIT_API_KEY", "")
	t.Setenv("BYBIT_API_SECRET", "")

	_, err := Load(writeConfig(t, minimalConfig))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BYBIT_API_KEY")
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoad_DuplicateSymbolRejected(t *testing.T) {
	setCreds(t)
	_, err := Load(writeConfig(t, `{
		"exchange": {"name": "bybit"},
		"symbols": [
			{"symbol": "BTCUSDT", "order_quantity": 0.001},
			{"symbol": "BTCUSDT", "order_quantity": 0.002}
		]
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate symbol")
}

func TestLoad_UnsupportedExchangeRejected(t *testing.T) {
	setCreds(t)
	_, err := Load(writeConfig(t, `{
		"exchange": {"name": "binance"},
		"symbols": [{"symbol": "BTCUSDT", "order_quantity": 0.001}]
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported exchange")
}

func TestLoad_InvalidOrderQuantityRejected(t *testing.T) {
	setCreds(t)
	_, err := Load(writeConfig(t, `{
		"exchange": {"name": "bybit"},
		"symbols": [{"symbol": "BTCUSDT", "order_quantity": 0}]
	}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order_quantity")
}

func TestLoad_ExplicitValuesSurviveDefaults(t *testing.T) {
	setCreds(t)
	cfg, err := Load(writeConfig(t, `{
		"exchange": {"name": "bybit"},
		"bot": {"state_dir": "/var/lib/gridbot"},
		"symbols": [{
			"symbol": "ETHUSDT",
			"order_quantity": 0.01,
			"max_position_ratio": 0.5,
			"risk": {
				"stop_loss_threshold": 0.10,
				"drawdown_threshold": 0.25,
				"emergency_retries": 5,
				"emergency_retry_delay_seconds": 1,
				"consecutive_failure_limit": 4
			},
			"intervals": [{"min_volatility": 0, "seconds": 30}]
		}]
	}`))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/gridbot", cfg.Bot.StateDir)
	s := cfg.Symbols[0]
	assert.Equal(t, 0.5, s.MaxPositionRatio)
	assert.Equal(t, 0.10, s.Risk.StopLossThreshold)
	assert.Equal(t, 4, s.Risk.ConsecutiveFailureLimit)
	require.Len(t, s.Intervals, 1)
	assert.Equal(t, 30, s.Intervals[0].Seconds)
}

func TestRiskSettings_Conversion(t *testing.T) {
	r := RiskSettings{
		StopLossThreshold:         0.12,
		DrawdownThreshold:         0.18,
		EmergencyRetries:          2,
		EmergencyRetryDelaySecond: 3,
		ConsecutiveFailureLimit:   6,
	}
	rc := r.ToRiskConfig()

	assert.Equal(t, 0.12, rc.StopLossThreshold)
	assert.Equal(t, "3s", rc.EmergencyRetryDelay.String())
	assert.Equal(t, 6, rc.ConsecutiveFailureLimit)
}

func TestOrderSettings_Conversion(t *testing.T) {
	o := OrderSettings{
		MaxRetries:       3,
		InitialBackoffMs: 250,
		MaxBackoffMs:     5000,
		PollIntervalMs:   100,
		PollAttempts:     8,
		ArchiveSize:      50,
	}
	oc := o.ToOrderConfig()

	assert.Equal(t, "250ms", oc.InitialBackoff.String())
	assert.Equal(t, "5s", oc.MaxBackoff.String())
	assert.Equal(t, 8, oc.PollAttempts)
}
