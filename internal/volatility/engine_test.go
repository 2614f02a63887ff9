package volatility

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-grid-bot/pkg/types"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Lookback = 20
	cfg.MinBars = 5
	return cfg
}

func generateCandles(closes []float64) []types.OHLCV {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]types.OHLCV, 0, len(closes))
	for i, c := range closes {
		candles = append(candles, types.OHLCV{
			Timestamp: start.Add(time.Duration(i) * 4 * time.Hour),
			Open:      c,
			High:      c * 1.01,
			Low:       c * 0.99,
			Close:     c,
			Volume:    1000,
		})
	}
	return candles
}

func flatCandles(n int, price float64) []types.OHLCV {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = price
	}
	return generateCandles(closes)
}

func trendingCandles(n int, start, step float64) []types.OHLCV {
	closes := make([]float64, n)
	price := start
	for i := range closes {
		closes[i] = price
		if i%2 == 0 {
			price *= 1 + step
		} else {
			price *= 1 - step/2
		}
	}
	return generateCandles(closes)
}

func TestNewEngine_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.EWMALambda = 1.5

	_, err := NewEngine(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "ewma_lambda")
}

func TestEngine_FlatSeriesHitsFloor(t *testing.T) {
	engine, err := NewEngine(testConfig())
	require.NoError(t, err)

	vol := engine.Update(flatCandles(20, 100.0))

	assert.Equal(t, testConfig().FloorEpsilon, vol)
	assert.False(t, engine.Degraded())
}

func TestEngine_OutputNeverNegative(t *testing.T) {
	engine, err := NewEngine(testConfig())
	require.NoError(t, err)

	vol := engine.Update(trendingCandles(20, 100.0, 0.03))

	assert.Greater(t, vol, 0.0)
	assert.False(t, math.IsNaN(vol))
}

func TestEngine_DegradedHoldsLastValue(t *testing.T) {
	engine, err := NewEngine(testConfig())
	require.NoError(t, err)

	primed := engine.Update(trendingCandles(20, 100.0, 0.03))
	require.Greater(t, primed, 0.0)

	// Too few bars: previous value survives and the engine flags itself
	degraded := engine.Update(trendingCandles(3, 100.0, 0.03))

	assert.Equal(t, primed, degraded)
	assert.True(t, engine.Degraded())
	assert.Equal(t, primed, engine.Last())
}

func TestEngine_IgnoresNonPositiveCloses(t *testing.T) {
	engine, err := NewEngine(testConfig())
	require.NoError(t, err)

	candles := trendingCandles(20, 100.0, 0.03)
	candles[5].Close = 0
	candles[6].Close = -10

	vol := engine.Update(candles)
	assert.Greater(t, vol, 0.0)
	assert.False(t, math.IsNaN(vol))
}

func TestEngine_OverlappingWindowsDoNotDoubleCount(t *testing.T) {
	engine, err := NewEngine(testConfig())
	require.NoError(t, err)

	candles := trendingCandles(20, 100.0, 0.03)
	engine.Update(candles)
	variance := engine.Snapshot().EWMAVariance

	// Same window again: no new bar, EWMA variance must not move
	engine.Update(candles)
	assert.Equal(t, variance, engine.Snapshot().EWMAVariance)
}

func TestEngine_SnapshotRestoreRoundtrip(t *testing.T) {
	engine, err := NewEngine(testConfig())
	require.NoError(t, err)

	engine.Update(trendingCandles(20, 100.0, 0.03))
	snap := engine.Snapshot()

	restored, err := NewEngine(testConfig())
	require.NoError(t, err)
	restored.Restore(snap)

	assert.Equal(t, engine.Last(), restored.Last())

	// Both engines must agree on the next update
	next := trendingCandles(21, 100.0, 0.03)
	assert.InDelta(t, engine.Update(next), restored.Update(next), 1e-12)
}

func TestEngine_SmoothingSuppressesSpikes(t *testing.T) {
	cfg := testConfig()
	engine, err := NewEngine(cfg)
	require.NoError(t, err)

	calm := trendingCandles(20, 100.0, 0.005)
	for i := 0; i < cfg.SmoothingWindow; i++ {
		engine.Update(calm)
	}
	base := engine.Last()

	// One violent window moves the estimate, but less than the raw blend would
	spiky := trendingCandles(20, 100.0, 0.10)
	after := engine.Update(spiky)

	assert.Greater(t, after, base)

	fresh, _ := NewEngine(cfg)
	raw := fresh.Update(spiky)
	assert.Less(t, after, raw)
}
