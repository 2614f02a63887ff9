package volatility

import (
	"fmt"
	"math"
	"time"

	"github.com/ducminhle1904/crypto-grid-bot/pkg/types"
)

// Config holds the volatility engine parameters.
type Config struct {
	Lookback        int     `json:"lookback"`          // candles in the rolling window (e.g. 42 x 4h = 7 days)
	MinBars         int     `json:"min_bars"`          // minimum candles before a fresh estimate is produced
	EWMALambda      float64 `json:"ewma_lambda"`       // decay factor for the exponentially weighted variance
	EWMAWeight      float64 `json:"ewma_weight"`       // blend weight of the EWMA term (remainder goes to stddev)
	SmoothingWindow int     `json:"smoothing_window"`  // moving average over the last N blended values
	FloorEpsilon    float64 `json:"floor_epsilon"`     // minimum output, keeps downstream math away from zero
	PeriodsPerYear  float64 `json:"periods_per_year"`  // annualization basis for the candle interval
}

// DefaultConfig returns parameters tuned for 4-hour candles.
func DefaultConfig() Config {
	return Config{
		Lookback:        42,
		MinBars:         10,
		EWMALambda:      0.94,
		EWMAWeight:      0.7,
		SmoothingWindow: 5,
		FloorEpsilon:    0.0001,
		PeriodsPerYear:  6 * 365, // six 4h bars per day
	}
}

// Validate checks the configuration bounds
func (c Config) Validate() error {
	if c.Lookback < 2 {
		return fmt.Errorf("lookback must be at least 2, got: %d", c.Lookback)
	}
	if c.MinBars < 2 || c.MinBars > c.Lookback {
		return fmt.Errorf("min_bars must be between 2 and lookback (%d), got: %d", c.Lookback, c.MinBars)
	}
	if c.EWMALambda <= 0 || c.EWMALambda >= 1 {
		return fmt.Errorf("ewma_lambda must be between 0 and 1, got: %.4f", c.EWMALambda)
	}
	if c.EWMAWeight < 0 || c.EWMAWeight > 1 {
		return fmt.Errorf("ewma_weight must be between 0 and 1, got: %.4f", c.EWMAWeight)
	}
	if c.SmoothingWindow < 1 {
		return fmt.Errorf("smoothing_window must be at least 1, got: %d", c.SmoothingWindow)
	}
	if c.FloorEpsilon <= 0 {
		return fmt.Errorf("floor_epsilon must be positive, got: %.6f", c.FloorEpsilon)
	}
	if c.PeriodsPerYear <= 0 {
		return fmt.Errorf("periods_per_year must be positive, got: %.1f", c.PeriodsPerYear)
	}
	return nil
}

// State is the portable EWMA state carried between cycles and persisted in
// the controller snapshot.
type State struct {
	EWMAVariance float64   `json:"ewma_variance"`
	Initialized  bool      `json:"initialized"`
	LastBarTime  time.Time `json:"last_bar_time"`
	Blended      []float64 `json:"blended"` // recent blended values feeding the smoothing average
	LastValue    float64   `json:"last_value"`
	Degraded     bool      `json:"degraded"`
}

// Engine converts a rolling candle window into a smoothed, annualized
// volatility scalar. Failures degrade to the last known value; the output
// is never negative and never below the configured floor once primed.
type Engine struct {
	cfg   Config
	state State
}

// NewEngine creates a volatility engine with the given configuration
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("volatility config validation failed: %w", err)
	}
	return &Engine{cfg: cfg}, nil
}

// Update ingests the latest candle window and returns the current
// annualized volatility. Windows shorter than MinBars leave the previous
// value untouched and flag the engine as degraded.
func (e *Engine) Update(candles []types.OHLCV) float64 {
	closes, lastBar := sanitizeCloses(candles)
	if len(closes) < e.cfg.MinBars {
		e.state.Degraded = true
		return e.state.LastValue
	}
	e.state.Degraded = false

	if len(closes) > e.cfg.Lookback {
		closes = closes[len(closes)-e.cfg.Lookback:]
	}

	returns := logReturns(closes)
	if len(returns) == 0 {
		e.state.Degraded = true
		return e.state.LastValue
	}

	traditional := e.annualize(stddev(returns))
	ewma := e.updateEWMA(returns, lastBar)

	blended := e.cfg.EWMAWeight*ewma + (1-e.cfg.EWMAWeight)*traditional
	smoothed := e.smooth(blended)

	if smoothed < e.cfg.FloorEpsilon {
		smoothed = e.cfg.FloorEpsilon
	}

	e.state.LastValue = smoothed
	return smoothed
}

// Last returns the most recent volatility value without updating the engine
func (e *Engine) Last() float64 {
	return e.state.LastValue
}

// Degraded reports whether the last update ran on insufficient data
func (e *Engine) Degraded() bool {
	return e.state.Degraded
}

// Snapshot returns a copy of the carried EWMA state for persistence
func (e *Engine) Snapshot() State {
	st := e.state
	st.Blended = append([]float64(nil), e.state.Blended...)
	return st
}

// Restore reinstates a previously persisted state. Used on controller
// resume so the grid decision matches what an uninterrupted run would make.
func (e *Engine) Restore(st State) {
	e.state = st
	e.state.Blended = append([]float64(nil), st.Blended...)
}

// updateEWMA advances the exponentially weighted variance. On first prime it
// folds in the whole window; afterwards only returns newer than the last
// seen bar are applied, so repeated overlapping windows do not double-count.
func (e *Engine) updateEWMA(returns []float64, lastBar time.Time) float64 {
	lambda := e.cfg.EWMALambda

	if !e.state.Initialized {
		variance := 0.0
		for _, r := range returns {
			variance = lambda*variance + (1-lambda)*r*r
		}
		e.state.EWMAVariance = variance
		e.state.Initialized = true
	} else if lastBar.After(e.state.LastBarTime) {
		// Only the newest return is genuinely new when windows overlap
		r := returns[len(returns)-1]
		e.state.EWMAVariance = lambda*e.state.EWMAVariance + (1-lambda)*r*r
	}
	e.state.LastBarTime = lastBar

	return e.annualize(math.Sqrt(e.state.EWMAVariance))
}

// smooth pushes the blended value into the moving-average buffer and
// returns the buffer mean, suppressing single-bar noise.
func (e *Engine) smooth(blended float64) float64 {
	e.state.Blended = append(e.state.Blended, blended)
	if len(e.state.Blended) > e.cfg.SmoothingWindow {
		e.state.Blended = e.state.Blended[len(e.state.Blended)-e.cfg.SmoothingWindow:]
	}

	sum := 0.0
	for _, v := range e.state.Blended {
		sum += v
	}
	return sum / float64(len(e.state.Blended))
}

func (e *Engine) annualize(perBar float64) float64 {
	return perBar * math.Sqrt(e.cfg.PeriodsPerYear)
}

// sanitizeCloses extracts usable close prices, dropping non-positive bars
func sanitizeCloses(candles []types.OHLCV) ([]float64, time.Time) {
	closes := make([]float64, 0, len(candles))
	var lastBar time.Time
	for _, c := range candles {
		if c.Close <= 0 {
			continue
		}
		closes = append(closes, c.Close)
		if c.Timestamp.After(lastBar) {
			lastBar = c.Timestamp
		}
	}
	return closes, lastBar
}

func logReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		returns = append(returns, math.Log(closes[i]/closes[i-1]))
	}
	return returns
}

func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))

	return math.Sqrt(variance)
}
