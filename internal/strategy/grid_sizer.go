package strategy

import (
	"fmt"
	"math"
)

// GridSizerConfig holds the parameters of the volatility-to-grid mapping.
// All grid values are fractions (0.02 = 2%).
type GridSizerConfig struct {
	BaseGrid         float64 `json:"base_grid"`          // grid width when volatility sits at the center
	GridMin          float64 `json:"grid_min"`           // lower asymptote
	GridMax          float64 `json:"grid_max"`           // upper asymptote
	CenterVolatility float64 `json:"center_volatility"`  // annualized volatility that maps to BaseGrid
	Sensitivity      float64 `json:"sensitivity"`        // curve steepness around the center
	MaxStepPerCycle  float64 `json:"max_step_per_cycle"` // bound on grid change between consecutive cycles
}

// DefaultGridSizerConfig returns parameters suited to major spot pairs.
func DefaultGridSizerConfig() GridSizerConfig {
	return GridSizerConfig{
		BaseGrid:         0.02,
		GridMin:          0.01,
		GridMax:          0.04,
		CenterVolatility: 0.60,
		Sensitivity:      3.0,
		MaxStepPerCycle:  0.002,
	}
}

// Validate checks the configuration bounds
func (c GridSizerConfig) Validate() error {
	if c.GridMin <= 0 || c.GridMax >= 1.0 {
		return fmt.Errorf("grid bounds must be between 0 and 1.0, got min: %.4f, max: %.4f", c.GridMin, c.GridMax)
	}
	if c.GridMax <= c.GridMin {
		return fmt.Errorf("grid_max (%.4f) must be greater than grid_min (%.4f)", c.GridMax, c.GridMin)
	}
	if c.BaseGrid < c.GridMin || c.BaseGrid > c.GridMax {
		return fmt.Errorf("base_grid %.4f must lie within [%.4f, %.4f]", c.BaseGrid, c.GridMin, c.GridMax)
	}
	if c.CenterVolatility <= 0 {
		return fmt.Errorf("center_volatility must be positive, got: %.4f", c.CenterVolatility)
	}
	if c.Sensitivity <= 0 || c.Sensitivity > 50 {
		return fmt.Errorf("sensitivity must be between 0 and 50, got: %.2f", c.Sensitivity)
	}
	if c.MaxStepPerCycle <= 0 {
		return fmt.Errorf("max_step_per_cycle must be positive, got: %.4f", c.MaxStepPerCycle)
	}
	return nil
}

// GridSizer maps market volatility to a grid spacing percentage through a
// bounded monotonic curve. Volatility at the configured center yields the
// base grid; higher volatility approaches GridMax, lower approaches GridMin.
// Size is a pure function so it can be table-tested.
type GridSizer struct {
	cfg GridSizerConfig
}

// NewGridSizer creates a grid sizer with the given configuration
func NewGridSizer(cfg GridSizerConfig) (*GridSizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("grid sizer config validation failed: %w", err)
	}
	return &GridSizer{cfg: cfg}, nil
}

// Size computes the target grid width for the given annualized volatility.
// The curve is a tanh anchored at (CenterVolatility, BaseGrid) with the min
// and max as asymptotes; the output is clamped to [GridMin, GridMax].
func (g *GridSizer) Size(volatility float64) float64 {
	if volatility < 0 {
		volatility = 0
	}

	x := math.Tanh(g.cfg.Sensitivity * (volatility - g.cfg.CenterVolatility))

	var size float64
	if x >= 0 {
		size = g.cfg.BaseGrid + (g.cfg.GridMax-g.cfg.BaseGrid)*x
	} else {
		size = g.cfg.BaseGrid + (g.cfg.BaseGrid-g.cfg.GridMin)*x
	}

	return clamp(size, g.cfg.GridMin, g.cfg.GridMax)
}

// Next applies the per-cycle rate limit on top of Size: the returned grid
// moves toward the target by at most MaxStepPerCycle, preventing the grid
// width from whipsawing on volatility spikes. A non-positive previous value
// means the grid is unprimed and jumps straight to the target.
func (g *GridSizer) Next(previous, volatility float64) float64 {
	target := g.Size(volatility)
	if previous <= 0 {
		return target
	}

	delta := target - previous
	if delta > g.cfg.MaxStepPerCycle {
		delta = g.cfg.MaxStepPerCycle
	} else if delta < -g.cfg.MaxStepPerCycle {
		delta = -g.cfg.MaxStepPerCycle
	}

	return clamp(previous+delta, g.cfg.GridMin, g.cfg.GridMax)
}

// Config returns the sizer configuration
func (g *GridSizer) Config() GridSizerConfig {
	return g.cfg
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
