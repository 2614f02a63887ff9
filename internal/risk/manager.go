package risk

import (
	"fmt"
	"time"
)

// Action is the outcome of a risk evaluation. Risk always pre-empts normal
// grid logic: any non-none action short-circuits the trading cycle into
// liquidation handling.
type Action string

const (
	ActionNone               Action = "none"
	ActionPriceStopLoss      Action = "price_stop_loss"
	ActionDrawdownStopProfit Action = "drawdown_stop_profit"
	ActionEmergencyLiquidate Action = "emergency_liquidate"
)

// Config holds the risk thresholds for one symbol.
type Config struct {
	StopLossThreshold       float64       `json:"stop_loss_threshold"`        // price drop from base that triggers liquidation (0.15 = 15%)
	DrawdownThreshold       float64       `json:"drawdown_threshold"`         // profit-ratio pullback from peak that locks in gains (0.20 = 20%)
	EmergencyRetries        int           `json:"emergency_retries"`          // dedicated retry budget for the liquidation order
	EmergencyRetryDelay     time.Duration `json:"emergency_retry_delay"`      // fixed delay between liquidation attempts
	ConsecutiveFailureLimit int           `json:"consecutive_failure_limit"`  // execution failures in a row before the symbol halts
}

// DefaultConfig returns the default risk thresholds
func DefaultConfig() Config {
	return Config{
		StopLossThreshold:       0.15,
		DrawdownThreshold:       0.20,
		EmergencyRetries:        3,
		EmergencyRetryDelay:     2 * time.Second,
		ConsecutiveFailureLimit: 10,
	}
}

// Validate checks the configuration bounds
func (c Config) Validate() error {
	if c.StopLossThreshold <= 0 || c.StopLossThreshold >= 1.0 {
		return fmt.Errorf("stop_loss_threshold must be between 0 and 1.0, got: %.4f", c.StopLossThreshold)
	}
	if c.DrawdownThreshold <= 0 || c.DrawdownThreshold >= 1.0 {
		return fmt.Errorf("drawdown_threshold must be between 0 and 1.0, got: %.4f", c.DrawdownThreshold)
	}
	if c.EmergencyRetries < 1 {
		return fmt.Errorf("emergency_retries must be at least 1, got: %d", c.EmergencyRetries)
	}
	if c.ConsecutiveFailureLimit < 1 {
		return fmt.Errorf("consecutive_failure_limit must be at least 1, got: %d", c.ConsecutiveFailureLimit)
	}
	return nil
}

// State is the per-symbol risk state, persisted with the controller
// snapshot. The armed flags are set from config at controller start and
// disarmed only by an explicit reset after successful recovery.
type State struct {
	StopLossArmed             bool `json:"stop_loss_armed"`
	DrawdownArmed             bool `json:"drawdown_armed"`
	EmergencyRetriesRemaining int  `json:"emergency_retries_remaining"`
	LiquidationPending        bool `json:"liquidation_pending"`
}

// NewState arms a fresh risk state from configuration
func NewState(cfg Config) State {
	return State{
		StopLossArmed:             true,
		DrawdownArmed:             true,
		EmergencyRetriesRemaining: cfg.EmergencyRetries,
	}
}

// Manager evaluates position, drawdown and price thresholds for one symbol.
type Manager struct {
	cfg Config
}

// NewManager creates a risk manager with the given configuration
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("risk config validation failed: %w", err)
	}
	return &Manager{cfg: cfg}, nil
}

// Config returns the manager configuration
func (m *Manager) Config() Config {
	return m.cfg
}

// Evaluate checks the risk thresholds against the current market state.
// A liquidation left pending from an earlier failed attempt takes priority
// so the path is never silently abandoned.
func (m *Manager) Evaluate(currentPrice, basePrice, highestProfitRatio, currentProfitRatio float64, st *State) Action {
	if st.LiquidationPending && st.EmergencyRetriesRemaining > 0 {
		return ActionEmergencyLiquidate
	}

	if st.StopLossArmed && basePrice > 0 {
		drop := (basePrice - currentPrice) / basePrice
		if drop >= m.cfg.StopLossThreshold {
			return ActionPriceStopLoss
		}
	}

	if st.DrawdownArmed && highestProfitRatio > 0 {
		pullback := highestProfitRatio - currentProfitRatio
		if pullback >= m.cfg.DrawdownThreshold {
			return ActionDrawdownStopProfit
		}
	}

	return ActionNone
}

// ConsumeEmergencyRetry decrements the dedicated liquidation budget and
// reports whether another attempt is allowed.
func (m *Manager) ConsumeEmergencyRetry(st *State) bool {
	if st.EmergencyRetriesRemaining <= 0 {
		return false
	}
	st.EmergencyRetriesRemaining--
	st.LiquidationPending = st.EmergencyRetriesRemaining > 0
	return true
}

// ResetAfterRecovery rearms the risk state once a liquidation has completed
// and the position is flat.
func (m *Manager) ResetAfterRecovery(st *State) {
	st.StopLossArmed = true
	st.DrawdownArmed = true
	st.EmergencyRetriesRemaining = m.cfg.EmergencyRetries
	st.LiquidationPending = false
}
