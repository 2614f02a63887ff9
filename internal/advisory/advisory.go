package advisory

import (
	"context"
	"fmt"
)

// SignalAction is the direction an external advisor suggests.
type SignalAction string

const (
	ActionHold SignalAction = "hold"
	ActionBuy  SignalAction = "buy"
	ActionSell SignalAction = "sell"
)

// Signal is one advisory opinion for a symbol. Signals never place orders;
// at most they veto one cycle's trigger in the opposing direction.
type Signal struct {
	Action     SignalAction `json:"action"`
	Confidence float64      `json:"confidence"` // 0..1
	RiskLevel  string       `json:"risk_level,omitempty"`
}

// Provider supplies advisory signals. A nil signal means no opinion.
type Provider interface {
	Fetch(ctx context.Context, symbol string) (*Signal, error)
}

// Mode controls how advisory signals affect the trading cycle.
type Mode string

const (
	// ModeOff ignores signals entirely.
	ModeOff Mode = "off"
	// ModeVetoCycle suppresses an opposing grid trigger for one cycle.
	ModeVetoCycle Mode = "veto_cycle"
)

// Policy applies a provider's signal to the current cycle's decision.
type Policy struct {
	Mode          Mode    `json:"mode"`
	MinConfidence float64 `json:"min_confidence"` // signals below this are ignored
}

// DefaultPolicy returns the advisory policy defaults (disabled)
func DefaultPolicy() Policy {
	return Policy{
		Mode:          ModeOff,
		MinConfidence: 0.6,
	}
}

// Validate checks the policy bounds
func (p Policy) Validate() error {
	switch p.Mode {
	case ModeOff, ModeVetoCycle:
	default:
		return fmt.Errorf("unknown advisory mode: %q", p.Mode)
	}
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be between 0 and 1, got: %.2f", p.MinConfidence)
	}
	return nil
}

// actionable filters out signals the policy should not act on
func (p Policy) actionable(sig *Signal) bool {
	if p.Mode != ModeVetoCycle || sig == nil {
		return false
	}
	return sig.Confidence >= p.MinConfidence
}

// SuppressBuy reports whether the signal vetoes a buy trigger this cycle
func (p Policy) SuppressBuy(sig *Signal) bool {
	return p.actionable(sig) && sig.Action == ActionSell
}

// SuppressSell reports whether the signal vetoes a sell trigger this cycle
func (p Policy) SuppressSell(sig *Signal) bool {
	return p.actionable(sig) && sig.Action == ActionBuy
}
