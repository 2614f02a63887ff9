package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	m, err := NewManager(DefaultConfig())
	require.NoError(t, err)
	return m
}

func TestNewManager_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StopLossThreshold = 1.5

	_, err := NewManager(cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "stop_loss_threshold")
}

func TestEvaluate_PriceStopLoss(t *testing.T) {
	m := newTestManager(t)
	st := NewState(m.Config())

	// 16% drop from base crosses the 15% threshold
	assert.Equal(t, ActionPriceStopLoss, m.Evaluate(84.0, 100.0, 0, 0, &st))

	// 14% drop does not
	assert.Equal(t, ActionNone, m.Evaluate(86.0, 100.0, 0, 0, &st))
}

func TestEvaluate_StopLossExactlyAtThreshold(t *testing.T) {
	m := newTestManager(t)
	st := NewState(m.Config())

	assert.Equal(t, ActionPriceStopLoss, m.Evaluate(85.0, 100.0, 0, 0, &st))
}

func TestEvaluate_DrawdownStopProfit(t *testing.T) {
	m := newTestManager(t)
	st := NewState(m.Config())

	// Peak 30%, now 8%: 22 point pullback crosses the 20% threshold
	assert.Equal(t, ActionDrawdownStopProfit, m.Evaluate(100.0, 100.0, 0.30, 0.08, &st))

	// Peak 30%, now 15%: pullback 15 points, no trigger
	assert.Equal(t, ActionNone, m.Evaluate(100.0, 100.0, 0.30, 0.15, &st))
}

func TestEvaluate_DrawdownRequiresProfitPeak(t *testing.T) {
	m := newTestManager(t)
	st := NewState(m.Config())

	// Without a positive peak the drawdown rule never fires
	assert.Equal(t, ActionNone, m.Evaluate(100.0, 100.0, 0, -0.25, &st))
}

func TestEvaluate_StopLossPreemptsDrawdown(t *testing.T) {
	m := newTestManager(t)
	st := NewState(m.Config())

	action := m.Evaluate(84.0, 100.0, 0.30, 0.08, &st)
	assert.Equal(t, ActionPriceStopLoss, action)
}

func TestEvaluate_DisarmedRulesAreSkipped(t *testing.T) {
	m := newTestManager(t)
	st := NewState(m.Config())
	st.StopLossArmed = false
	st.DrawdownArmed = false

	assert.Equal(t, ActionNone, m.Evaluate(50.0, 100.0, 0.30, 0.0, &st))
}

func TestEvaluate_PendingLiquidationResumesFirst(t *testing.T) {
	m := newTestManager(t)
	st := NewState(m.Config())
	st.LiquidationPending = true

	// Pending liquidation outranks everything, even with benign market data
	assert.Equal(t, ActionEmergencyLiquidate, m.Evaluate(100.0, 100.0, 0, 0, &st))

	// A drained retry budget stops the resume path
	st.EmergencyRetriesRemaining = 0
	assert.Equal(t, ActionNone, m.Evaluate(100.0, 100.0, 0, 0, &st))
}

func TestConsumeEmergencyRetry(t *testing.T) {
	m := newTestManager(t)
	st := NewState(m.Config())
	require.Equal(t, 3, st.EmergencyRetriesRemaining)

	assert.True(t, m.ConsumeEmergencyRetry(&st))
	assert.True(t, m.ConsumeEmergencyRetry(&st))
	assert.True(t, m.ConsumeEmergencyRetry(&st))
	assert.False(t, st.LiquidationPending)

	assert.False(t, m.ConsumeEmergencyRetry(&st))
	assert.Equal(t, 0, st.EmergencyRetriesRemaining)
}

func TestResetAfterRecovery(t *testing.T) {
	m := newTestManager(t)
	st := NewState(m.Config())
	st.StopLossArmed = false
	st.EmergencyRetriesRemaining = 0
	st.LiquidationPending = true

	m.ResetAfterRecovery(&st)

	assert.True(t, st.StopLossArmed)
	assert.True(t, st.DrawdownArmed)
	assert.Equal(t, m.Config().EmergencyRetries, st.EmergencyRetriesRemaining)
	assert.False(t, st.LiquidationPending)
}
