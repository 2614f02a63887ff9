package advisory

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vetoPolicy() Policy {
	return Policy{Mode: ModeVetoCycle, MinConfidence: 0.6}
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())
	assert.NoError(t, vetoPolicy().Validate())

	bad := Policy{Mode: "aggressive"}
	assert.Error(t, bad.Validate())

	bad = Policy{Mode: ModeVetoCycle, MinConfidence: 1.5}
	assert.Error(t, bad.Validate())
}

func TestPolicy_SuppressBuy(t *testing.T) {
	p := vetoPolicy()

	// Confident sell opinion vetoes the buy trigger
	assert.True(t, p.SuppressBuy(&Signal{Action: ActionSell, Confidence: 0.8}))

	// Below the confidence bar the signal is ignored
	assert.False(t, p.SuppressBuy(&Signal{Action: ActionSell, Confidence: 0.4}))

	// Aligned or neutral opinions never veto
	assert.False(t, p.SuppressBuy(&Signal{Action: ActionBuy, Confidence: 0.9}))
	assert.False(t, p.SuppressBuy(&Signal{Action: ActionHold, Confidence: 0.9}))
	assert.False(t, p.SuppressBuy(nil))
}

func TestPolicy_SuppressSell(t *testing.T) {
	p := vetoPolicy()

	assert.True(t, p.SuppressSell(&Signal{Action: ActionBuy, Confidence: 0.7}))
	assert.False(t, p.SuppressSell(&Signal{Action: ActionSell, Confidence: 0.9}))
	assert.False(t, p.SuppressSell(nil))
}

func TestPolicy_OffModeNeverVetoes(t *testing.T) {
	p := DefaultPolicy()
	require.Equal(t, ModeOff, p.Mode)

	assert.False(t, p.SuppressBuy(&Signal{Action: ActionSell, Confidence: 1.0}))
	assert.False(t, p.SuppressSell(&Signal{Action: ActionBuy, Confidence: 1.0}))
}

func writeSignal(t *testing.T, dir, symbol string, sig Signal) {
	t.Helper()
	data, err := json.Marshal(sig)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, symbol+".json"), data, 0644))
}

func TestFileProvider_Fetch(t *testing.T) {
	dir := t.TempDir()
	writeSignal(t, dir, "btcusdt", Signal{Action: ActionSell, Confidence: 0.75, RiskLevel: "high"})

	provider := NewFileProvider(dir)
	sig, err := provider.Fetch(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, sig)

	assert.Equal(t, ActionSell, sig.Action)
	assert.Equal(t, 0.75, sig.Confidence)
}

func TestFileProvider_MissingFileMeansNoOpinion(t *testing.T) {
	provider := NewFileProvider(t.TempDir())

	sig, err := provider.Fetch(context.Background(), "BTCUSDT")
	assert.NoError(t, err)
	assert.Nil(t, sig)
}

func TestFileProvider_MalformedFileErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "btcusdt.json"), []byte("not json"), 0644))

	provider := NewFileProvider(dir)
	_, err := provider.Fetch(context.Background(), "BTCUSDT")
	assert.Error(t, err)
}

func TestFileProvider_UnknownActionRejected(t *testing.T) {
	dir := t.TempDir()
	writeSignal(t, dir, "btcusdt", Signal{Action: "yolo", Confidence: 0.9})

	provider := NewFileProvider(dir)
	_, err := provider.Fetch(context.Background(), "BTCUSDT")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown signal action")
}
