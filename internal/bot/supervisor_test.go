package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSymbol(t *testing.T) {
	tests := []struct {
		symbol string
		base   string
		quote  string
	}{
		{"BTCUSDT", "BTC", "USDT"},
		{"ETHUSDC", "ETH", "USDC"},
		{"SOLUSD", "SOL", "USD"},
		{"ETHBTC", "ETH", "BTC"},
		{"btcusdt", "BTC", "USDT"}, // case-insensitive
	}

	for _, tt := range tests {
		base, quote, err := splitSymbol(tt.symbol)
		require.NoError(t, err, tt.symbol)
		assert.Equal(t, tt.base, base, tt.symbol)
		assert.Equal(t, tt.quote, quote, tt.symbol)
	}
}

func TestSplitSymbol_USDTPreferredOverUSD(t *testing.T) {
	// longest suffix wins, so the quote is USDT rather than USD
	base, quote, err := splitSymbol("BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTC", base)
	assert.Equal(t, "USDT", quote)
}

func TestSplitSymbol_UnknownQuoteRejected(t *testing.T) {
	_, _, err := splitSymbol("BTCJPY")
	assert.Error(t, err)
}

func TestSplitSymbol_BareQuoteRejected(t *testing.T) {
	// A symbol that is only a quote asset has no base component
	_, _, err := splitSymbol("USDT")
	assert.Error(t, err)
}
