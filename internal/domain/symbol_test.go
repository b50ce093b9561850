package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeSymbol(t *testing.T) {
	require.Equal(t, "BTCTRY", NormalizeSymbol("btc_try"))
	require.Equal(t, "BTCTRY", NormalizeSymbol("BTC-TRY"))
	require.Equal(t, "BTCTRY", NormalizeSymbol(" btctry "))
}

func TestSplitSymbolWithSeparator(t *testing.T) {
	base, quote, err := SplitSymbol("btc_try")
	require.NoError(t, err)
	require.Equal(t, "BTC", base)
	require.Equal(t, "TRY", quote)
}

func TestSplitSymbolKnownSuffix(t *testing.T) {
	base, quote, err := SplitSymbol("ETHUSDT")
	require.NoError(t, err)
	require.Equal(t, "ETH", base)
	require.Equal(t, "USDT", quote)
}

func TestSplitSymbolUnrecognizedIsError(t *testing.T) {
	_, _, err := SplitSymbol("XYZFOO")
	require.Error(t, err)
}

func TestComputeClientOrderIDIsShortAndDeterministic(t *testing.T) {
	a := ComputeClientOrderID("BTCTRY", SideBuy, "intent-1")
	b := ComputeClientOrderID("BTCTRY", SideBuy, "intent-1")
	require.Equal(t, a, b)
	require.LessOrEqual(t, len(a), 50)

	c := ComputeClientOrderID("BTCTRY", SideSell, "intent-1")
	require.NotEqual(t, a, c)
}
