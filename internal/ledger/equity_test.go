package ledger

import (
	"testing"

	"market_maker/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestEquityIncludesCashAndMarkedPositions(t *testing.T) {
	positions := []domain.Position{
		{
			Symbol: "BTC", Qty: decimal.RequireFromString("2"), AvgCostQuote: decimal.RequireFromString("100"),
			UnrealizedPnLQuote: decimal.RequireFromString("100"),
			RealizedPnLQuote:   decimal.RequireFromString("30"),
			FeesPaidQuote:      decimal.RequireFromString("5"),
		},
	}

	// 1000 cash + 100 unrealized (2 * (150 - 100)) + 30 realized - 5 fees
	// - 3 funding - 2 slippage.
	eq := Equity(decimal.RequireFromString("1000"), positions, decimal.RequireFromString("3"), decimal.RequireFromString("2"))
	require.True(t, eq.Equal(decimal.RequireFromString("1120")), eq.String())
}

func TestEquityCountsZeroUnrealizedWhenMarkMissing(t *testing.T) {
	positions := []domain.Position{
		{Symbol: "ETH", Qty: decimal.RequireFromString("1"), AvgCostQuote: decimal.RequireFromString("80")},
	}
	eq := Equity(decimal.RequireFromString("0"), positions, decimal.Zero, decimal.Zero)
	require.True(t, eq.Equal(decimal.RequireFromString("0")))
}

func TestDrawdownTrackerTracksPeakAndRatio(t *testing.T) {
	d := NewDrawdownTracker()

	require.True(t, d.Update(decimal.RequireFromString("1000")).IsZero())
	require.True(t, d.Update(decimal.RequireFromString("1200")).IsZero())

	dd := d.Update(decimal.RequireFromString("900"))
	require.True(t, dd.Equal(decimal.RequireFromString("0.25")), dd.String())
	require.True(t, d.Peak().Equal(decimal.RequireFromString("1200")))
}

func TestDrawdownTrackerNeverNegative(t *testing.T) {
	d := NewDrawdownTracker()
	dd := d.Update(decimal.RequireFromString("500"))
	require.True(t, dd.IsZero())
}
