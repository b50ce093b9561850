package money

import (
	"testing"

	"market_maker/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestRoundPriceTruncatesTowardZero(t *testing.T) {
	p := Policy{PriceTick: dec("0.01"), QtyStep: dec("0.001")}
	got := p.RoundPrice(dec("100.239"))
	require.True(t, got.Equal(dec("100.23")))
}

func TestRoundQtyTruncatesTowardZero(t *testing.T) {
	p := Policy{PriceTick: dec("0.01"), QtyStep: dec("0.001")}
	got := p.RoundQty(dec("0.2599"))
	require.True(t, got.Equal(dec("0.259")))
}

func TestSizeOrderFromNotionalBootstrapScenarioA(t *testing.T) {
	rules := domain.PairRules{
		Symbol:           "BTCTRY",
		PriceTick:        dec("1"),
		QtyStep:          dec("0.01"),
		MinNotionalQuote: dec("10"),
	}
	p := NewPolicy(rules, 2, 2, dec("0.00000001"))

	res := p.SizeOrderFromNotional(dec("25"), dec("100"), rules, dec("10"))
	require.Equal(t, SizeOK, res.Status)
	require.True(t, res.QuantizedQty.Equal(dec("0.25")), "qty=%s", res.QuantizedQty)
	require.True(t, res.QuantizedPrice.LessThanOrEqual(dec("100")))
}

func TestSizeOrderFromNotionalRejectsBelowMinNotional(t *testing.T) {
	rules := domain.PairRules{
		Symbol:           "BTCTRY",
		PriceTick:        dec("1"),
		QtyStep:          dec("0.01"),
		MinNotionalQuote: dec("50"),
	}
	p := NewPolicy(rules, 2, 2, dec("0.00000001"))

	res := p.SizeOrderFromNotional(dec("5"), dec("100"), rules, dec("50"))
	require.Equal(t, SizeBelowMinNotional, res.Status)
}

func TestSizeOrderFromNotionalRejectsNonPositive(t *testing.T) {
	rules := domain.PairRules{Symbol: "BTCTRY", PriceTick: dec("1"), QtyStep: dec("1")}
	p := NewPolicy(rules, 2, 2, dec("0"))

	res := p.SizeOrderFromNotional(dec("-5"), dec("100"), rules, dec("10"))
	require.Equal(t, SizeInvalid, res.Status)
}
