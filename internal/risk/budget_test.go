package risk

import (
	"testing"

	"market_maker/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSelfFinancingPolicyDrawdownHaltsToObserveOnly(t *testing.T) {
	p := NewSelfFinancingPolicy(BudgetLimits{DrawdownHaltLimit: d("0.2")})
	view := p.Evaluate(PortfolioState{
		TradingCapital: d("1000"),
		PeakEquity:     d("1000"),
		CurrentEquity:  d("750"), // 25% drawdown >= 20% halt limit
	})
	require.Equal(t, domain.ModeObserveOnly, view.Mode)
	require.Contains(t, view.Reasons, "drawdown_halt_limit")
}

func TestSelfFinancingPolicyDailyLossLimitHaltsToObserveOnly(t *testing.T) {
	p := NewSelfFinancingPolicy(BudgetLimits{DailyLossLimit: d("100")})
	view := p.Evaluate(PortfolioState{
		TradingCapital:   d("1000"),
		RealizedPnLToday: d("-150"),
	})
	require.Equal(t, domain.ModeObserveOnly, view.Mode)
	require.Contains(t, view.Reasons, "daily_loss_limit")
}

func TestSelfFinancingPolicyLossStreakHalvesSizing(t *testing.T) {
	p := NewSelfFinancingPolicy(BudgetLimits{MaxOrderNotionalBase: d("100")})
	view := p.Evaluate(PortfolioState{
		TradingCapital:    d("1000"),
		ConsecutiveLosses: 3,
	})
	require.Equal(t, domain.ModeReduceRiskOnly, view.Mode)
	require.True(t, view.PositionSizingMultiplier.Equal(d("0.5")))
	require.True(t, view.MaxOrderNotional.Equal(d("50")))
}

func TestSelfFinancingPolicyStressedVolatilityReducesRisk(t *testing.T) {
	p := NewSelfFinancingPolicy(BudgetLimits{})
	view := p.Evaluate(PortfolioState{
		TradingCapital: d("1000"),
		Volatility:     VolatilityStressed,
	})
	require.Equal(t, domain.ModeReduceRiskOnly, view.Mode)
}

func TestSelfFinancingPolicyProfitSplitsToCapitalAndTreasury(t *testing.T) {
	p := NewSelfFinancingPolicy(BudgetLimits{})
	view := p.Evaluate(PortfolioState{
		TradingCapital:   d("1000"),
		Treasury:         d("0"),
		RealizedPnLToday: d("100"),
	})
	require.True(t, view.TradingCapital.Equal(d("1060")))
	require.True(t, view.Treasury.Equal(d("40")))
}

func TestSelfFinancingPolicyLossesOnlyDrawTradingCapital(t *testing.T) {
	p := NewSelfFinancingPolicy(BudgetLimits{})
	view := p.Evaluate(PortfolioState{
		TradingCapital:   d("1000"),
		Treasury:         d("500"),
		RealizedPnLToday: d("-100"),
	})
	require.True(t, view.TradingCapital.Equal(d("900")))
	require.True(t, view.Treasury.Equal(d("500")))
}

func TestSelfFinancingPolicyNormalModeWhenNoLimitsBreached(t *testing.T) {
	p := NewSelfFinancingPolicy(BudgetLimits{DrawdownHaltLimit: d("0.5"), DailyLossLimit: d("1000")})
	view := p.Evaluate(PortfolioState{
		TradingCapital: d("1000"),
		PeakEquity:     d("1000"),
		CurrentEquity:  d("1000"),
	})
	require.Equal(t, domain.ModeNormal, view.Mode)
	require.Empty(t, view.Reasons)
}
