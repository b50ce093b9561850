package risk

import (
	"market_maker/internal/domain"
	"market_maker/internal/ledger"

	"github.com/shopspring/decimal"
)

// VolatilityRegime classifies the market's current volatility state.
type VolatilityRegime string

const (
	VolatilityNormal    VolatilityRegime = "normal"
	VolatilityHigh      VolatilityRegime = "high"
	VolatilityStressed  VolatilityRegime = "stressed"
)

// PortfolioState is the rolling accounting state the budget engine reads.
type PortfolioState struct {
	TradingCapital      decimal.Decimal
	Treasury            decimal.Decimal
	PeakEquity          decimal.Decimal
	CurrentEquity       decimal.Decimal
	RealizedPnLToday    decimal.Decimal
	ConsecutiveLosses   int
	Volatility          VolatilityRegime
}

// BudgetLimits are the configured ceilings the engine evaluates against.
type BudgetLimits struct {
	DailyLossLimit       decimal.Decimal
	DrawdownHaltLimit     decimal.Decimal // ratio, e.g. 0.2 for 20%
	MaxGrossExposure      decimal.Decimal
	MaxOrderNotionalBase  decimal.Decimal
	ProfitCompoundRatio   decimal.Decimal // default 0.60
	ProfitTreasuryRatio   decimal.Decimal // default 0.40
}

// RiskBudgetView is the deterministic output of SelfFinancingPolicy (spec
// section 4.G).
type RiskBudgetView struct {
	TradingCapital          decimal.Decimal
	Treasury                decimal.Decimal
	AvailableRiskCapital    decimal.Decimal
	DailyLossLimit          decimal.Decimal
	DrawdownHaltLimit       decimal.Decimal
	MaxGrossExposure        decimal.Decimal
	MaxOrderNotional        decimal.Decimal
	PositionSizingMultiplier decimal.Decimal
	Mode                    domain.RiskMode
	Reasons                 []string
}

// SelfFinancingPolicy computes the cycle's risk budget from portfolio
// state, splitting realized profit into a trading-capital compounding
// share and a treasury share, and halving order sizing (never capital)
// under elevated risk. Grounded on the teacher's internal/risk
// CircuitBreaker (consecutive-loss / drawdown tripwires triggering a
// global halt) and monitor.go's periodic re-evaluation loop, generalized
// into a pure function returning a reason-coded view instead of
// mutating a shared breaker singleton.
type SelfFinancingPolicy struct {
	limits BudgetLimits
}

func NewSelfFinancingPolicy(limits BudgetLimits) *SelfFinancingPolicy {
	if limits.ProfitCompoundRatio.IsZero() && limits.ProfitTreasuryRatio.IsZero() {
		limits.ProfitCompoundRatio = decimal.NewFromFloat(0.60)
		limits.ProfitTreasuryRatio = decimal.NewFromFloat(0.40)
	}
	return &SelfFinancingPolicy{limits: limits}
}

// Evaluate computes the RiskBudgetView for the given portfolio state.
func (p *SelfFinancingPolicy) Evaluate(state PortfolioState) RiskBudgetView {
	tradingCapital := state.TradingCapital
	treasury := state.Treasury

	if state.RealizedPnLToday.IsPositive() {
		tradingCapital = tradingCapital.Add(state.RealizedPnLToday.Mul(p.limits.ProfitCompoundRatio))
		treasury = treasury.Add(state.RealizedPnLToday.Mul(p.limits.ProfitTreasuryRatio))
	} else if state.RealizedPnLToday.IsNegative() {
		// losses only draw down trading capital, never the treasury.
		tradingCapital = tradingCapital.Add(state.RealizedPnLToday)
	}
	if tradingCapital.IsNegative() {
		tradingCapital = decimal.Zero
	}

	mode := domain.ModeNormal
	var reasons []string

	drawdown := ledger.Drawdown(state.CurrentEquity, state.PeakEquity)
	if drawdown.GreaterThanOrEqual(p.limits.DrawdownHaltLimit) && p.limits.DrawdownHaltLimit.IsPositive() {
		mode = domain.Max(mode, domain.ModeObserveOnly)
		reasons = append(reasons, "drawdown_halt_limit")
	}
	if p.limits.DailyLossLimit.IsPositive() && state.RealizedPnLToday.LessThanOrEqual(p.limits.DailyLossLimit.Neg()) {
		mode = domain.Max(mode, domain.ModeObserveOnly)
		reasons = append(reasons, "daily_loss_limit")
	}

	sizingMultiplier := decimal.NewFromInt(1)
	if state.ConsecutiveLosses >= 3 {
		sizingMultiplier = decimal.NewFromFloat(0.5)
		mode = domain.Max(mode, domain.ModeReduceRiskOnly)
		reasons = append(reasons, "loss_streak")
	}
	if state.Volatility == VolatilityHigh || state.Volatility == VolatilityStressed {
		sizingMultiplier = decimal.NewFromFloat(0.5)
		mode = domain.Max(mode, domain.ModeReduceRiskOnly)
		reasons = append(reasons, "volatility_regime")
	}

	availableRiskCapital := tradingCapital.Mul(sizingMultiplier)

	return RiskBudgetView{
		TradingCapital:           tradingCapital,
		Treasury:                 treasury,
		AvailableRiskCapital:     availableRiskCapital,
		DailyLossLimit:           p.limits.DailyLossLimit,
		DrawdownHaltLimit:        p.limits.DrawdownHaltLimit,
		MaxGrossExposure:         p.limits.MaxGrossExposure,
		MaxOrderNotional:         p.limits.MaxOrderNotionalBase.Mul(sizingMultiplier),
		PositionSizingMultiplier: sizingMultiplier,
		Mode:                     mode,
		Reasons:                  reasons,
	}
}
