package ledger

import (
	"context"

	"market_maker/internal/domain"
	"market_maker/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// Equity computes the spec section 4.D formula exactly:
//
//	cash_quote + Σ unrealized + realized − fees − funding − slippage
//
// positions is every symbol's current Position (RealizedPnLQuote and
// UnrealizedPnLQuote already populated by ApplyFill/MarkToMarket);
// fundingCost and slippageCost are the running totals summed from all
// ledger_events (FUNDING_COST and SLIPPAGE rows respectively — both zero
// for a spot-only deployment that never emits FUNDING_COST, per the
// non-goal on margin/derivatives).
func Equity(cashQuote decimal.Decimal, positions []domain.Position, fundingCost, slippageCost decimal.Decimal) decimal.Decimal {
	total := cashQuote
	for _, p := range positions {
		total = total.Add(p.UnrealizedPnLQuote).Add(p.RealizedPnLQuote).Sub(p.FeesPaidQuote)
	}
	return total.Sub(fundingCost).Sub(slippageCost)
}

// Drawdown returns (peak-equity)/peak, floored at 0 (a new peak or an
// unset/non-positive peak never reports a negative drawdown).
func Drawdown(equity, peak decimal.Decimal) decimal.Decimal {
	if !peak.IsPositive() {
		return decimal.Zero
	}
	dd := peak.Sub(equity).Div(peak)
	if dd.IsNegative() {
		return decimal.Zero
	}
	return dd
}

// DrawdownTracker keeps a running peak equity in memory for callers (e.g.
// a replay driver) that don't otherwise persist the peak themselves. The
// live cycle runner persists its peak in capital_state instead and calls
// Drawdown directly — see internal/runner/cycle.go.
type DrawdownTracker struct {
	peak decimal.Decimal
}

func NewDrawdownTracker() *DrawdownTracker {
	return &DrawdownTracker{peak: decimal.Zero}
}

// Update feeds a new equity reading and returns the drawdown ratio.
func (d *DrawdownTracker) Update(equity decimal.Decimal) decimal.Decimal {
	if equity.GreaterThan(d.peak) {
		d.peak = equity
	}
	return Drawdown(equity, d.peak)
}

// Peak returns the highest equity value observed so far.
func (d *DrawdownTracker) Peak() decimal.Decimal {
	return d.peak
}

// ReportTelemetry publishes the current equity and drawdown to the
// process's OTel gauges, matching the teacher's pattern of pushing
// derived values through pkg/telemetry rather than computing them at
// scrape time.
func ReportTelemetry(ctx context.Context, metrics *telemetry.MetricsHolder, account string, equity, drawdown decimal.Decimal) {
	if metrics == nil {
		return
	}
	e, _ := equity.Float64()
	d, _ := drawdown.Float64()
	metrics.SetEquity(account, e)
	metrics.SetDrawdown(account, d)
}
