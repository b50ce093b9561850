package kernel

import (
	"market_maker/internal/domain"
	"market_maker/internal/money"

	"github.com/shopspring/decimal"
)

// OrderIntentBuilder applies money.Policy.SizeOrderFromNotional to each
// allocation decision, producing the post-allocation OrderIntent the OMS
// consumes. Rejected or below-min-notional decisions are marked skipped
// rather than dropped, so the audit trail always accounts for every
// intent the strategy engine produced (spec section 4.F).
type OrderIntentBuilder struct {
	fallbackMinNotional decimal.Decimal
}

func NewOrderIntentBuilder(fallbackMinNotional decimal.Decimal) *OrderIntentBuilder {
	return &OrderIntentBuilder{fallbackMinNotional: fallbackMinNotional}
}

// Build turns allocation decisions into OrderIntents. rulesFor must
// return the live PairRules for a symbol; policyFor builds the
// money.Policy to quantize with (fee/quote precision come from config,
// not the rules row).
func (b *OrderIntentBuilder) Build(cycleID string, decisions []AllocationDecision, rulesFor func(symbol string) (domain.PairRules, bool), policyFor func(domain.PairRules) money.Policy) []domain.OrderIntent {
	out := make([]domain.OrderIntent, 0, len(decisions))
	for _, d := range decisions {
		intent := d.Intent
		oi := domain.OrderIntent{
			CycleID: cycleID,
			Symbol:  intent.Symbol,
			Side:    intent.Side,
			Reason:  intent.Reason,
		}

		if d.Status == AllocationRejected {
			oi.Skipped = true
			oi.SkipReason = d.Reason
			out = append(out, oi)
			continue
		}
		if d.Reason != "" {
			oi.ConstraintsApplied = append(oi.ConstraintsApplied, d.Reason)
		}

		rules, ok := rulesFor(intent.Symbol)
		if !ok {
			oi.Skipped = true
			oi.SkipReason = "pair_rules_unavailable"
			out = append(out, oi)
			continue
		}
		if intent.LimitPrice == nil {
			oi.Skipped = true
			oi.SkipReason = "missing_limit_price"
			out = append(out, oi)
			continue
		}

		policy := policyFor(rules)
		desiredNotional := intent.Qty.Mul(*intent.LimitPrice)
		sized := policy.SizeOrderFromNotional(desiredNotional, *intent.LimitPrice, rules, b.fallbackMinNotional)

		switch sized.Status {
		case money.SizeOK:
			oi.OrderType = domain.OrderTypeLimit
			oi.PriceQuote = sized.QuantizedPrice
			oi.Qty = sized.QuantizedQty
			oi.NotionalQuote = sized.Notional
			oi.ClientOrderID = domain.ComputeClientOrderID(intent.Symbol, intent.Side, intent.IdempotencyKey)
		case money.SizeBelowMinNotional:
			oi.Skipped = true
			oi.SkipReason = "min_notional"
		default:
			oi.Skipped = true
			oi.SkipReason = "invalid_size"
		}

		out = append(out, oi)
	}
	return out
}

// PlanningGates are the boolean diagnostics the cycle runner attaches to
// the audit envelope (spec section 4.F).
type PlanningGates struct {
	MarketDataAvailable bool
	CashAvailable       bool
	OrdersPlanned       bool
}

// ComputeGates derives the gate booleans from a completed Build pass.
func ComputeGates(marketDataAvailable, cashAvailable bool, orderIntents []domain.OrderIntent) PlanningGates {
	planned := false
	for _, oi := range orderIntents {
		if !oi.Skipped {
			planned = true
			break
		}
	}
	return PlanningGates{
		MarketDataAvailable: marketDataAvailable,
		CashAvailable:       cashAvailable,
		OrdersPlanned:       planned,
	}
}
