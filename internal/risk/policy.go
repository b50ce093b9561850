package risk

import (
	"time"

	"market_maker/internal/domain"

	"github.com/shopspring/decimal"
)

// OrderPolicyLimits are the per-order gates (spec section 4.G).
type OrderPolicyLimits struct {
	MaxOpenOrdersPerSymbol int
	CooldownSeconds        int
	NotionalCapPerCycle    decimal.Decimal
	MaxOrdersPerCycle      int
}

// OrderPolicyState is the mutable-per-cycle context the per-order policy
// consults: open order counts and the last intent time per (symbol,
// side), both owned by the caller (the OMS/runner), never by the
// policy itself.
type OrderPolicyState struct {
	OpenOrdersBySymbol map[string]int
	LastIntentAt       map[string]time.Time // key: symbol+"|"+side
	Now                time.Time
}

// Verdict is one OrderIntent's accept/block outcome.
type Verdict struct {
	Intent domain.OrderIntent
	Reason string // empty means accepted
}

// RiskPolicy evaluates intents in order, blocking on the first violated
// gate and enforcing the cumulative per-cycle notional cap and the
// max-accepted-count ceiling across the whole batch.
type RiskPolicy struct {
	limits OrderPolicyLimits
}

func NewRiskPolicy(limits OrderPolicyLimits) *RiskPolicy {
	return &RiskPolicy{limits: limits}
}

// Evaluate walks intents in the given (already deterministic) order,
// returning one Verdict per intent.
func (p *RiskPolicy) Evaluate(intents []domain.OrderIntent, state OrderPolicyState) []Verdict {
	out := make([]Verdict, 0, len(intents))
	accepted := 0
	cumulativeNotional := decimal.Zero

	for _, oi := range intents {
		if oi.Skipped {
			out = append(out, Verdict{Intent: oi, Reason: oi.SkipReason})
			continue
		}

		reason := p.evaluateOne(oi, state, accepted, cumulativeNotional)
		if reason != "" {
			out = append(out, Verdict{Intent: oi, Reason: reason})
			continue
		}

		cumulativeNotional = cumulativeNotional.Add(oi.NotionalQuote)
		accepted++
		out = append(out, Verdict{Intent: oi})
	}
	return out
}

func (p *RiskPolicy) evaluateOne(oi domain.OrderIntent, state OrderPolicyState, acceptedSoFar int, cumulativeNotional decimal.Decimal) string {
	if p.limits.MaxOpenOrdersPerSymbol > 0 && state.OpenOrdersBySymbol[oi.Symbol] >= p.limits.MaxOpenOrdersPerSymbol {
		return "max_open_orders_per_symbol"
	}
	if p.limits.CooldownSeconds > 0 {
		key := oi.Symbol + "|" + string(oi.Side)
		if last, ok := state.LastIntentAt[key]; ok {
			if state.Now.Sub(last) < time.Duration(p.limits.CooldownSeconds)*time.Second {
				return "cooldown"
			}
		}
	}
	if !oi.PriceQuote.IsPositive() {
		return "missing_limit_price"
	}
	if !oi.Qty.IsPositive() {
		return "non_positive_after_quantize"
	}
	if p.limits.NotionalCapPerCycle.IsPositive() && cumulativeNotional.Add(oi.NotionalQuote).GreaterThan(p.limits.NotionalCapPerCycle) {
		return "notional_cap"
	}
	if p.limits.MaxOrdersPerCycle > 0 && acceptedSoFar >= p.limits.MaxOrdersPerCycle {
		return "max_orders_per_cycle"
	}
	return ""
}
