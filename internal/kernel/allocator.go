package kernel

import (
	"sort"

	"market_maker/internal/domain"

	"github.com/shopspring/decimal"
)

// AllocationStatus is the outcome of scaling one intent against the
// cycle's capital budget.
type AllocationStatus string

const (
	AllocationAccepted AllocationStatus = "accepted"
	AllocationScaled   AllocationStatus = "scaled"
	AllocationRejected AllocationStatus = "rejected"
)

// AllocationDecision pairs an (possibly re-sized) intent with the
// scaling outcome and reason, for audit (spec section 4.F).
type AllocationDecision struct {
	Intent domain.Intent
	Status AllocationStatus
	Reason string
}

// AllocatorConfig carries the cycle-wide notional budget.
type AllocatorConfig struct {
	MaxTotalNotionalPerCycle decimal.Decimal
	BudgetMultiplier         decimal.Decimal // e.g. 1.0 normally, < 1 under REDUCE_RISK_ONLY
	MaxPerOrder              decimal.Decimal
}

// Allocator scales intents' notional under the cycle's capital budget.
// Intents are processed in their given order (already deterministic from
// the StrategyEngine) and the running total is consumed first-come,
// first-served so repeated runs over identical inputs allocate
// identically.
type Allocator struct{}

func NewAllocator() *Allocator { return &Allocator{} }

func (a *Allocator) Allocate(intents []domain.Intent, cfg AllocatorConfig) []AllocationDecision {
	budget := cfg.MaxTotalNotionalPerCycle.Mul(cfg.BudgetMultiplier)
	spent := decimal.Zero

	decisions := make([]AllocationDecision, 0, len(intents))
	for _, intent := range intents {
		if intent.LimitPrice == nil || !intent.LimitPrice.IsPositive() {
			decisions = append(decisions, AllocationDecision{Intent: intent, Status: AllocationRejected, Reason: "missing_limit_price"})
			continue
		}
		notional := intent.Qty.Mul(*intent.LimitPrice)

		if cfg.MaxPerOrder.IsPositive() && notional.GreaterThan(cfg.MaxPerOrder) {
			scale := cfg.MaxPerOrder.Div(notional)
			intent.Qty = intent.Qty.Mul(scale)
			notional = cfg.MaxPerOrder
		}

		remaining := budget.Sub(spent)
		if !remaining.IsPositive() {
			decisions = append(decisions, AllocationDecision{Intent: intent, Status: AllocationRejected, Reason: "cycle_budget_exhausted"})
			continue
		}

		status := AllocationAccepted
		reason := ""
		if notional.GreaterThan(remaining) {
			scale := remaining.Div(notional)
			intent.Qty = intent.Qty.Mul(scale)
			notional = remaining
			status = AllocationScaled
			reason = "scaled_to_remaining_cycle_budget"
		}

		if !intent.Qty.IsPositive() {
			decisions = append(decisions, AllocationDecision{Intent: intent, Status: AllocationRejected, Reason: "non_positive_after_scaling"})
			continue
		}

		spent = spent.Add(notional)
		decisions = append(decisions, AllocationDecision{Intent: intent, Status: status, Reason: reason})
	}

	return decisions
}

// OrderedIntents is a convenience used by callers that want the total
// order (symbol, side, client_order_id) applied later by the OMS but
// need a stable allocation order up front; kept here since the kernel's
// own determinism property (spec 8.1) depends on processing intents in a
// single canonical order throughout the pipeline.
func OrderedIntents(intents []domain.Intent) []domain.Intent {
	out := make([]domain.Intent, len(intents))
	copy(out, intents)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		if out[i].Side != out[j].Side {
			return out[i].Side < out[j].Side
		}
		return out[i].IdempotencyKey < out[j].IdempotencyKey
	})
	return out
}
