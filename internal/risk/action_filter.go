package risk

import (
	"market_maker/internal/domain"

	"github.com/shopspring/decimal"
)

// ActionType distinguishes the two lifecycle actions the filter gates.
type ActionType string

const (
	ActionSubmit ActionType = "SUBMIT"
	ActionCancel ActionType = "CANCEL"
)

// CycleRiskOutput is the combined view the action filter consumes: the
// side-effect decision and the budget engine's view for this cycle.
type CycleRiskOutput struct {
	SideEffect SideEffectDecision
	Budget     RiskBudgetView
}

// Action is one candidate lifecycle action awaiting the filter's verdict.
type Action struct {
	Type           ActionType
	Intent         domain.OrderIntent
	SymbolExposure decimal.Decimal // current gross exposure for Intent.Symbol, before this action
}

// ActionVerdict is the filter's accept/block decision for one action,
// always persisted regardless of outcome (spec section 4.G).
type ActionVerdict struct {
	Action  Action
	Allowed bool
	Code    string
}

// RiskPolicyService is the final action filter: given a CycleRiskOutput,
// it decides per intended lifecycle action whether to proceed. Grounded
// on the teacher's risk/monitor.go periodic gate re-evaluation loop
// (itself consuming a circuit breaker's tripped/ok signal before
// allowing trading actions), generalized to the spec's explicit reducing-
// trade-only rule under REDUCE_RISK_ONLY and the max-symbol-exposure cap.
type RiskPolicyService struct {
	maxOrdersPerCycle  int
	maxOrderNotional   decimal.Decimal
	maxSymbolExposure  decimal.Decimal
}

func NewRiskPolicyService(maxOrdersPerCycle int, maxOrderNotional, maxSymbolExposure decimal.Decimal) *RiskPolicyService {
	return &RiskPolicyService{
		maxOrdersPerCycle: maxOrdersPerCycle,
		maxOrderNotional:  maxOrderNotional,
		maxSymbolExposure: maxSymbolExposure,
	}
}

// Filter evaluates actions in order against out, returning one verdict
// per action.
func (s *RiskPolicyService) Filter(actions []Action, out CycleRiskOutput, positionBySymbol func(symbol string) domain.Position) []ActionVerdict {
	verdicts := make([]ActionVerdict, 0, len(actions))
	submitCount := 0

	for _, a := range actions {
		v := ActionVerdict{Action: a}

		switch a.Type {
		case ActionCancel:
			if !out.SideEffect.Allowed {
				v.Code = "cancel_not_allowed"
				verdicts = append(verdicts, v)
				continue
			}
			v.Allowed = true

		case ActionSubmit:
			if !out.SideEffect.Allowed {
				v.Code = "submit_not_allowed"
				verdicts = append(verdicts, v)
				continue
			}
			if out.Budget.Mode == domain.ModeObserveOnly {
				v.Code = "observe_only"
				verdicts = append(verdicts, v)
				continue
			}
			if out.Budget.Mode == domain.ModeReduceRiskOnly {
				pos := positionBySymbol(a.Intent.Symbol)
				reducing := (a.Intent.Side == domain.SideSell && pos.Qty.IsPositive()) ||
					(a.Intent.Side == domain.SideBuy && pos.Qty.IsNegative())
				if !reducing {
					v.Code = "reduce_risk_only_non_reducing"
					verdicts = append(verdicts, v)
					continue
				}
			}
			if s.maxOrdersPerCycle > 0 && submitCount >= s.maxOrdersPerCycle {
				v.Code = "max_orders_per_cycle"
				verdicts = append(verdicts, v)
				continue
			}
			if s.maxOrderNotional.IsPositive() && a.Intent.NotionalQuote.GreaterThan(s.maxOrderNotional) {
				v.Code = "max_order_notional"
				verdicts = append(verdicts, v)
				continue
			}
			if s.maxSymbolExposure.IsPositive() && a.SymbolExposure.Add(a.Intent.NotionalQuote).GreaterThan(s.maxSymbolExposure) {
				v.Code = "max_symbol_exposure"
				verdicts = append(verdicts, v)
				continue
			}
			submitCount++
			v.Allowed = true
		}

		verdicts = append(verdicts, v)
	}
	return verdicts
}
