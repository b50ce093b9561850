package risk

import (
	"testing"

	"market_maker/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func flatPosition(symbol string) domain.Position { return domain.Position{Symbol: symbol} }

func TestRiskPolicyServiceBlocksSubmitWhenSideEffectsDisallowed(t *testing.T) {
	s := NewRiskPolicyService(10, decimal.Zero, decimal.Zero)
	actions := []Action{{Type: ActionSubmit, Intent: intent("BTCTRY", domain.SideBuy, "100", "1")}}
	out := s.Filter(actions, CycleRiskOutput{SideEffect: SideEffectDecision{Allowed: false}}, flatPosition)
	require.False(t, out[0].Allowed)
	require.Equal(t, "submit_not_allowed", out[0].Code)
}

func TestRiskPolicyServiceBlocksSubmitInObserveOnly(t *testing.T) {
	s := NewRiskPolicyService(10, decimal.Zero, decimal.Zero)
	actions := []Action{{Type: ActionSubmit, Intent: intent("BTCTRY", domain.SideBuy, "100", "1")}}
	out := s.Filter(actions, CycleRiskOutput{
		SideEffect: SideEffectDecision{Allowed: true},
		Budget:     RiskBudgetView{Mode: domain.ModeObserveOnly},
	}, flatPosition)
	require.False(t, out[0].Allowed)
	require.Equal(t, "observe_only", out[0].Code)
}

func TestRiskPolicyServiceReduceRiskOnlyRequiresReducingTrade(t *testing.T) {
	s := NewRiskPolicyService(10, decimal.Zero, decimal.Zero)
	longPos := func(symbol string) domain.Position {
		return domain.Position{Symbol: symbol, Qty: decimal.RequireFromString("1")}
	}

	buyAction := []Action{{Type: ActionSubmit, Intent: intent("BTCTRY", domain.SideBuy, "100", "1")}}
	out := s.Filter(buyAction, CycleRiskOutput{
		SideEffect: SideEffectDecision{Allowed: true},
		Budget:     RiskBudgetView{Mode: domain.ModeReduceRiskOnly},
	}, longPos)
	require.False(t, out[0].Allowed)
	require.Equal(t, "reduce_risk_only_non_reducing", out[0].Code)

	sellAction := []Action{{Type: ActionSubmit, Intent: intent("BTCTRY", domain.SideSell, "100", "1")}}
	out = s.Filter(sellAction, CycleRiskOutput{
		SideEffect: SideEffectDecision{Allowed: true},
		Budget:     RiskBudgetView{Mode: domain.ModeReduceRiskOnly},
	}, longPos)
	require.True(t, out[0].Allowed)
}

func TestRiskPolicyServiceEnforcesMaxSymbolExposure(t *testing.T) {
	s := NewRiskPolicyService(10, decimal.Zero, decimal.RequireFromString("150"))
	actions := []Action{{
		Type:           ActionSubmit,
		Intent:         intent("BTCTRY", domain.SideBuy, "100", "1"),
		SymbolExposure: decimal.RequireFromString("100"),
	}}
	out := s.Filter(actions, CycleRiskOutput{
		SideEffect: SideEffectDecision{Allowed: true},
		Budget:     RiskBudgetView{Mode: domain.ModeNormal},
	}, flatPosition)
	require.False(t, out[0].Allowed)
	require.Equal(t, "max_symbol_exposure", out[0].Code)
}

func TestRiskPolicyServiceCancelRespectsSideEffectPolicy(t *testing.T) {
	s := NewRiskPolicyService(10, decimal.Zero, decimal.Zero)
	actions := []Action{{Type: ActionCancel, Intent: intent("BTCTRY", domain.SideBuy, "100", "1")}}
	out := s.Filter(actions, CycleRiskOutput{SideEffect: SideEffectDecision{Allowed: false}}, flatPosition)
	require.False(t, out[0].Allowed)

	out = s.Filter(actions, CycleRiskOutput{SideEffect: SideEffectDecision{Allowed: true}}, flatPosition)
	require.True(t, out[0].Allowed)
}
