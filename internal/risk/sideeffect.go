// Package risk implements the layered safety gates between planning and
// submission: the side-effect policy, the self-financing risk budget
// engine, the per-order policy, and the action filter (spec section
// 4.G). Grounded on the teacher's internal/risk circuit breaker (loss
// streak / drawdown tripwires) and monitor (periodic gate evaluation),
// generalized from a single global breaker into the spec's ordered,
// reason-coded gate sequence.
package risk

import "market_maker/internal/domain"

// Role is the process's configured deployment role.
type Role string

const (
	RoleLive    Role = "LIVE"
	RoleMonitor Role = "MONITOR"
	RoleReplay  Role = "REPLAY"
)

// ReasonCode enumerates the side-effect policy's block reasons, in the
// spec's canonical accumulation order.
type ReasonCode string

const (
	ReasonMonitorRole ReasonCode = "MONITOR_ROLE"
	ReasonKillSwitch  ReasonCode = "KILL_SWITCH"
	ReasonDryRun      ReasonCode = "DRY_RUN"
	ReasonNotArmed    ReasonCode = "NOT_ARMED"
	ReasonAckMissing  ReasonCode = "ACK_MISSING"
)

// SideEffectInputs are the four booleans and the process role the policy
// gates on.
type SideEffectInputs struct {
	KillSwitch       bool
	DryRun           bool
	LiveTradingOn    bool
	LiveTradingAck   bool
	Role             Role
}

// SideEffectDecision is the evaluated policy: whether the cycle may
// submit/cancel orders, and the ordered list of reasons it may not.
type SideEffectDecision struct {
	Allowed bool
	Reasons []ReasonCode
}

// Evaluate computes allowed ⇔ ¬kill_switch ∧ ¬dry_run ∧ live_trading_enabled
// ∧ live_trading_ack ∧ process_role≠MONITOR, accumulating reasons in
// canonical order [MONITOR_ROLE, KILL_SWITCH, DRY_RUN, NOT_ARMED,
// ACK_MISSING] regardless of which ones actually fired (spec section
// 4.G, scenario E).
func Evaluate(in SideEffectInputs) SideEffectDecision {
	var reasons []ReasonCode
	if in.Role == RoleMonitor {
		reasons = append(reasons, ReasonMonitorRole)
	}
	if in.KillSwitch {
		reasons = append(reasons, ReasonKillSwitch)
	}
	if in.DryRun {
		reasons = append(reasons, ReasonDryRun)
	}
	if !in.LiveTradingOn {
		reasons = append(reasons, ReasonNotArmed)
	}
	if !in.LiveTradingAck {
		reasons = append(reasons, ReasonAckMissing)
	}
	return SideEffectDecision{Allowed: len(reasons) == 0, Reasons: reasons}
}

// BaseMode derives the cycle's starting risk mode purely from the
// side-effect decision: a blocked cycle never escalates above
// OBSERVE_ONLY on its own, but an allowed cycle starts at NORMAL and the
// risk budget engine may still escalate it.
func BaseMode(d SideEffectDecision) domain.RiskMode {
	if !d.Allowed {
		return domain.ModeObserveOnly
	}
	return domain.ModeNormal
}
