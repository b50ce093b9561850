package risk

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestEvaluateScenarioE matches spec section 8 scenario E literally:
// kill_switch=true, dry_run=true, live_off, ack_missing must produce
// reasons in the canonical order regardless of process role.
func TestEvaluateScenarioE(t *testing.T) {
	d := Evaluate(SideEffectInputs{
		KillSwitch:     true,
		DryRun:         true,
		LiveTradingOn:  false,
		LiveTradingAck: false,
		Role:           RoleLive,
	})
	require.False(t, d.Allowed)
	require.Equal(t, []ReasonCode{ReasonKillSwitch, ReasonDryRun, ReasonNotArmed, ReasonAckMissing}, d.Reasons)
}

func TestEvaluateMonitorRoleAlwaysBlocked(t *testing.T) {
	d := Evaluate(SideEffectInputs{
		LiveTradingOn:  true,
		LiveTradingAck: true,
		Role:           RoleMonitor,
	})
	require.False(t, d.Allowed)
	require.Equal(t, []ReasonCode{ReasonMonitorRole}, d.Reasons)
}

func TestEvaluateAllowedWhenArmedAndAcked(t *testing.T) {
	d := Evaluate(SideEffectInputs{
		DryRun:         false,
		LiveTradingOn:  true,
		LiveTradingAck: true,
		Role:           RoleLive,
	})
	require.True(t, d.Allowed)
	require.Empty(t, d.Reasons)
	require.Equal(t, 0, int(BaseMode(d)))
}

func TestBaseModeObserveOnlyWhenBlocked(t *testing.T) {
	d := Evaluate(SideEffectInputs{Role: RoleMonitor})
	require.Equal(t, 2, int(BaseMode(d)))
}
