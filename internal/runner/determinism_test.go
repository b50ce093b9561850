package runner

import (
	"context"
	"testing"
	"time"

	"market_maker/internal/risk"
	"market_maker/internal/store"

	"github.com/stretchr/testify/require"
)

// TestCycleFingerprintIsDeterministicAcrossIndependentRuns drives two full,
// independently constructed runners over the same replay fixture (two
// cycles each) and asserts their canonical cycle fingerprints match. The
// two runners never share a cycle_id or a wall-clock timestamp, which is
// exactly what ComputeRunFingerprint's canonical projection is built to
// ignore — only the decision content (mode, counts, pnl, fees, slippage,
// reasons) has to line up.
func TestCycleFingerprintIsDeterministicAcrossIndependentRuns(t *testing.T) {
	ctx := context.Background()

	runAndFingerprint := func() string {
		r, _ := newTestRunner(t, risk.RoleMonitor)
		_, err := r.Run(ctx)
		require.NoError(t, err)
		_, err = r.Run(ctx)
		require.NoError(t, err)

		uow, err := r.store.Begin(ctx, false)
		require.NoError(t, err)
		defer uow.Rollback(ctx)

		fp, err := store.NewCycleRepo(uow).ComputeRunFingerprint(ctx, time.Time{})
		require.NoError(t, err)
		return fp
	}

	fp1 := runAndFingerprint()
	fp2 := runAndFingerprint()
	require.NotEmpty(t, fp1)
	require.Equal(t, fp1, fp2)
}
