package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStalenessGateFlagsExchangeDegradedRegardlessOfAge(t *testing.T) {
	g := NewStalenessGate(time.Minute)
	require.Equal(t, "exchange_degraded", g.Check(0, true))
}

func TestStalenessGateFlagsAgedMarketData(t *testing.T) {
	g := NewStalenessGate(10 * time.Second)
	require.Equal(t, "stale_market_data", g.Check(20*time.Second, false))
	require.Equal(t, "", g.Check(5*time.Second, false))
}

func TestStalenessGateDisabledWhenZero(t *testing.T) {
	g := NewStalenessGate(0)
	require.Equal(t, "", g.Check(time.Hour, false))
}
