package runner

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"market_maker/internal/domain"
	"market_maker/internal/exchange"
	"market_maker/internal/kernel"
	"market_maker/internal/ledger"
	"market_maker/internal/oms"
	"market_maker/internal/risk"
	"market_maker/internal/rules"
	"market_maker/internal/store"
	"market_maker/pkg/logging"
	"market_maker/pkg/retry"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type testLogger struct{}

func (testLogger) Debug(string, ...interface{})                   {}
func (testLogger) Info(string, ...interface{})                    {}
func (testLogger) Warn(string, ...interface{})                    {}
func (testLogger) Error(string, ...interface{})                   {}
func (testLogger) Fatal(string, ...interface{})                   {}
func (l testLogger) WithField(string, interface{}) logging.Logger { return l }
func (l testLogger) WithFields(map[string]interface{}) logging.Logger {
	return l
}

type zeroConverter struct{}

func (zeroConverter) ConvertToQuote(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func newTestRunner(t *testing.T, role risk.Role) (*Runner, *exchange.Mock) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ex := exchange.NewMock()
	ex.SetOrderbook(exchange.OrderBook{
		Symbol: "BTCTRY",
		Bids:   []exchange.OrderBookLevel{{Price: decimal.RequireFromString("100"), Qty: decimal.RequireFromString("5")}},
		Asks:   []exchange.OrderBookLevel{{Price: decimal.RequireFromString("101"), Qty: decimal.RequireFromString("5")}},
		Ts:     time.Now().UTC(),
	})
	ex.SetBalance(exchange.Balance{Asset: "TRY", Free: decimal.RequireFromString("1000")})
	ex.SetPairRules(domain.PairRules{
		Symbol: "BTCTRY", PriceTick: decimal.RequireFromString("0.01"), QtyStep: decimal.RequireFromString("0.00000001"),
		MinNotionalQuote: decimal.RequireFromString("10"), PricePrecision: 2, QtyPrecision: 8,
	})

	rulesCache := rules.New(rules.NewExchangeSource(ex), time.Minute, false, testLogger{})
	require.NoError(t, rulesCache.Refresh(context.Background()))

	led := ledger.New(zeroConverter{}, "TRY")
	k := kernel.New(
		kernel.NewDefaultUniverseSelector(),
		kernel.NewStrategyEngine(),
		kernel.NewAllocator(),
		kernel.NewOrderIntentBuilder(decimal.RequireFromString("10")),
	)
	orderPolicy := risk.NewRiskPolicy(risk.OrderPolicyLimits{MaxOpenOrdersPerSymbol: 5, MaxOrdersPerCycle: 5})
	budget := risk.NewSelfFinancingPolicy(risk.BudgetLimits{})
	actionFilter := risk.NewRiskPolicyService(5, decimal.Zero, decimal.Zero)
	limiter := oms.NewLimiter(nil)
	submitter := oms.NewSubmitter(ex, limiter, retry.DefaultPolicy, testLogger{})
	reconciler := oms.NewReconciler(ex, testLogger{})

	cfg := Config{
		Role:          role,
		AccountKey:    "test",
		Symbols:       []string{"BTCTRY"},
		QuoteCurrency: "TRY",
		UniverseCfg:   kernel.UniverseConfig{QuoteCurrency: "TRY", MaxSpreadBps: decimal.RequireFromString("1000")},
		AllocatorCfg:  kernel.AllocatorConfig{MaxTotalNotionalPerCycle: decimal.RequireFromString("1000"), BudgetMultiplier: decimal.NewFromInt(1)},
		FallbackMinNotional: decimal.RequireFromString("10"),
		FeePrecision:        8,
		QuotePrecision:      2,
		Epsilon:             decimal.RequireFromString("0.00000001"),
		DryRun:              true,
		LiveTradingOn:       false,
		LiveTradingAck:      false,
		KillSwitchCfg:       false,
		KillChainMax:        5,
		RecoveryLookback:    time.Hour,
		RiskModeCooldown:    time.Minute,
		StaleDataSeconds:    300,
	}

	r := New(st, ex, rulesCache, led, reconciler, submitter, k, orderPolicy, budget, actionFilter, cfg, testLogger{})
	return r, ex
}

func TestRunCompletesACycleAndRecordsMetrics(t *testing.T) {
	r, _ := newTestRunner(t, risk.RoleMonitor)
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, res.CycleID)
	require.Equal(t, domain.ModeObserveOnly, res.Mode, "monitor role must never leave observe-only")
}

func TestRunIsIdempotentAcrossRepeatedCyclesWithNoNewIntents(t *testing.T) {
	r, _ := newTestRunner(t, risk.RoleMonitor)
	ctx := context.Background()

	res1, err := r.Run(ctx)
	require.NoError(t, err)
	res2, err := r.Run(ctx)
	require.NoError(t, err)

	require.NotEqual(t, res1.CycleID, res2.CycleID)
	require.Equal(t, 0, res2.Metrics.OrdersSubmitted)
}

func TestRunStaleMarketDataForcesObserveOnly(t *testing.T) {
	r, ex := newTestRunner(t, risk.RoleLive)
	r.cfg.LiveTradingOn = true
	r.cfg.LiveTradingAck = true
	r.cfg.DryRun = false
	r.cfg.StaleDataSeconds = 1

	ex.SetOrderbook(exchange.OrderBook{
		Symbol: "BTCTRY",
		Bids:   []exchange.OrderBookLevel{{Price: decimal.RequireFromString("100"), Qty: decimal.RequireFromString("5")}},
		Asks:   []exchange.OrderBookLevel{{Price: decimal.RequireFromString("101"), Qty: decimal.RequireFromString("5")}},
		Ts:     time.Now().Add(-time.Hour),
	})

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.ModeObserveOnly, res.Mode)
}
