package kernel

import (
	"testing"
	"time"

	"market_maker/internal/domain"
	"market_maker/internal/money"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func btcRules() domain.PairRules {
	return domain.PairRules{
		Symbol: "BTCTRY", PriceTick: d("0.01"), QtyStep: d("0.00000001"),
		MinNotionalQuote: d("10"), PricePrecision: 2, QtyPrecision: 8,
	}
}

func TestUniverseSelectorRanksBySpreadThenVolumeThenSymbol(t *testing.T) {
	snaps := []MarketSnapshot{
		{Symbol: "BTCTRY", Active: true, QuoteCurrency: "TRY", BestBid: d("99"), BestAsk: d("101"), VolumeQuote: d("1000")},
		{Symbol: "ETHTRY", Active: true, QuoteCurrency: "TRY", BestBid: d("99.5"), BestAsk: d("100.5"), VolumeQuote: d("500")},
		{Symbol: "XRPTRY", Active: false, QuoteCurrency: "TRY", BestBid: d("1"), BestAsk: d("1.01"), VolumeQuote: d("2000")},
	}
	sel := NewDefaultUniverseSelector()
	out := sel.Select(snaps, UniverseConfig{QuoteCurrency: "TRY", MaxSpreadBps: d("500"), MaxUniverseSize: 10})
	require.Equal(t, []string{"ETHTRY", "BTCTRY"}, out)
}

func TestUniverseSelectorTruncatesToMaxSize(t *testing.T) {
	snaps := []MarketSnapshot{
		{Symbol: "AAATRY", Active: true, QuoteCurrency: "TRY", BestBid: d("1"), BestAsk: d("1.001"), VolumeQuote: d("10")},
		{Symbol: "BBBTRY", Active: true, QuoteCurrency: "TRY", BestBid: d("1"), BestAsk: d("1.001"), VolumeQuote: d("20")},
	}
	sel := NewDefaultUniverseSelector()
	out := sel.Select(snaps, UniverseConfig{QuoteCurrency: "TRY", MaxSpreadBps: d("500"), MaxUniverseSize: 1})
	require.Len(t, out, 1)
}

func TestMeanReversionBuysOnDip(t *testing.T) {
	strat := NewMeanReversionStrategy(MeanReversionConfig{
		Anchor: d("100"), ThresholdBps: d("100"), MaxNotional: d("50"), BootstrapNotional: d("25"),
		WeightValue: 10, EnabledFlag: true,
	})
	ctx := StrategyContext{
		CycleID: "cycle-1", Now: time.Unix(0, 0).UTC(),
		Snapshot: MarketSnapshot{Symbol: "BTCTRY", BestBid: d("88"), BestAsk: d("89")},
	}
	intents := strat.Generate(ctx)
	require.Len(t, intents, 1)
	require.Equal(t, domain.SideBuy, intents[0].Side)
}

func TestMeanReversionBootstrapsWhenFlat(t *testing.T) {
	strat := NewMeanReversionStrategy(MeanReversionConfig{
		Anchor: d("100"), ThresholdBps: d("100"), MaxNotional: d("50"), BootstrapNotional: d("25"),
		WeightValue: 10, EnabledFlag: true,
	})
	ctx := StrategyContext{
		CycleID: "cycle-1", Now: time.Unix(0, 0).UTC(),
		Snapshot: MarketSnapshot{Symbol: "BTCTRY", BestBid: d("99.5"), BestAsk: d("100.5")},
		Position: domain.Position{Symbol: "BTC", Qty: decimal.Zero},
	}
	intents := strat.Generate(ctx)
	require.Len(t, intents, 1)
	require.Equal(t, "mean_reversion_bootstrap", intents[0].Reason)
}

func TestAllocatorScalesToRemainingBudget(t *testing.T) {
	price := d("100")
	intents := []domain.Intent{
		{Symbol: "BTCTRY", Side: domain.SideBuy, Qty: d("1"), LimitPrice: &price, IdempotencyKey: "k1"},
		{Symbol: "BTCTRY", Side: domain.SideBuy, Qty: d("1"), LimitPrice: &price, IdempotencyKey: "k2"},
	}
	a := NewAllocator()
	decisions := a.Allocate(intents, AllocatorConfig{MaxTotalNotionalPerCycle: d("150"), BudgetMultiplier: d("1")})
	require.Equal(t, AllocationAccepted, decisions[0].Status)
	require.Equal(t, AllocationScaled, decisions[1].Status)
	require.True(t, decisions[1].Intent.Qty.Equal(d("0.5")))
}

func TestOrderIntentBuilderSkipsBelowMinNotional(t *testing.T) {
	price := d("1")
	decisions := []AllocationDecision{
		{Intent: domain.Intent{Symbol: "BTCTRY", Side: domain.SideBuy, Qty: d("1"), LimitPrice: &price}, Status: AllocationAccepted},
	}
	b := NewOrderIntentBuilder(d("10"))
	out := b.Build("cycle-1", decisions,
		func(string) (domain.PairRules, bool) { return btcRules(), true },
		func(r domain.PairRules) money.Policy { return money.NewPolicy(r, 8, 2, decimal.Zero) },
	)
	require.Len(t, out, 1)
	require.True(t, out[0].Skipped)
	require.Equal(t, "min_notional", out[0].SkipReason)
}

func TestKernelRunIsDeterministic(t *testing.T) {
	snaps := []MarketSnapshot{
		{Symbol: "BTCTRY", Active: true, QuoteCurrency: "TRY", BestBid: d("99"), BestAsk: d("101"), VolumeQuote: d("1000")},
	}
	strategy := NewStrategyEngine(NewMeanReversionStrategy(MeanReversionConfig{
		Anchor: d("100"), ThresholdBps: d("100"), MaxNotional: d("1000"), BootstrapNotional: d("500"),
		WeightValue: 10, EnabledFlag: true,
	}))
	k := New(NewDefaultUniverseSelector(), strategy, NewAllocator(), NewOrderIntentBuilder(d("10")))

	ctx := Context{
		CycleID: "cycle-1", Now: time.Unix(0, 0).UTC(),
		Snapshots: snaps,
		Positions: map[string]domain.Position{},
		PairRules: map[string]domain.PairRules{"BTCTRY": btcRules()},
		UniverseCfg: UniverseConfig{QuoteCurrency: "TRY", MaxSpreadBps: d("500"), MaxUniverseSize: 10},
		AllocatorCfg: AllocatorConfig{MaxTotalNotionalPerCycle: d("1000"), BudgetMultiplier: d("1"), MaxPerOrder: d("1000")},
		PolicyFor: func(r domain.PairRules) money.Policy { return money.NewPolicy(r, 8, 2, decimal.Zero) },
	}

	r1 := k.Run(ctx)
	r2 := k.Run(ctx)
	require.Equal(t, r1.OrderIntents, r2.OrderIntents)
	require.True(t, r1.Gates.OrdersPlanned)
}
