package kernel

import (
	"sort"
	"time"

	"market_maker/internal/domain"

	"github.com/shopspring/decimal"
)

// StrategyContext is the read-only input handed to every registered
// strategy: the current cycle id, the symbol's market snapshot, any open
// position, and a deterministic clock (the cycle's ts_start, never
// time.Now — replay must reproduce identical intents).
type StrategyContext struct {
	CycleID  string
	Now      time.Time
	Snapshot MarketSnapshot
	Position domain.Position
}

// Strategy generates zero or more intents for a single symbol.
type Strategy interface {
	ID() string
	Weight() int
	Enabled() bool
	Generate(ctx StrategyContext) []domain.Intent
}

// StrategyEngine composes a registry of strategies, ordered by
// (-weight, strategy_id) per spec section 4.F, skipping disabled ones.
type StrategyEngine struct {
	strategies []Strategy
}

func NewStrategyEngine(strategies ...Strategy) *StrategyEngine {
	ordered := make([]Strategy, len(strategies))
	copy(ordered, strategies)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Weight() != ordered[j].Weight() {
			return ordered[i].Weight() > ordered[j].Weight()
		}
		return ordered[i].ID() < ordered[j].ID()
	})
	return &StrategyEngine{strategies: ordered}
}

// GenerateIntents runs every enabled strategy, in registry order, over
// every symbol in universe, appending intents in strategy-then-symbol
// order so the output is deterministic given identical inputs.
func (e *StrategyEngine) GenerateIntents(cycleID string, now time.Time, universe []string, snapshotFor func(symbol string) MarketSnapshot, positionFor func(symbol string) domain.Position) []domain.Intent {
	var out []domain.Intent
	for _, strat := range e.strategies {
		if !strat.Enabled() {
			continue
		}
		for _, symbol := range universe {
			ctx := StrategyContext{
				CycleID:  cycleID,
				Now:      now,
				Snapshot: snapshotFor(symbol),
				Position: positionFor(symbol),
			}
			out = append(out, strat.Generate(ctx)...)
		}
	}
	return out
}

// MeanReversionConfig parametrizes the example mean-reversion strategy
// (spec section 4.F): trade back toward an anchor price.
type MeanReversionConfig struct {
	Anchor         decimal.Decimal
	ThresholdBps   decimal.Decimal
	MaxNotional    decimal.Decimal
	BootstrapNotional decimal.Decimal
	WeightValue    int
	EnabledFlag    bool
}

// MeanReversionStrategy is the spec's literal example strategy: deviate
// from Anchor by ThresholdBps and trade back toward it; bootstrap a first
// position when flat.
type MeanReversionStrategy struct {
	cfg MeanReversionConfig
}

func NewMeanReversionStrategy(cfg MeanReversionConfig) *MeanReversionStrategy {
	return &MeanReversionStrategy{cfg: cfg}
}

func (s *MeanReversionStrategy) ID() string     { return "mean_reversion" }
func (s *MeanReversionStrategy) Weight() int    { return s.cfg.WeightValue }
func (s *MeanReversionStrategy) Enabled() bool  { return s.cfg.EnabledFlag }

func (s *MeanReversionStrategy) Generate(ctx StrategyContext) []domain.Intent {
	if s.cfg.Anchor.IsZero() {
		return nil
	}
	mid := ctx.Snapshot.BestBid.Add(ctx.Snapshot.BestAsk).Div(decimal.NewFromInt(2))
	if mid.IsZero() {
		return nil
	}

	deviationBps := mid.Sub(s.cfg.Anchor).Div(s.cfg.Anchor).Mul(decimal.NewFromInt(10000))

	flat := ctx.Position.Qty.IsZero()
	hasOpenBuy := false // the kernel has no open-order view; allocator/OMS own dedup via idempotency keys

	var intent *domain.Intent
	switch {
	case deviationBps.LessThanOrEqual(s.cfg.ThresholdBps.Neg()):
		intent = s.intent(ctx, domain.SideBuy, ctx.Snapshot.BestAsk, s.cfg.MaxNotional, "mean_reversion_buy_dip")
	case deviationBps.GreaterThanOrEqual(s.cfg.ThresholdBps):
		if !flat {
			intent = s.intent(ctx, domain.SideSell, ctx.Snapshot.BestBid, s.cfg.MaxNotional, "mean_reversion_sell_rip")
		}
	case flat && !hasOpenBuy:
		intent = s.intent(ctx, domain.SideBuy, ctx.Snapshot.BestAsk, s.cfg.BootstrapNotional, "mean_reversion_bootstrap")
	}
	if intent == nil {
		return nil
	}
	return []domain.Intent{*intent}
}

func (s *MeanReversionStrategy) intent(ctx StrategyContext, side domain.Side, price, notional decimal.Decimal, reason string) *domain.Intent {
	if !price.IsPositive() || !notional.IsPositive() {
		return nil
	}
	qty := notional.Div(price)
	key := domain.ComputeIdempotencyKey(ctx.CycleID, ctx.Snapshot.Symbol, side, qty, &price)
	return &domain.Intent{
		IntentID:       "int:" + key[:16],
		CycleID:        ctx.CycleID,
		Symbol:         ctx.Snapshot.Symbol,
		Side:           side,
		Qty:            qty,
		LimitPrice:     &price,
		Reason:         reason,
		Confidence:     1,
		IdempotencyKey: key,
		CreatedAt:      ctx.Now,
	}
}
