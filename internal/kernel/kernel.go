package kernel

import (
	"sort"
	"time"

	"market_maker/internal/domain"
	"market_maker/internal/money"
)

// Context bundles everything the pure pipeline needs for one cycle.
// Nothing in this struct is mutated once a cycle starts — the kernel
// reads a snapshot and produces a result, it never calls out to the
// network or the clock.
type Context struct {
	CycleID      string
	Now          time.Time
	Snapshots    []MarketSnapshot
	Positions    map[string]domain.Position
	PairRules    map[string]domain.PairRules
	UniverseCfg  UniverseConfig
	AllocatorCfg AllocatorConfig
	PolicyFor    func(domain.PairRules) money.Policy
}

// Result is everything the Kernel produces for one cycle: the order
// intents the OMS should act on, the intermediate allocation decisions
// for audit, the planning gates, and diagnostics counters.
type Result struct {
	Universe     []string
	Intents      []domain.Intent
	Allocations  []AllocationDecision
	OrderIntents []domain.OrderIntent
	Gates        PlanningGates
	Diagnostics  map[string]int
}

// Kernel composes the four planning capabilities into one deterministic
// pipeline (spec section 4.F).
type Kernel struct {
	universe UniverseSelector
	strategy *StrategyEngine
	alloc    *Allocator
	builder  *OrderIntentBuilder
}

func New(universe UniverseSelector, strategy *StrategyEngine, alloc *Allocator, builder *OrderIntentBuilder) *Kernel {
	return &Kernel{universe: universe, strategy: strategy, alloc: alloc, builder: builder}
}

// Run executes universe selection -> strategy -> allocation -> sizing,
// in that order, over ctx. Given an identical ctx, Run always produces
// byte-identical OrderIntents (spec section 4.F, 8 property 1).
func (k *Kernel) Run(ctx Context) Result {
	snapshotBySymbol := make(map[string]MarketSnapshot, len(ctx.Snapshots))
	for _, s := range ctx.Snapshots {
		snapshotBySymbol[s.Symbol] = s
	}

	universe := k.universe.Select(ctx.Snapshots, ctx.UniverseCfg)

	intents := k.strategy.GenerateIntents(ctx.CycleID, ctx.Now, universe,
		func(symbol string) MarketSnapshot { return snapshotBySymbol[symbol] },
		func(symbol string) domain.Position { return ctx.Positions[symbol] },
	)
	intents = dedupeByIdempotencyKey(intents)
	intents = sortIntents(intents)

	decisions := k.alloc.Allocate(intents, ctx.AllocatorCfg)

	orderIntents := k.builder.Build(ctx.CycleID, decisions,
		func(symbol string) (domain.PairRules, bool) {
			r, ok := ctx.PairRules[symbol]
			return r, ok
		},
		ctx.PolicyFor,
	)

	gates := ComputeGates(len(ctx.Snapshots) > 0, true, orderIntents)

	diag := map[string]int{
		"universe_size":     len(universe),
		"intents_generated": len(intents),
		"orders_planned":    countNotSkipped(orderIntents),
		"orders_skipped":    len(orderIntents) - countNotSkipped(orderIntents),
	}

	return Result{
		Universe:     universe,
		Intents:      intents,
		Allocations:  decisions,
		OrderIntents: orderIntents,
		Gates:        gates,
		Diagnostics:  diag,
	}
}

func dedupeByIdempotencyKey(intents []domain.Intent) []domain.Intent {
	seen := make(map[string]bool, len(intents))
	out := make([]domain.Intent, 0, len(intents))
	for _, i := range intents {
		if seen[i.IdempotencyKey] {
			continue
		}
		seen[i.IdempotencyKey] = true
		out = append(out, i)
	}
	return out
}

func sortIntents(intents []domain.Intent) []domain.Intent {
	out := make([]domain.Intent, len(intents))
	copy(out, intents)
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func less(a, b domain.Intent) bool {
	if a.Symbol != b.Symbol {
		return a.Symbol < b.Symbol
	}
	if a.Side != b.Side {
		return a.Side < b.Side
	}
	return a.IdempotencyKey < b.IdempotencyKey
}

func countNotSkipped(ois []domain.OrderIntent) int {
	n := 0
	for _, oi := range ois {
		if !oi.Skipped {
			n++
		}
	}
	return n
}
