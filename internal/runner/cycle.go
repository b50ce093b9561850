// Package runner drives one full trading cycle end to end: it opens the
// cycle's unit of work, refreshes market and account state, runs the
// reconcile/plan/risk/submit/ledger pipeline, and persists the cycle's
// audit trail before committing. Grounded on the teacher's
// internal/bootstrap/app.go run loop and internal/trading/portfolio
// controller (which drive a similar refresh-evaluate-act loop per
// account), generalized into the single-exchange, single-account cycle
// this bot runs once per tick.
package runner

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"market_maker/internal/alert"
	"market_maker/internal/domain"
	"market_maker/internal/exchange"
	"market_maker/internal/kernel"
	"market_maker/internal/ledger"
	"market_maker/internal/money"
	"market_maker/internal/oms"
	"market_maker/internal/risk"
	"market_maker/internal/rules"
	"market_maker/internal/store"
	apperrors "market_maker/pkg/errors"
	"market_maker/pkg/logging"
	"market_maker/pkg/telemetry"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Config carries the cycle-relevant knobs, already translated from the
// process's validated configuration into the concrete types the
// planning and risk components expect.
type Config struct {
	Role          risk.Role
	AccountKey    string
	Symbols       []string
	QuoteCurrency string

	UniverseCfg         kernel.UniverseConfig
	AllocatorCfg        kernel.AllocatorConfig
	FallbackMinNotional decimal.Decimal
	FeePrecision        int32
	QuotePrecision      int32
	Epsilon             decimal.Decimal

	DryRun         bool
	LiveTradingOn  bool
	LiveTradingAck bool
	KillSwitchCfg  bool

	InitialTradingCapital decimal.Decimal
	InitialTreasury       decimal.Decimal

	KillChainMax          int
	RecoveryLookback      time.Duration
	RiskModeCooldown      time.Duration
	StaleDataSeconds      int
}

// Result is what one cycle produced.
type Result struct {
	CycleID string
	Mode    domain.RiskMode
	Metrics domain.CycleMetrics
}

// Runner composes every planning/risk/execution component into the
// single per-cycle pipeline.
type Runner struct {
	store        *store.Store
	ex           exchange.Exchange
	rulesCache   *rules.Cache
	ledger       *ledger.Ledger
	reconciler   *oms.Reconciler
	submitter    *oms.Submitter
	kernel       *kernel.Kernel
	orderPolicy  *risk.RiskPolicy
	budget       *risk.SelfFinancingPolicy
	actionFilter *risk.RiskPolicyService
	staleness    *risk.StalenessGate
	alerter      *alert.Manager
	cfg          Config
	logger       logging.Logger
	metrics      *telemetry.MetricsHolder
	now          func() time.Time

	lastIntentAt map[string]time.Time
}

// SetAlerter attaches the alert fan-out used for kill-switch engagement and
// AUTH-kind exchange errors (spec section 7: "observe-only + alert"). It is
// optional; a Runner with no alerter attached still runs, it simply has no
// notification side channel.
func (r *Runner) SetAlerter(a *alert.Manager) { r.alerter = a }

// New wires a Runner from its component dependencies. Every dependency is
// constructed and parametrized by the caller (cmd/bot) from validated
// config; the runner itself holds no knowledge of environment variables.
func New(
	st *store.Store,
	ex exchange.Exchange,
	rulesCache *rules.Cache,
	led *ledger.Ledger,
	reconciler *oms.Reconciler,
	submitter *oms.Submitter,
	k *kernel.Kernel,
	orderPolicy *risk.RiskPolicy,
	budget *risk.SelfFinancingPolicy,
	actionFilter *risk.RiskPolicyService,
	cfg Config,
	logger logging.Logger,
) *Runner {
	return &Runner{
		store:        st,
		ex:           ex,
		rulesCache:   rulesCache,
		ledger:       led,
		reconciler:   reconciler,
		submitter:    submitter,
		kernel:       k,
		orderPolicy:  orderPolicy,
		budget:       budget,
		actionFilter: actionFilter,
		staleness:    risk.NewStalenessGate(time.Duration(cfg.StaleDataSeconds) * time.Second),
		cfg:          cfg,
		logger:       logger,
		metrics:      telemetry.GetGlobalMetrics(),
		now:          time.Now,
		lastIntentAt: make(map[string]time.Time),
	}
}

// Run executes one complete cycle: it opens a writable unit of work,
// drives the pipeline, and commits on success. A failed cycle is rolled
// back in full and recorded against the per-role kill-chain counter; the
// process's own acquisition of the exclusive database lock happens once,
// outside the cycle loop, and is not touched here.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	cycleID := uuid.NewString()
	tsStart := r.now().UTC()

	uow, err := r.store.Begin(ctx, true)
	if err != nil {
		return Result{}, fmt.Errorf("open cycle unit of work: %w", err)
	}

	res, runErr := r.runCycle(ctx, uow, cycleID, tsStart)
	if runErr != nil {
		_ = uow.Rollback(ctx)
		r.onCycleFailure(ctx, runErr)
		return Result{}, runErr
	}
	if err := uow.Commit(ctx); err != nil {
		r.onCycleFailure(ctx, err)
		return Result{}, fmt.Errorf("commit cycle: %w", err)
	}
	return res, nil
}

// onCycleFailure increments the per-role kill-chain counter in a fresh
// unit of work (the cycle's own uow has already been rolled back) and
// engages the kill switch once the counter reaches the configured
// threshold.
func (r *Runner) onCycleFailure(ctx context.Context, cause error) {
	r.logger.Error("cycle failed", "error", cause.Error())

	if kind := apperrors.Classify(cause); r.alerter != nil && (kind == apperrors.KindAuth || kind == apperrors.KindFatal) {
		r.alerter.Send(ctx, alert.LevelError, "cycle failed: "+kind.String(),
			fmt.Sprintf("account %s cycle failed with a %s-class error: %s", r.cfg.AccountKey, kind.String(), cause.Error()),
			map[string]string{"role": string(r.cfg.Role)})
	}

	uow, err := r.store.Begin(ctx, true)
	if err != nil {
		r.logger.Error("failed to open kill-chain bookkeeping unit of work", "error", err.Error())
		return
	}
	defer uow.Rollback(ctx)

	n, err := store.NewKillChainRepo(uow).RecordFailure(ctx, string(r.cfg.Role))
	if err != nil {
		r.logger.Error("failed to record kill chain failure", "error", err.Error())
		return
	}
	if n >= r.cfg.KillChainMax {
		if err := store.NewKillSwitchRepo(uow).Engage(ctx, fmt.Sprintf("kill_chain_max_consecutive_errors:%d", n)); err != nil {
			r.logger.Error("failed to engage kill switch after kill chain threshold", "error", err.Error())
			return
		}
		if r.metrics != nil {
			r.metrics.SetKillSwitchOpen(string(r.cfg.Role), true)
		}
		r.logger.Error("kill switch engaged after consecutive cycle failures", "role", r.cfg.Role, "consecutive_failures", n)
		if r.alerter != nil {
			r.alerter.Send(ctx, alert.LevelCritical, "kill switch engaged",
				fmt.Sprintf("account %s tripped the kill switch after %d consecutive cycle failures", r.cfg.AccountKey, n),
				map[string]string{"role": string(r.cfg.Role), "last_error": cause.Error()})
		}
	}
	if err := uow.Commit(ctx); err != nil {
		r.logger.Error("failed to commit kill-chain bookkeeping", "error", err.Error())
	}
}

func (r *Runner) runCycle(ctx context.Context, uow *store.UnitOfWork, cycleID string, tsStart time.Time) (Result, error) {
	killSwitchRepo := store.NewKillSwitchRepo(uow)
	riskRepo := store.NewRiskRepo(uow)
	capitalRepo := store.NewCapitalRepo(uow)
	unknownRepo := store.NewUnknownOrdersRepo(uow)

	engaged, _, err := killSwitchRepo.IsEngaged(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load kill switch state: %w", err)
	}
	persistedMode, cooldownUntil, err := riskRepo.CurrentMode(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load current risk mode: %w", err)
	}

	snapshots, balances, failedSymbols, err := r.refreshSnapshots(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("refresh account snapshot: %w", err)
	}

	stalenessReason := r.staleness.Check(marketDataAge(snapshots, tsStart), failedSymbols == len(r.cfg.Symbols) && len(r.cfg.Symbols) > 0)

	sideEffect := risk.Evaluate(risk.SideEffectInputs{
		KillSwitch:     engaged || r.cfg.KillSwitchCfg,
		DryRun:         r.cfg.DryRun,
		LiveTradingOn:  r.cfg.LiveTradingOn,
		LiveTradingAck: r.cfg.LiveTradingAck,
		Role:           r.cfg.Role,
	})

	reconcileResult, err := r.reconciler.Reconcile(ctx, uow, r.cfg.Symbols)
	if err != nil {
		return Result{}, fmt.Errorf("reconcile orders: %w", err)
	}
	since := tsStart.Add(-r.cfg.RecoveryLookback)
	if err := r.reconciler.ResolveUnknownOrders(ctx, uow, r.cfg.Symbols, since); err != nil {
		return Result{}, fmt.Errorf("resolve unknown orders: %w", err)
	}
	unresolved, err := unknownRepo.ListUnresolved(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list unresolved unknown orders: %w", err)
	}
	if r.metrics != nil {
		r.metrics.SetUnknownOrders(r.cfg.AccountKey, int64(len(unresolved)))
	}

	pairRules := r.loadPairRules(r.cfg.Symbols)
	positions, err := r.positionsBySymbol(ctx, uow, r.cfg.Symbols)
	if err != nil {
		return Result{}, fmt.Errorf("load positions: %w", err)
	}

	planned := r.kernel.Run(kernel.Context{
		CycleID:      cycleID,
		Now:          tsStart,
		Snapshots:    snapshots,
		Positions:    positions,
		PairRules:    pairRules,
		UniverseCfg:  r.cfg.UniverseCfg,
		AllocatorCfg: r.cfg.AllocatorCfg,
		PolicyFor: func(pr domain.PairRules) money.Policy {
			return money.NewPolicy(pr, r.cfg.FeePrecision, r.cfg.QuotePrecision, r.cfg.Epsilon)
		},
	})

	capState, err := capitalRepo.Load(ctx, r.cfg.InitialTradingCapital, r.cfg.InitialTreasury)
	if err != nil {
		return Result{}, fmt.Errorf("load capital state: %w", err)
	}

	marks := marksFromSnapshots(snapshots)
	if err := r.markPositionsToMarket(ctx, uow, marks); err != nil {
		return Result{}, fmt.Errorf("mark positions to market: %w", err)
	}
	currentEquity, err := r.computeEquity(ctx, uow, balances)
	if err != nil {
		return Result{}, fmt.Errorf("compute equity: %w", err)
	}
	if currentEquity.GreaterThan(capState.PeakEquity) {
		capState.PeakEquity = currentEquity
	}

	totalRealizedNow, err := r.totalRealizedPnL(ctx, uow)
	if err != nil {
		return Result{}, fmt.Errorf("sum realized pnl: %w", err)
	}
	realizedDelta := totalRealizedNow.Sub(capState.TotalRealizedPnL)
	switch {
	case realizedDelta.IsNegative():
		capState.ConsecutiveLosses++
	case realizedDelta.IsPositive():
		capState.ConsecutiveLosses = 0
	}

	budgetView := r.budget.Evaluate(risk.PortfolioState{
		TradingCapital:    capState.TradingCapital,
		Treasury:          capState.Treasury,
		PeakEquity:        capState.PeakEquity,
		CurrentEquity:     currentEquity,
		RealizedPnLToday:  realizedDelta,
		ConsecutiveLosses: capState.ConsecutiveLosses,
		Volatility:        classifyVolatility(snapshots, r.cfg.UniverseCfg.MaxSpreadBps),
	})
	capState.TradingCapital = budgetView.TradingCapital
	capState.Treasury = budgetView.Treasury

	finalMode := domain.Max(risk.BaseMode(sideEffect), budgetView.Mode)
	if stalenessReason != "" {
		finalMode = domain.Max(finalMode, domain.ModeObserveOnly)
		budgetView.Reasons = append(budgetView.Reasons, stalenessReason)
	}
	if cooldownUntil != nil && tsStart.Before(*cooldownUntil) {
		finalMode = domain.Max(finalMode, persistedMode)
	}
	if finalMode > domain.ModeNormal {
		t := tsStart.Add(r.cfg.RiskModeCooldown)
		cooldownUntil = &t
	} else {
		cooldownUntil = nil
	}

	verdicts := r.orderPolicy.Evaluate(planned.OrderIntents, risk.OrderPolicyState{
		OpenOrdersBySymbol: countOpenOrders(planned.OrderIntents),
		LastIntentAt:       r.lastIntentAt,
		Now:                tsStart,
	})

	actions := make([]risk.Action, 0, len(verdicts))
	for _, v := range verdicts {
		if v.Reason != "" {
			continue
		}
		actions = append(actions, risk.Action{
			Type:           risk.ActionSubmit,
			Intent:         v.Intent,
			SymbolExposure: symbolExposure(v.Intent.Symbol, positions, snapshots),
		})
	}

	actionVerdicts := r.actionFilter.Filter(actions, risk.CycleRiskOutput{SideEffect: sideEffect, Budget: budgetView},
		func(symbol string) domain.Position { return positions[symbol] })

	var toSubmit []domain.OrderIntent
	rejects := len(planned.OrderIntents) - len(actions)
	for _, av := range actionVerdicts {
		if av.Allowed {
			toSubmit = append(toSubmit, av.Action.Intent)
			r.lastIntentAt[av.Action.Intent.Symbol+"|"+string(av.Action.Intent.Side)] = tsStart
		} else {
			rejects++
		}
	}

	outcomes, err := r.submitter.Submit(ctx, uow, cycleID, toSubmit)
	if err != nil {
		return Result{}, fmt.Errorf("submit accepted intents: %w", err)
	}
	submittedCount, rejectFromSubmit := tallyOutcomes(outcomes)
	rejects += rejectFromSubmit

	fillsCount, feesByCurrency, slippageBpsAvg, err := r.ingestFills(ctx, uow, since, marks)
	if err != nil {
		return Result{}, err
	}

	totalRealizedAfter, err := r.totalRealizedPnL(ctx, uow)
	if err != nil {
		return Result{}, fmt.Errorf("sum realized pnl after fills: %w", err)
	}
	capState.TotalRealizedPnL = totalRealizedAfter

	if err := r.markPositionsToMarket(ctx, uow, marks); err != nil {
		return Result{}, fmt.Errorf("mark positions to market after fills: %w", err)
	}
	currentEquity, err = r.computeEquity(ctx, uow, balances)
	if err != nil {
		return Result{}, fmt.Errorf("compute equity after fills: %w", err)
	}
	if currentEquity.GreaterThan(capState.PeakEquity) {
		capState.PeakEquity = currentEquity
	}

	if err := capitalRepo.Save(ctx, capState); err != nil {
		return Result{}, fmt.Errorf("save capital state: %w", err)
	}

	decidedAt := r.now().UTC()
	decision := domain.RiskDecision{
		Mode:          finalMode,
		Reasons:       append(append([]string{}, reasonStrings(sideEffect.Reasons)...), budgetView.Reasons...),
		Limits:        map[string]string{"max_order_notional": budgetView.MaxOrderNotional.String(), "max_gross_exposure": budgetView.MaxGrossExposure.String()},
		Signals:       map[string]string{"available_risk_capital": budgetView.AvailableRiskCapital.String()},
		CooldownUntil: cooldownUntil,
		DecidedAt:     decidedAt,
		InputsHash:    fmt.Sprintf("%s|%s", finalMode.String(), budgetView.Mode.String()),
	}
	if err := riskRepo.RecordDecision(ctx, cycleID, decision); err != nil {
		return Result{}, fmt.Errorf("record risk decision: %w", err)
	}

	fillsPerOrder := 0.0
	if submittedCount > 0 {
		fillsPerOrder = float64(fillsCount) / float64(submittedCount)
	}

	metrics := domain.CycleMetrics{
		CycleID:                cycleID,
		TsStart:                tsStart,
		TsEnd:                  r.now().UTC(),
		Mode:                   finalMode,
		FillsCount:             fillsCount,
		OrdersSubmitted:        submittedCount,
		OrdersCanceled:         len(reconcileResult.MarkedClosed),
		RejectsCount:           rejects,
		FillsPerSubmittedOrder: fillsPerOrder,
		SlippageBpsAvg:         slippageBpsAvg,
		FeesByCurrency:         feesByCurrency,
		PnL:                    realizedDelta,
	}
	if err := store.NewCycleRepo(uow).RecordMetrics(ctx, metrics); err != nil {
		return Result{}, fmt.Errorf("record cycle metrics: %w", err)
	}
	if err := store.NewCycleRepo(uow).RecordAudit(ctx, cycleID, map[string]interface{}{
		"gates":       planned.Gates,
		"diagnostics": planned.Diagnostics,
		"universe":    planned.Universe,
		"outcomes":    len(outcomes),
	}); err != nil {
		return Result{}, fmt.Errorf("record cycle audit: %w", err)
	}

	if err := store.NewKillChainRepo(uow).Reset(ctx, string(r.cfg.Role)); err != nil {
		return Result{}, fmt.Errorf("reset kill chain counter: %w", err)
	}

	if r.metrics != nil {
		r.metrics.SetEquity(r.cfg.AccountKey, toFloat(currentEquity))
		r.metrics.SetDrawdown(r.cfg.AccountKey, toFloat(ledger.Drawdown(currentEquity, capState.PeakEquity)))
		r.metrics.SetRiskMode(r.cfg.AccountKey, int64(finalMode))
		r.metrics.SetKillSwitchOpen(string(r.cfg.Role), engaged)
		if r.metrics.FillsTotal != nil {
			r.metrics.FillsTotal.Add(ctx, int64(fillsCount))
		}
		if r.metrics.OrdersSubmittedTotal != nil {
			r.metrics.OrdersSubmittedTotal.Add(ctx, int64(submittedCount))
		}
		if r.metrics.OrdersCanceledTotal != nil {
			r.metrics.OrdersCanceledTotal.Add(ctx, int64(metrics.OrdersCanceled))
		}
		if r.metrics.RejectsTotal != nil {
			r.metrics.RejectsTotal.Add(ctx, int64(rejects))
		}
		if r.metrics.CycleDuration != nil {
			r.metrics.CycleDuration.Record(ctx, float64(metrics.TsEnd.Sub(tsStart).Milliseconds()))
		}
	}

	return Result{CycleID: cycleID, Mode: finalMode, Metrics: metrics}, nil
}

// refreshSnapshots fetches every configured symbol's orderbook and the
// account's balances concurrently: a single slow or failing orderbook
// leg only marks that symbol inactive for the cycle, but a failed
// balance fetch aborts the whole cycle since the risk budget cannot be
// evaluated without it.
func (r *Runner) refreshSnapshots(ctx context.Context) ([]kernel.MarketSnapshot, []exchange.Balance, int, error) {
	snapshots := make([]kernel.MarketSnapshot, len(r.cfg.Symbols))
	var balances []exchange.Balance
	var failed int32

	g, gctx := errgroup.WithContext(ctx)
	for i, symbol := range r.cfg.Symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			book, err := r.ex.GetOrderbook(gctx, symbol, 5)
			if err != nil {
				r.logger.Warn("orderbook refresh failed; marking symbol inactive this cycle", "symbol", symbol, "err", err.Error())
				snapshots[i] = kernel.MarketSnapshot{Symbol: symbol, QuoteCurrency: r.cfg.QuoteCurrency}
				atomic.AddInt32(&failed, 1)
				return nil
			}
			bid, hasBid := book.BestBid()
			ask, hasAsk := book.BestAsk()
			snapshots[i] = kernel.MarketSnapshot{
				Symbol:        symbol,
				Active:        hasBid && hasAsk,
				QuoteCurrency: r.cfg.QuoteCurrency,
				BestBid:       bid.Price,
				BestAsk:       ask.Price,
				Ts:            book.Ts,
			}
			return nil
		})
	}
	g.Go(func() error {
		bs, err := r.ex.GetBalances(gctx)
		if err != nil {
			return fmt.Errorf("refresh balances: %w", err)
		}
		balances = bs
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, 0, err
	}
	return snapshots, balances, int(failed), nil
}

func (r *Runner) loadPairRules(symbols []string) map[string]domain.PairRules {
	out := make(map[string]domain.PairRules, len(symbols))
	for _, symbol := range symbols {
		pr, err := r.rulesCache.Get(symbol)
		if err != nil {
			r.logger.Warn("pair rules unavailable; symbol skipped this cycle", "symbol", symbol, "err", err.Error())
			continue
		}
		out[symbol] = pr
	}
	return out
}

// positionsBySymbol bridges the base-asset-keyed positions table into
// the pair-symbol-keyed map the planning kernel and risk filter expect,
// by looking up each configured pair's base asset independently.
func (r *Runner) positionsBySymbol(ctx context.Context, uow *store.UnitOfWork, symbols []string) (map[string]domain.Position, error) {
	repo := store.NewPositionsRepo(uow)
	out := make(map[string]domain.Position, len(symbols))
	for _, symbol := range symbols {
		base, _, err := domain.SplitSymbol(symbol)
		if err != nil {
			return nil, fmt.Errorf("split symbol %s: %w", symbol, err)
		}
		pos, err := repo.Get(ctx, base)
		if err != nil {
			return nil, fmt.Errorf("load position for %s: %w", base, err)
		}
		if pos == nil {
			out[symbol] = domain.Position{Symbol: symbol}
			continue
		}
		p := *pos
		p.Symbol = symbol
		out[symbol] = p
	}
	return out, nil
}

// marksFromSnapshots returns each active symbol's current mid price,
// used both to mark positions to market and to price fills for slippage.
func marksFromSnapshots(snapshots []kernel.MarketSnapshot) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(snapshots))
	for _, s := range snapshots {
		if s.BestBid.IsPositive() && s.BestAsk.IsPositive() {
			out[s.Symbol] = s.BestBid.Add(s.BestAsk).Div(decimal.NewFromInt(2))
		}
	}
	return out
}

// markPositionsToMarket recomputes UnrealizedPnLQuote for every configured
// symbol's position against its current mid price.
func (r *Runner) markPositionsToMarket(ctx context.Context, uow *store.UnitOfWork, marks map[string]decimal.Decimal) error {
	for _, symbol := range r.cfg.Symbols {
		base, _, err := domain.SplitSymbol(symbol)
		if err != nil {
			return fmt.Errorf("split symbol %s: %w", symbol, err)
		}
		mark, hasMark := marks[symbol]
		if _, err := r.ledger.MarkToMarket(ctx, uow, base, mark, hasMark); err != nil {
			return fmt.Errorf("mark %s to market: %w", symbol, err)
		}
	}
	return nil
}

// computeEquity implements the cash_quote + sum(unrealized + realized -
// fees) - funding - slippage formula (spec section 4.D). Positions must
// already be marked to market (markPositionsToMarket) before this is
// called; cash_quote is the account's free+locked holdings of the quote
// currency itself, which the ledger's FIFO accounting never touches
// directly.
func (r *Runner) computeEquity(ctx context.Context, uow *store.UnitOfWork, balances []exchange.Balance) (decimal.Decimal, error) {
	cashQuote := decimal.Zero
	for _, b := range balances {
		if b.Asset == r.cfg.QuoteCurrency {
			cashQuote = cashQuote.Add(b.Free).Add(b.Locked)
		}
	}

	positions, err := store.NewPositionsRepo(uow).ListAll(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list positions for equity: %w", err)
	}

	ledgerRepo := store.NewLedgerRepo(uow)
	funding, err := ledgerRepo.SumFeeByType(ctx, time.Time{}, domain.LedgerFundingCost)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum funding cost: %w", err)
	}
	slippage, err := ledgerRepo.SumFeeByType(ctx, time.Time{}, domain.LedgerSlippage)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum slippage cost: %w", err)
	}

	return ledger.Equity(cashQuote, positions, funding, slippage), nil
}

func (r *Runner) totalRealizedPnL(ctx context.Context, uow *store.UnitOfWork) (decimal.Decimal, error) {
	positions, err := store.NewPositionsRepo(uow).ListAll(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list positions: %w", err)
	}
	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.RealizedPnLQuote)
	}
	return total, nil
}

// ingestFills pulls every symbol's recent fills since since and folds
// them into the ledger, which deduplicates on exchange trade id so a
// fill already applied in a prior cycle is a safe no-op. For every fill
// priced against a known mark, it also records a SLIPPAGE ledger event
// and accumulates the qty-weighted bps-vs-mark figure (mirroring the
// original's compute_execution_quality): a buy that fills above the mark
// or a sell that fills below it reports positive (unfavorable) bps.
func (r *Runner) ingestFills(ctx context.Context, uow *store.UnitOfWork, since time.Time, marks map[string]decimal.Decimal) (int, map[string]decimal.Decimal, float64, error) {
	fillsCount := 0
	feesByCurrency := make(map[string]decimal.Decimal)
	ledgerRepo := store.NewLedgerRepo(uow)
	bpsNumerator, qtyDenominator := 0.0, 0.0

	for _, symbol := range r.cfg.Symbols {
		fills, err := r.ex.GetRecentFills(ctx, symbol, since)
		if err != nil {
			r.logger.Warn("recent fills query failed; symbol skipped this cycle", "symbol", symbol, "err", err.Error())
			continue
		}
		mark, hasMark := marks[symbol]
		for _, f := range fills {
			side := f.Side
			price := f.Price
			tradeID := f.ExchangeTradeID
			clientID := f.ClientOrderID
			fillEvt := domain.LedgerEvent{
				EventID:         uuid.NewString(),
				Ts:              f.Ts,
				Symbol:          f.Symbol,
				Type:            domain.LedgerFill,
				Side:            &side,
				Qty:             f.Qty,
				Price:           &price,
				ExchangeTradeID: &tradeID,
				ClientOrderID:   &clientID,
			}
			var feeEvt *domain.LedgerEvent
			if f.Fee.IsPositive() {
				fee := f.Fee
				feeCcy := f.FeeCurrency
				feeEvt = &domain.LedgerEvent{
					EventID:         uuid.NewString(),
					Ts:              f.Ts,
					Symbol:          f.Symbol,
					Type:            domain.LedgerFee,
					Qty:             decimal.Zero,
					Fee:             &fee,
					FeeCurrency:     &feeCcy,
					ExchangeTradeID: &tradeID,
					ClientOrderID:   &clientID,
				}
				feesByCurrency[f.FeeCurrency] = feesByCurrency[f.FeeCurrency].Add(f.Fee)
			}
			if _, err := r.ledger.ApplyFill(ctx, uow, f.Symbol, fillEvt, feeEvt); err != nil {
				return 0, nil, 0, fmt.Errorf("apply fill %s: %w", f.ExchangeTradeID, err)
			}
			fillsCount++

			if hasMark && mark.IsPositive() {
				var bps, cost decimal.Decimal
				if side == domain.SideBuy {
					bps = price.Sub(mark).Div(mark).Mul(decimal.NewFromInt(10000))
					cost = price.Sub(mark).Mul(f.Qty)
				} else {
					bps = mark.Sub(price).Div(mark).Mul(decimal.NewFromInt(10000))
					cost = mark.Sub(price).Mul(f.Qty)
				}
				qty := toFloat(f.Qty)
				bpsNumerator += toFloat(bps) * qty
				qtyDenominator += qty

				quoteCcy := r.cfg.QuoteCurrency
				slipEvt := domain.LedgerEvent{
					EventID:         uuid.NewString(),
					Ts:              f.Ts,
					Symbol:          f.Symbol,
					Type:            domain.LedgerSlippage,
					Side:            &side,
					Qty:             f.Qty,
					Fee:             &cost,
					FeeCurrency:     &quoteCcy,
					ExchangeTradeID: &tradeID,
					ClientOrderID:   &clientID,
				}
				if _, err := ledgerRepo.Append(ctx, slipEvt); err != nil {
					return 0, nil, 0, fmt.Errorf("append slippage event %s: %w", tradeID, err)
				}
			}
		}
	}

	slippageBpsAvg := 0.0
	if qtyDenominator > 0 {
		slippageBpsAvg = bpsNumerator / qtyDenominator
	}
	return fillsCount, feesByCurrency, slippageBpsAvg, nil
}

// marketDataAge returns the oldest active snapshot's age relative to now,
// the conservative (worst-case) reading the staleness gate evaluates
// against (spec section 4.G). A cycle with no active snapshots reports
// zero age here — the kernel's own market_data_available gate already
// reflects that condition separately.
func marketDataAge(snapshots []kernel.MarketSnapshot, now time.Time) time.Duration {
	var oldest time.Duration
	for _, s := range snapshots {
		if !s.Active || s.Ts.IsZero() {
			continue
		}
		if age := now.Sub(s.Ts); age > oldest {
			oldest = age
		}
	}
	return oldest
}

func classifyVolatility(snapshots []kernel.MarketSnapshot, maxSpreadBps decimal.Decimal) risk.VolatilityRegime {
	if maxSpreadBps.IsZero() {
		return risk.VolatilityNormal
	}
	var sum decimal.Decimal
	n := 0
	for _, s := range snapshots {
		if !s.Active {
			continue
		}
		sum = sum.Add(s.SpreadBps())
		n++
	}
	if n == 0 {
		return risk.VolatilityNormal
	}
	avg := sum.Div(decimal.NewFromInt(int64(n)))
	switch {
	case avg.GreaterThanOrEqual(maxSpreadBps.Mul(decimal.NewFromInt(2))):
		return risk.VolatilityStressed
	case avg.GreaterThanOrEqual(maxSpreadBps):
		return risk.VolatilityHigh
	default:
		return risk.VolatilityNormal
	}
}

func countOpenOrders(orderIntents []domain.OrderIntent) map[string]int {
	// The planning kernel doesn't carry existing open-order counts; this
	// is populated here as a placeholder that a caller wiring a live open-
	// orders query into the runner can replace. An empty map means the
	// per-symbol open-orders gate never blocks, matching the conservative
	// "don't invent state we don't have yet" default.
	_ = orderIntents
	return map[string]int{}
}

func symbolExposure(symbol string, positions map[string]domain.Position, snapshots []kernel.MarketSnapshot) decimal.Decimal {
	pos, ok := positions[symbol]
	if !ok || pos.Qty.IsZero() {
		return decimal.Zero
	}
	for _, s := range snapshots {
		if s.Symbol != symbol || !s.BestBid.IsPositive() || !s.BestAsk.IsPositive() {
			continue
		}
		mid := s.BestBid.Add(s.BestAsk).Div(decimal.NewFromInt(2))
		return pos.Qty.Abs().Mul(mid)
	}
	return decimal.Zero
}

func tallyOutcomes(outcomes []oms.Outcome) (submitted, rejected int) {
	for _, o := range outcomes {
		switch o.EventType {
		case oms.EventAck:
			submitted++
		case oms.EventDuplicateIgnored, oms.EventThrottled:
			// neither a new submission nor a reject; retried next cycle.
		default:
			rejected++
		}
	}
	return submitted, rejected
}

func reasonStrings(reasons []risk.ReasonCode) []string {
	out := make([]string, len(reasons))
	for i, r := range reasons {
		out[i] = string(r)
	}
	return out
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
