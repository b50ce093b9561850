// Command bot is the unattended cycle runner's process entrypoint: it
// loads and validates configuration, wires every component the cycle
// runner depends on, runs the startup recovery pass, then drives the
// cycle loop until an interrupt signal asks it to stop. Grounded on the
// teacher's cmd/live_server/main.go (flag parsing, logger/telemetry
// bring-up, signal-driven graceful shutdown), generalized from a
// streaming HTTP/WebSocket server's startup sequence into a discrete,
// ticked trading loop (spec section 5).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"market_maker/internal/alert"
	"market_maker/internal/config"
	"market_maker/internal/exchange"
	"market_maker/internal/kernel"
	"market_maker/internal/ledger"
	"market_maker/internal/oms"
	"market_maker/internal/risk"
	"market_maker/internal/rules"
	"market_maker/internal/runner"
	"market_maker/internal/startup"
	"market_maker/internal/store"
	"market_maker/pkg/logging"
	"market_maker/pkg/retry"
	"market_maker/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// Exit codes (spec section 6: "exit code 0 = success; non-zero codes
// distinguish LOCKED, PREFLIGHT_FAIL, INVARIANT_VIOLATION, CONFIG_ERROR").
const (
	exitOK                 = 0
	exitConfigError        = 2
	exitLocked             = 3
	exitPreflightFail      = 4
	exitInvariantViolation = 5
)

var (
	version = "dev"
)

func main() {
	debug := flag.Bool("debug", false, "include stack traces in fatal error output")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "CONFIG_ERROR: %v\n", err)
		os.Exit(exitConfigError)
	}

	logger, err := logging.NewZapLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "CONFIG_ERROR: failed to init logger: %v\n", err)
		os.Exit(exitConfigError)
	}
	logging.SetGlobalLogger(logger)

	logger.Info("starting bot", "version", version, "role", cfg.Role, "account", cfg.AccountKey, "symbols", cfg.Symbols)

	tel, err := telemetry.Setup(cfg.OTELServiceName)
	if err != nil {
		logger.Warn("telemetry setup failed, continuing without it", "error", err.Error())
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tel.Shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown failed", "error", err.Error())
			}
		}()
	}

	lock, locked, err := store.AcquireProcessLock(cfg.StateDBPath, cfg.AccountKey)
	if err != nil {
		fatal(logger, *debug, "failed to attempt process lock acquisition", err, exitPreflightFail)
	}
	if !locked {
		fmt.Fprintf(os.Stderr, "LOCKED: another process already holds the lock for db=%s account=%s\n", cfg.StateDBPath, cfg.AccountKey)
		os.Exit(exitLocked)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("failed to release process lock", "error", err.Error())
		}
	}()

	st, err := store.Open(cfg.StateDBPath)
	if err != nil {
		fatal(logger, *debug, "failed to open state database", err, exitPreflightFail)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("failed to close state database", "error", err.Error())
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := st.Ping(ctx); err != nil {
		fatal(logger, *debug, "state database preflight ping failed", err, exitPreflightFail)
	}

	ex := buildExchange(cfg)
	defer func() {
		if err := ex.Close(); err != nil {
			logger.Warn("failed to close exchange adapter", "error", err.Error())
		}
	}()

	if cfg.Role == config.RoleLive && !cfg.DryRun {
		if _, err := ex.GetBalances(ctx); err != nil {
			fatal(logger, *debug, "exchange preflight balance check failed", err, exitPreflightFail)
		}
	}

	rulesSource := rules.NewExchangeSource(ex)
	rulesCache := rules.New(rulesSource, time.Duration(cfg.ExchangeRulesTTLSeconds)*time.Second, cfg.Role == config.RoleLive, logger)
	if err := rulesCache.Refresh(ctx); err != nil {
		logger.Warn("initial exchange rules refresh failed, cache will serve fail-open/fail-closed per role", "error", err.Error())
	}

	led := ledger.New(ledger.NewExchangeMidPriceConverter(ex), cfg.QuoteCurrency)

	alerter := buildAlerter(cfg, logger)

	uow, err := st.Begin(ctx, true)
	if err != nil {
		fatal(logger, *debug, "failed to open startup recovery unit of work", err, exitPreflightFail)
	}
	recoveryRes, err := startup.Run(ctx, uow, ex, led, logger, time.Duration(cfg.RecoveryLookbackHours)*time.Hour)
	if err != nil {
		_ = uow.Rollback(ctx)
		fatal(logger, *debug, "startup recovery failed", err, exitPreflightFail)
	}
	if err := uow.Commit(ctx); err != nil {
		fatal(logger, *debug, "failed to commit startup recovery", err, exitPreflightFail)
	}

	forcedObserveOnly := recoveryRes.ForceObserveOnly
	if forcedObserveOnly && alerter != nil {
		alerter.Send(ctx, alert.LevelCritical, "startup invariant violation",
			fmt.Sprintf("account %s forced into observe-only at startup: %v", cfg.AccountKey, recoveryRes.InvariantFailures),
			map[string]string{"role": string(cfg.Role)})
	}

	k := kernel.New(
		kernel.NewDefaultUniverseSelector(),
		kernel.NewStrategyEngine(kernel.NewMeanReversionStrategy(kernel.MeanReversionConfig{
			Anchor:            cfg.TargetTRY,
			ThresholdBps:      cfg.OffsetBps,
			MaxNotional:       cfg.MaxNotionalPerOrderTRY,
			BootstrapNotional: cfg.MinOrderNotionalTRY,
			WeightValue:       100,
			EnabledFlag:       cfg.TargetTRY.IsPositive(),
		})),
		kernel.NewAllocator(),
		kernel.NewOrderIntentBuilder(cfg.MinOrderNotionalTRY),
	)

	orderPolicy := risk.NewRiskPolicy(risk.OrderPolicyLimits{
		MaxOpenOrdersPerSymbol: cfg.MaxOpenOrdersPerSymbol,
		CooldownSeconds:        cfg.CooldownSeconds,
		NotionalCapPerCycle:    cfg.NotionalCapTRYPerCycle,
		MaxOrdersPerCycle:      cfg.MaxOrdersPerCycle,
	})
	budget := risk.NewSelfFinancingPolicy(risk.BudgetLimits{
		DailyLossLimit:       cfg.DailyLossLimitTRY,
		DrawdownHaltLimit:    cfg.DrawdownHaltRatio,
		MaxGrossExposure:     cfg.MaxGrossExposureTRY,
		MaxOrderNotionalBase: cfg.MaxOrderNotionalBaseTRY,
		ProfitCompoundRatio:  decimal.NewFromFloat(0.60),
		ProfitTreasuryRatio:  decimal.NewFromFloat(0.40),
	})
	actionFilter := risk.NewRiskPolicyService(cfg.MaxOrdersPerCycle, cfg.MaxNotionalPerOrderTRY, cfg.MaxSymbolExposureTRY)

	limiter := oms.NewLimiter(nil)
	submitter := oms.NewSubmitter(ex, limiter, retry.DefaultPolicy, logger)
	reconciler := oms.NewReconciler(ex, logger)

	runnerCfg := runner.Config{
		Role:          risk.Role(cfg.Role),
		AccountKey:    cfg.AccountKey,
		Symbols:       cfg.Symbols,
		QuoteCurrency: cfg.QuoteCurrency,

		UniverseCfg: kernel.UniverseConfig{
			QuoteCurrency:   cfg.QuoteCurrency,
			AllowList:       toSet(cfg.UniverseAllowList),
			DenyList:        toSet(cfg.UniverseDenyList),
			MaxSpreadBps:    cfg.UniverseMaxSpreadBps,
			MinNotional:     cfg.MinOrderNotionalTRY,
			MaxUniverseSize: cfg.UniverseMaxSize,
		},
		AllocatorCfg: kernel.AllocatorConfig{
			MaxTotalNotionalPerCycle: cfg.NotionalCapTRYPerCycle,
			BudgetMultiplier:         decimal.NewFromInt(1),
			MaxPerOrder:              cfg.MaxNotionalPerOrderTRY,
		},
		FallbackMinNotional: cfg.MinOrderNotionalTRY,
		FeePrecision:        8,
		QuotePrecision:      2,
		Epsilon:             decimal.NewFromFloat(0.00000001),

		DryRun:         cfg.DryRun,
		LiveTradingOn:  cfg.LiveTrading && !forcedObserveOnly,
		LiveTradingAck: cfg.LiveTradingAck,
		KillSwitchCfg:  cfg.KillSwitch,

		InitialTradingCapital: cfg.InitialTradingCapitalTRY,
		InitialTreasury:       cfg.InitialTreasuryTRY,

		KillChainMax:     cfg.KillChainMaxConsecutiveErrors,
		RecoveryLookback: time.Duration(cfg.RecoveryLookbackHours) * time.Hour,
		RiskModeCooldown: time.Duration(cfg.RiskModeCooldownSeconds) * time.Second,
		StaleDataSeconds: cfg.StaleDataSeconds,
	}

	r := runner.New(st, ex, rulesCache, led, reconciler, submitter, k, orderPolicy, budget, actionFilter, runnerCfg, logger)
	if alerter != nil {
		r.SetAlerter(alerter)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal, finishing current cycle and stopping")
		cancel()
	}()

	runLoop(ctx, r, rulesCache, logger, time.Duration(cfg.CycleIntervalSeconds)*time.Second)

	logger.Info("bot stopped")
	os.Exit(exitOK)
}

// runLoop drives one cycle per tick until ctx is canceled. A cycle's own
// errors never stop the loop — the runner's kill-chain bookkeeping and
// risk mode escalation are the designed response to repeated failures,
// not process exit (spec section 7).
func runLoop(ctx context.Context, r *runner.Runner, rulesCache *rules.Cache, logger logging.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rulesCache.Refresh(ctx); err != nil {
				logger.Warn("exchange rules refresh failed this tick", "error", err.Error())
			}
			res, err := r.Run(ctx)
			if err != nil {
				logger.Error("cycle run failed", "error", err.Error())
				continue
			}
			logger.Info("cycle complete", "cycle_id", res.CycleID, "mode", res.Mode.String(),
				"orders_submitted", res.Metrics.OrdersSubmitted, "fills", res.Metrics.FillsCount)
		}
	}
}

func buildExchange(cfg *config.Config) exchange.Exchange {
	if cfg.UseMockExchange || (cfg.DryRun && cfg.ExchangeBaseURL == "") {
		return exchange.NewMock()
	}
	return exchange.NewHTTPAdapter(cfg.ExchangeBaseURL, time.Duration(cfg.ExchangeHTTPTimeoutMs)*time.Millisecond, string(cfg.APIKey), string(cfg.APISecret))
}

func buildAlerter(cfg *config.Config, logger logging.Logger) *alert.Manager {
	if cfg.TelegramBotToken == "" || cfg.TelegramChatID == "" {
		return nil
	}
	channel, err := alert.NewTelegramChannel(string(cfg.TelegramBotToken), cfg.TelegramChatID)
	if err != nil {
		logger.Warn("failed to init telegram alert channel, continuing without alerting", "error", err.Error())
		return nil
	}
	mgr := alert.NewManager(logger)
	mgr.AddChannel(channel)
	return mgr
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}

func fatal(logger logging.Logger, debug bool, msg string, err error, code int) {
	if debug {
		logger.Error(msg, "error", fmt.Sprintf("%+v", err))
	} else {
		logger.Error(msg, "error", err.Error())
	}
	os.Exit(code)
}
