package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"market_maker/internal/domain"

	"github.com/shopspring/decimal"
)

// RiskRepo persists the per-cycle risk decision and the single
// latest-known risk posture row used to enforce monotonic risk-mode
// escalation across restarts (spec section 4.G, 8 property 5).
type RiskRepo struct{ q querier }

func NewRiskRepo(u *UnitOfWork) *RiskRepo { return &RiskRepo{q: u.Q()} }

func (r *RiskRepo) RecordDecision(ctx context.Context, cycleID string, d domain.RiskDecision) error {
	reasons, err := json.Marshal(d.Reasons)
	if err != nil {
		return fmt.Errorf("marshal reasons: %w", err)
	}
	limits, err := json.Marshal(d.Limits)
	if err != nil {
		return fmt.Errorf("marshal limits: %w", err)
	}
	signals, err := json.Marshal(d.Signals)
	if err != nil {
		return fmt.Errorf("marshal signals: %w", err)
	}

	var cooldownVal interface{}
	if d.CooldownUntil != nil {
		cooldownVal = d.CooldownUntil.UTC().Format(time.RFC3339Nano)
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO risk_decisions (cycle_id, mode, reasons, limits, signals, cooldown_until, decided_at, inputs_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cycleID, d.Mode.String(), string(reasons), string(limits), string(signals), cooldownVal,
		d.DecidedAt.UTC().Format(time.RFC3339Nano), d.InputsHash)
	if err != nil {
		return fmt.Errorf("record risk decision: %w", err)
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO risk_state_current (id, mode, cooldown_until, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET mode=excluded.mode, cooldown_until=excluded.cooldown_until, updated_at=excluded.updated_at`,
		d.Mode.String(), cooldownVal, d.DecidedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record current risk state: %w", err)
	}
	return nil
}

// CurrentMode returns the most recently persisted risk mode, or
// domain.ModeNormal if no decision has ever been recorded. Callers use
// this to enforce that risk mode never relaxes within a cooldown window
// across a process restart.
func (r *RiskRepo) CurrentMode(ctx context.Context) (domain.RiskMode, *time.Time, error) {
	row := r.q.QueryRowContext(ctx, `SELECT mode, cooldown_until FROM risk_state_current WHERE id = 1`)

	var mode string
	var cooldown sql.NullString
	err := row.Scan(&mode, &cooldown)
	if err == sql.ErrNoRows {
		return domain.ModeNormal, nil, nil
	}
	if err != nil {
		return domain.ModeNormal, nil, fmt.Errorf("scan current risk state: %w", err)
	}

	m, err := parseRiskMode(mode)
	if err != nil {
		return domain.ModeNormal, nil, err
	}
	if !cooldown.Valid {
		return m, nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, cooldown.String)
	if err != nil {
		return domain.ModeNormal, nil, fmt.Errorf("parse cooldown_until: %w", err)
	}
	return m, &t, nil
}

func parseRiskMode(s string) (domain.RiskMode, error) {
	switch s {
	case "NORMAL":
		return domain.ModeNormal, nil
	case "REDUCE_RISK_ONLY":
		return domain.ModeReduceRiskOnly, nil
	case "OBSERVE_ONLY":
		return domain.ModeObserveOnly, nil
	default:
		return domain.ModeNormal, fmt.Errorf("unknown risk mode %q", s)
	}
}

// KillSwitchRepo tracks the single persisted kill-switch row, which must
// survive process restarts (spec section 7).
type KillSwitchRepo struct{ q querier }

func NewKillSwitchRepo(u *UnitOfWork) *KillSwitchRepo { return &KillSwitchRepo{q: u.Q()} }

func (r *KillSwitchRepo) Engage(ctx context.Context, reason string) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO kill_switch (id, engaged, reason, updated_at) VALUES (1, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET engaged=1, reason=excluded.reason, updated_at=excluded.updated_at`,
		reason, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("engage kill switch: %w", err)
	}
	return nil
}

func (r *KillSwitchRepo) IsEngaged(ctx context.Context) (bool, string, error) {
	row := r.q.QueryRowContext(ctx, `SELECT engaged, reason FROM kill_switch WHERE id = 1`)
	var engaged int
	var reason sql.NullString
	err := row.Scan(&engaged, &reason)
	if err == sql.ErrNoRows {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("scan kill switch: %w", err)
	}
	return engaged != 0, reason.String, nil
}

// KillChainRepo tracks the consecutive-cycle-failure counter the runner
// uses to trip the kill switch after KILL_CHAIN_MAX_CONSECUTIVE_ERRORS
// uncaught exceptions in a row (spec section 4.I, step 11). Keyed by
// role so LIVE and MONITOR failures never share a counter.
type KillChainRepo struct{ q querier }

func NewKillChainRepo(u *UnitOfWork) *KillChainRepo { return &KillChainRepo{q: u.Q()} }

// RecordFailure increments the role's consecutive-failure counter and
// returns the new count.
func (r *KillChainRepo) RecordFailure(ctx context.Context, role string) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO kill_chain (role, consecutive_fails, updated_at) VALUES (?, 1, ?)
		ON CONFLICT(role) DO UPDATE SET consecutive_fails = kill_chain.consecutive_fails + 1, updated_at = excluded.updated_at`,
		role, now)
	if err != nil {
		return 0, fmt.Errorf("record kill chain failure: %w", err)
	}
	return r.count(ctx, role)
}

// Reset clears the role's consecutive-failure counter after a
// successful cycle.
func (r *KillChainRepo) Reset(ctx context.Context, role string) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO kill_chain (role, consecutive_fails, updated_at) VALUES (?, 0, ?)
		ON CONFLICT(role) DO UPDATE SET consecutive_fails = 0, updated_at = excluded.updated_at`,
		role, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("reset kill chain: %w", err)
	}
	return nil
}

func (r *KillChainRepo) count(ctx context.Context, role string) (int, error) {
	row := r.q.QueryRowContext(ctx, `SELECT consecutive_fails FROM kill_chain WHERE role = ?`, role)
	var n int
	if err := row.Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("scan kill chain count: %w", err)
	}
	return n, nil
}

// CapitalState is the persisted self-financing bookkeeping the budget
// engine folds realized PnL into, carried across restarts so the
// trading-capital/treasury split and the loss-streak counter survive a
// process bounce.
type CapitalState struct {
	TradingCapital     decimal.Decimal
	Treasury           decimal.Decimal
	PeakEquity         decimal.Decimal
	ConsecutiveLosses  int
	TotalRealizedPnL   decimal.Decimal
}

// CapitalRepo persists the single-row capital_state (spec section 4.G
// self-financing policy inputs).
type CapitalRepo struct{ q querier }

func NewCapitalRepo(u *UnitOfWork) *CapitalRepo { return &CapitalRepo{q: u.Q()} }

// Load returns the persisted capital state, or (seedCapital, seedTreasury,
// peak=seedCapital+seedTreasury, 0 losses) the first time it is called
// against a fresh database.
func (r *CapitalRepo) Load(ctx context.Context, seedCapital, seedTreasury decimal.Decimal) (CapitalState, error) {
	row := r.q.QueryRowContext(ctx, `SELECT trading_capital, treasury, peak_equity, consecutive_losses, total_realized_pnl FROM capital_state WHERE id = 1`)
	var tc, tr, pe, trp string
	var losses int
	err := row.Scan(&tc, &tr, &pe, &losses, &trp)
	if errors.Is(err, sql.ErrNoRows) {
		return CapitalState{
			TradingCapital: seedCapital,
			Treasury:       seedTreasury,
			PeakEquity:     seedCapital.Add(seedTreasury),
		}, nil
	}
	if err != nil {
		return CapitalState{}, fmt.Errorf("scan capital state: %w", err)
	}
	return CapitalState{
		TradingCapital:    decimal.RequireFromString(tc),
		Treasury:          decimal.RequireFromString(tr),
		PeakEquity:        decimal.RequireFromString(pe),
		ConsecutiveLosses: losses,
		TotalRealizedPnL:  decimal.RequireFromString(trp),
	}, nil
}

// Save persists the updated capital state at the end of a cycle.
func (r *CapitalRepo) Save(ctx context.Context, s CapitalState) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO capital_state (id, trading_capital, treasury, peak_equity, consecutive_losses, total_realized_pnl, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			trading_capital=excluded.trading_capital, treasury=excluded.treasury,
			peak_equity=excluded.peak_equity, consecutive_losses=excluded.consecutive_losses,
			total_realized_pnl=excluded.total_realized_pnl, updated_at=excluded.updated_at`,
		s.TradingCapital.String(), s.Treasury.String(), s.PeakEquity.String(), s.ConsecutiveLosses,
		s.TotalRealizedPnL.String(), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save capital state: %w", err)
	}
	return nil
}
