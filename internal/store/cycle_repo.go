package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"market_maker/internal/domain"

	"github.com/shopspring/decimal"
)

// CycleRepo persists the once-per-cycle metrics row and the raw audit
// snapshot used for post-hoc debugging (spec section 4.I).
type CycleRepo struct{ q querier }

func NewCycleRepo(u *UnitOfWork) *CycleRepo { return &CycleRepo{q: u.Q()} }

func (r *CycleRepo) RecordMetrics(ctx context.Context, m domain.CycleMetrics) error {
	fees, err := json.Marshal(m.FeesByCurrency)
	if err != nil {
		return fmt.Errorf("marshal fees_by_currency: %w", err)
	}
	meta, err := json.Marshal(m.Meta)
	if err != nil {
		return fmt.Errorf("marshal cycle meta: %w", err)
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO cycle_metrics
			(cycle_id, ts_start, ts_end, mode, fills_count, orders_submitted, orders_canceled,
			 rejects_count, fills_per_submitted_order, slippage_bps_avg, fees_by_currency, pnl, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.CycleID, m.TsStart.UTC().Format(time.RFC3339Nano), m.TsEnd.UTC().Format(time.RFC3339Nano),
		m.Mode.String(), m.FillsCount, m.OrdersSubmitted, m.OrdersCanceled, m.RejectsCount,
		m.FillsPerSubmittedOrder, m.SlippageBpsAvg, string(fees), m.PnL.String(), string(meta))
	if err != nil {
		return fmt.Errorf("record cycle metrics: %w", err)
	}
	return nil
}

// RecordAudit stores an arbitrary JSON snapshot of a cycle's inputs and
// decisions, keyed by cycle id, for debugging divergence between runs.
func (r *CycleRepo) RecordAudit(ctx context.Context, cycleID string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal cycle audit: %w", err)
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT OR REPLACE INTO cycle_audit (cycle_id, ts, payload) VALUES (?, ?, ?)`,
		cycleID, time.Now().UTC().Format(time.RFC3339Nano), string(data))
	if err != nil {
		return fmt.Errorf("record cycle audit: %w", err)
	}
	return nil
}

// CanonicalCycleRow is one cycle's canonical, replay-comparable
// projection: every field a deterministic planning run reproduces
// identically given the same inputs. cycle_id and the wall-clock
// timestamps are deliberately excluded — this deployment's cycle_id is
// a random UUID and its timestamps are real time.Now() reads, not a
// seeded replay clock, so including them would make every run's
// fingerprint unique by construction rather than by any real
// divergence in behavior.
type CanonicalCycleRow struct {
	Mode                   string            `json:"mode"`
	Reasons                []string          `json:"reasons"`
	FillsCount             int               `json:"fills_count"`
	OrdersSubmitted        int               `json:"orders_submitted"`
	OrdersCanceled         int               `json:"orders_canceled"`
	RejectsCount           int               `json:"rejects_count"`
	FillsPerSubmittedOrder string            `json:"fills_per_submitted_order"`
	SlippageBpsAvg         string            `json:"slippage_bps_avg"`
	FeesByCurrency         map[string]string `json:"fees_by_currency"`
	PnL                    string            `json:"pnl"`
}

// FetchCanonicalCycleRows loads every cycle_metrics row since since,
// joined against its risk_decisions reasons, ordered by insertion
// sequence (sqlite's implicit rowid) rather than ts_start or cycle_id:
// two independent runs over the same replay produce different random
// cycle ids and real wall-clock timestamps, but their Nth recorded
// cycle still lines up row for row.
func (r *CycleRepo) FetchCanonicalCycleRows(ctx context.Context, since time.Time) ([]CanonicalCycleRow, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT m.mode, m.fills_count, m.orders_submitted, m.orders_canceled,
			m.rejects_count, m.fills_per_submitted_order, m.slippage_bps_avg,
			m.fees_by_currency, m.pnl, COALESCE(d.reasons, '[]')
		FROM cycle_metrics m
		LEFT JOIN risk_decisions d ON d.cycle_id = m.cycle_id
		WHERE m.ts_start >= ?
		ORDER BY m.rowid ASC`, since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("fetch canonical cycle rows: %w", err)
	}
	defer rows.Close()

	var out []CanonicalCycleRow
	for rows.Next() {
		var mode, fees, pnl, reasonsJSON string
		var fillsCount, ordersSubmitted, ordersCanceled, rejectsCount int
		var fillsPerOrder, slippageBps float64
		if err := rows.Scan(&mode, &fillsCount, &ordersSubmitted, &ordersCanceled,
			&rejectsCount, &fillsPerOrder, &slippageBps, &fees, &pnl, &reasonsJSON); err != nil {
			return nil, fmt.Errorf("scan canonical cycle row: %w", err)
		}

		var feesMap map[string]decimal.Decimal
		if fees != "" {
			if err := json.Unmarshal([]byte(fees), &feesMap); err != nil {
				return nil, fmt.Errorf("unmarshal fees_by_currency: %w", err)
			}
		}
		feesOut := make(map[string]string, len(feesMap))
		for ccy, amt := range feesMap {
			feesOut[ccy] = amt.StringFixed(2)
		}

		pnlDec := decimal.Zero
		if pnl != "" {
			if pnlDec, err = decimal.NewFromString(pnl); err != nil {
				return nil, fmt.Errorf("parse pnl: %w", err)
			}
		}

		var reasons []string
		if err := json.Unmarshal([]byte(reasonsJSON), &reasons); err != nil {
			return nil, fmt.Errorf("unmarshal reasons: %w", err)
		}
		sort.Strings(reasons)

		out = append(out, CanonicalCycleRow{
			Mode:                   mode,
			Reasons:                reasons,
			FillsCount:             fillsCount,
			OrdersSubmitted:        ordersSubmitted,
			OrdersCanceled:         ordersCanceled,
			RejectsCount:           rejectsCount,
			FillsPerSubmittedOrder: decimal.NewFromFloat(fillsPerOrder).Round(6).String(),
			SlippageBpsAvg:         decimal.NewFromFloat(slippageBps).Round(6).String(),
			FeesByCurrency:         feesOut,
			PnL:                    pnlDec.StringFixed(2),
		})
	}
	return out, rows.Err()
}

// ComputeRunFingerprint hashes the canonical projection of every cycle
// recorded since since: a SHA256 digest of the JSON-marshaled row list,
// mirroring the original's compute_run_fingerprint (which joins the
// equivalent trace/metrics tables and hashes a sorted-keys, separatorless
// JSON document). Two runs that made identical decisions over identical
// inputs produce identical fingerprints regardless of their actual
// cycle ids or wall-clock timestamps.
func (r *CycleRepo) ComputeRunFingerprint(ctx context.Context, since time.Time) (string, error) {
	rows, err := r.FetchCanonicalCycleRows(ctx, since)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("marshal canonical payload: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// IdempotencyRepo reserves idempotency keys before any order is
// submitted, so a crash between reservation and exchange acknowledgement
// can be detected and resolved on restart rather than silently
// resubmitted (spec section 4.H).
type IdempotencyRepo struct{ q querier }

func NewIdempotencyRepo(u *UnitOfWork) *IdempotencyRepo { return &IdempotencyRepo{q: u.Q()} }

type ReservationStatus string

const (
	ReservationInit       ReservationStatus = "INIT"
	ReservationInFlight   ReservationStatus = "IN_FLIGHT"
	ReservationCommitted  ReservationStatus = "COMMITTED"
	ReservationFailed     ReservationStatus = "FAILED"
)

// Reserve inserts a new INIT reservation, failing if the key already
// exists (apperrors.ErrIdempotencyConflict-style condition — callers
// inspect the returned bool rather than an error to distinguish
// "already reserved" from a genuine database fault).
func (r *IdempotencyRepo) Reserve(ctx context.Context, key string) (reserved bool, err error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := r.q.ExecContext(ctx, `
		INSERT OR IGNORE INTO idempotency_reservations (idempotency_key, status, created_at, updated_at)
		VALUES (?, ?, ?, ?)`, key, string(ReservationInit), now, now)
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *IdempotencyRepo) Transition(ctx context.Context, key string, status ReservationStatus, clientOrderID *string) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE idempotency_reservations SET status = ?, client_order_id = COALESCE(?, client_order_id), updated_at = ?
		WHERE idempotency_key = ?`,
		string(status), nullableString(clientOrderID), time.Now().UTC().Format(time.RFC3339Nano), key)
	if err != nil {
		return fmt.Errorf("transition idempotency reservation: %w", err)
	}
	return nil
}

func (r *IdempotencyRepo) Get(ctx context.Context, key string) (status ReservationStatus, clientOrderID string, found bool, err error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT status, COALESCE(client_order_id, '') FROM idempotency_reservations WHERE idempotency_key = ?`, key)
	var s, c string
	if err := row.Scan(&s, &c); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", false, nil
		}
		return "", "", false, fmt.Errorf("get idempotency reservation: %w", err)
	}
	return ReservationStatus(s), c, true, nil
}
