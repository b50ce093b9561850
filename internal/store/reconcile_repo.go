package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UnknownOrdersRepo tracks exchange orders observed on the account that
// do not correspond to any locally known client_order_id — orders placed
// out of band, or orders whose local row was lost (spec section 4.H
// reconcile: mark_unknown_closed / import_external / external_missing_client_id).
type UnknownOrdersRepo struct{ q querier }

func NewUnknownOrdersRepo(u *UnitOfWork) *UnknownOrdersRepo { return &UnknownOrdersRepo{q: u.Q()} }

func (r *UnknownOrdersRepo) Record(ctx context.Context, exchangeOrderID, symbol, rawPayload string) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT OR IGNORE INTO unknown_orders (exchange_order_id, symbol, raw_payload, first_seen_at, resolution)
		VALUES (?, ?, ?, ?, '')`,
		exchangeOrderID, symbol, rawPayload, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record unknown order: %w", err)
	}
	return nil
}

func (r *UnknownOrdersRepo) Resolve(ctx context.Context, exchangeOrderID, resolution string) error {
	_, err := r.q.ExecContext(ctx, `UPDATE unknown_orders SET resolution = ? WHERE exchange_order_id = ?`,
		resolution, exchangeOrderID)
	if err != nil {
		return fmt.Errorf("resolve unknown order: %w", err)
	}
	return nil
}

func (r *UnknownOrdersRepo) ListUnresolved(ctx context.Context) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT exchange_order_id FROM unknown_orders WHERE resolution = ''`)
	if err != nil {
		return nil, fmt.Errorf("list unresolved unknown orders: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan unknown order: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ReplaceTxState is the cancel-then-place state machine used when an
// order's price or quantity must change (spec section 4.H).
type ReplaceTxState string

const (
	ReplaceInit            ReplaceTxState = "INIT"
	ReplaceCancelSent      ReplaceTxState = "CANCEL_SENT"
	ReplaceCancelConfirmed ReplaceTxState = "CANCEL_CONFIRMED"
	ReplaceNewSent         ReplaceTxState = "NEW_SENT"
	ReplaceNewConfirmed    ReplaceTxState = "NEW_CONFIRMED"
	ReplaceDone            ReplaceTxState = "DONE"
	ReplaceRollingBack     ReplaceTxState = "ROLLING_BACK"
)

// ReplaceTxRepo persists replace-order transactions so a crash between the
// cancel and the new submission can be resumed deterministically on
// startup recovery instead of leaving the symbol in an ambiguous state.
type ReplaceTxRepo struct{ q querier }

func NewReplaceTxRepo(u *UnitOfWork) *ReplaceTxRepo { return &ReplaceTxRepo{q: u.Q()} }

func (r *ReplaceTxRepo) Create(ctx context.Context, txID, symbol, side, oldClientOrderID, newClientOrderID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO replace_tx (tx_id, old_client_order_id, new_client_order_id, symbol, side, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		txID, oldClientOrderID, newClientOrderID, symbol, side, string(ReplaceInit), now, now)
	if err != nil {
		return fmt.Errorf("create replace tx: %w", err)
	}
	return nil
}

// SetLastError records a non-destructive rejection reason (e.g. a
// metadata-mismatched transition attempt) without touching state, so the
// original row is preserved verbatim (spec section 4.H "Replace transaction").
func (r *ReplaceTxRepo) SetLastError(ctx context.Context, txID, lastError string) error {
	_, err := r.q.ExecContext(ctx, `UPDATE replace_tx SET last_error = ?, updated_at = ? WHERE tx_id = ?`,
		lastError, time.Now().UTC().Format(time.RFC3339Nano), txID)
	if err != nil {
		return fmt.Errorf("set replace tx last_error: %w", err)
	}
	return nil
}

func (r *ReplaceTxRepo) Transition(ctx context.Context, txID string, state ReplaceTxState) error {
	_, err := r.q.ExecContext(ctx, `UPDATE replace_tx SET state = ?, updated_at = ? WHERE tx_id = ?`,
		string(state), time.Now().UTC().Format(time.RFC3339Nano), txID)
	if err != nil {
		return fmt.Errorf("transition replace tx: %w", err)
	}
	return nil
}

func (r *ReplaceTxRepo) ListIncomplete(ctx context.Context) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT tx_id FROM replace_tx WHERE state NOT IN (?, ?)`,
		string(ReplaceDone), string(ReplaceRollingBack))
	if err != nil {
		return nil, fmt.Errorf("list incomplete replace tx: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan replace tx: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ReplaceTxRow is the full persisted state of one replace transaction.
type ReplaceTxRow struct {
	State            ReplaceTxState
	Symbol           string
	Side             string
	OldClientOrderID string
	NewClientOrderID string
	LastError        string
}

func (r *ReplaceTxRepo) Get(ctx context.Context, txID string) (state ReplaceTxState, oldClientOrderID, newClientOrderID string, found bool, err error) {
	row := r.q.QueryRowContext(ctx, `SELECT state, old_client_order_id, new_client_order_id FROM replace_tx WHERE tx_id = ?`, txID)
	var s string
	if err := row.Scan(&s, &oldClientOrderID, &newClientOrderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", "", false, nil
		}
		return "", "", "", false, fmt.Errorf("get replace tx: %w", err)
	}
	return ReplaceTxState(s), oldClientOrderID, newClientOrderID, true, nil
}

// GetRow returns the full row, used by the replace coordinator to
// validate a transition's metadata before applying it.
func (r *ReplaceTxRepo) GetRow(ctx context.Context, txID string) (ReplaceTxRow, bool, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT state, symbol, side, old_client_order_id, new_client_order_id, COALESCE(last_error, '')
		FROM replace_tx WHERE tx_id = ?`, txID)
	var out ReplaceTxRow
	var s string
	if err := row.Scan(&s, &out.Symbol, &out.Side, &out.OldClientOrderID, &out.NewClientOrderID, &out.LastError); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ReplaceTxRow{}, false, nil
		}
		return ReplaceTxRow{}, false, fmt.Errorf("get replace tx row: %w", err)
	}
	out.State = ReplaceTxState(s)
	return out, true, nil
}
