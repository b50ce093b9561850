package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"market_maker/internal/domain"

	"github.com/shopspring/decimal"
)

// LedgerRepo is the append-only accounting fact table. Writes are
// idempotent on UniqueKey so replaying the same exchange trade twice
// (e.g. after a crash-recovery reconcile) never double-counts PnL.
type LedgerRepo struct{ q querier }

func NewLedgerRepo(u *UnitOfWork) *LedgerRepo { return &LedgerRepo{q: u.Q()} }

// Append inserts e if its UniqueKey has not been recorded yet, returning
// (inserted=true) on first write and (inserted=false) on a duplicate.
func (r *LedgerRepo) Append(ctx context.Context, e domain.LedgerEvent) (inserted bool, err error) {
	meta, err := json.Marshal(e.Meta)
	if err != nil {
		return false, fmt.Errorf("marshal ledger meta: %w", err)
	}

	var sideVal, priceVal, feeVal, feeCcyVal, tradeIDVal, clientIDVal interface{}
	if e.Side != nil {
		sideVal = string(*e.Side)
	}
	if e.Price != nil {
		priceVal = e.Price.String()
	}
	if e.Fee != nil {
		feeVal = e.Fee.String()
	}
	if e.FeeCurrency != nil {
		feeCcyVal = *e.FeeCurrency
	}
	if e.ExchangeTradeID != nil {
		tradeIDVal = *e.ExchangeTradeID
	}
	if e.ClientOrderID != nil {
		clientIDVal = *e.ClientOrderID
	}

	res, err := r.q.ExecContext(ctx, `
		INSERT OR IGNORE INTO ledger_events
			(event_id, unique_key, ts, symbol, type, side, qty, price, fee, fee_currency,
			 exchange_trade_id, client_order_id, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EventID, e.UniqueKey(), e.Ts.UTC().Format(time.RFC3339Nano), e.Symbol, string(e.Type),
		sideVal, e.Qty.String(), priceVal, feeVal, feeCcyVal, tradeIDVal, clientIDVal, string(meta))
	if err != nil {
		return false, fmt.Errorf("append ledger event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ListSince returns all ledger events with ts >= since, ordered for
// deterministic FIFO replay.
func (r *LedgerRepo) ListSince(ctx context.Context, since time.Time) ([]domain.LedgerEvent, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT event_id, ts, symbol, type, side, qty, price, fee, fee_currency,
			exchange_trade_id, client_order_id, meta
		FROM ledger_events WHERE ts >= ? ORDER BY ts ASC, event_id ASC`,
		since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("list ledger events: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerEvent
	for rows.Next() {
		e, err := scanLedgerEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanLedgerEvent(rows *sql.Rows) (*domain.LedgerEvent, error) {
	var e domain.LedgerEvent
	var ts, typ, qty string
	var side, price, fee, feeCcy, tradeID, clientID, meta sql.NullString
	if err := rows.Scan(&e.EventID, &ts, &e.Symbol, &typ, &side, &qty, &price, &fee, &feeCcy,
		&tradeID, &clientID, &meta); err != nil {
		return nil, fmt.Errorf("scan ledger event: %w", err)
	}

	var err error
	if e.Ts, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return nil, fmt.Errorf("parse ts: %w", err)
	}
	e.Type = domain.LedgerEventType(typ)
	if e.Qty, err = decimal.NewFromString(qty); err != nil {
		return nil, fmt.Errorf("parse qty: %w", err)
	}
	if side.Valid {
		s := domain.Side(side.String)
		e.Side = &s
	}
	if price.Valid {
		d, err := decimal.NewFromString(price.String)
		if err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		e.Price = &d
	}
	if fee.Valid {
		d, err := decimal.NewFromString(fee.String)
		if err != nil {
			return nil, fmt.Errorf("parse fee: %w", err)
		}
		e.Fee = &d
	}
	if feeCcy.Valid {
		v := feeCcy.String
		e.FeeCurrency = &v
	}
	if tradeID.Valid {
		v := tradeID.String
		e.ExchangeTradeID = &v
	}
	if clientID.Valid {
		v := clientID.String
		e.ClientOrderID = &v
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &e.Meta); err != nil {
			return nil, fmt.Errorf("unmarshal meta: %w", err)
		}
	}
	return &e, nil
}

// SumFeeByType totals the fee column across every ledger_events row of
// the given type since since. FUNDING_COST and SLIPPAGE rows both carry
// their quote-currency amount in the fee column (the same slot FEE rows
// use), so this one query serves both of the equity formula's funding
// and slippage terms. The sum is accumulated in Go with decimal
// arithmetic rather than SQL SUM to avoid floating-point drift.
func (r *LedgerRepo) SumFeeByType(ctx context.Context, since time.Time, t domain.LedgerEventType) (decimal.Decimal, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT fee FROM ledger_events WHERE type = ? AND ts >= ? AND fee IS NOT NULL`,
		string(t), since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum ledger fee by type %s: %w", t, err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var fee string
		if err := rows.Scan(&fee); err != nil {
			return decimal.Zero, fmt.Errorf("scan fee: %w", err)
		}
		d, err := decimal.NewFromString(fee)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse fee: %w", err)
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

// PositionsRepo holds the derived per-symbol spot holdings.
type PositionsRepo struct{ q querier }

func NewPositionsRepo(u *UnitOfWork) *PositionsRepo { return &PositionsRepo{q: u.Q()} }

func (r *PositionsRepo) Upsert(ctx context.Context, p domain.Position) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO positions (symbol, qty, avg_cost_quote, realized_pnl_quote, unrealized_pnl_quote, fees_paid_quote, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			qty=excluded.qty, avg_cost_quote=excluded.avg_cost_quote,
			realized_pnl_quote=excluded.realized_pnl_quote,
			unrealized_pnl_quote=excluded.unrealized_pnl_quote,
			fees_paid_quote=excluded.fees_paid_quote,
			updated_at=excluded.updated_at`,
		p.Symbol, p.Qty.String(), p.AvgCostQuote.String(), p.RealizedPnLQuote.String(),
		p.UnrealizedPnLQuote.String(), p.FeesPaidQuote.String(), p.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

func (r *PositionsRepo) Get(ctx context.Context, symbol string) (*domain.Position, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT symbol, qty, avg_cost_quote, realized_pnl_quote, unrealized_pnl_quote, fees_paid_quote, updated_at
		FROM positions WHERE symbol = ?`, symbol)

	var p domain.Position
	var qty, avgCost, realized, unrealized, fees, updatedAt string
	err := row.Scan(&p.Symbol, &qty, &avgCost, &realized, &unrealized, &fees, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan position: %w", err)
	}

	p.Qty = decimal.RequireFromString(qty)
	p.AvgCostQuote = decimal.RequireFromString(avgCost)
	p.RealizedPnLQuote = decimal.RequireFromString(realized)
	p.UnrealizedPnLQuote = decimal.RequireFromString(unrealized)
	p.FeesPaidQuote = decimal.RequireFromString(fees)
	p.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &p, nil
}

func (r *PositionsRepo) ListAll(ctx context.Context) ([]domain.Position, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT symbol, qty, avg_cost_quote, realized_pnl_quote, unrealized_pnl_quote, fees_paid_quote, updated_at
		FROM positions`)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		var qty, avgCost, realized, unrealized, fees, updatedAt string
		if err := rows.Scan(&p.Symbol, &qty, &avgCost, &realized, &unrealized, &fees, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.Qty = decimal.RequireFromString(qty)
		p.AvgCostQuote = decimal.RequireFromString(avgCost)
		p.RealizedPnLQuote = decimal.RequireFromString(realized)
		p.UnrealizedPnLQuote = decimal.RequireFromString(unrealized)
		p.FeesPaidQuote = decimal.RequireFromString(fees)
		if p.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
