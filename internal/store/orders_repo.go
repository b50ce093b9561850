package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"market_maker/internal/domain"

	"github.com/shopspring/decimal"
)

// OrdersRepo persists the OMS order state machine rows.
type OrdersRepo struct{ q querier }

func NewOrdersRepo(u *UnitOfWork) *OrdersRepo { return &OrdersRepo{q: u.Q()} }

func (r *OrdersRepo) Upsert(ctx context.Context, o domain.Order) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO orders (order_id, client_order_id, exchange_order_id, symbol, side, type,
			price, qty, filled_qty, avg_fill_price, status, last_update, intent_hash, mode)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			exchange_order_id=excluded.exchange_order_id,
			filled_qty=excluded.filled_qty,
			avg_fill_price=excluded.avg_fill_price,
			status=excluded.status,
			last_update=excluded.last_update`,
		o.OrderID, o.ClientOrderID, nullableString(o.ExchangeOrderID), o.Symbol, string(o.Side), string(o.Type),
		o.Price.String(), o.Qty.String(), o.FilledQty.String(), nullableDecimal(o.AvgFillPrice),
		string(o.Status), o.LastUpdate.UTC().Format(time.RFC3339Nano), o.IntentHash, string(o.Mode))
	if err != nil {
		return fmt.Errorf("upsert order: %w", err)
	}
	return nil
}

func (r *OrdersRepo) GetByClientOrderID(ctx context.Context, clientOrderID string) (*domain.Order, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT order_id, client_order_id, exchange_order_id, symbol, side, type,
			price, qty, filled_qty, avg_fill_price, status, last_update, intent_hash, mode
		FROM orders WHERE client_order_id = ?`, clientOrderID)
	return scanOrder(row)
}

func (r *OrdersRepo) ListOpenBySymbol(ctx context.Context, symbol string) ([]domain.Order, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT order_id, client_order_id, exchange_order_id, symbol, side, type,
			price, qty, filled_qty, avg_fill_price, status, last_update, intent_hash, mode
		FROM orders WHERE symbol = ? AND status NOT IN ('FILLED','CANCELED','REJECTED')`, symbol)
	if err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrderRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// ListByStatus returns every order whose status is one of statuses,
// across all symbols — used by startup recovery to find orders stuck in
// a non-terminal, non-confirmed state after a crash (spec section 4.H
// "Crash recovery").
func (r *OrdersRepo) ListByStatus(ctx context.Context, statuses []string) ([]domain.Order, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, s := range statuses {
		placeholders[i] = "?"
		args[i] = s
	}
	query := fmt.Sprintf(`
		SELECT order_id, client_order_id, exchange_order_id, symbol, side, type,
			price, qty, filled_qty, avg_fill_price, status, last_update, intent_hash, mode
		FROM orders WHERE status IN (%s)`, joinPlaceholders(placeholders))
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders by status: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrderRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func joinPlaceholders(ps []string) string {
	out := ps[0]
	for _, p := range ps[1:] {
		out += "," + p
	}
	return out
}

func scanOrder(row *sql.Row) (*domain.Order, error) {
	var o domain.Order
	var exchangeID, avgFillPrice sql.NullString
	var price, qty, filledQty, side, typ, status, mode, lastUpdate string
	err := row.Scan(&o.OrderID, &o.ClientOrderID, &exchangeID, &o.Symbol, &side, &typ,
		&price, &qty, &filledQty, &avgFillPrice, &status, &lastUpdate, &o.IntentHash, &mode)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return finishOrderScan(&o, exchangeID, avgFillPrice, price, qty, filledQty, side, typ, status, mode, lastUpdate)
}

func scanOrderRows(rows *sql.Rows) (*domain.Order, error) {
	var o domain.Order
	var exchangeID, avgFillPrice sql.NullString
	var price, qty, filledQty, side, typ, status, mode, lastUpdate string
	err := rows.Scan(&o.OrderID, &o.ClientOrderID, &exchangeID, &o.Symbol, &side, &typ,
		&price, &qty, &filledQty, &avgFillPrice, &status, &lastUpdate, &o.IntentHash, &mode)
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return finishOrderScan(&o, exchangeID, avgFillPrice, price, qty, filledQty, side, typ, status, mode, lastUpdate)
}

func finishOrderScan(o *domain.Order, exchangeID, avgFillPrice sql.NullString, price, qty, filledQty, side, typ, status, mode, lastUpdate string) (*domain.Order, error) {
	if exchangeID.Valid {
		v := exchangeID.String
		o.ExchangeOrderID = &v
	}
	if avgFillPrice.Valid {
		d, err := decimal.NewFromString(avgFillPrice.String)
		if err != nil {
			return nil, fmt.Errorf("parse avg_fill_price: %w", err)
		}
		o.AvgFillPrice = &d
	}
	var err error
	if o.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	if o.Qty, err = decimal.NewFromString(qty); err != nil {
		return nil, fmt.Errorf("parse qty: %w", err)
	}
	if o.FilledQty, err = decimal.NewFromString(filledQty); err != nil {
		return nil, fmt.Errorf("parse filled_qty: %w", err)
	}
	o.Side = domain.Side(side)
	o.Type = domain.OrderType(typ)
	o.Status = domain.OrderStatus(status)
	o.Mode = domain.OrderMode(mode)
	o.LastUpdate, err = time.Parse(time.RFC3339Nano, lastUpdate)
	if err != nil {
		return nil, fmt.Errorf("parse last_update: %w", err)
	}
	return o, nil
}

func nullableString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nullableDecimal(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

// OrderEventsRepo appends to the order event audit trail.
type OrderEventsRepo struct{ q querier }

func NewOrderEventsRepo(u *UnitOfWork) *OrderEventsRepo { return &OrderEventsRepo{q: u.Q()} }

func (r *OrderEventsRepo) Append(ctx context.Context, e domain.OrderEvent) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT OR IGNORE INTO order_events (event_id, ts, client_order_id, order_id, event_type, payload, cycle_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.EventID, e.Ts.UTC().Format(time.RFC3339Nano), e.ClientOrderID, e.OrderID, e.EventType, e.Payload, e.CycleID)
	if err != nil {
		return fmt.Errorf("append order event: %w", err)
	}
	return nil
}
