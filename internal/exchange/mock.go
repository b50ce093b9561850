package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"market_maker/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Mock is an in-memory Exchange used by DRY_RUN mode and tests. It never
// makes a network call; PlaceLimitOrder simply records the order with
// exchange status NEW and zero fill, matching DRY_RUN's "simulate, never submit" contract
// (spec section 7).
type Mock struct {
	mu      sync.Mutex
	books   map[string]OrderBook
	rules   map[string]domain.PairRules
	balance map[string]Balance
	orders  map[string]ExchangeOrder
	fills   []Fill
}

func NewMock() *Mock {
	return &Mock{
		books:   make(map[string]OrderBook),
		rules:   make(map[string]domain.PairRules),
		balance: make(map[string]Balance),
		orders:  make(map[string]ExchangeOrder),
	}
}

func (m *Mock) SetOrderbook(b OrderBook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[domain.NormalizeSymbol(b.Symbol)] = b
}

func (m *Mock) SetPairRules(r domain.PairRules) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[domain.NormalizeSymbol(r.Symbol)] = r
}

func (m *Mock) SetBalance(b Balance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balance[b.Asset] = b
}

func (m *Mock) GetBalances(ctx context.Context) ([]Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Balance, 0, len(m.balance))
	for _, b := range m.balance {
		out = append(out, b)
	}
	return out, nil
}

func (m *Mock) GetOrderbook(ctx context.Context, symbol string, depth int) (OrderBook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[domain.NormalizeSymbol(symbol)]
	if !ok {
		return OrderBook{}, fmt.Errorf("mock exchange: no orderbook set for %s", symbol)
	}
	return b, nil
}

func (m *Mock) GetExchangeInfo(ctx context.Context) (map[string]domain.PairRules, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]domain.PairRules, len(m.rules))
	for k, v := range m.rules {
		out[k] = v
	}
	return out, nil
}

func (m *Mock) GetOpenOrders(ctx context.Context, symbol string) ([]ExchangeOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ExchangeOrder
	for _, o := range m.orders {
		if o.Symbol == symbol && o.Status != "FILLED" && o.Status != "CANCELED" {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *Mock) GetAllOrders(ctx context.Context, symbol string, since time.Time) ([]ExchangeOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ExchangeOrder
	for _, o := range m.orders {
		if o.Symbol == symbol && !o.Ts.Before(since) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *Mock) PlaceLimitOrder(ctx context.Context, req PlaceOrderRequest) (ExchangeOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := ExchangeOrder{
		ExchangeOrderID: uuid.NewString(),
		ClientOrderID:   req.ClientOrderID,
		Symbol:          req.Symbol,
		Side:            req.Side,
		Type:            domain.OrderTypeLimit,
		Price:           req.Price,
		OrigQty:         req.Qty,
		FilledQty:       decimal.Zero,
		Status:          "NEW",
		Ts:              time.Now().UTC(),
	}
	m.orders[o.ClientOrderID] = o
	return o, nil
}

func (m *Mock) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[clientOrderID]
	if !ok {
		return fmt.Errorf("mock exchange: unknown client_order_id %s", clientOrderID)
	}
	o.Status = "CANCELED"
	m.orders[clientOrderID] = o
	return nil
}

// Fill simulates an execution against a previously placed order, for use
// in tests that exercise the ledger/reconcile path.
func (m *Mock) Fill(clientOrderID string, qty, price, fee decimal.Decimal, feeCcy string) (Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[clientOrderID]
	if !ok {
		return Fill{}, fmt.Errorf("mock exchange: unknown client_order_id %s", clientOrderID)
	}
	o.FilledQty = o.FilledQty.Add(qty)
	if o.FilledQty.GreaterThanOrEqual(o.OrigQty) {
		o.Status = "FILLED"
	} else {
		o.Status = "PARTIALLY_FILLED"
	}
	m.orders[clientOrderID] = o

	f := Fill{
		ExchangeTradeID: uuid.NewString(),
		ClientOrderID:   clientOrderID,
		ExchangeOrderID: o.ExchangeOrderID,
		Symbol:          o.Symbol,
		Side:            o.Side,
		Price:           price,
		Qty:             qty,
		Fee:             fee,
		FeeCurrency:     feeCcy,
		Ts:              time.Now().UTC(),
	}
	m.fills = append(m.fills, f)
	return f, nil
}

func (m *Mock) GetRecentFills(ctx context.Context, symbol string, since time.Time) ([]Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Fill
	for _, f := range m.fills {
		if f.Symbol == symbol && !f.Ts.Before(since) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *Mock) Close() error { return nil }
