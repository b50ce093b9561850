// Package exchange defines the typed contract every exchange adapter must
// satisfy (spec section 4: "Exchange Adapter" / section 6 external
// interfaces), plus an HTTP-backed implementation and an in-memory mock
// used by tests and DRY_RUN mode. Grounded on the teacher's
// internal/exchange/base.BaseAdapter, narrowed from a streaming
// multi-exchange adapter down to the single synchronous REST surface this
// bot actually calls once per cycle.
package exchange

import (
	"context"
	"time"

	"market_maker/internal/domain"

	"github.com/shopspring/decimal"
)

// Balance is a single asset's free/locked holding as reported by the
// exchange account endpoint.
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// OrderBookLevel is one price/qty level of a side of the book.
type OrderBookLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// OrderBook is the top-of-book snapshot used for strategy pricing.
type OrderBook struct {
	Symbol string
	Bids   []OrderBookLevel
	Asks   []OrderBookLevel
	Ts     time.Time
}

// BestBid returns the highest bid, or (zero, false) if the book is empty.
func (b OrderBook) BestBid() (OrderBookLevel, bool) {
	if len(b.Bids) == 0 {
		return OrderBookLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask, or (zero, false) if the book is empty.
func (b OrderBook) BestAsk() (OrderBookLevel, bool) {
	if len(b.Asks) == 0 {
		return OrderBookLevel{}, false
	}
	return b.Asks[0], true
}

// Fill is a single execution report for an order.
type Fill struct {
	ExchangeTradeID string
	ClientOrderID   string
	ExchangeOrderID string
	Symbol          string
	Side            domain.Side
	Price           decimal.Decimal
	Qty             decimal.Decimal
	Fee             decimal.Decimal
	FeeCurrency     string
	Ts              time.Time
}

// ExchangeOrder is the exchange's view of an order, as returned by
// get_open_orders / get_all_orders / place_limit_order.
type ExchangeOrder struct {
	ExchangeOrderID string
	ClientOrderID   string
	Symbol          string
	Side            domain.Side
	Type            domain.OrderType
	Price           decimal.Decimal
	OrigQty         decimal.Decimal
	FilledQty       decimal.Decimal
	Status          string
	Ts              time.Time
}

// PlaceOrderRequest is the input to PlaceLimitOrder.
type PlaceOrderRequest struct {
	Symbol        string
	Side          domain.Side
	Price         decimal.Decimal
	Qty           decimal.Decimal
	ClientOrderID string
}

// Exchange is the full port contract a single centralized spot exchange
// must satisfy (spec section 6). Every method takes a context so the
// cycle runner can bound each call with a deadline.
type Exchange interface {
	GetBalances(ctx context.Context) ([]Balance, error)
	GetOrderbook(ctx context.Context, symbol string, depth int) (OrderBook, error)
	GetExchangeInfo(ctx context.Context) (map[string]domain.PairRules, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]ExchangeOrder, error)
	GetAllOrders(ctx context.Context, symbol string, since time.Time) ([]ExchangeOrder, error)
	PlaceLimitOrder(ctx context.Context, req PlaceOrderRequest) (ExchangeOrder, error)
	CancelOrder(ctx context.Context, symbol, clientOrderID string) error
	GetRecentFills(ctx context.Context, symbol string, since time.Time) ([]Fill, error)
	Close() error
}
