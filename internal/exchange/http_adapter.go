package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"market_maker/internal/domain"
	apperrors "market_maker/pkg/errors"
	httpclient "market_maker/pkg/http"

	"github.com/shopspring/decimal"
)

// HTTPAdapter implements Exchange against a Binance-dialect spot REST
// API, the common surface the teacher's binance/binancespot adapters
// targeted. It is the single exchange connector this bot talks to (spec
// section 2: "a single centralized spot exchange").
type HTTPAdapter struct {
	client *httpclient.Client
}

// NewHTTPAdapter wires an HMAC-signed httpclient.Client (failsafe-go retry
// + circuit breaker, OTel spans/metrics) as this bot's sole exchange
// transport.
func NewHTTPAdapter(baseURL string, timeout time.Duration, apiKey, apiSecret string) *HTTPAdapter {
	signer := NewHMACSigner(apiKey, apiSecret)
	return &HTTPAdapter{client: httpclient.NewClient(baseURL, timeout, signer)}
}

func (a *HTTPAdapter) Close() error { return nil }

type balanceDTO struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

func (a *HTTPAdapter) GetBalances(ctx context.Context) ([]Balance, error) {
	body, err := a.client.Get(ctx, "/api/v3/account", nil)
	if err != nil {
		return nil, classifyHTTPErr(err)
	}
	var resp struct {
		Balances []balanceDTO `json:"balances"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode account response: %w", err)
	}

	out := make([]Balance, 0, len(resp.Balances))
	for _, b := range resp.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return nil, fmt.Errorf("parse free balance for %s: %w", b.Asset, err)
		}
		locked, err := decimal.NewFromString(b.Locked)
		if err != nil {
			return nil, fmt.Errorf("parse locked balance for %s: %w", b.Asset, err)
		}
		out = append(out, Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return out, nil
}

func (a *HTTPAdapter) GetOrderbook(ctx context.Context, symbol string, depth int) (OrderBook, error) {
	body, err := a.client.Get(ctx, "/api/v3/depth", map[string]string{
		"symbol": symbol,
		"limit":  strconv.Itoa(depth),
	})
	if err != nil {
		return OrderBook{}, classifyHTTPErr(err)
	}
	var resp struct {
		Bids [][2]string `json:"bids"`
		Asks [][2]string `json:"asks"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return OrderBook{}, fmt.Errorf("decode depth response: %w", err)
	}

	book := OrderBook{Symbol: symbol, Ts: time.Now().UTC()}
	book.Bids, err = parseLevels(resp.Bids)
	if err != nil {
		return OrderBook{}, err
	}
	book.Asks, err = parseLevels(resp.Asks)
	if err != nil {
		return OrderBook{}, err
	}
	return book, nil
}

func parseLevels(raw [][2]string) ([]OrderBookLevel, error) {
	out := make([]OrderBookLevel, 0, len(raw))
	for _, lvl := range raw {
		price, err := decimal.NewFromString(lvl[0])
		if err != nil {
			return nil, fmt.Errorf("parse level price: %w", err)
		}
		qty, err := decimal.NewFromString(lvl[1])
		if err != nil {
			return nil, fmt.Errorf("parse level qty: %w", err)
		}
		out = append(out, OrderBookLevel{Price: price, Qty: qty})
	}
	return out, nil
}

type symbolInfoDTO struct {
	Symbol  string `json:"symbol"`
	Filters []struct {
		FilterType  string `json:"filterType"`
		TickSize    string `json:"tickSize"`
		StepSize    string `json:"stepSize"`
		MinNotional string `json:"minNotional"`
	} `json:"filters"`
}

func (a *HTTPAdapter) GetExchangeInfo(ctx context.Context) (map[string]domain.PairRules, error) {
	body, err := a.client.Get(ctx, "/api/v3/exchangeInfo", nil)
	if err != nil {
		return nil, classifyHTTPErr(err)
	}
	var resp struct {
		Symbols []symbolInfoDTO `json:"symbols"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode exchangeInfo response: %w", err)
	}

	out := make(map[string]domain.PairRules, len(resp.Symbols))
	for _, s := range resp.Symbols {
		rules := domain.PairRules{Symbol: domain.NormalizeSymbol(s.Symbol)}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				rules.PriceTick = mustDecimalOrZero(f.TickSize)
			case "LOT_SIZE":
				rules.QtyStep = mustDecimalOrZero(f.StepSize)
			case "MIN_NOTIONAL", "NOTIONAL":
				rules.MinNotionalQuote = mustDecimalOrZero(f.MinNotional)
			}
		}
		if err := rules.Validate(); err != nil {
			return nil, fmt.Errorf("exchange returned invalid rules: %w", err)
		}
		out[rules.Symbol] = rules
	}
	return out, nil
}

func mustDecimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

type orderDTO struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Status        string `json:"status"`
	Time          int64  `json:"time"`
}

func (d orderDTO) toDomain() (ExchangeOrder, error) {
	price, err := decimal.NewFromString(d.Price)
	if err != nil {
		return ExchangeOrder{}, fmt.Errorf("parse order price: %w", err)
	}
	orig, err := decimal.NewFromString(d.OrigQty)
	if err != nil {
		return ExchangeOrder{}, fmt.Errorf("parse order origQty: %w", err)
	}
	filled, err := decimal.NewFromString(d.ExecutedQty)
	if err != nil {
		return ExchangeOrder{}, fmt.Errorf("parse order executedQty: %w", err)
	}
	return ExchangeOrder{
		ExchangeOrderID: strconv.FormatInt(d.OrderID, 10),
		ClientOrderID:   d.ClientOrderID,
		Symbol:          d.Symbol,
		Side:            domain.Side(d.Side),
		Type:            domain.OrderType(d.Type),
		Price:           price,
		OrigQty:         orig,
		FilledQty:       filled,
		Status:          d.Status,
		Ts:              time.UnixMilli(d.Time).UTC(),
	}, nil
}

func (a *HTTPAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]ExchangeOrder, error) {
	body, err := a.client.Get(ctx, "/api/v3/openOrders", map[string]string{"symbol": symbol})
	if err != nil {
		return nil, classifyHTTPErr(err)
	}
	var dtos []orderDTO
	if err := json.Unmarshal(body, &dtos); err != nil {
		return nil, fmt.Errorf("decode openOrders response: %w", err)
	}
	return toDomainOrders(dtos)
}

func (a *HTTPAdapter) GetAllOrders(ctx context.Context, symbol string, since time.Time) ([]ExchangeOrder, error) {
	body, err := a.client.Get(ctx, "/api/v3/allOrders", map[string]string{
		"symbol":    symbol,
		"startTime": strconv.FormatInt(since.UnixMilli(), 10),
	})
	if err != nil {
		return nil, classifyHTTPErr(err)
	}
	var dtos []orderDTO
	if err := json.Unmarshal(body, &dtos); err != nil {
		return nil, fmt.Errorf("decode allOrders response: %w", err)
	}
	return toDomainOrders(dtos)
}

func toDomainOrders(dtos []orderDTO) ([]ExchangeOrder, error) {
	out := make([]ExchangeOrder, 0, len(dtos))
	for _, d := range dtos {
		o, err := d.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (a *HTTPAdapter) PlaceLimitOrder(ctx context.Context, req PlaceOrderRequest) (ExchangeOrder, error) {
	body, err := a.client.Post(ctx, "/api/v3/order", map[string]string{
		"symbol":           req.Symbol,
		"side":             string(req.Side),
		"type":             string(domain.OrderTypeLimit),
		"timeInForce":      "GTC",
		"quantity":         req.Qty.String(),
		"price":            req.Price.String(),
		"newClientOrderId": req.ClientOrderID,
	})
	if err != nil {
		return ExchangeOrder{}, classifyHTTPErr(err)
	}
	var dto orderDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return ExchangeOrder{}, fmt.Errorf("decode order response: %w", err)
	}
	return dto.toDomain()
}

func (a *HTTPAdapter) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	_, err := a.client.Delete(ctx, "/api/v3/order", map[string]string{
		"symbol":            symbol,
		"origClientOrderId": clientOrderID,
	})
	if err != nil {
		return classifyHTTPErr(err)
	}
	return nil
}

type fillDTO struct {
	ID              int64  `json:"id"`
	OrderID         int64  `json:"orderId"`
	ClientOrderID   string `json:"clientOrderId"`
	Symbol          string `json:"symbol"`
	Side            string `json:"side"`
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	Time            int64  `json:"time"`
}

func (a *HTTPAdapter) GetRecentFills(ctx context.Context, symbol string, since time.Time) ([]Fill, error) {
	body, err := a.client.Get(ctx, "/api/v3/myTrades", map[string]string{
		"symbol":    symbol,
		"startTime": strconv.FormatInt(since.UnixMilli(), 10),
	})
	if err != nil {
		return nil, classifyHTTPErr(err)
	}
	var dtos []fillDTO
	if err := json.Unmarshal(body, &dtos); err != nil {
		return nil, fmt.Errorf("decode myTrades response: %w", err)
	}

	out := make([]Fill, 0, len(dtos))
	for _, d := range dtos {
		price, err := decimal.NewFromString(d.Price)
		if err != nil {
			return nil, fmt.Errorf("parse fill price: %w", err)
		}
		qty, err := decimal.NewFromString(d.Qty)
		if err != nil {
			return nil, fmt.Errorf("parse fill qty: %w", err)
		}
		fee, err := decimal.NewFromString(d.Commission)
		if err != nil {
			return nil, fmt.Errorf("parse fill commission: %w", err)
		}
		out = append(out, Fill{
			ExchangeTradeID: strconv.FormatInt(d.ID, 10),
			ClientOrderID:   d.ClientOrderID,
			ExchangeOrderID: strconv.FormatInt(d.OrderID, 10),
			Symbol:          d.Symbol,
			Side:            domain.Side(d.Side),
			Price:           price,
			Qty:             qty,
			Fee:             fee,
			FeeCurrency:     d.CommissionAsset,
			Ts:              time.UnixMilli(d.Time).UTC(),
		})
	}
	return out, nil
}

// classifyHTTPErr maps a transport-level error onto the apperrors
// taxonomy so retry/risk decisions upstream don't need to know about
// httpclient.APIError directly.
func classifyHTTPErr(err error) error {
	apiErr, ok := err.(*httpclient.APIError)
	if !ok {
		return fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
	}
	switch {
	case apiErr.StatusCode == 429:
		return fmt.Errorf("%w: %w", apperrors.ErrRateLimitExceeded, apiErr)
	case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
		return fmt.Errorf("%w: %w", apperrors.ErrAuthenticationFailed, apiErr)
	case apiErr.StatusCode >= 500:
		return fmt.Errorf("%w: %w", apperrors.ErrExchangeMaintenance, apiErr)
	default:
		return fmt.Errorf("%w: %w", apperrors.ErrOrderRejected, apiErr)
	}
}
