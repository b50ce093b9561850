package ledger

import (
	"context"
	"fmt"

	"market_maker/internal/exchange"
	apperrors "market_maker/pkg/errors"

	"github.com/shopspring/decimal"
)

// ExchangeMidPriceConverter resolves a fee currency's quote value from the
// exchange's own order book mid-price, so a fee charged in the base asset
// (or the exchange's native token) is still booked in quote terms. Grounded on the teacher's internal/trading/arbitrage
// virtual-mid-price engine (it prices one asset in terms of another from
// live order book state), narrowed from a cross-exchange mid-price mesh
// down to a single adapter's own book.
type ExchangeMidPriceConverter struct {
	ex exchange.Exchange
}

func NewExchangeMidPriceConverter(ex exchange.Exchange) *ExchangeMidPriceConverter {
	return &ExchangeMidPriceConverter{ex: ex}
}

// ConvertToQuote returns amount unchanged when the fee currency already
// matches the account's quote currency, the common case. Otherwise it
// looks up the <fromCurrency><toCurrency> order book and prices off the
// mid; a missing or empty book surfaces apperrors.ErrOracleMissingRate so
// the caller can decide how to treat an unconverted fee rather than
// silently mis-booking PnL.
func (c *ExchangeMidPriceConverter) ConvertToQuote(ctx context.Context, amount decimal.Decimal, fromCurrency, toCurrency string) (decimal.Decimal, error) {
	if fromCurrency == toCurrency {
		return amount, nil
	}

	symbol := fromCurrency + toCurrency
	book, err := c.ex.GetOrderbook(ctx, symbol, 1)
	if err != nil || len(book.Bids) == 0 || len(book.Asks) == 0 {
		return decimal.Zero, fmt.Errorf("%w: %s->%s", apperrors.ErrOracleMissingRate, fromCurrency, toCurrency)
	}

	mid := book.Bids[0].Price.Add(book.Asks[0].Price).Div(decimal.NewFromInt(2))
	if !mid.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s->%s non-positive mid", apperrors.ErrOracleMissingRate, fromCurrency, toCurrency)
	}
	return amount.Mul(mid), nil
}
