package rules

import (
	"context"

	"market_maker/internal/domain"
	"market_maker/internal/exchange"
)

// ExchangeSource adapts any exchange.Exchange into a Source by delegating
// to its GetExchangeInfo leg, so cmd/bot never has to hand-write the glue
// between the two packages.
type ExchangeSource struct {
	ex exchange.Exchange
}

func NewExchangeSource(ex exchange.Exchange) ExchangeSource {
	return ExchangeSource{ex: ex}
}

func (s ExchangeSource) FetchPairRules(ctx context.Context) (map[string]domain.PairRules, error) {
	return s.ex.GetExchangeInfo(ctx)
}
