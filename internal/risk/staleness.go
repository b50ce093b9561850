package risk

import "time"

// StalenessGate inhibits submission when the market data snapshot has
// aged past the configured bound or the exchange adapter itself reports
// degraded service (spec section 4.G).
type StalenessGate struct {
	staleAfter time.Duration
}

func NewStalenessGate(staleAfter time.Duration) *StalenessGate {
	return &StalenessGate{staleAfter: staleAfter}
}

// Check returns a non-empty reason when submission should be inhibited.
func (g *StalenessGate) Check(marketDataAge time.Duration, exchangeDegraded bool) string {
	if exchangeDegraded {
		return "exchange_degraded"
	}
	if g.staleAfter > 0 && marketDataAge >= g.staleAfter {
		return "stale_market_data"
	}
	return ""
}
