// Package kernel is the pure, deterministic planning pipeline: universe
// selection, strategy intent generation, allocation and order-intent
// sizing (spec section 4.F). Every stage is a small interface so the
// runner can compose concrete, in-memory, or replay variants the way the
// teacher's trading package composes allocators and strategies.
package kernel

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// MarketSnapshot is the per-symbol read the universe selector and
// strategies work from.
type MarketSnapshot struct {
	Symbol       string
	Active       bool
	QuoteCurrency string
	BestBid      decimal.Decimal
	BestAsk      decimal.Decimal
	VolumeQuote  decimal.Decimal
	Ts           time.Time // when this symbol's orderbook was last refreshed
}

func (m MarketSnapshot) SpreadBps() decimal.Decimal {
	if m.BestBid.IsZero() || m.BestAsk.IsZero() {
		return decimal.NewFromInt(1 << 30)
	}
	mid := m.BestBid.Add(m.BestAsk).Div(decimal.NewFromInt(2))
	if mid.IsZero() {
		return decimal.NewFromInt(1 << 30)
	}
	return m.BestAsk.Sub(m.BestBid).Div(mid).Mul(decimal.NewFromInt(10000))
}

// UniverseConfig carries the filter/ranking knobs read from config.
type UniverseConfig struct {
	QuoteCurrency  string
	AllowList      map[string]bool // nil/empty means "allow all"
	DenyList       map[string]bool
	MaxSpreadBps   decimal.Decimal
	MinNotional    decimal.Decimal // optional; zero disables the check
	MaxUniverseSize int
}

// UniverseSelector narrows the tradable universe down to an ordered,
// deterministic symbol list.
type UniverseSelector interface {
	Select(snapshots []MarketSnapshot, cfg UniverseConfig) []string
}

// DefaultUniverseSelector implements the spec's literal ranking:
// (spread_bps asc, -volume_quote, symbol asc), truncated to
// MaxUniverseSize.
type DefaultUniverseSelector struct{}

func NewDefaultUniverseSelector() DefaultUniverseSelector { return DefaultUniverseSelector{} }

func (DefaultUniverseSelector) Select(snapshots []MarketSnapshot, cfg UniverseConfig) []string {
	type candidate struct {
		symbol string
		spread decimal.Decimal
		volume decimal.Decimal
	}

	var candidates []candidate
	for _, s := range snapshots {
		if !s.Active {
			continue
		}
		if cfg.QuoteCurrency != "" && s.QuoteCurrency != cfg.QuoteCurrency {
			continue
		}
		if len(cfg.AllowList) > 0 && !cfg.AllowList[s.Symbol] {
			continue
		}
		if cfg.DenyList[s.Symbol] {
			continue
		}
		spread := s.SpreadBps()
		if cfg.MaxSpreadBps.IsPositive() && spread.GreaterThan(cfg.MaxSpreadBps) {
			continue
		}
		if cfg.MinNotional.IsPositive() && s.VolumeQuote.LessThan(cfg.MinNotional) {
			continue
		}
		candidates = append(candidates, candidate{symbol: s.Symbol, spread: spread, volume: s.VolumeQuote})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].spread.Equal(candidates[j].spread) {
			return candidates[i].spread.LessThan(candidates[j].spread)
		}
		if !candidates[i].volume.Equal(candidates[j].volume) {
			return candidates[i].volume.GreaterThan(candidates[j].volume)
		}
		return candidates[i].symbol < candidates[j].symbol
	})

	limit := cfg.MaxUniverseSize
	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}

	out := make([]string, 0, limit)
	for _, c := range candidates[:limit] {
		out = append(out, c.symbol)
	}
	return out
}
