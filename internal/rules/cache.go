// Package rules caches exchange-supplied PairRules with a TTL and a
// construction-time choice between returning safe defaults or failing
// closed when the exchange-info source is unavailable (spec section 4.E).
package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"market_maker/internal/domain"
	"market_maker/pkg/logging"

	"github.com/shopspring/decimal"
)

// Source fetches the exchange's published symbol rules. It is the
// "get_exchange_info" leg of the exchange port (spec section 6).
type Source interface {
	FetchPairRules(ctx context.Context) (map[string]domain.PairRules, error)
}

// defaultRules are the conservative fallback rules used in fail-open mode
// (spec section 4.E): min=10, tick=0.01, step=1e-8.
func defaultRules(symbol string) domain.PairRules {
	return domain.PairRules{
		Symbol:           symbol,
		PriceTick:        decimal.RequireFromString("0.01"),
		QtyStep:          decimal.RequireFromString("0.00000001"),
		MinNotionalQuote: decimal.RequireFromString("10"),
		PricePrecision:   2,
		QtyPrecision:     8,
	}
}

// FailClosedError is returned by Get when the cache has no fresh rules for
// a symbol and was constructed with failClosed=true. Spec section 4.E:
// "exchange_rules_missing_fail_closed:<symbol>" — LIVE role must default
// to this.
type FailClosedError struct {
	Symbol string
}

func (e *FailClosedError) Error() string {
	return fmt.Sprintf("exchange_rules_missing_fail_closed:%s", e.Symbol)
}

// Cache is a TTL-bounded PairRules cache.
type Cache struct {
	source     Source
	ttl        time.Duration
	failClosed bool
	logger     logging.Logger

	mu          sync.RWMutex
	rulesBySym  map[string]domain.PairRules
	lastFetched time.Time
}

// New constructs a Cache. failClosed must be true for any LIVE-role
// process (the Open Question in spec section 9 is resolved in favor of
// fail-closed for LIVE; MONITOR/replay contexts may set it false since
// they never submit orders).
func New(source Source, ttl time.Duration, failClosed bool, logger logging.Logger) *Cache {
	if ttl <= 0 {
		ttl = 600 * time.Second
	}
	return &Cache{
		source:     source,
		ttl:        ttl,
		failClosed: failClosed,
		logger:     logger,
		rulesBySym: make(map[string]domain.PairRules),
	}
}

// Refresh polls the exchange-info endpoint and replaces the cached set.
// On failure it leaves any existing cache entries in place (they may
// still be within TTL) and returns the error to the caller, who decides
// whether that is fatal.
func (c *Cache) Refresh(ctx context.Context) error {
	fetched, err := c.source.FetchPairRules(ctx)
	if err != nil {
		c.logger.Warn("exchange rules refresh failed", "error", err.Error())
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rulesBySym = fetched
	c.lastFetched = time.Now().UTC()
	return nil
}

func (c *Cache) stale() bool {
	return time.Since(c.lastFetched) > c.ttl
}

// Get returns the PairRules for symbol. If the cache is stale or the
// symbol is unknown: in fail-closed mode it returns FailClosedError; in
// fail-open mode it returns defaultRules with a warning already logged by
// the caller's discretion (the warning is emitted here too).
func (c *Cache) Get(symbol string) (domain.PairRules, error) {
	canon := domain.NormalizeSymbol(symbol)

	c.mu.RLock()
	r, ok := c.rulesBySym[canon]
	stale := c.stale()
	c.mu.RUnlock()

	if ok && !stale {
		return r, nil
	}

	if c.failClosed {
		return domain.PairRules{}, &FailClosedError{Symbol: canon}
	}

	c.logger.Warn("using default pair rules", "symbol", canon, "reason", "cache stale or missing")
	return defaultRules(canon), nil
}
