package ledger

import (
	"context"
	"testing"
	"time"

	"market_maker/internal/domain"
	"market_maker/internal/store"
	apperrors "market_maker/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type noopConverter struct{}

func (noopConverter) ConvertToQuote(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	return amount, nil
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/ledger_test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func buyFill(symbol string, qty, price string, tradeID string, ts time.Time) domain.LedgerEvent {
	q := decimal.RequireFromString(qty)
	p := decimal.RequireFromString(price)
	side := domain.SideBuy
	return domain.LedgerEvent{
		EventID: "evt-" + tradeID, Ts: ts, Symbol: symbol, Type: domain.LedgerFill,
		Side: &side, Qty: q, Price: &p, ExchangeTradeID: &tradeID,
	}
}

func sellFill(symbol string, qty, price string, tradeID string, ts time.Time) domain.LedgerEvent {
	q := decimal.RequireFromString(qty)
	p := decimal.RequireFromString(price)
	side := domain.SideSell
	return domain.LedgerEvent{
		EventID: "evt-" + tradeID, Ts: ts, Symbol: symbol, Type: domain.LedgerFill,
		Side: &side, Qty: q, Price: &p, ExchangeTradeID: &tradeID,
	}
}

func TestFIFORealizesProfitOnSellAfterTwoBuys(t *testing.T) {
	s := openTestStore(t)
	l := New(noopConverter{}, "TRY")
	ctx := context.Background()
	now := time.Now().UTC()

	uow, err := s.Begin(ctx, true)
	require.NoError(t, err)
	_, err = l.ApplyFill(ctx, uow, "BTCTRY", buyFill("BTCTRY", "1", "100", "t1", now), nil)
	require.NoError(t, err)
	_, err = l.ApplyFill(ctx, uow, "BTCTRY", buyFill("BTCTRY", "1", "200", "t2", now), nil)
	require.NoError(t, err)

	pos, err := l.ApplyFill(ctx, uow, "BTCTRY", sellFill("BTCTRY", "1.5", "300", "t3", now), nil)
	require.NoError(t, err)
	require.NoError(t, uow.Commit(ctx))

	// First lot (qty 1 @ 100) fully consumed: realized 1*(300-100)=200.
	// Second lot partially consumed (0.5 @ 200): realized 0.5*(300-200)=50.
	require.True(t, pos.RealizedPnLQuote.Equal(decimal.RequireFromString("250")), pos.RealizedPnLQuote.String())
	require.True(t, pos.Qty.Equal(decimal.RequireFromString("0.5")))
}

func TestFIFOReplayingSameTradeIDIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	l := New(noopConverter{}, "TRY")
	ctx := context.Background()
	now := time.Now().UTC()

	uow, err := s.Begin(ctx, true)
	require.NoError(t, err)
	_, err = l.ApplyFill(ctx, uow, "BTCTRY", buyFill("BTCTRY", "1", "100", "dup", now), nil)
	require.NoError(t, err)
	require.NoError(t, uow.Commit(ctx))

	uow2, err := s.Begin(ctx, true)
	require.NoError(t, err)
	pos, err := l.ApplyFill(ctx, uow2, "BTCTRY", buyFill("BTCTRY", "1", "100", "dup", now), nil)
	require.NoError(t, err)
	require.NoError(t, uow2.Commit(ctx))

	require.True(t, pos.Qty.Equal(decimal.RequireFromString("1")))
}

func TestFeeIsTrackedSeparatelyFromRealizedPnL(t *testing.T) {
	s := openTestStore(t)
	l := New(noopConverter{}, "TRY")
	ctx := context.Background()
	now := time.Now().UTC()

	uow, err := s.Begin(ctx, true)
	require.NoError(t, err)
	_, err = l.ApplyFill(ctx, uow, "BTCTRY", buyFill("BTCTRY", "1", "100", "f1", now), nil)
	require.NoError(t, err)

	fee := decimal.RequireFromString("5")
	feeCcy := "TRY"
	feeID := "f2"
	feeEvt := domain.LedgerEvent{
		EventID: "evt-fee-f2", Ts: now, Symbol: "BTCTRY", Type: domain.LedgerFee,
		Qty: decimal.Zero, Fee: &fee, FeeCurrency: &feeCcy, ExchangeTradeID: &feeID,
	}
	pos, err := l.ApplyFill(ctx, uow, "BTCTRY", sellFill("BTCTRY", "1", "150", "f2", now), &feeEvt)
	require.NoError(t, err)
	require.NoError(t, uow.Commit(ctx))

	// Fees are reported alongside realized PnL, never netted into it —
	// realized stays the pure matched-qty * (sell - lot cost) figure.
	require.True(t, pos.RealizedPnLQuote.Equal(decimal.RequireFromString("50")), pos.RealizedPnLQuote.String())
	require.True(t, pos.FeesPaidQuote.Equal(fee))
}

// TestScenarioBRealizedAndUnrealizedPnL walks the worked FIFO example:
// BUY 1 @ 100, BUY 1 @ 110, SELL 1.5 @ 120 (fee 2) — the sell fully
// consumes the first lot (1 * (120-100) = 20) and half the second
// (0.5 * (120-110) = 5), for realized pnl 25 against a fee of 2 tracked
// separately; the remaining 0.5 lot at cost 110, marked at 130, leaves
// unrealized pnl 0.5 * (130-110) = 10.
func TestScenarioBRealizedAndUnrealizedPnL(t *testing.T) {
	s := openTestStore(t)
	l := New(noopConverter{}, "TRY")
	ctx := context.Background()
	now := time.Now().UTC()

	uow, err := s.Begin(ctx, true)
	require.NoError(t, err)
	_, err = l.ApplyFill(ctx, uow, "BTCTRY", buyFill("BTCTRY", "1", "100", "b1", now), nil)
	require.NoError(t, err)
	_, err = l.ApplyFill(ctx, uow, "BTCTRY", buyFill("BTCTRY", "1", "110", "b2", now), nil)
	require.NoError(t, err)

	fee := decimal.RequireFromString("2")
	feeCcy := "TRY"
	feeID := "s1"
	feeEvt := domain.LedgerEvent{
		EventID: "evt-fee-s1", Ts: now, Symbol: "BTCTRY", Type: domain.LedgerFee,
		Qty: decimal.Zero, Fee: &fee, FeeCurrency: &feeCcy, ExchangeTradeID: &feeID,
	}
	pos, err := l.ApplyFill(ctx, uow, "BTCTRY", sellFill("BTCTRY", "1.5", "120", "s1", now), &feeEvt)
	require.NoError(t, err)
	require.NoError(t, uow.Commit(ctx))
	require.True(t, pos.RealizedPnLQuote.Equal(decimal.RequireFromString("25")), pos.RealizedPnLQuote.String())
	require.True(t, pos.FeesPaidQuote.Equal(decimal.RequireFromString("2")))
	require.True(t, pos.Qty.Equal(decimal.RequireFromString("0.5")))

	uow2, err := s.Begin(ctx, true)
	require.NoError(t, err)
	pos, err = l.MarkToMarket(ctx, uow2, "BTC", decimal.RequireFromString("130"), true)
	require.NoError(t, err)
	require.NoError(t, uow2.Commit(ctx))

	require.True(t, pos.UnrealizedPnLQuote.Equal(decimal.RequireFromString("10")), pos.UnrealizedPnLQuote.String())
	require.True(t, pos.RealizedPnLQuote.Equal(decimal.RequireFromString("25")), pos.RealizedPnLQuote.String())
}

func TestOversellRaisesInvariantViolation(t *testing.T) {
	s := openTestStore(t)
	l := New(noopConverter{}, "TRY")
	ctx := context.Background()
	now := time.Now().UTC()

	uow, err := s.Begin(ctx, true)
	require.NoError(t, err)
	_, err = l.ApplyFill(ctx, uow, "BTCTRY", buyFill("BTCTRY", "1", "100", "o1", now), nil)
	require.NoError(t, err)

	_, err = l.ApplyFill(ctx, uow, "BTCTRY", sellFill("BTCTRY", "2", "150", "o2", now), nil)
	require.Error(t, err)
	require.ErrorIs(t, err, apperrors.ErrInvariantViolation)
	require.Contains(t, err.Error(), "oversell_invariant_violation:BTCTRY")
	require.NoError(t, uow.Rollback(ctx))
}
