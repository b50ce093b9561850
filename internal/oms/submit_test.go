package oms

import (
	"context"
	"testing"
	"time"

	"market_maker/internal/domain"
	"market_maker/internal/exchange"
	"market_maker/internal/store"
	"market_maker/pkg/logging"
	"market_maker/pkg/retry"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) logging.Logger {
	t.Helper()
	l, err := logging.NewZapLogger("error")
	require.NoError(t, err)
	return l
}

func testOMSStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/oms_test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, MaxTotalSleep: 50 * time.Millisecond}
}

func testIntent(symbol string, side domain.Side, qty, price string) domain.OrderIntent {
	q := decimal.RequireFromString(qty)
	p := decimal.RequireFromString(price)
	internalID := symbol + string(side) + qty + price
	return domain.OrderIntent{
		CycleID:       "cyc-1",
		Symbol:        symbol,
		Side:          side,
		OrderType:     domain.OrderTypeLimit,
		PriceQuote:    p,
		Qty:           q,
		NotionalQuote: p.Mul(q),
		ClientOrderID: domain.ComputeClientOrderID(symbol, side, internalID),
	}
}

func TestSubmitAcksOnSuccess(t *testing.T) {
	s := testOMSStore(t)
	ctx := context.Background()
	mock := exchange.NewMock()
	sub := NewSubmitter(mock, NewLimiter(nil), fastPolicy(), testLogger(t))

	uow, err := s.Begin(ctx, true)
	require.NoError(t, err)

	outcomes, err := sub.Submit(ctx, uow, "cyc-1", []domain.OrderIntent{testIntent("BTCTRY", domain.SideBuy, "1", "100")})
	require.NoError(t, err)
	require.NoError(t, uow.Commit(ctx))

	require.Len(t, outcomes, 1)
	require.Equal(t, EventAck, outcomes[0].EventType)
}

func TestSubmitDuplicateIntentIsIgnoredOnReplay(t *testing.T) {
	s := testOMSStore(t)
	ctx := context.Background()
	mock := exchange.NewMock()
	sub := NewSubmitter(mock, NewLimiter(nil), fastPolicy(), testLogger(t))
	intent := testIntent("BTCTRY", domain.SideBuy, "1", "100")

	uow1, err := s.Begin(ctx, true)
	require.NoError(t, err)
	outcomes1, err := sub.Submit(ctx, uow1, "cyc-1", []domain.OrderIntent{intent})
	require.NoError(t, err)
	require.NoError(t, uow1.Commit(ctx))
	require.Equal(t, EventAck, outcomes1[0].EventType)

	uow2, err := s.Begin(ctx, true)
	require.NoError(t, err)
	outcomes2, err := sub.Submit(ctx, uow2, "cyc-1", []domain.OrderIntent{intent})
	require.NoError(t, err)
	require.NoError(t, uow2.Commit(ctx))

	require.Equal(t, EventDuplicateIgnored, outcomes2[0].EventType)
}

func TestSubmitIdempotencyConflictOnPayloadReuse(t *testing.T) {
	s := testOMSStore(t)
	ctx := context.Background()
	mock := exchange.NewMock()
	sub := NewSubmitter(mock, NewLimiter(nil), fastPolicy(), testLogger(t))

	original := testIntent("BTCTRY", domain.SideBuy, "1", "100")
	uow1, err := s.Begin(ctx, true)
	require.NoError(t, err)
	_, err = sub.Submit(ctx, uow1, "cyc-1", []domain.OrderIntent{original})
	require.NoError(t, err)
	require.NoError(t, uow1.Commit(ctx))

	conflicting := original
	conflicting.Qty = decimal.RequireFromString("2") // same client_order_id, different payload

	uow2, err := s.Begin(ctx, true)
	require.NoError(t, err)
	outcomes, err := sub.Submit(ctx, uow2, "cyc-1", []domain.OrderIntent{conflicting})
	require.NoError(t, err)
	require.NoError(t, uow2.Commit(ctx))

	require.Equal(t, EventIdempotencyConflict, outcomes[0].EventType)
}

func TestSubmitFreezesWhileUnknownOrdersUnresolved(t *testing.T) {
	s := testOMSStore(t)
	ctx := context.Background()
	mock := exchange.NewMock()
	sub := NewSubmitter(mock, NewLimiter(nil), fastPolicy(), testLogger(t))

	uow, err := s.Begin(ctx, true)
	require.NoError(t, err)
	require.NoError(t, store.NewUnknownOrdersRepo(uow).Record(ctx, "pending:stale-id", "BTCTRY", "timed out"))

	outcomes, err := sub.Submit(ctx, uow, "cyc-1", []domain.OrderIntent{testIntent("BTCTRY", domain.SideBuy, "1", "100")})
	require.NoError(t, err)
	require.NoError(t, uow.Commit(ctx))

	require.Equal(t, EventFrozen, outcomes[0].EventType)
}

func TestSubmitSkipsSkippedIntents(t *testing.T) {
	s := testOMSStore(t)
	ctx := context.Background()
	mock := exchange.NewMock()
	sub := NewSubmitter(mock, NewLimiter(nil), fastPolicy(), testLogger(t))

	skipped := testIntent("BTCTRY", domain.SideBuy, "1", "100")
	skipped.Skipped = true
	skipped.SkipReason = "cooldown"

	uow, err := s.Begin(ctx, true)
	require.NoError(t, err)
	outcomes, err := sub.Submit(ctx, uow, "cyc-1", []domain.OrderIntent{skipped})
	require.NoError(t, err)
	require.NoError(t, uow.Commit(ctx))

	require.Empty(t, outcomes)
}
