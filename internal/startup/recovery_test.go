package startup

import (
	"context"
	"testing"
	"time"

	"market_maker/internal/domain"
	"market_maker/internal/exchange"
	"market_maker/internal/ledger"
	"market_maker/internal/store"
	"market_maker/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) logging.Logger {
	t.Helper()
	l, err := logging.NewZapLogger("error")
	require.NoError(t, err)
	return l
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/startup_test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunSeedsLedgerFromPositionsAndPassesCleanInvariants(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	mock := exchange.NewMock()

	uow, err := s.Begin(ctx, true)
	require.NoError(t, err)
	require.NoError(t, store.NewPositionsRepo(uow).Upsert(ctx, domain.Position{
		Symbol: "BTC", Qty: decimal.RequireFromString("2"), AvgCostQuote: decimal.RequireFromString("100"),
		UpdatedAt: time.Now().UTC(),
	}))
	require.NoError(t, uow.Commit(ctx))

	uow2, err := s.Begin(ctx, true)
	require.NoError(t, err)
	led := ledger.New(noopConverter{}, "TRY")
	res, err := Run(ctx, uow2, mock, led, testLogger(t), time.Hour)
	require.NoError(t, err)
	require.NoError(t, uow2.Commit(ctx))

	require.Equal(t, 1, res.PositionsLoaded)
	require.False(t, res.ForceObserveOnly)
	require.Empty(t, res.InvariantFailures)
}

func TestRunForcesObserveOnlyOnNegativePosition(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	mock := exchange.NewMock()

	uow, err := s.Begin(ctx, true)
	require.NoError(t, err)
	require.NoError(t, store.NewPositionsRepo(uow).Upsert(ctx, domain.Position{
		Symbol: "BTC", Qty: decimal.RequireFromString("-1"), AvgCostQuote: decimal.Zero,
		UpdatedAt: time.Now().UTC(),
	}))
	require.NoError(t, uow.Commit(ctx))

	uow2, err := s.Begin(ctx, true)
	require.NoError(t, err)
	led := ledger.New(noopConverter{}, "TRY")
	res, err := Run(ctx, uow2, mock, led, testLogger(t), time.Hour)
	require.NoError(t, err)
	require.NoError(t, uow2.Commit(ctx))

	require.True(t, res.ForceObserveOnly)
	require.Contains(t, res.InvariantFailures, "negative_position_qty:BTC")
}

type noopConverter struct{}

func (noopConverter) ConvertToQuote(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	return amount, nil
}
