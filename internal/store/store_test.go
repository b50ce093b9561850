package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"market_maker/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOrdersRepoRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	uow, err := s.Begin(ctx, true)
	require.NoError(t, err)
	repo := NewOrdersRepo(uow)

	o := domain.Order{
		OrderID:       "o1",
		ClientOrderID: "b4-btctry-B-abc",
		Symbol:        "BTCTRY",
		Side:          domain.SideBuy,
		Type:          domain.OrderTypeLimit,
		Price:         decimal.RequireFromString("100"),
		Qty:           decimal.RequireFromString("0.5"),
		FilledQty:     decimal.Zero,
		Status:        domain.StatusPlanned,
		LastUpdate:    time.Now(),
		Mode:          domain.ModeDryRun,
	}
	require.NoError(t, repo.Upsert(ctx, o))
	require.NoError(t, uow.Commit(ctx))

	uow2, err := s.Begin(ctx, false)
	require.NoError(t, err)
	defer uow2.Rollback(ctx)
	repo2 := NewOrdersRepo(uow2)

	got, err := repo2.GetByClientOrderID(ctx, o.ClientOrderID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, o.OrderID, got.OrderID)
	require.True(t, got.Price.Equal(o.Price))
}

func TestWritableUnitOfWorkReadsMissingOrderWithoutError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	uow, err := s.Begin(ctx, true)
	require.NoError(t, err)
	defer uow.Rollback(ctx)

	_, err = NewOrdersRepo(uow).GetByClientOrderID(ctx, "nonexistent")
	require.NoError(t, err)
}

func TestLedgerAppendIsIdempotentOnUniqueKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	uow, err := s.Begin(ctx, true)
	require.NoError(t, err)
	repo := NewLedgerRepo(uow)

	tradeID := "trade-1"
	e := domain.LedgerEvent{
		EventID:         "e1",
		Ts:              time.Now(),
		Symbol:          "BTCTRY",
		Type:            domain.LedgerFill,
		Qty:             decimal.RequireFromString("1"),
		ExchangeTradeID: &tradeID,
	}

	ins1, err := repo.Append(ctx, e)
	require.NoError(t, err)
	require.True(t, ins1)

	e.EventID = "e2"
	ins2, err := repo.Append(ctx, e)
	require.NoError(t, err)
	require.False(t, ins2, "duplicate exchange_trade_id must not be recorded twice")

	require.NoError(t, uow.Commit(ctx))
}

func TestProcessLockRejectsSecondHolder(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "state.db")

	lock1, ok1, err := AcquireProcessLock(dbPath, "acct-1")
	require.NoError(t, err)
	require.True(t, ok1)
	defer lock1.Release()

	_, ok2, err := AcquireProcessLock(dbPath, "acct-1")
	require.NoError(t, err)
	require.False(t, ok2)
}

func TestProcessLockIsPerAccount(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "state.db")

	lock1, ok1, err := AcquireProcessLock(dbPath, "acct-1")
	require.NoError(t, err)
	require.True(t, ok1)
	defer lock1.Release()

	lock2, ok2, err := AcquireProcessLock(dbPath, "acct-2")
	require.NoError(t, err)
	require.True(t, ok2)
	defer lock2.Release()
}

func TestKillSwitchPersistsAcrossUnitsOfWork(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	uow, err := s.Begin(ctx, true)
	require.NoError(t, err)
	require.NoError(t, NewKillSwitchRepo(uow).Engage(ctx, "manual stop"))
	require.NoError(t, uow.Commit(ctx))

	uow2, err := s.Begin(ctx, false)
	require.NoError(t, err)
	defer uow2.Rollback(ctx)

	engaged, reason, err := NewKillSwitchRepo(uow2).IsEngaged(ctx)
	require.NoError(t, err)
	require.True(t, engaged)
	require.Equal(t, "manual stop", reason)
}
