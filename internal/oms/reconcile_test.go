package oms

import (
	"context"
	"testing"
	"time"

	"market_maker/internal/domain"
	"market_maker/internal/exchange"
	"market_maker/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestReconcileMarksDbOnlyOrderClosed(t *testing.T) {
	s := testOMSStore(t)
	ctx := context.Background()
	mock := exchange.NewMock()
	rc := NewReconciler(mock, testLogger(t))

	uow, err := s.Begin(ctx, true)
	require.NoError(t, err)
	orders := store.NewOrdersRepo(uow)
	require.NoError(t, orders.Upsert(ctx, domain.Order{
		OrderID: "o1", ClientOrderID: "c1", Symbol: "BTCTRY", Side: domain.SideBuy, Type: domain.OrderTypeLimit,
		Price: decimal.RequireFromString("100"), Qty: decimal.RequireFromString("1"),
		Status: domain.StatusAcked, LastUpdate: time.Now().UTC(), Mode: domain.ModeLive,
	}))

	result, err := rc.Reconcile(ctx, uow, []string{"BTCTRY"})
	require.NoError(t, err)
	require.NoError(t, uow.Commit(ctx))

	require.Equal(t, []string{"c1"}, result.MarkedClosed)

	uow2, err := s.Begin(ctx, false)
	require.NoError(t, err)
	o, err := store.NewOrdersRepo(uow2).GetByClientOrderID(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusCanceled, o.Status)
	require.NoError(t, uow2.Rollback(ctx))
}

func TestReconcileImportsExchangeOnlyOrderAsExternal(t *testing.T) {
	s := testOMSStore(t)
	ctx := context.Background()
	mock := exchange.NewMock()
	rc := NewReconciler(mock, testLogger(t))

	_, err := mock.PlaceLimitOrder(ctx, exchange.PlaceOrderRequest{
		Symbol: "BTCTRY", Side: domain.SideSell, Price: decimal.RequireFromString("200"),
		Qty: decimal.RequireFromString("1"), ClientOrderID: "ext-1",
	})
	require.NoError(t, err)

	uow, err := s.Begin(ctx, true)
	require.NoError(t, err)
	result, err := rc.Reconcile(ctx, uow, []string{"BTCTRY"})
	require.NoError(t, err)
	require.NoError(t, uow.Commit(ctx))

	require.Equal(t, []string{"ext-1"}, result.Imported)

	uow2, err := s.Begin(ctx, false)
	require.NoError(t, err)
	o, err := store.NewOrdersRepo(uow2).GetByClientOrderID(ctx, "ext-1")
	require.NoError(t, err)
	require.Equal(t, domain.ModeExternal, o.Mode)
	require.NoError(t, uow2.Rollback(ctx))
}

func TestReconcileEnrichesMissingExchangeID(t *testing.T) {
	s := testOMSStore(t)
	ctx := context.Background()
	mock := exchange.NewMock()
	rc := NewReconciler(mock, testLogger(t))

	exo, err := mock.PlaceLimitOrder(ctx, exchange.PlaceOrderRequest{
		Symbol: "BTCTRY", Side: domain.SideBuy, Price: decimal.RequireFromString("100"),
		Qty: decimal.RequireFromString("1"), ClientOrderID: "c2",
	})
	require.NoError(t, err)

	uow, err := s.Begin(ctx, true)
	require.NoError(t, err)
	orders := store.NewOrdersRepo(uow)
	require.NoError(t, orders.Upsert(ctx, domain.Order{
		OrderID: "o2", ClientOrderID: "c2", Symbol: "BTCTRY", Side: domain.SideBuy, Type: domain.OrderTypeLimit,
		Price: decimal.RequireFromString("100"), Qty: decimal.RequireFromString("1"),
		Status: domain.StatusSubmitted, LastUpdate: time.Now().UTC(), Mode: domain.ModeLive,
	}))

	result, err := rc.Reconcile(ctx, uow, []string{"BTCTRY"})
	require.NoError(t, err)
	require.NoError(t, uow.Commit(ctx))

	require.Equal(t, []string{"c2"}, result.Enriched)

	uow2, err := s.Begin(ctx, false)
	require.NoError(t, err)
	o, err := store.NewOrdersRepo(uow2).GetByClientOrderID(ctx, "c2")
	require.NoError(t, err)
	require.NotNil(t, o.ExchangeOrderID)
	require.Equal(t, exo.ExchangeOrderID, *o.ExchangeOrderID)
	require.NoError(t, uow2.Rollback(ctx))
}

func TestResolveUnknownOrdersClearsPendingEntryOnceSeen(t *testing.T) {
	s := testOMSStore(t)
	ctx := context.Background()
	mock := exchange.NewMock()
	rc := NewReconciler(mock, testLogger(t))

	_, err := mock.PlaceLimitOrder(ctx, exchange.PlaceOrderRequest{
		Symbol: "BTCTRY", Side: domain.SideBuy, Price: decimal.RequireFromString("100"),
		Qty: decimal.RequireFromString("1"), ClientOrderID: "c3",
	})
	require.NoError(t, err)

	uow, err := s.Begin(ctx, true)
	require.NoError(t, err)
	require.NoError(t, store.NewUnknownOrdersRepo(uow).Record(ctx, "pending:c3", "BTCTRY", "timed out"))

	err = rc.ResolveUnknownOrders(ctx, uow, []string{"BTCTRY"}, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.NoError(t, uow.Commit(ctx))

	uow2, err := s.Begin(ctx, false)
	require.NoError(t, err)
	unresolved, err := store.NewUnknownOrdersRepo(uow2).ListUnresolved(ctx)
	require.NoError(t, err)
	require.Empty(t, unresolved)
	require.NoError(t, uow2.Rollback(ctx))
}
