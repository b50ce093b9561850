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

func TestRecoverMarksConfirmedOrderFromExchangeHistory(t *testing.T) {
	s := testOMSStore(t)
	ctx := context.Background()
	mock := exchange.NewMock()

	exo, err := mock.PlaceLimitOrder(ctx, exchange.PlaceOrderRequest{
		Symbol: "BTCTRY", Side: domain.SideBuy, Price: decimal.RequireFromString("100"),
		Qty: decimal.RequireFromString("1"), ClientOrderID: "c1",
	})
	require.NoError(t, err)
	_, err = mock.Fill("c1", decimal.RequireFromString("1"), decimal.RequireFromString("100"), decimal.Zero, "TRY")
	require.NoError(t, err)

	uow, err := s.Begin(ctx, true)
	require.NoError(t, err)
	require.NoError(t, store.NewOrdersRepo(uow).Upsert(ctx, domain.Order{
		OrderID: "o1", ClientOrderID: "c1", Symbol: "BTCTRY", Side: domain.SideBuy, Type: domain.OrderTypeLimit,
		Price: decimal.RequireFromString("100"), Qty: decimal.RequireFromString("1"),
		Status: domain.StatusSubmitted, LastUpdate: time.Now().UTC(), Mode: domain.ModeLive,
	}))

	require.NoError(t, Recover(ctx, uow, mock, testLogger(t), time.Hour))
	require.NoError(t, uow.Commit(ctx))

	uow2, err := s.Begin(ctx, false)
	require.NoError(t, err)
	o, err := store.NewOrdersRepo(uow2).GetByClientOrderID(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusFilled, o.Status)
	require.NotNil(t, o.ExchangeOrderID)
	require.Equal(t, exo.ExchangeOrderID, *o.ExchangeOrderID)
	require.NoError(t, uow2.Rollback(ctx))
}

func TestRecoverRejectsOrderNeverSeenByExchange(t *testing.T) {
	s := testOMSStore(t)
	ctx := context.Background()
	mock := exchange.NewMock()

	uow, err := s.Begin(ctx, true)
	require.NoError(t, err)
	require.NoError(t, store.NewOrdersRepo(uow).Upsert(ctx, domain.Order{
		OrderID: "o2", ClientOrderID: "c2", Symbol: "BTCTRY", Side: domain.SideBuy, Type: domain.OrderTypeLimit,
		Price: decimal.RequireFromString("100"), Qty: decimal.RequireFromString("1"),
		Status: domain.StatusPlanned, LastUpdate: time.Now().UTC(), Mode: domain.ModeLive,
	}))

	require.NoError(t, Recover(ctx, uow, mock, testLogger(t), time.Hour))
	require.NoError(t, uow.Commit(ctx))

	uow2, err := s.Begin(ctx, false)
	require.NoError(t, err)
	o, err := store.NewOrdersRepo(uow2).GetByClientOrderID(ctx, "c2")
	require.NoError(t, err)
	require.Equal(t, domain.StatusRejected, o.Status)
	require.NoError(t, uow2.Rollback(ctx))
}

func TestRecoverIsNoopWhenNothingStuck(t *testing.T) {
	s := testOMSStore(t)
	ctx := context.Background()
	mock := exchange.NewMock()

	uow, err := s.Begin(ctx, true)
	require.NoError(t, err)
	require.NoError(t, Recover(ctx, uow, mock, testLogger(t), time.Hour))
	require.NoError(t, uow.Commit(ctx))
}
