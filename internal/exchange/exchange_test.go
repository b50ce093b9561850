package exchange

import (
	"context"
	"net/http"
	"testing"

	"market_maker/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestHMACSignerNoncesAreStrictlyIncreasing(t *testing.T) {
	s := NewHMACSigner("key", "secret")
	a := s.nextNonce()
	b := s.nextNonce()
	require.Greater(t, b, a)
}

func TestHMACSignerSetsSignatureAndAPIKeyHeader(t *testing.T) {
	s := NewHMACSigner("key", "secret")
	req, err := http.NewRequest(http.MethodGet, "https://x.test/api/v3/account", nil)
	require.NoError(t, err)

	require.NoError(t, s.SignRequest(req))
	require.Equal(t, "key", req.Header.Get("X-API-KEY"))
	require.NotEmpty(t, req.URL.Query().Get("signature"))
	require.NotEmpty(t, req.URL.Query().Get("timestamp"))
}

func TestMockPlaceAndFillOrder(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	ord, err := m.PlaceLimitOrder(ctx, PlaceOrderRequest{
		Symbol: "BTCTRY", Side: domain.SideBuy,
		Price: decimal.RequireFromString("100"), Qty: decimal.RequireFromString("1"),
		ClientOrderID: "c1",
	})
	require.NoError(t, err)
	require.Equal(t, "NEW", ord.Status)

	fill, err := m.Fill("c1", decimal.RequireFromString("1"), decimal.RequireFromString("100"), decimal.RequireFromString("0.1"), "TRY")
	require.NoError(t, err)
	require.Equal(t, "c1", fill.ClientOrderID)

	fills, err := m.GetRecentFills(ctx, "BTCTRY", fill.Ts.Add(-1))
	require.NoError(t, err)
	require.Len(t, fills, 1)
}

func TestMockCancelUnknownOrderErrors(t *testing.T) {
	m := NewMock()
	err := m.CancelOrder(context.Background(), "BTCTRY", "nope")
	require.Error(t, err)
}
