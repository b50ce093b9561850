package oms

import (
	"context"
	"testing"

	"market_maker/internal/store"

	"github.com/stretchr/testify/require"
)

func TestReplaceCoordinatorHappyPath(t *testing.T) {
	s := testOMSStore(t)
	ctx := context.Background()

	uow, err := s.Begin(ctx, true)
	require.NoError(t, err)
	c := NewReplaceCoordinator(uow)

	txID, err := c.Begin(ctx, "BTCTRY", "BUY", "old-1", "new-1")
	require.NoError(t, err)

	steps := []store.ReplaceTxState{
		store.ReplaceCancelSent, store.ReplaceCancelConfirmed, store.ReplaceNewSent, store.ReplaceNewConfirmed, store.ReplaceDone,
	}
	for _, next := range steps {
		require.NoError(t, c.Advance(ctx, txID, "BTCTRY", "BUY", "old-1", next))
	}

	row, found, err := c.Row(ctx, txID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, store.ReplaceDone, row.State)

	incomplete, err := c.Incomplete(ctx)
	require.NoError(t, err)
	require.NotContains(t, incomplete, txID)
	require.NoError(t, uow.Commit(ctx))
}

func TestReplaceCoordinatorRejectsMetadataMismatchNonDestructively(t *testing.T) {
	s := testOMSStore(t)
	ctx := context.Background()

	uow, err := s.Begin(ctx, true)
	require.NoError(t, err)
	c := NewReplaceCoordinator(uow)

	txID, err := c.Begin(ctx, "BTCTRY", "BUY", "old-1", "new-1")
	require.NoError(t, err)

	err = c.Advance(ctx, txID, "ETHTRY", "BUY", "old-1", store.ReplaceCancelSent)
	require.ErrorIs(t, err, errReplaceTxMetadataMismatch)

	row, found, err := c.Row(ctx, txID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, store.ReplaceInit, row.State) // untouched
	require.Equal(t, errReplaceTxMetadataMismatch.Error(), row.LastError)
	require.NoError(t, uow.Commit(ctx))
}

func TestReplaceCoordinatorRejectsIllegalSkipAhead(t *testing.T) {
	s := testOMSStore(t)
	ctx := context.Background()

	uow, err := s.Begin(ctx, true)
	require.NoError(t, err)
	c := NewReplaceCoordinator(uow)

	txID, err := c.Begin(ctx, "BTCTRY", "BUY", "old-1", "new-1")
	require.NoError(t, err)

	err = c.Advance(ctx, txID, "BTCTRY", "BUY", "old-1", store.ReplaceNewConfirmed)
	require.ErrorIs(t, err, errReplaceTxMetadataMismatch)

	row, found, err := c.Row(ctx, txID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, store.ReplaceInit, row.State)
	require.NoError(t, uow.Commit(ctx))
}

func TestReplaceCoordinatorRollbackReachableFromCancelSent(t *testing.T) {
	s := testOMSStore(t)
	ctx := context.Background()

	uow, err := s.Begin(ctx, true)
	require.NoError(t, err)
	c := NewReplaceCoordinator(uow)

	txID, err := c.Begin(ctx, "BTCTRY", "BUY", "old-1", "new-1")
	require.NoError(t, err)
	require.NoError(t, c.Advance(ctx, txID, "BTCTRY", "BUY", "old-1", store.ReplaceCancelSent))
	require.NoError(t, c.Advance(ctx, txID, "BTCTRY", "BUY", "old-1", store.ReplaceRollingBack))
	require.NoError(t, c.Advance(ctx, txID, "BTCTRY", "BUY", "old-1", store.ReplaceDone))
	require.NoError(t, uow.Commit(ctx))
}
