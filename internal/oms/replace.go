package oms

import (
	"context"
	"fmt"

	"market_maker/internal/store"

	"github.com/google/uuid"
)

// replaceTransitions enumerates the legal forward moves of the replace-tx
// state machine (spec section 4.H "Replace transaction"): the happy path
// INIT -> CANCEL_SENT -> CANCEL_CONFIRMED -> NEW_SENT -> NEW_CONFIRMED ->
// DONE, plus a failure fork to ROLLING_BACK from any non-terminal state,
// always resolving to DONE.
var replaceTransitions = map[store.ReplaceTxState]map[store.ReplaceTxState]bool{
	store.ReplaceInit:            {store.ReplaceCancelSent: true, store.ReplaceRollingBack: true},
	store.ReplaceCancelSent:      {store.ReplaceCancelConfirmed: true, store.ReplaceRollingBack: true},
	store.ReplaceCancelConfirmed: {store.ReplaceNewSent: true, store.ReplaceRollingBack: true},
	store.ReplaceNewSent:         {store.ReplaceNewConfirmed: true, store.ReplaceRollingBack: true},
	store.ReplaceNewConfirmed:    {store.ReplaceDone: true, store.ReplaceRollingBack: true},
	store.ReplaceRollingBack:     {store.ReplaceDone: true},
}

// errReplaceTxMetadataMismatch is returned (non-fatally — the caller
// simply stops driving this transaction) when a transition targets
// a tx_id whose stored symbol/side/old_client_order_id disagree with the
// caller's view of it, or when the requested state is not a legal next
// state of the stored one.
var errReplaceTxMetadataMismatch = fmt.Errorf("replace_tx_metadata_mismatch")

// ReplaceCoordinator drives one cancel-then-place replace transaction
// through its state machine, persisting every transition so a crash
// between steps can be resumed deterministically by startup recovery
// (spec section 4.H).
type ReplaceCoordinator struct {
	repo *store.ReplaceTxRepo
}

func NewReplaceCoordinator(uow *store.UnitOfWork) *ReplaceCoordinator {
	return &ReplaceCoordinator{repo: store.NewReplaceTxRepo(uow)}
}

// Begin creates a new replace transaction and returns its id.
func (c *ReplaceCoordinator) Begin(ctx context.Context, symbol, side, oldClientOrderID, newClientOrderID string) (string, error) {
	txID := uuid.NewString()
	if err := c.repo.Create(ctx, txID, symbol, side, oldClientOrderID, newClientOrderID); err != nil {
		return "", fmt.Errorf("begin replace tx: %w", err)
	}
	return txID, nil
}

// Advance attempts to move txID to next. A request that is not a valid
// forward move, or whose (symbol, side, oldClientOrderID) disagrees with
// the row on file, is accepted non-destructively: the row's state is left
// untouched, last_error is set to "replace_tx_metadata_mismatch", and
// errReplaceTxMetadataMismatch is returned so the caller knows not to
// keep driving this attempt.
func (c *ReplaceCoordinator) Advance(ctx context.Context, txID, symbol, side, oldClientOrderID string, next store.ReplaceTxState) error {
	row, found, err := c.repo.GetRow(ctx, txID)
	if err != nil {
		return fmt.Errorf("advance replace tx: %w", err)
	}
	if !found {
		return fmt.Errorf("replace tx %s not found", txID)
	}

	metadataMatches := row.Symbol == symbol && row.Side == side && row.OldClientOrderID == oldClientOrderID
	forward := replaceTransitions[row.State][next]
	if !metadataMatches || !forward {
		if err := c.repo.SetLastError(ctx, txID, errReplaceTxMetadataMismatch.Error()); err != nil {
			return fmt.Errorf("record replace tx mismatch: %w", err)
		}
		return errReplaceTxMetadataMismatch
	}

	if err := c.repo.Transition(ctx, txID, next); err != nil {
		return fmt.Errorf("transition replace tx: %w", err)
	}
	return nil
}

// Incomplete lists transaction ids not yet DONE, for startup recovery to
// resume (spec section 4.H "Crash recovery").
func (c *ReplaceCoordinator) Incomplete(ctx context.Context) ([]string, error) {
	ids, err := c.repo.ListIncomplete(ctx)
	if err != nil {
		return nil, fmt.Errorf("list incomplete replace tx: %w", err)
	}
	return ids, nil
}

func (c *ReplaceCoordinator) Row(ctx context.Context, txID string) (store.ReplaceTxRow, bool, error) {
	return c.repo.GetRow(ctx, txID)
}
