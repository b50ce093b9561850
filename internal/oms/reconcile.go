package oms

import (
	"context"
	"fmt"
	"strings"
	"time"

	"market_maker/internal/domain"
	"market_maker/internal/exchange"
	"market_maker/internal/store"
	"market_maker/pkg/logging"

	"github.com/google/uuid"
)

// ReconcileResult tallies the outcome of one reconcile pass (spec section
// 4.H "Reconcile").
type ReconcileResult struct {
	MarkedClosed            []string // db-only: client_order_ids marked CANCELED
	Imported                []string // exchange-only: client_order_ids imported with mode=external
	Enriched                []string // client_order_ids whose exchange_order_id was filled in
	ExternalMissingClientID []string // exchange_order_ids with no stable client_order_id
	FailedSymbols           []string // symbols excluded from mark_unknown_closed this pass
}

// Reconciler pairs the local order book with the exchange's view of open
// orders, generalizing the teacher's ReconcileOrders (which matched by
// price key against in-memory inventory slots) to order_id/client_order_id
// matching against the persisted orders table.
type Reconciler struct {
	ex     exchange.Exchange
	logger logging.Logger
}

func NewReconciler(ex exchange.Exchange, logger logging.Logger) *Reconciler {
	return &Reconciler{ex: ex, logger: logger}
}

func mapExchangeStatus(raw string) domain.OrderStatus {
	switch strings.ToUpper(raw) {
	case "NEW":
		return domain.StatusAcked
	case "PARTIALLY_FILLED":
		return domain.StatusPartiallyFilled
	case "FILLED":
		return domain.StatusFilled
	case "CANCELED", "CANCELLED", "EXPIRED":
		return domain.StatusCanceled
	case "REJECTED":
		return domain.StatusRejected
	default:
		return domain.StatusAcked
	}
}

// Reconcile walks each symbol's locally-open orders against the
// exchange's currently-open orders (spec resolution rules: prefer
// order_id, fall back to client_order_id; a symbol whose exchange query
// fails is excluded from mark_unknown_closed to avoid a false negative).
func (rc *Reconciler) Reconcile(ctx context.Context, uow *store.UnitOfWork, symbols []string) (ReconcileResult, error) {
	ordersRepo := store.NewOrdersRepo(uow)
	var result ReconcileResult

	for _, symbol := range symbols {
		localOpen, err := ordersRepo.ListOpenBySymbol(ctx, symbol)
		if err != nil {
			return result, fmt.Errorf("list local open orders for %s: %w", symbol, err)
		}

		exchangeOpen, err := rc.ex.GetOpenOrders(ctx, symbol)
		if err != nil {
			result.FailedSymbols = append(result.FailedSymbols, symbol)
			rc.logger.Warn("exchange open-orders query failed; excluding symbol from reconcile", "symbol", symbol, "err", err.Error())
			continue
		}

		byExchangeID := make(map[string]exchange.ExchangeOrder, len(exchangeOpen))
		byClientID := make(map[string]exchange.ExchangeOrder, len(exchangeOpen))
		for _, eo := range exchangeOpen {
			if eo.ExchangeOrderID != "" {
				byExchangeID[eo.ExchangeOrderID] = eo
			}
			if eo.ClientOrderID != "" {
				byClientID[eo.ClientOrderID] = eo
			}
		}

		matched := make(map[string]bool, len(exchangeOpen))
		for _, lo := range localOpen {
			match, ok := resolveMatch(lo, byExchangeID, byClientID)
			if !ok {
				lo.Status = domain.StatusCanceled
				lo.LastUpdate = time.Now().UTC()
				if err := ordersRepo.Upsert(ctx, lo); err != nil {
					return result, fmt.Errorf("mark unknown closed %s: %w", lo.ClientOrderID, err)
				}
				result.MarkedClosed = append(result.MarkedClosed, lo.ClientOrderID)
				continue
			}

			matched[match.ExchangeOrderID] = true
			if lo.ExchangeOrderID == nil || *lo.ExchangeOrderID != match.ExchangeOrderID {
				id := match.ExchangeOrderID
				lo.ExchangeOrderID = &id
				lo.FilledQty = match.FilledQty
				lo.Status = mapExchangeStatus(match.Status)
				lo.LastUpdate = time.Now().UTC()
				if err := ordersRepo.Upsert(ctx, lo); err != nil {
					return result, fmt.Errorf("enrich exchange id %s: %w", lo.ClientOrderID, err)
				}
				result.Enriched = append(result.Enriched, lo.ClientOrderID)
			}
		}

		for _, eo := range exchangeOpen {
			if matched[eo.ExchangeOrderID] {
				continue
			}
			if eo.ClientOrderID == "" {
				result.ExternalMissingClientID = append(result.ExternalMissingClientID, eo.ExchangeOrderID)
				rc.logger.Warn("external order with no client_order_id", "exchange_order_id", eo.ExchangeOrderID, "symbol", symbol)
				continue
			}
			exchangeOrderID := eo.ExchangeOrderID
			imported := domain.Order{
				OrderID:         uuid.NewString(),
				ClientOrderID:   eo.ClientOrderID,
				ExchangeOrderID: &exchangeOrderID,
				Symbol:          symbol,
				Side:            eo.Side,
				Type:            eo.Type,
				Price:           eo.Price,
				Qty:             eo.OrigQty,
				FilledQty:       eo.FilledQty,
				Status:          mapExchangeStatus(eo.Status),
				LastUpdate:      time.Now().UTC(),
				Mode:            domain.ModeExternal,
			}
			if err := ordersRepo.Upsert(ctx, imported); err != nil {
				return result, fmt.Errorf("import external order %s: %w", eo.ClientOrderID, err)
			}
			result.Imported = append(result.Imported, eo.ClientOrderID)
		}
	}

	return result, nil
}

func resolveMatch(lo domain.Order, byExchangeID, byClientID map[string]exchange.ExchangeOrder) (exchange.ExchangeOrder, bool) {
	if lo.ExchangeOrderID != nil {
		if eo, ok := byExchangeID[*lo.ExchangeOrderID]; ok {
			return eo, true
		}
	}
	eo, ok := byClientID[lo.ClientOrderID]
	return eo, ok
}

// ResolveUnknownOrders attempts to clear entries from the unknown-orders
// registry (spec section 4.H: "the registry is cleared only by
// reconcile") by searching each symbol's recent order history for a
// match, either by the client_order_id embedded in a "pending:" key
// (an uncertain submission) or by a bare exchange_order_id (an unresolved
// external order).
func (rc *Reconciler) ResolveUnknownOrders(ctx context.Context, uow *store.UnitOfWork, symbols []string, since time.Time) error {
	unknownRepo := store.NewUnknownOrdersRepo(uow)
	ordersRepo := store.NewOrdersRepo(uow)

	ids, err := unknownRepo.ListUnresolved(ctx)
	if err != nil {
		return fmt.Errorf("list unresolved unknown orders: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	byClientID := make(map[string]exchange.ExchangeOrder)
	byExchangeID := make(map[string]exchange.ExchangeOrder)
	for _, symbol := range symbols {
		history, err := rc.ex.GetAllOrders(ctx, symbol, since)
		if err != nil {
			rc.logger.Warn("exchange order history query failed during unknown-order resolution", "symbol", symbol, "err", err.Error())
			continue
		}
		for _, eo := range history {
			if eo.ClientOrderID != "" {
				byClientID[eo.ClientOrderID] = eo
			}
			if eo.ExchangeOrderID != "" {
				byExchangeID[eo.ExchangeOrderID] = eo
			}
		}
	}

	for _, id := range ids {
		clientID, isPending := strings.CutPrefix(id, "pending:")

		var match exchange.ExchangeOrder
		var ok bool
		if isPending {
			match, ok = byClientID[clientID]
		} else {
			match, ok = byExchangeID[id]
		}
		if !ok {
			continue // still unresolved; a later reconcile pass will try again
		}

		if isPending {
			exchangeOrderID := match.ExchangeOrderID
			order := domain.Order{
				OrderID:         uuid.NewString(),
				ClientOrderID:   clientID,
				ExchangeOrderID: &exchangeOrderID,
				Symbol:          match.Symbol,
				Side:            match.Side,
				Type:            match.Type,
				Price:           match.Price,
				Qty:             match.OrigQty,
				FilledQty:       match.FilledQty,
				Status:          mapExchangeStatus(match.Status),
				LastUpdate:      time.Now().UTC(),
				Mode:            domain.ModeLive,
			}
			if err := ordersRepo.Upsert(ctx, order); err != nil {
				return fmt.Errorf("enrich formerly-uncertain order %s: %w", clientID, err)
			}
			if err := unknownRepo.Resolve(ctx, id, "enrich_exchange_ids"); err != nil {
				return fmt.Errorf("resolve unknown order %s: %w", id, err)
			}
			continue
		}

		if err := unknownRepo.Resolve(ctx, id, "import_external"); err != nil {
			return fmt.Errorf("resolve unknown order %s: %w", id, err)
		}
	}
	return nil
}
