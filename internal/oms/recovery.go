package oms

import (
	"context"
	"fmt"
	"time"

	"market_maker/internal/domain"
	"market_maker/internal/exchange"
	"market_maker/internal/store"
	"market_maker/pkg/logging"
)

// Recover resolves every order left in PLANNED or SUBMITTED (the two
// non-terminal statuses reached before the exchange has confirmed
// anything) by querying the exchange's recent order history and moving
// each to the status the exchange reports for it; an order the exchange
// still lists as NEW or PARTIALLY_FILLED becomes ACKED or
// PARTIALLY_FILLED, which are not terminal (spec section 4.H "Crash recovery": "any row
// in INIT or SUBMITTED with no completion is recomputed by querying the
// exchange"). An order not found in history after the lookback window is
// conservatively marked REJECTED — it never reached the exchange.
func Recover(ctx context.Context, uow *store.UnitOfWork, ex exchange.Exchange, logger logging.Logger, lookback time.Duration) error {
	ordersRepo := store.NewOrdersRepo(uow)
	eventsRepo := store.NewOrderEventsRepo(uow)

	stuck, err := ordersRepo.ListByStatus(ctx, []string{string(domain.StatusPlanned), string(domain.StatusSubmitted)})
	if err != nil {
		return fmt.Errorf("list stuck orders: %w", err)
	}
	if len(stuck) == 0 {
		return nil
	}

	since := time.Now().Add(-lookback)
	bySymbol := make(map[string][]domain.Order)
	for _, o := range stuck {
		bySymbol[o.Symbol] = append(bySymbol[o.Symbol], o)
	}

	for symbol, orders := range bySymbol {
		history, err := ex.GetAllOrders(ctx, symbol, since)
		if err != nil {
			logger.Warn("crash recovery: exchange history query failed; leaving orders stuck for next attempt", "symbol", symbol, "err", err.Error())
			continue
		}
		byClientID := make(map[string]exchange.ExchangeOrder, len(history))
		for _, eo := range history {
			if eo.ClientOrderID != "" {
				byClientID[eo.ClientOrderID] = eo
			}
		}

		for _, o := range orders {
			eo, found := byClientID[o.ClientOrderID]
			if !found {
				o.Status = domain.StatusRejected
				o.LastUpdate = time.Now().UTC()
				if err := ordersRepo.Upsert(ctx, o); err != nil {
					return fmt.Errorf("mark unconfirmed order rejected %s: %w", o.ClientOrderID, err)
				}
				if err := appendRecoveryEvent(ctx, eventsRepo, o.ClientOrderID, EventSubmitFailed); err != nil {
					return err
				}
				logger.Warn("crash recovery: order never reached exchange, marked rejected", "client_order_id", o.ClientOrderID)
				continue
			}

			exchangeOrderID := eo.ExchangeOrderID
			o.ExchangeOrderID = &exchangeOrderID
			o.FilledQty = eo.FilledQty
			o.Status = mapExchangeStatus(eo.Status)
			o.LastUpdate = time.Now().UTC()
			if err := ordersRepo.Upsert(ctx, o); err != nil {
				return fmt.Errorf("recover confirmed order %s: %w", o.ClientOrderID, err)
			}
			if err := appendRecoveryEvent(ctx, eventsRepo, o.ClientOrderID, EventAck); err != nil {
				return err
			}
			logger.Info("crash recovery: order confirmed against exchange history", "client_order_id", o.ClientOrderID, "status", o.Status)
		}
	}
	return nil
}

// appendRecoveryEvent records a terminal-resolution event during startup
// recovery, idempotent by (client_order_id, seq, event_type) via a fixed
// seq distinguishing the recovery pass from the original cycle's events.
func appendRecoveryEvent(ctx context.Context, events *store.OrderEventsRepo, clientOrderID, eventType string) error {
	const recoverySeq = 9
	e := domain.OrderEvent{
		EventID:       domain.ComputeOrderEventID(clientOrderID, recoverySeq, eventType),
		Ts:            time.Now().UTC(),
		ClientOrderID: clientOrderID,
		EventType:     eventType,
		CycleID:       "startup_recovery",
	}
	if err := events.Append(ctx, e); err != nil {
		return fmt.Errorf("append recovery event: %w", err)
	}
	return nil
}
