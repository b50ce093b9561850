package oms

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"market_maker/internal/domain"
	"market_maker/internal/exchange"
	"market_maker/internal/store"
	apperrors "market_maker/pkg/errors"
	httpclient "market_maker/pkg/http"
	"market_maker/pkg/logging"
	"market_maker/pkg/retry"
	"market_maker/pkg/telemetry"

	"github.com/google/uuid"
)

// Outcome is one intent's disposition after a submit pass, always
// recorded regardless of whether the exchange was ever called (spec
// section 4.H).
type Outcome struct {
	Intent    domain.OrderIntent
	EventType string
	Err       error
}

// Event type tags appended to order_events (spec section 4.H).
const (
	EventSubmitRequested     = "SUBMIT_REQUESTED"
	EventAck                 = "ACK"
	EventSubmitFailed        = "SUBMIT_FAILED"
	EventThrottled           = "THROTTLED"
	EventDuplicateIgnored    = "DUPLICATE_IGNORED"
	EventIdempotencyConflict = "IDEMPOTENCY_CONFLICT"
	EventUncertain           = "UNCERTAIN"
	EventFrozen              = "FROZEN"
)

// Submitter drives the idempotent submit flow against a single exchange
// connection (spec section 4.H "Submit"), reading and writing through the
// repositories scoped to the caller's UnitOfWork — it never opens its own
// transaction, so the whole cycle still commits or rolls back atomically.
type Submitter struct {
	ex      exchange.Exchange
	limiter *Limiter
	policy  retry.Policy
	logger  logging.Logger
	metrics *telemetry.MetricsHolder
	now     func() time.Time
}

func NewSubmitter(ex exchange.Exchange, limiter *Limiter, policy retry.Policy, logger logging.Logger) *Submitter {
	return &Submitter{
		ex:      ex,
		limiter: limiter,
		policy:  policy,
		logger:  logger,
		metrics: telemetry.GetGlobalMetrics(),
		now:     time.Now,
	}
}

// hashIntent derives a stable hash of an OrderIntent's economic fields,
// used to tell a genuine idempotency-key replay from a conflicting reuse
// of the same client_order_id for a different order (spec section 4.H:
// "a reservation with the same key but different payload raises
// IDEMPOTENCY_CONFLICT").
func hashIntent(oi domain.OrderIntent) string {
	payload := fmt.Sprintf("%s|%s|%s|%s|%s", oi.Symbol, oi.Side, oi.OrderType, oi.PriceQuote.String(), oi.Qty.String())
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// classifySubmitErr upgrades a submit-path error to KindUncertain when the
// failure mode means the exchange may or may not have received the
// order: a context deadline or a bare network error, as opposed to a
// definite rejection or auth failure where the exchange's response is
// conclusive (spec section 4.H "Uncertain outcomes"; section 5
// "Cancellation and timeouts": "on expiry, the submission is recorded as
// uncertain, not as success or failure").
func classifySubmitErr(ctx context.Context, err error) apperrors.Kind {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.KindUncertain
	}
	if errors.Is(err, apperrors.ErrNetwork) {
		return apperrors.KindUncertain
	}
	return apperrors.Classify(err)
}

// retryAfterFromErr extracts a server Retry-After hint from a wrapped
// *httpclient.APIError, if present, and penalizes the orders bucket so
// subsequent intents in the same cycle (and the next cycle, if the retry
// budget runs out first) respect it too.
func (s *Submitter) retryAfterFromErr(group EndpointGroup) retry.RetryAfterFunc {
	return func(err error) (time.Duration, bool) {
		var apiErr *httpclient.APIError
		if !errors.As(err, &apiErr) {
			return 0, false
		}
		now := s.now()
		s.limiter.Penalize(group, now, apiErr.Header.Get("Retry-After"))
		return retry.ParseRetryAfter(apiErr.Header.Get("Retry-After"), now)
	}
}

// Submit walks intents in deterministic (symbol, side, client_order_id)
// order, reserving, rate-limiting, placing and recording each one. A
// non-nil error return means a store operation itself failed and the
// caller should roll back the whole cycle; per-intent business outcomes
// are always returned via the Outcome slice, never as an error.
func (s *Submitter) Submit(ctx context.Context, uow *store.UnitOfWork, cycleID string, intents []domain.OrderIntent) ([]Outcome, error) {
	idem := store.NewIdempotencyRepo(uow)
	orders := store.NewOrdersRepo(uow)
	events := store.NewOrderEventsRepo(uow)
	unknown := store.NewUnknownOrdersRepo(uow)

	sorted := make([]domain.OrderIntent, len(intents))
	copy(sorted, intents)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		if a.Side != b.Side {
			return a.Side < b.Side
		}
		return a.ClientOrderID < b.ClientOrderID
	})

	frozenIDs, err := unknown.ListUnresolved(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unresolved unknown orders: %w", err)
	}
	frozen := len(frozenIDs) > 0

	outcomes := make([]Outcome, 0, len(sorted))
	for _, oi := range sorted {
		if oi.Skipped {
			continue
		}

		if frozen {
			outcomes = append(outcomes, Outcome{Intent: oi, EventType: EventFrozen})
			continue
		}

		outcome, err := s.submitOne(ctx, cycleID, oi, idem, orders, events, unknown)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (s *Submitter) submitOne(ctx context.Context, cycleID string, oi domain.OrderIntent,
	idem *store.IdempotencyRepo, orders *store.OrdersRepo, events *store.OrderEventsRepo, unknown *store.UnknownOrdersRepo) (Outcome, error) {

	key := oi.ClientOrderID
	intentHash := hashIntent(oi)

	reserved, err := idem.Reserve(ctx, key)
	if err != nil {
		return Outcome{}, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if !reserved {
		status, _, _, err := idem.Get(ctx, key)
		if err != nil {
			return Outcome{}, fmt.Errorf("get idempotency reservation: %w", err)
		}
		existing, err := orders.GetByClientOrderID(ctx, key)
		if err != nil {
			return Outcome{}, fmt.Errorf("get existing order: %w", err)
		}
		if existing != nil && existing.IntentHash != intentHash {
			s.logger.Warn("idempotency conflict", "client_order_id", key)
			return Outcome{Intent: oi, EventType: EventIdempotencyConflict, Err: apperrors.ErrIdempotencyConflict}, nil
		}
		if status == store.ReservationCommitted {
			return Outcome{Intent: oi, EventType: EventDuplicateIgnored}, nil
		}
		// INIT/IN_FLIGHT/FAILED left by a crashed prior attempt: leave it
		// for crash recovery and skip this cycle.
		return Outcome{Intent: oi, EventType: EventDuplicateIgnored}, nil
	}

	if err := idem.Transition(ctx, key, store.ReservationInFlight, &key); err != nil {
		return Outcome{}, fmt.Errorf("transition to in_flight: %w", err)
	}

	now := s.now()
	if !s.limiter.Allow(GroupOrders, now) {
		if err := idem.Transition(ctx, key, store.ReservationFailed, nil); err != nil {
			return Outcome{}, fmt.Errorf("transition to failed after throttle: %w", err)
		}
		if err := s.appendEvent(ctx, events, oi, cycleID, EventThrottled, 0); err != nil {
			return Outcome{}, err
		}
		if s.metrics != nil && s.metrics.ThrottledTotal != nil {
			s.metrics.ThrottledTotal.Add(ctx, 1)
		}
		return Outcome{Intent: oi, EventType: EventThrottled}, nil
	}

	if err := s.appendEvent(ctx, events, oi, cycleID, EventSubmitRequested, 0); err != nil {
		return Outcome{}, err
	}

	var exo exchange.ExchangeOrder
	submitErr := retry.Do(ctx, s.policy,
		func(err error) bool { return apperrors.Classify(err).Retryable() },
		s.retryAfterFromErr(GroupOrders),
		func() error {
			var err error
			exo, err = s.ex.PlaceLimitOrder(ctx, exchange.PlaceOrderRequest{
				Symbol:        oi.Symbol,
				Side:          oi.Side,
				Price:         oi.PriceQuote,
				Qty:           oi.Qty,
				ClientOrderID: key,
			})
			return err
		})

	if submitErr != nil {
		kind := classifySubmitErr(ctx, submitErr)
		if kind == apperrors.KindUncertain {
			if err := unknown.Record(ctx, "pending:"+key, oi.Symbol, submitErr.Error()); err != nil {
				return Outcome{}, fmt.Errorf("record unknown order: %w", err)
			}
			if err := idem.Transition(ctx, key, store.ReservationFailed, nil); err != nil {
				return Outcome{}, fmt.Errorf("transition to failed after uncertain: %w", err)
			}
			if err := s.appendEvent(ctx, events, oi, cycleID, EventUncertain, 1); err != nil {
				return Outcome{}, err
			}
			s.logger.Warn("uncertain submission outcome", "client_order_id", key, "err", submitErr.Error())
			return Outcome{Intent: oi, EventType: EventUncertain, Err: submitErr}, nil
		}

		if err := idem.Transition(ctx, key, store.ReservationFailed, nil); err != nil {
			return Outcome{}, fmt.Errorf("transition to failed: %w", err)
		}
		if err := s.appendEvent(ctx, events, oi, cycleID, EventSubmitFailed, 1); err != nil {
			return Outcome{}, err
		}
		if s.metrics != nil && s.metrics.RejectsTotal != nil {
			s.metrics.RejectsTotal.Add(ctx, 1)
		}
		return Outcome{Intent: oi, EventType: EventSubmitFailed, Err: submitErr}, nil
	}

	order := domain.Order{
		OrderID:         uuid.NewString(),
		ClientOrderID:   key,
		ExchangeOrderID: &exo.ExchangeOrderID,
		Symbol:          oi.Symbol,
		Side:            oi.Side,
		Type:            oi.OrderType,
		Price:           oi.PriceQuote,
		Qty:             oi.Qty,
		FilledQty:       exo.FilledQty,
		Status:          domain.StatusAcked,
		LastUpdate:      now,
		IntentHash:      intentHash,
		Mode:            domain.ModeLive,
	}
	if err := orders.Upsert(ctx, order); err != nil {
		return Outcome{}, fmt.Errorf("upsert order: %w", err)
	}
	if err := idem.Transition(ctx, key, store.ReservationCommitted, &key); err != nil {
		return Outcome{}, fmt.Errorf("transition to committed: %w", err)
	}
	if err := s.appendEvent(ctx, events, oi, cycleID, EventAck, 1); err != nil {
		return Outcome{}, err
	}
	if s.metrics != nil && s.metrics.OrdersSubmittedTotal != nil {
		s.metrics.OrdersSubmittedTotal.Add(ctx, 1)
	}
	return Outcome{Intent: oi, EventType: EventAck}, nil
}

func (s *Submitter) appendEvent(ctx context.Context, events *store.OrderEventsRepo, oi domain.OrderIntent, cycleID, eventType string, seq int) error {
	e := domain.OrderEvent{
		EventID:       domain.ComputeOrderEventID(oi.ClientOrderID, seq, eventType),
		Ts:            s.now(),
		ClientOrderID: oi.ClientOrderID,
		EventType:     eventType,
		CycleID:       cycleID,
	}
	if err := events.Append(ctx, e); err != nil {
		return fmt.Errorf("append %s event: %w", eventType, err)
	}
	return nil
}
