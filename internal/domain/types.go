package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is a BUY or SELL direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType distinguishes LIMIT from MARKET orders.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// OrderStatus is the OMS terminal-state machine (spec section 3).
type OrderStatus string

const (
	StatusPlanned         OrderStatus = "PLANNED"
	StatusSubmitted       OrderStatus = "SUBMITTED"
	StatusAcked           OrderStatus = "ACKED"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether a status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected:
		return true
	default:
		return false
	}
}

// ValidTransition reports whether the order state machine permits from->to.
func ValidTransition(from, to OrderStatus) bool {
	if from == to && from == StatusPartiallyFilled {
		return true
	}
	switch from {
	case StatusPlanned:
		return to == StatusSubmitted || to == StatusRejected
	case StatusSubmitted:
		return to == StatusAcked || to == StatusRejected
	case StatusAcked:
		return to == StatusPartiallyFilled || to == StatusFilled || to == StatusCanceled || to == StatusRejected
	case StatusPartiallyFilled:
		return to == StatusFilled || to == StatusCanceled || to == StatusRejected
	default:
		return false
	}
}

// OrderMode records who caused an Order row to exist.
type OrderMode string

const (
	ModeDryRun   OrderMode = "dry_run"
	ModeLive     OrderMode = "live"
	ModeExternal OrderMode = "external"
)

// RiskMode is the cycle's current safety posture, ordered NORMAL <
// REDUCE_RISK_ONLY < OBSERVE_ONLY (spec section 3, 8 property 5).
type RiskMode int

const (
	ModeNormal RiskMode = iota
	ModeReduceRiskOnly
	ModeObserveOnly
)

func (m RiskMode) String() string {
	switch m {
	case ModeNormal:
		return "NORMAL"
	case ModeReduceRiskOnly:
		return "REDUCE_RISK_ONLY"
	case ModeObserveOnly:
		return "OBSERVE_ONLY"
	default:
		return "UNKNOWN"
	}
}

// Max returns the higher (stricter) of two risk modes.
func Max(a, b RiskMode) RiskMode {
	if a > b {
		return a
	}
	return b
}

// PairRules is the per-symbol quantization contract (spec section 3, 4.A).
type PairRules struct {
	Symbol           string
	PriceTick        decimal.Decimal
	QtyStep          decimal.Decimal
	MinNotionalQuote decimal.Decimal
	PricePrecision   int
	QtyPrecision     int
}

// Validate enforces the PairRules invariants.
func (r PairRules) Validate() error {
	if !r.PriceTick.IsPositive() {
		return fmt.Errorf("pair rules %s: price_tick must be > 0", r.Symbol)
	}
	if !r.QtyStep.IsPositive() {
		return fmt.Errorf("pair rules %s: qty_step must be > 0", r.Symbol)
	}
	if r.PricePrecision < 0 || r.QtyPrecision < 0 {
		return fmt.Errorf("pair rules %s: precision must be >= 0", r.Symbol)
	}
	return nil
}

// Intent is a strategy's output before allocation and sizing.
type Intent struct {
	IntentID       string
	CycleID        string
	Symbol         string
	Side           Side
	Qty            decimal.Decimal
	LimitPrice     *decimal.Decimal
	Reason         string
	Confidence     float64
	TTLSeconds     *int
	IdempotencyKey string
	CreatedAt      time.Time
}

// ComputeIdempotencyKey derives the deterministic idempotency key:
// SHA256(cycle_id|symbol|side|qty|limit_price).
func ComputeIdempotencyKey(cycleID, symbol string, side Side, qty decimal.Decimal, limitPrice *decimal.Decimal) string {
	price := "nil"
	if limitPrice != nil {
		price = limitPrice.String()
	}
	payload := fmt.Sprintf("%s|%s|%s|%s|%s", cycleID, symbol, side, qty.String(), price)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// OrderIntent is the post-allocation, sized order request (spec section 3, 4.F).
type OrderIntent struct {
	CycleID           string
	Symbol            string
	Side              Side
	OrderType         OrderType
	PriceQuote        decimal.Decimal
	Qty               decimal.Decimal
	NotionalQuote     decimal.Decimal
	ClientOrderID     string
	Reason            string
	ConstraintsApplied []string
	Skipped           bool
	SkipReason        string
}

// ComputeClientOrderID derives the deterministic, <=50 char client order id:
// "b4-<sym6>-<side1>-<sha256(internalID)[:32]>".
func ComputeClientOrderID(symbol string, side Side, internalID string) string {
	sym6 := NormalizeSymbol(symbol)
	if len(sym6) > 6 {
		sym6 = sym6[:6]
	}
	sideChar := "B"
	if side == SideSell {
		sideChar = "S"
	}
	sum := sha256.Sum256([]byte(internalID))
	hash := hex.EncodeToString(sum[:])[:32]
	id := fmt.Sprintf("b4-%s-%s-%s", sym6, sideChar, hash)
	if len(id) > 50 {
		id = id[:50]
	}
	return id
}

// Order is the execution record tracked through the OMS state machine.
type Order struct {
	OrderID         string
	ClientOrderID   string
	ExchangeOrderID *string
	Symbol          string
	Side            Side
	Type            OrderType
	Price           decimal.Decimal
	Qty             decimal.Decimal
	FilledQty       decimal.Decimal
	AvgFillPrice    *decimal.Decimal
	Status          OrderStatus
	LastUpdate      time.Time
	IntentHash      string
	Mode            OrderMode
}

// OrderEvent is an append-only audit record of an order state transition.
type OrderEvent struct {
	EventID       string
	Ts            time.Time
	ClientOrderID string
	OrderID       string
	EventType     string
	Payload       string
	CycleID       string
}

// ComputeOrderEventID derives "s7e:" + sha256(cid|seq|type)[:12].
func ComputeOrderEventID(clientOrderID string, seq int, eventType string) string {
	payload := fmt.Sprintf("%s|%d|%s", clientOrderID, seq, eventType)
	sum := sha256.Sum256([]byte(payload))
	return "s7e:" + hex.EncodeToString(sum[:])[:12]
}

// LedgerEventType enumerates the ledger's append-only event kinds.
type LedgerEventType string

const (
	LedgerFill         LedgerEventType = "FILL"
	LedgerFee          LedgerEventType = "FEE"
	LedgerFundingCost  LedgerEventType = "FUNDING_COST"
	LedgerSlippage     LedgerEventType = "SLIPPAGE"
	LedgerTransfer     LedgerEventType = "TRANSFER"
	LedgerRebalance    LedgerEventType = "REBALANCE"
	LedgerWithdrawal   LedgerEventType = "WITHDRAWAL"
)

// LedgerEvent is a single append-only accounting fact.
type LedgerEvent struct {
	EventID         string
	Ts              time.Time
	Symbol          string
	Type            LedgerEventType
	Side            *Side
	Qty             decimal.Decimal
	Price           *decimal.Decimal
	Fee             *decimal.Decimal
	FeeCurrency     *string
	ExchangeTradeID *string
	ClientOrderID   *string
	Meta            map[string]string
}

// UniqueKey returns the value used for ledger-event deduplication:
// exchange_trade_id, or a synthesized "fee:<trade_id>" for fee-only rows.
// SLIPPAGE rows (recorded alongside a FILL for the same trade, spec
// section 4.D's equity formula) are synthesized the same way so they
// never collide with the FILL row's own unique key.
func (e LedgerEvent) UniqueKey() string {
	if e.ExchangeTradeID != nil && *e.ExchangeTradeID != "" {
		switch e.Type {
		case LedgerFee:
			return "fee:" + *e.ExchangeTradeID
		case LedgerSlippage:
			return "slippage:" + *e.ExchangeTradeID
		default:
			return *e.ExchangeTradeID
		}
	}
	return e.EventID
}

// Position is the derived per-symbol holding, always non-negative (spot only).
type Position struct {
	Symbol            string
	Qty               decimal.Decimal
	AvgCostQuote      decimal.Decimal
	RealizedPnLQuote  decimal.Decimal
	UnrealizedPnLQuote decimal.Decimal
	FeesPaidQuote     decimal.Decimal
	UpdatedAt         time.Time
}

// RiskDecision is the outcome of the risk gates for one cycle.
type RiskDecision struct {
	Mode          RiskMode
	Reasons       []string
	Limits        map[string]string
	Signals       map[string]string
	CooldownUntil *time.Time
	DecidedAt     time.Time
	InputsHash    string
}

// CycleMetrics is the per-cycle aggregate persisted once at cycle end.
type CycleMetrics struct {
	CycleID                string
	TsStart                time.Time
	TsEnd                  time.Time
	Mode                   RiskMode
	FillsCount             int
	OrdersSubmitted        int
	OrdersCanceled         int
	RejectsCount           int
	FillsPerSubmittedOrder float64
	SlippageBpsAvg         float64
	FeesByCurrency         map[string]decimal.Decimal
	PnL                    decimal.Decimal
	Meta                   map[string]string
}
