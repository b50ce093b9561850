// Package money implements quantization of decimal prices, quantities
// and fees against a symbol's exchange rules (spec section 4.A). Every
// rounding here truncates toward zero so a requester's budget is never
// exceeded by quantization.
package money

import (
	"fmt"

	"market_maker/internal/domain"

	"github.com/shopspring/decimal"
)

// Policy holds the quantization parameters for a single symbol.
type Policy struct {
	PriceTick      decimal.Decimal
	QtyStep        decimal.Decimal
	FeePrecision   int32
	QuotePrecision int32
	Epsilon        decimal.Decimal
}

// NewPolicy builds a Policy from a symbol's PairRules.
func NewPolicy(rules domain.PairRules, feePrecision, quotePrecision int32, epsilon decimal.Decimal) Policy {
	return Policy{
		PriceTick:      rules.PriceTick,
		QtyStep:        rules.QtyStep,
		FeePrecision:   feePrecision,
		QuotePrecision: quotePrecision,
		Epsilon:        epsilon,
	}
}

// quantizeDownToStep rounds v toward zero to the nearest multiple of step.
func quantizeDownToStep(v, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return v
	}
	units := v.Div(step).Truncate(0)
	return units.Mul(step)
}

// RoundPrice quantizes a price toward zero to the symbol's price tick.
func (p Policy) RoundPrice(price decimal.Decimal) decimal.Decimal {
	return quantizeDownToStep(price, p.PriceTick)
}

// RoundQty quantizes a quantity toward zero to the symbol's qty step.
func (p Policy) RoundQty(qty decimal.Decimal) decimal.Decimal {
	return quantizeDownToStep(qty, p.QtyStep)
}

// RoundFee truncates a fee to FeePrecision decimal places, toward zero.
func (p Policy) RoundFee(fee decimal.Decimal) decimal.Decimal {
	return fee.Truncate(p.FeePrecision)
}

// RoundQuote truncates a quote-currency amount to QuotePrecision places,
// toward zero.
func (p Policy) RoundQuote(amount decimal.Decimal) decimal.Decimal {
	return amount.Truncate(p.QuotePrecision)
}

// SizeStatus is the outcome of SizeOrderFromNotional.
type SizeStatus string

const (
	SizeOK               SizeStatus = "OK"
	SizeBelowMinNotional SizeStatus = "BELOW_MIN_NOTIONAL"
	SizeInvalid          SizeStatus = "INVALID"
)

// SizeResult is the quantized order produced from a desired notional.
type SizeResult struct {
	Status          SizeStatus
	QuantizedPrice  decimal.Decimal
	QuantizedQty    decimal.Decimal
	Notional        decimal.Decimal
	Reason          string
}

// SizeOrderFromNotional derives a quantized price/qty pair that does not
// exceed desiredNotional, rejecting results that land strictly below
// min_notional. fallbackMinNotional is used when rules.MinNotionalQuote is
// zero (unset).
func (p Policy) SizeOrderFromNotional(desiredNotional, desiredPrice decimal.Decimal, rules domain.PairRules, fallbackMinNotional decimal.Decimal) SizeResult {
	if desiredNotional.IsNegative() || !desiredPrice.IsPositive() {
		return SizeResult{Status: SizeInvalid, Reason: "non-positive notional or price"}
	}

	price := p.RoundPrice(desiredPrice)
	if !price.IsPositive() {
		return SizeResult{Status: SizeInvalid, Reason: "quantized price is non-positive"}
	}

	rawQty := desiredNotional.Div(price)
	qty := p.RoundQty(rawQty)
	if !qty.IsPositive() {
		return SizeResult{Status: SizeInvalid, Reason: "quantized quantity is non-positive"}
	}

	notional := p.RoundQuote(qty.Mul(price))

	minNotional := rules.MinNotionalQuote
	if minNotional.IsZero() {
		minNotional = fallbackMinNotional
	}
	if notional.LessThan(minNotional) {
		return SizeResult{
			Status:         SizeBelowMinNotional,
			QuantizedPrice: price,
			QuantizedQty:   qty,
			Notional:       notional,
			Reason:         fmt.Sprintf("notional %s below min_notional %s", notional, minNotional),
		}
	}

	return SizeResult{
		Status:         SizeOK,
		QuantizedPrice: price,
		QuantizedQty:   qty,
		Notional:       notional,
	}
}
