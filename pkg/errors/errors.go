// Package apperrors defines the sentinel error taxonomy shared by the
// exchange adapter, the risk gates and the cycle runner.
package apperrors

import "errors"

// Kind classifies an error for retry, gating and alerting purposes.
type Kind int

const (
	KindUnknown Kind = iota
	KindRateLimit
	KindTransient
	KindAuth
	KindReject
	KindUncertain
	KindFatal
	KindOracle
)

func (k Kind) String() string {
	switch k {
	case KindRateLimit:
		return "RATE_LIMIT"
	case KindTransient:
		return "TRANSIENT"
	case KindAuth:
		return "AUTH"
	case KindReject:
		return "REJECT"
	case KindUncertain:
		return "UNCERTAIN"
	case KindFatal:
		return "FATAL"
	case KindOracle:
		return "ORACLE"
	default:
		return "UNKNOWN"
	}
}

// Retryable reports whether the runner should retry an operation that
// failed with this Kind.
func (k Kind) Retryable() bool {
	return k == KindRateLimit || k == KindTransient
}

// Standardized exchange errors, kept from the original adapter taxonomy.
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrInvalidSymbol         = errors.New("invalid symbol")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrExchangeMaintenance   = errors.New("exchange maintenance")
	ErrOrderNotFound         = errors.New("order not found")
	ErrDuplicateOrder        = errors.New("duplicate order")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrSystemOverload        = errors.New("system overload")
	ErrTimestampOutOfBounds  = errors.New("timestamp out of bounds")

	// Core-specific additions (spec section 7).
	ErrUncertain           = errors.New("ambiguous or timed-out submission")
	ErrInvariantViolation  = errors.New("invariant violation")
	ErrOracleMissingRate   = errors.New("missing mark or conversion rate")
	ErrLocked              = errors.New("database locked by another process")
	ErrReadOnly            = errors.New("write attempted on a read-only unit of work")
	ErrIdempotencyConflict = errors.New("idempotency key reused with a different payload")
)

// Classify maps a sentinel (or wrapped sentinel) error to its Kind. An
// error that matches none of the sentinels below is KindUnknown, which the
// runner treats as non-retryable.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrRateLimitExceeded):
		return KindRateLimit
	case errors.Is(err, ErrNetwork), errors.Is(err, ErrExchangeMaintenance), errors.Is(err, ErrSystemOverload):
		return KindTransient
	case errors.Is(err, ErrAuthenticationFailed):
		return KindAuth
	case errors.Is(err, ErrOrderRejected), errors.Is(err, ErrInvalidOrderParameter),
		errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrInvalidSymbol),
		errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrTimestampOutOfBounds):
		return KindReject
	case errors.Is(err, ErrUncertain):
		return KindUncertain
	case errors.Is(err, ErrInvariantViolation):
		return KindFatal
	case errors.Is(err, ErrOracleMissingRate):
		return KindOracle
	default:
		return KindUnknown
	}
}
