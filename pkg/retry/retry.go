// Package retry implements the exponential-backoff-with-full-jitter loop
// used by the OMS submit path (spec section 4.H, 6, 8 scenario D). Jitter
// is seeded by the attempt index rather than wall-clock entropy so that
// recorded delays are reproducible across identical replay runs.
package retry

import (
	"context"
	"math/rand"
	"strconv"
	"time"
)

// ParseRetryAfter parses an HTTP Retry-After header value, which is
// either a number of seconds or an HTTP-date (RFC1123). Unparsable values
// fall back to the 250ms floor via the ok=false path.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if when, err := time.Parse(time.RFC1123, value); err == nil {
		d := when.Sub(now)
		if d < 0 {
			return 0, true
		}
		return d, true
	}
	return 0, false
}

// Policy defines how to retry an operation.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxTotalSleep bounds the cumulative time spent sleeping across all
	// attempts (spec section 5, "no indefinite waits").
	MaxTotalSleep time.Duration
}

// DefaultPolicy is a sensible default retry policy.
var DefaultPolicy = Policy{
	MaxAttempts:    5,
	InitialBackoff: 250 * time.Millisecond,
	MaxBackoff:     10 * time.Second,
	MaxTotalSleep:  30 * time.Second,
}

// IsTransientFunc reports whether an error should be retried.
type IsTransientFunc func(error) bool

// RetryAfterFunc extracts a server-mandated wait (e.g. from a 429's
// Retry-After header) for the error just observed. It returns false when
// the error carries no explicit wait hint.
type RetryAfterFunc func(error) (time.Duration, bool)

// FullJitterBackoff returns backoff*2^attempt capped at max, jittered
// uniformly in [0, backoff) using a source seeded deterministically by the
// attempt index — the same attempt always produces the same delay in
// tests, satisfying the determinism property (spec section 8, property 1).
func FullJitterBackoff(attempt int, base, max time.Duration) time.Duration {
	capped := base << uint(attempt)
	if capped <= 0 || capped > max {
		capped = max
	}
	src := rand.New(rand.NewSource(int64(attempt) + 1))
	if capped <= 0 {
		return 0
	}
	return time.Duration(src.Int63n(int64(capped)))
}

// Do executes fn with retries according to policy. If retryAfter is
// non-nil and returns a hint, that hint takes precedence over the computed
// jittered backoff (spec: "honoring any Retry-After"), floored at 250ms.
func Do(ctx context.Context, policy Policy, isTransient IsTransientFunc, retryAfter RetryAfterFunc, fn func() error) error {
	var err error
	var totalSlept time.Duration

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if !isTransient(err) {
			return err
		}

		if attempt == policy.MaxAttempts-1 {
			break
		}

		sleep := FullJitterBackoff(attempt, policy.InitialBackoff, policy.MaxBackoff)
		if retryAfter != nil {
			if hint, ok := retryAfter(err); ok {
				sleep = hint
			}
		}
		if sleep < 250*time.Millisecond {
			sleep = 250 * time.Millisecond
		}

		if policy.MaxTotalSleep > 0 && totalSlept+sleep > policy.MaxTotalSleep {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
			totalSlept += sleep
		}
	}

	return err
}
