package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/ace-labs/ace/internal/acerr"
)

// RetryPolicy is the per-error-category retry budget from spec §4.5.
type RetryPolicy struct {
	MaxAttempts int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryPolicies returns the category→policy map specified in §4.5.
func DefaultRetryPolicies() map[acerr.ErrorCategory]RetryPolicy {
	return map[acerr.ErrorCategory]RetryPolicy{
		acerr.CategoryNetwork:         {MaxAttempts: 3, InitialDelay: 200 * time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Second},
		acerr.CategoryExternalService: {MaxAttempts: 2, InitialDelay: 500 * time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Second},
		acerr.CategoryTimeout:         {MaxAttempts: 0, InitialDelay: 0, Multiplier: 1, MaxDelay: 0},
		acerr.CategoryOther:           {MaxAttempts: 0, InitialDelay: 0, Multiplier: 1, MaxDelay: 0},
	}
}

// WithRetry runs fn, retrying per the policy selected by the error category
// of the failure it returns (grounded on internal/storage's jittered
// exponential backoff loop). A Timeout category never retries (budget 0),
// matching §7's "no retry was attempted" invariant.
func WithRetry(ctx context.Context, policies map[acerr.ErrorCategory]RetryPolicy, fn func(ctx context.Context) error) error {
	var err error
	var category acerr.ErrorCategory
	delay := time.Duration(0)

	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		category = acerr.Categorize(err)
		policy, ok := policies[category]
		if !ok || policy.MaxAttempts == 0 || attempt >= policy.MaxAttempts {
			return err
		}
		if delay == 0 {
			delay = policy.InitialDelay
		}
		jitter := time.Duration(0)
		if delay > 0 {
			jitter = time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		}
		wait := delay + jitter
		if policy.MaxDelay > 0 && wait > policy.MaxDelay {
			wait = policy.MaxDelay
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay = time.Duration(float64(delay) * policy.Multiplier)
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
}
