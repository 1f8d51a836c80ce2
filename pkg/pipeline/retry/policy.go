// Package retry decides whether a classified failure is re-attempted and how
// long to wait first. The policy is a pure function of (attempt, error); it
// performs no I/O and no sleeping itself.
package retry

import (
	"math/rand/v2"
	"time"

	"github.com/shpitdev/digestflow/pkg/pipeline/errclass"
)

// Policy holds the per-stage retry parameters.
type Policy struct {
	// MaxAttempts counts the first attempt plus retries. An item is never
	// attempted more than MaxAttempts times.
	MaxAttempts int

	// BaseDelay is the sleep before the first retry.
	BaseDelay time.Duration
	// RateLimitDelay replaces BaseDelay when the failure is a rate-limit
	// signal. Zero means use BaseDelay.
	RateLimitDelay time.Duration
	// MaxDelay caps exponential backoff.
	MaxDelay time.Duration
	// BackoffRate multiplies the delay after each attempt.
	BackoffRate float64
	// JitterFrac applies +/- jitter to computed delays (0.2 = +/-20%).
	// Zero disables jitter; tests rely on that.
	JitterFrac float64
}

// Decision is the outcome of consulting the policy for one failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Default is the policy applied when a stage does not override it.
var Default = Policy{
	MaxAttempts:    3,
	BaseDelay:      200 * time.Millisecond,
	RateLimitDelay: 2 * time.Second,
	MaxDelay:       30 * time.Second,
	BackoffRate:    2.0,
	JitterFrac:     0.2,
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = Default.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = Default.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = Default.MaxDelay
	}
	if p.BackoffRate < 1 {
		p.BackoffRate = Default.BackoffRate
	}
	return p
}

// Decide reports whether the item should be re-attempted after its attempt'th
// try failed with cerr, and with what delay.
//
// Terminal categories are never retried. Unknown failures get a single retry
// before going terminal regardless of MaxAttempts.
func (p Policy) Decide(attempt int, cerr *errclass.Error) Decision {
	p = p.withDefaults()

	if cerr == nil || !cerr.Retryable() {
		return Decision{}
	}

	max := p.MaxAttempts
	if cerr.Category == errclass.CategoryUnknown && max > 2 {
		max = 2
	}
	if attempt >= max {
		return Decision{}
	}

	base := p.BaseDelay
	if cerr.Category == errclass.CategoryRateLimit && p.RateLimitDelay > 0 {
		base = p.RateLimitDelay
	}

	return Decision{Retry: true, Delay: p.backoff(base, attempt)}
}

func (p Policy) backoff(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt && delay < p.MaxDelay; i++ {
		delay = time.Duration(float64(delay) * p.BackoffRate)
		if delay > p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.JitterFrac <= 0 {
		return delay
	}
	j := 1 + (rand.Float64()*2-1)*p.JitterFrac
	return time.Duration(float64(delay) * j)
}
