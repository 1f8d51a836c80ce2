package retry_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shpitdev/digestflow/pkg/pipeline/errclass"
	"github.com/shpitdev/digestflow/pkg/pipeline/retry"
)

func classified(category errclass.Category) *errclass.Error {
	switch category {
	case errclass.CategoryInputValidation:
		return errclass.Classify(&errclass.ValidationError{Err: errors.New("bad")}, errclass.StageFetch)
	case errclass.CategoryAuthentication:
		return errclass.Classify(&errclass.AuthError{Err: errors.New("denied")}, errclass.StageFetch)
	case errclass.CategoryRateLimit:
		return errclass.Classify(&errclass.RateLimitError{Err: errors.New("throttled")}, errclass.StageFetch)
	case errclass.CategoryExternalService:
		return errclass.Classify(errclass.NewStatusError("x", 502, "502 Bad Gateway", nil), errclass.StageFetch)
	default:
		return errclass.Classify(errors.New("wat"), errclass.StageFetch)
	}
}

func TestDecide_TerminalNeverRetries(t *testing.T) {
	t.Parallel()

	p := retry.Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Second, BackoffRate: 2}
	for _, c := range []errclass.Category{errclass.CategoryInputValidation, errclass.CategoryAuthentication} {
		if d := p.Decide(1, classified(c)); d.Retry {
			t.Errorf("%s retried on attempt 1", c)
		}
	}
	if d := p.Decide(1, nil); d.Retry {
		t.Error("nil error must not retry")
	}
}

func TestDecide_StopsAtMaxAttempts(t *testing.T) {
	t.Parallel()

	p := retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second, BackoffRate: 2}
	cerr := classified(errclass.CategoryExternalService)

	if d := p.Decide(1, cerr); !d.Retry {
		t.Fatal("attempt 1 should retry")
	}
	if d := p.Decide(2, cerr); !d.Retry {
		t.Fatal("attempt 2 should retry")
	}
	if d := p.Decide(3, cerr); d.Retry {
		t.Fatal("attempt 3 must exhaust the budget")
	}
}

func TestDecide_UnknownGetsSingleRetry(t *testing.T) {
	t.Parallel()

	p := retry.Policy{MaxAttempts: 10, BaseDelay: time.Millisecond, MaxDelay: time.Second, BackoffRate: 2}
	cerr := classified(errclass.CategoryUnknown)

	if d := p.Decide(1, cerr); !d.Retry {
		t.Fatal("unknown failures get one retry")
	}
	if d := p.Decide(2, cerr); d.Retry {
		t.Fatal("unknown failures get at most one retry")
	}
}

func TestDecide_BackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	p := retry.Policy{
		MaxAttempts: 10,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    500 * time.Millisecond,
		BackoffRate: 2,
		JitterFrac:  0,
	}
	cerr := classified(errclass.CategoryExternalService)

	d1 := p.Decide(1, cerr)
	d2 := p.Decide(2, cerr)
	d3 := p.Decide(3, cerr)
	d5 := p.Decide(5, cerr)

	if d1.Delay != 100*time.Millisecond {
		t.Fatalf("attempt 1 delay = %s, want 100ms", d1.Delay)
	}
	if d2.Delay != 200*time.Millisecond {
		t.Fatalf("attempt 2 delay = %s, want 200ms", d2.Delay)
	}
	if d3.Delay != 400*time.Millisecond {
		t.Fatalf("attempt 3 delay = %s, want 400ms", d3.Delay)
	}
	if d5.Delay != 500*time.Millisecond {
		t.Fatalf("attempt 5 delay = %s, want cap of 500ms", d5.Delay)
	}
}

func TestDecide_RateLimitUsesLongerBase(t *testing.T) {
	t.Parallel()

	p := retry.Policy{
		MaxAttempts:    5,
		BaseDelay:      100 * time.Millisecond,
		RateLimitDelay: 2 * time.Second,
		MaxDelay:       time.Minute,
		BackoffRate:    2,
		JitterFrac:     0,
	}

	plain := p.Decide(1, classified(errclass.CategoryExternalService))
	limited := p.Decide(1, classified(errclass.CategoryRateLimit))

	if plain.Delay != 100*time.Millisecond {
		t.Fatalf("plain delay = %s", plain.Delay)
	}
	if limited.Delay != 2*time.Second {
		t.Fatalf("rate-limited delay = %s, want 2s", limited.Delay)
	}
}

func TestDecide_JitterStaysWithinBounds(t *testing.T) {
	t.Parallel()

	p := retry.Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
		BackoffRate: 2,
		JitterFrac:  0.2,
	}
	cerr := classified(errclass.CategoryExternalService)

	for i := 0; i < 100; i++ {
		d := p.Decide(1, cerr)
		if d.Delay < 800*time.Millisecond || d.Delay > 1200*time.Millisecond {
			t.Fatalf("jittered delay %s outside +/-20%% of 1s", d.Delay)
		}
	}
}
