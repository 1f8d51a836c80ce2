package worker_test

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shpitdev/digestflow/pkg/pipeline/errclass"
	"github.com/shpitdev/digestflow/pkg/pipeline/retry"
	"github.com/shpitdev/digestflow/pkg/pipeline/worker"
)

func quickPolicy(maxAttempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   1 * time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		BackoffRate: 2.0,
		JitterFrac:  0,
	}
}

func TestRun_RetriesTransientUntilSuccess(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := 0
	failUntil := 2

	fn := func(_ context.Context, in string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= failUntil {
			return "", errclass.NewStatusError("fetch", 503, "503 Service Unavailable", nil)
		}
		return in + ":ok", nil
	}

	out := worker.Run(context.Background(), []string{"a"}, fn, worker.Options{
		MaxConcurrency: 1,
		Stage:          errclass.StageFetch,
		Policy:         quickPolicy(3),
	})
	if len(out) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(out))
	}
	if out[0].Err != nil || out[0].Value != "a:ok" {
		t.Fatalf("unexpected outcome: %#v", out[0])
	}
	if out[0].Attempts != 3 {
		t.Fatalf("expected 3 attempts recorded, got %d", out[0].Attempts)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRun_TerminalFailureIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	fn := func(_ context.Context, _ string) (string, error) {
		calls.Add(1)
		return "", &errclass.ValidationError{Err: errors.New("empty body")}
	}

	out := worker.Run(context.Background(), []string{"a"}, fn, worker.Options{
		MaxConcurrency: 1,
		Stage:          errclass.StageParse,
		Policy:         quickPolicy(10),
	})
	if out[0].Err == nil {
		t.Fatalf("expected failure, got %#v", out[0])
	}
	if got := out[0].Err.Category; got != errclass.CategoryInputValidation {
		t.Fatalf("expected input_validation, got %s", got)
	}
	if out[0].Err.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", out[0].Err.Attempts)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("expected 1 call, got %d", n)
	}
}

func TestRun_ExhaustsRetryBudgetExactly(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	fn := func(_ context.Context, _ string) (string, error) {
		calls.Add(1)
		return "", errclass.NewStatusError("summarize", 502, "502 Bad Gateway", nil)
	}

	out := worker.Run(context.Background(), []string{"a"}, fn, worker.Options{
		MaxConcurrency: 1,
		Stage:          errclass.StageSummarize,
		Policy:         quickPolicy(3),
	})
	if out[0].Err == nil {
		t.Fatalf("expected failure, got %#v", out[0])
	}
	if got := out[0].Err.Category; got != errclass.CategoryExternalService {
		t.Fatalf("expected external_service, got %s", got)
	}
	if out[0].Err.Attempts != 3 {
		t.Fatalf("expected attempts=3 on the classified error, got %d", out[0].Err.Attempts)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("expected exactly 3 calls, got %d", n)
	}
}

func TestRun_UnknownFailureGetsOneExtraAttempt(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	fn := func(_ context.Context, _ string) (string, error) {
		calls.Add(1)
		return "", errors.New("wat")
	}

	worker.Run(context.Background(), []string{"a"}, fn, worker.Options{
		MaxConcurrency: 1,
		Stage:          errclass.StageFetch,
		Policy:         quickPolicy(10),
	})
	if n := calls.Load(); n != 2 {
		t.Fatalf("expected 2 calls for unknown failure, got %d", n)
	}
}

func TestRun_BoundsConcurrencyAndPreservesOrder(t *testing.T) {
	t.Parallel()

	var inFlight atomic.Int32
	var peak atomic.Int32

	fn := func(_ context.Context, in int) (string, error) {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return strconv.Itoa(in), nil
	}

	items := make([]int, 8)
	for i := range items {
		items[i] = i
	}
	out := worker.Run(context.Background(), items, fn, worker.Options{
		MaxConcurrency: 2,
		Stage:          errclass.StageFetch,
		Policy:         quickPolicy(1),
	})

	if p := peak.Load(); p > 2 {
		t.Fatalf("concurrency ceiling violated: observed %d in flight", p)
	}
	for i, o := range out {
		if o.Err != nil || o.Value != strconv.Itoa(i) {
			t.Fatalf("outcome %d does not match input: %#v", i, o)
		}
	}
}

func TestRun_FailureDoesNotAbortBatch(t *testing.T) {
	t.Parallel()

	fn := func(_ context.Context, in int) (string, error) {
		if in == 1 {
			return "", &errclass.ValidationError{Err: fmt.Errorf("item %d is bad", in)}
		}
		return strconv.Itoa(in), nil
	}

	out := worker.Run(context.Background(), []int{0, 1, 2}, fn, worker.Options{
		MaxConcurrency: 3,
		Stage:          errclass.StageFetch,
		Policy:         quickPolicy(1),
	})
	if len(out) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(out))
	}
	if out[0].Err != nil || out[2].Err != nil {
		t.Fatalf("healthy items failed: %#v %#v", out[0], out[2])
	}
	if out[1].Err == nil {
		t.Fatalf("expected item 1 to fail")
	}
}

func TestRun_CancellationFillsEveryOutcome(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 1)

	fn := func(ctx context.Context, in int) (string, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(2 * time.Second):
			return strconv.Itoa(in), nil
		}
	}

	go func() {
		<-started
		cancel()
	}()

	out := worker.Run(ctx, []int{0, 1, 2, 3}, fn, worker.Options{
		MaxConcurrency: 1,
		Stage:          errclass.StageFetch,
		Policy:         quickPolicy(1),
		AttemptTimeout: 5 * time.Second,
	})
	if len(out) != 4 {
		t.Fatalf("expected 4 outcomes, got %d", len(out))
	}
	for i, o := range out {
		if o.Err == nil {
			t.Fatalf("outcome %d should carry the cancellation failure: %#v", i, o)
		}
		if got := o.Err.Category; got != errclass.CategoryNetwork {
			t.Fatalf("outcome %d category = %s, want network", i, got)
		}
	}
}
