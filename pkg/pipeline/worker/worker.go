// Package worker runs one pipeline stage over a batch of items with bounded
// parallelism. Failures are classified and retried per policy item-by-item;
// a single item's failure never aborts the batch or blocks other items, and
// the returned outcome slice preserves input order regardless of completion
// order.
package worker

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/shpitdev/digestflow/pkg/pipeline/errclass"
	"github.com/shpitdev/digestflow/pkg/pipeline/retry"
)

// Outcome is the per-item result of one stage. Exactly one of Value and Err
// is meaningful: Err is nil on success. Outcome i corresponds to input item i.
type Outcome[Out any] struct {
	Value    Out
	Err      *errclass.Error
	Attempts int
}

// Options configures one stage execution.
type Options struct {
	// MaxConcurrency caps the number of simultaneously executing workers.
	MaxConcurrency int

	// Stage tags classified failures with their originating stage.
	Stage errclass.Stage

	// Policy governs per-item retries. Zero value falls back to retry.Default.
	Policy retry.Policy

	// AttemptTimeout bounds each individual attempt. <=0 disables.
	AttemptTimeout time.Duration

	// RateLimitRPS is a global limit shared across all workers of the stage.
	// Set to <=0 to disable.
	RateLimitRPS float64
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 4
	}
	if o.AttemptTimeout < 0 {
		o.AttemptTimeout = 0
	}
	return o
}

// Run processes all items through fn with at most opts.MaxConcurrency workers.
//
// Each item is attempted until it succeeds, its classified failure is
// terminal, or the retry policy is exhausted. Run always returns an outcome
// slice of len(items): when ctx is cancelled mid-batch, no new attempts are
// scheduled, in-flight attempts wind down, and items that never completed are
// recorded as failed with the cancellation cause.
func Run[In any, Out any](
	ctx context.Context,
	items []In,
	fn func(context.Context, In) (Out, error),
	opts Options,
) []Outcome[Out] {
	opts = opts.withDefaults()

	out := make([]Outcome[Out], len(items))
	if len(items) == 0 {
		return out
	}

	var limiter *rate.Limiter
	if opts.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), 1)
	}

	type job struct {
		idx int
		in  In
	}
	type completion struct {
		idx int
		res Outcome[Out]
	}

	jobs := make(chan job)
	done := make(chan completion, opts.MaxConcurrency)

	var wg sync.WaitGroup
	for i := 0; i < opts.MaxConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				res := processOne(ctx, j.in, fn, limiter, opts)
				done <- completion{idx: j.idx, res: res}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, item := range items {
			select {
			case jobs <- job{idx: i, in: item}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(done)
	}()

	filled := make([]bool, len(items))
	for c := range done {
		out[c.idx] = c.res
		filled[c.idx] = true
	}

	// Items the dispatcher dropped on cancellation still need an outcome.
	for i := range out {
		if filled[i] {
			continue
		}
		cause := context.Cause(ctx)
		if cause == nil {
			cause = context.Canceled
		}
		out[i] = Outcome[Out]{Err: errclass.Classify(cause, opts.Stage)}
	}
	return out
}

func processOne[In any, Out any](
	ctx context.Context,
	item In,
	fn func(context.Context, In) (Out, error),
	limiter *rate.Limiter,
	opts Options,
) Outcome[Out] {
	var last Outcome[Out]
	for attempt := 1; ; attempt++ {
		last.Attempts = attempt

		if err := ctx.Err(); err != nil {
			last.Err = errclass.Classify(context.Cause(ctx), opts.Stage).WithAttempts(attempt)
			return last
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				last.Err = errclass.Classify(err, opts.Stage).WithAttempts(attempt)
				return last
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if opts.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, opts.AttemptTimeout)
		}
		val, err := fn(attemptCtx, item)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			last.Value = val
			last.Err = nil
			return last
		}

		cerr := errclass.Classify(err, opts.Stage)
		dec := opts.Policy.Decide(attempt, cerr)
		if !dec.Retry {
			last.Err = cerr.WithAttempts(attempt)
			return last
		}

		t := time.NewTimer(dec.Delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			last.Err = cerr.WithAttempts(attempt)
			return last
		}
	}
}
