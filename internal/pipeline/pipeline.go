// Package pipeline sequences the four processing stages (parse, fetch,
// summarize, notify) over one digest email and produces a single terminal
// report for the batch.
//
// The stage boundary rule is identical everywhere: run the bounded executor
// over the current success list, partition the outcomes, and either continue
// with the survivors or short-circuit when a stage with nonzero input yields
// zero successes. Stages never overlap: batch-level continuation decisions
// need the whole stage to finish.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/shpitdev/digestflow/internal/digest"
	"github.com/shpitdev/digestflow/internal/metrics"
	"github.com/shpitdev/digestflow/pkg/pipeline/errclass"
	"github.com/shpitdev/digestflow/pkg/pipeline/filter"
	"github.com/shpitdev/digestflow/pkg/pipeline/retry"
	"github.com/shpitdev/digestflow/pkg/pipeline/worker"
)

// Parser emits the initial batch from the raw email payload. Zero articles is
// a valid, non-error outcome.
type Parser interface {
	Parse(ctx context.Context, raw []byte) ([]digest.Article, error)
}

// Fetcher enriches an article with its retrieved content. Failures must be
// distinguishable (auth vs network vs rate limit) for classification.
type Fetcher interface {
	Fetch(ctx context.Context, a digest.Article) (digest.Article, error)
}

// Summarizer enriches an article with a generated summary and must signal
// failure rather than silently returning empty content.
type Summarizer interface {
	Summarize(ctx context.Context, a digest.Article) (digest.Article, error)
}

// Notifier delivers one finished article. Delivery is at-least-once; the
// implementation owns idempotent formatting.
type Notifier interface {
	Notify(ctx context.Context, a digest.Article) error
}

// Escalator receives critical-error notifications. Implementations swallow
// their own failures: a broken escalation channel must never interrupt a run.
type Escalator interface {
	Escalate(ctx context.Context, severity, msg string)
}

// StageOptions carries one stage's executor settings.
type StageOptions struct {
	MaxConcurrency int
	Policy         retry.Policy
	AttemptTimeout time.Duration
	RateLimitRPS   float64
}

// Options groups the per-stage settings. Concurrency ceilings exist to
// protect the weakest downstream link; the zero value falls back to the
// executor and policy defaults.
type Options struct {
	Parse     StageOptions
	Fetch     StageOptions
	Summarize StageOptions
	Notify    StageOptions
}

// Runner owns the lifecycle of all work items for the duration of one run.
// Runners are safe to reuse sequentially; concurrent runs must use separate
// Runner values.
type Runner struct {
	parser     Parser
	fetcher    Fetcher
	summarizer Summarizer
	notifier   Notifier
	escalator  Escalator
	opts       Options
	log        *slog.Logger
}

// NewRunner wires the four capabilities and the escalation sink.
func NewRunner(
	parser Parser,
	fetcher Fetcher,
	summarizer Summarizer,
	notifier Notifier,
	escalator Escalator,
	opts Options,
	log *slog.Logger,
) *Runner {
	return &Runner{
		parser:     parser,
		fetcher:    fetcher,
		summarizer: summarizer,
		notifier:   notifier,
		escalator:  escalator,
		opts:       opts,
		log:        log,
	}
}

// Run moves one digest email through all four stages and returns the batch
// report. Operational failures, including a fully failed batch, are reported
// in the Report, never as an error; the error return is reserved for internal
// invariant violations. Cancelling ctx stops new attempts from being
// scheduled but still yields a report covering whatever completed.
func (r *Runner) Run(ctx context.Context, raw []byte) (*Report, error) {
	start := time.Now()
	rep := &Report{RunID: uuid.NewString()}
	log := r.log.With("run_id", rep.RunID)
	log.Info("pipeline run starting", "payload_bytes", len(raw))

	defer func() {
		rep.Elapsed = time.Since(start)
		metrics.RunDuration.Observe(rep.Elapsed.Seconds())
		metrics.RunsTotal.WithLabelValues(string(rep.Status)).Inc()
		log.Info("pipeline run finished",
			"status", rep.Status,
			"total_input", rep.TotalInput,
			"failures", len(rep.Failures),
			"elapsed", rep.Elapsed.Round(time.Millisecond))
	}()

	// Parse runs through the same executor as the item stages so its retry
	// and classification semantics are uniform.
	articles, ok, err := runStage(ctx, r, rep, log, errclass.StageParse, [][]byte{raw}, r.parser.Parse, r.opts.Parse)
	if err != nil {
		return nil, err
	}
	if !ok {
		rep.Status = StatusAllFailed
		rep.FailedStage = errclass.StageParse
		return rep, nil
	}
	batch := articles[0]
	rep.TotalInput = len(batch)

	// Rewrite the parse stats in item terms: the stage fans one email out
	// into N work items.
	rep.Stages[0] = StageStats{
		Stage:     errclass.StageParse,
		Input:     len(batch),
		Succeeded: len(batch),
	}

	if len(batch) == 0 {
		log.Info("digest contained no articles")
		rep.Status = StatusNoInput
		return rep, nil
	}

	fetched, ok, err := runStage(ctx, r, rep, log, errclass.StageFetch, batch, r.fetcher.Fetch, r.opts.Fetch)
	if err != nil {
		return nil, err
	}
	if !ok {
		rep.Status = StatusAllFailed
		rep.FailedStage = errclass.StageFetch
		return rep, nil
	}

	summarized, ok, err := runStage(ctx, r, rep, log, errclass.StageSummarize, fetched, r.summarizer.Summarize, r.opts.Summarize)
	if err != nil {
		return nil, err
	}
	if !ok {
		rep.Status = StatusAllFailed
		rep.FailedStage = errclass.StageSummarize
		return rep, nil
	}

	notified, ok, err := runStage(ctx, r, rep, log, errclass.StageNotify, summarized, r.notifyItem, r.opts.Notify)
	if err != nil {
		return nil, err
	}
	if !ok {
		rep.Status = StatusAllFailed
		rep.FailedStage = errclass.StageNotify
		return rep, nil
	}

	log.Info("digest delivered", "articles", len(notified))
	if len(rep.Failures) == 0 {
		rep.Status = StatusCompleted
	} else {
		rep.Status = StatusPartialSuccess
	}
	return rep, nil
}

// notifyItem adapts the void-returning Notifier to the executor's worker
// signature.
func (r *Runner) notifyItem(ctx context.Context, a digest.Article) (digest.Article, error) {
	if err := r.notifier.Notify(ctx, a); err != nil {
		return a, err
	}
	return a, nil
}

// runStage applies the uniform stage boundary rule. It returns the survivors
// and whether the batch may continue; the error return fires only on internal
// invariant violations.
func runStage[In any, Out any](
	ctx context.Context,
	r *Runner,
	rep *Report,
	log *slog.Logger,
	stage errclass.Stage,
	items []In,
	fn func(context.Context, In) (Out, error),
	opts StageOptions,
) ([]Out, bool, error) {
	stageStart := time.Now()
	outcomes := worker.Run(ctx, items, fn, worker.Options{
		MaxConcurrency: opts.MaxConcurrency,
		Stage:          stage,
		Policy:         opts.Policy,
		AttemptTimeout: opts.AttemptTimeout,
		RateLimitRPS:   opts.RateLimitRPS,
	})
	if len(outcomes) != len(items) {
		return nil, false, errors.AssertionFailedf(
			"stage %s produced %d outcomes for %d items", stage, len(outcomes), len(items))
	}

	res := filter.Partition(outcomes)
	rep.recordStage(stage, len(items), res.SucceededCount(), res.FailedCount())
	rep.recordFailures(res.Failed)

	metrics.StageItems.WithLabelValues(string(stage), "ok").Add(float64(res.SucceededCount()))
	metrics.StageItems.WithLabelValues(string(stage), "error").Add(float64(res.FailedCount()))
	for _, cerr := range res.Failed {
		metrics.StageFailures.WithLabelValues(string(stage), string(cerr.Category)).Inc()
		r.escalateCritical(ctx, log, cerr)
	}

	log.Info("stage complete",
		"stage", stage,
		"input", len(items),
		"succeeded", res.SucceededCount(),
		"failed", res.FailedCount(),
		"elapsed", time.Since(stageStart).Round(time.Millisecond))

	if res.SucceededCount() == 0 && len(items) > 0 {
		log.Error("stage zeroed the batch", "stage", stage, "input", len(items))
		return nil, false, nil
	}
	return res.Succeeded, true, nil
}

// escalateCritical forwards critical-category failures to the operator sink.
// Non-critical failures, even batch-wide ones, stay in the report only.
func (r *Runner) escalateCritical(ctx context.Context, log *slog.Logger, cerr *errclass.Error) {
	if cerr == nil || !cerr.Critical() || r.escalator == nil {
		return
	}
	metrics.Escalations.WithLabelValues(string(SeverityCritical)).Inc()
	log.Warn("critical failure", "stage", cerr.Stage, "category", cerr.Category)
	r.escalator.Escalate(ctx, string(SeverityCritical), cerr.Error())
}
