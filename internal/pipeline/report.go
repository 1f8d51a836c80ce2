package pipeline

import (
	"time"

	"github.com/shpitdev/digestflow/pkg/pipeline/errclass"
)

// Status is the single terminal outcome of a pipeline run.
type Status string

const (
	// StatusCompleted: every item survived every stage.
	StatusCompleted Status = "completed"
	// StatusPartialSuccess: at least one item completed all stages while
	// others failed along the way.
	StatusPartialSuccess Status = "partial_success"
	// StatusNoInput: the digest parsed cleanly but contained no articles.
	StatusNoInput Status = "no_input"
	// StatusAllFailed: some stage had nonzero input and zero successes.
	StatusAllFailed Status = "all_failed"
)

// Severity grades operator escalations.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// StageStats records one stage's item accounting. For every item stage,
// Input == Succeeded + Failed.
type StageStats struct {
	Stage     errclass.Stage `json:"stage"`
	Input     int            `json:"input"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
}

// Failure is the report-facing view of one classified failure.
type Failure struct {
	Stage    errclass.Stage    `json:"stage"`
	Category errclass.Category `json:"category"`
	Attempts int               `json:"attempts"`
	Message  string            `json:"message"`
}

// Report is the pipeline's sole output. It is assembled once at the end of a
// run, is immutable afterwards, and is owned by the caller. Item-level
// failures never surface as errors: they are listed here instead.
type Report struct {
	RunID      string         `json:"run_id"`
	TotalInput int            `json:"total_input"`
	Stages     []StageStats   `json:"stages"`
	Failures   []Failure      `json:"failures,omitempty"`
	Status     Status         `json:"status"`
	// FailedStage names the stage that zeroed the batch when Status is
	// StatusAllFailed.
	FailedStage errclass.Stage `json:"failed_stage,omitempty"`
	Elapsed     time.Duration  `json:"elapsed_ns"`
}

func (r *Report) recordFailures(cerrs []*errclass.Error) {
	for _, cerr := range cerrs {
		if cerr == nil {
			continue
		}
		r.Failures = append(r.Failures, Failure{
			Stage:    cerr.Stage,
			Category: cerr.Category,
			Attempts: cerr.Attempts,
			Message:  cerr.Error(),
		})
	}
}

func (r *Report) recordStage(stage errclass.Stage, input, succeeded, failed int) {
	r.Stages = append(r.Stages, StageStats{
		Stage:     stage,
		Input:     input,
		Succeeded: succeeded,
		Failed:    failed,
	})
}
