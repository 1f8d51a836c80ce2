// Package filter partitions stage outcomes into the success list handed to the
// next stage and the failure list recorded in the batch report. It is a pure
// partition: retries are exhausted upstream in the executor, and input order is
// preserved on the success path.
package filter

import (
	"github.com/shpitdev/digestflow/pkg/pipeline/errclass"
	"github.com/shpitdev/digestflow/pkg/pipeline/worker"
)

// Result is the partitioned view of one stage's outcomes.
type Result[T any] struct {
	Succeeded []T
	Failed    []*errclass.Error
}

// SucceededCount returns the number of successful outcomes.
func (r Result[T]) SucceededCount() int { return len(r.Succeeded) }

// FailedCount returns the number of failed outcomes.
func (r Result[T]) FailedCount() int { return len(r.Failed) }

// Partition splits outcomes into successes and classified failures, keeping
// the stable input order within each list.
func Partition[T any](outcomes []worker.Outcome[T]) Result[T] {
	res := Result[T]{
		Succeeded: make([]T, 0, len(outcomes)),
	}
	for _, o := range outcomes {
		if o.Err != nil {
			res.Failed = append(res.Failed, o.Err)
			continue
		}
		res.Succeeded = append(res.Succeeded, o.Value)
	}
	return res
}
