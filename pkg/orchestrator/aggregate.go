package orchestrator

import (
	"context"

	"github.com/umbrella22/ops-service/pkg/database"
	"github.com/umbrella22/ops-service/pkg/database/model"
	"github.com/umbrella22/ops-service/pkg/dispatcher"
)

// maxCounterRetries bounds UpdateJobCounters' internal optimistic-lock
// retry loop; exhausting it surfaces as ErrAggregationConflict.
const maxCounterRetries = 5

// Aggregator applies a terminal result envelope to its Task row and, if the
// envelope was newly applied (not a redelivered duplicate), rolls the
// outcome into the owning Job's counters under its version lock.
type Aggregator struct {
	handler *dispatcher.ResultHandler
	jobs    database.JobFacadeInterface
}

// NewAggregator wraps tasks/jobs for applying ops.results envelopes.
func NewAggregator(tasks database.TaskFacadeInterface, jobs database.JobFacadeInterface) *Aggregator {
	return &Aggregator{handler: dispatcher.NewResultHandler(tasks), jobs: jobs}
}

// Apply implements the handler signature dispatcher.Consume expects.
func (a *Aggregator) Apply(ctx context.Context, env *dispatcher.ResultEnvelope) error {
	applied, err := a.handler.Apply(ctx, env)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	succeededDelta, failedDelta, timeoutDelta, cancelledDelta := 0, 0, 0, 0
	switch env.Status {
	case model.TaskStatusSucceeded:
		succeededDelta = 1
	case model.TaskStatusCancelled:
		cancelledDelta = 1
	default:
		// TaskStatusFailed, classified further by the reason: a task that
		// never finished within its phase deadline rolls into the job's
		// timeout bucket instead of its failed bucket, per the terminal
		// outcome split in spec §4.3.
		if isTimeoutReason(env.FailureReason) {
			timeoutDelta = 1
		} else {
			failedDelta = 1
		}
	}
	return a.jobs.UpdateJobCounters(ctx, env.JobID, succeededDelta, failedDelta, timeoutDelta, cancelledDelta, maxCounterRetries)
}

// isTimeoutReason reports whether a failed task's reason is one of the
// phase-deadline expirations distinct from an outright failure.
func isTimeoutReason(reason model.FailureReason) bool {
	return reason == model.FailureConnectTimeout || reason == model.FailureCommandTimeout
}
