package dispatcher

import (
	"context"

	"github.com/umbrella22/ops-service/pkg/database"
	"github.com/umbrella22/ops-service/pkg/database/model"
)

// JobStats is a read-only rollup of a job's task counts by status, a
// cheaper alternative to returning every Task row. The Submission API's
// handlers do not call GetJobStats.
type JobStats struct {
	JobID            string
	PendingCount     int64
	DispatchedCount  int64
	RunningCount     int64
	SucceededCount   int64
	FailedCount      int64
	CancelledCount   int64
	TotalCount       int64
}

// GetJobStats counts tasks for jobID by status.
func GetJobStats(ctx context.Context, tasks database.TaskFacadeInterface, jobID string) (*JobStats, error) {
	stats := &JobStats{JobID: jobID}

	counts := []struct {
		status model.TaskStatus
		dest   *int64
	}{
		{model.TaskStatusPending, &stats.PendingCount},
		{model.TaskStatusDispatched, &stats.DispatchedCount},
		{model.TaskStatusRunning, &stats.RunningCount},
		{model.TaskStatusSucceeded, &stats.SucceededCount},
		{model.TaskStatusFailed, &stats.FailedCount},
		{model.TaskStatusCancelled, &stats.CancelledCount},
	}

	for _, c := range counts {
		status := c.status
		n, err := tasks.Count(ctx, &database.TaskFilter{JobID: jobID, Status: &status})
		if err != nil {
			return nil, err
		}
		*c.dest = n
	}

	stats.TotalCount = stats.PendingCount + stats.DispatchedCount + stats.RunningCount +
		stats.SucceededCount + stats.FailedCount + stats.CancelledCount
	return stats, nil
}
