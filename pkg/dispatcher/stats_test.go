package dispatcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umbrella22/ops-service/pkg/database"
	"github.com/umbrella22/ops-service/pkg/database/model"
)

func TestGetJobStats(t *testing.T) {
	facade := &mockTaskFacade{
		countFunc: func(ctx context.Context, filter *database.TaskFilter) (int64, error) {
			switch *filter.Status {
			case model.TaskStatusPending:
				return 2, nil
			case model.TaskStatusRunning:
				return 1, nil
			case model.TaskStatusSucceeded:
				return 5, nil
			case model.TaskStatusFailed:
				return 1, nil
			default:
				return 0, nil
			}
		},
	}

	stats, err := GetJobStats(context.Background(), facade, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", stats.JobID)
	assert.Equal(t, int64(2), stats.PendingCount)
	assert.Equal(t, int64(1), stats.RunningCount)
	assert.Equal(t, int64(5), stats.SucceededCount)
	assert.Equal(t, int64(1), stats.FailedCount)
	assert.Equal(t, int64(9), stats.TotalCount)
}

func TestGetJobStatsPropagatesCountError(t *testing.T) {
	boom := assert.AnError
	facade := &mockTaskFacade{
		countFunc: func(ctx context.Context, filter *database.TaskFilter) (int64, error) {
			return 0, boom
		},
	}

	_, err := GetJobStats(context.Background(), facade, "job-1")
	assert.ErrorIs(t, err, boom)
}
