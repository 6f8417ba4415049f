package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umbrella22/ops-service/pkg/database"
	"github.com/umbrella22/ops-service/pkg/database/model"
	"github.com/umbrella22/ops-service/pkg/dispatcher"
)

func TestAggregatorAppliesSuccessAndUpdatesCounters(t *testing.T) {
	db := newTestDB(t)
	job := model.NewJob("", "uptime", "alice", []string{"h1"})
	require.NoError(t, db.Create(job).Error)
	task := &model.Task{ID: "t1", JobID: job.ID, HostID: "h1", Attempt: 1, Status: model.TaskStatusRunning}
	require.NoError(t, db.Create(task).Error)

	agg := NewAggregator(database.NewTaskFacade(db), database.NewJobFacade(db))
	err := agg.Apply(context.Background(), &dispatcher.ResultEnvelope{
		Kind:   dispatcher.ResultKindTerminal,
		TaskID: "t1",
		JobID:  job.ID,
		Status: model.TaskStatusSucceeded,
	})
	require.NoError(t, err)

	var updatedJob model.Job
	require.NoError(t, db.Where("id = ?", job.ID).First(&updatedJob).Error)
	assert.Equal(t, 1, updatedJob.SucceededTasks)
	assert.Equal(t, model.JobStatusCompleted, updatedJob.Status)
}

func TestAggregatorAppliesFailureAndUpdatesCounters(t *testing.T) {
	db := newTestDB(t)
	job := model.NewJob("", "uptime", "alice", []string{"h1", "h2"})
	require.NoError(t, db.Create(job).Error)
	require.NoError(t, db.Create(&model.Task{ID: "t1", JobID: job.ID, HostID: "h1", Attempt: 1, Status: model.TaskStatusRunning}).Error)
	require.NoError(t, db.Create(&model.Task{ID: "t2", JobID: job.ID, HostID: "h2", Attempt: 1, Status: model.TaskStatusRunning}).Error)

	agg := NewAggregator(database.NewTaskFacade(db), database.NewJobFacade(db))

	require.NoError(t, agg.Apply(context.Background(), &dispatcher.ResultEnvelope{
		Kind: dispatcher.ResultKindTerminal, TaskID: "t1", JobID: job.ID, Status: model.TaskStatusFailed,
	}))

	var midJob model.Job
	require.NoError(t, db.Where("id = ?", job.ID).First(&midJob).Error)
	assert.Equal(t, model.JobStatusRunning, midJob.Status)

	require.NoError(t, agg.Apply(context.Background(), &dispatcher.ResultEnvelope{
		Kind: dispatcher.ResultKindTerminal, TaskID: "t2", JobID: job.ID, Status: model.TaskStatusSucceeded,
	}))

	var finalJob model.Job
	require.NoError(t, db.Where("id = ?", job.ID).First(&finalJob).Error)
	assert.Equal(t, model.JobStatusPartiallySucceeded, finalJob.Status)
	assert.Equal(t, 1, finalJob.FailedTasks)
}

func TestAggregatorAllFailedMarksJobFailed(t *testing.T) {
	db := newTestDB(t)
	job := model.NewJob("", "uptime", "alice", []string{"h1", "h2"})
	require.NoError(t, db.Create(job).Error)
	require.NoError(t, db.Create(&model.Task{ID: "t1", JobID: job.ID, HostID: "h1", Attempt: 1, Status: model.TaskStatusRunning}).Error)
	require.NoError(t, db.Create(&model.Task{ID: "t2", JobID: job.ID, HostID: "h2", Attempt: 1, Status: model.TaskStatusRunning}).Error)

	agg := NewAggregator(database.NewTaskFacade(db), database.NewJobFacade(db))
	require.NoError(t, agg.Apply(context.Background(), &dispatcher.ResultEnvelope{
		Kind: dispatcher.ResultKindTerminal, TaskID: "t1", JobID: job.ID, Status: model.TaskStatusFailed,
	}))
	require.NoError(t, agg.Apply(context.Background(), &dispatcher.ResultEnvelope{
		Kind: dispatcher.ResultKindTerminal, TaskID: "t2", JobID: job.ID, Status: model.TaskStatusFailed,
	}))

	var finalJob model.Job
	require.NoError(t, db.Where("id = ?", job.ID).First(&finalJob).Error)
	assert.Equal(t, model.JobStatusFailed, finalJob.Status)
}

func TestAggregatorTimeoutReasonRollsIntoTimeoutBucket(t *testing.T) {
	db := newTestDB(t)
	job := model.NewJob("", "uptime", "alice", []string{"h1"})
	require.NoError(t, db.Create(job).Error)
	require.NoError(t, db.Create(&model.Task{ID: "t1", JobID: job.ID, HostID: "h1", Attempt: 1, Status: model.TaskStatusRunning}).Error)

	agg := NewAggregator(database.NewTaskFacade(db), database.NewJobFacade(db))
	require.NoError(t, agg.Apply(context.Background(), &dispatcher.ResultEnvelope{
		Kind: dispatcher.ResultKindTerminal, TaskID: "t1", JobID: job.ID,
		Status: model.TaskStatusFailed, FailureReason: model.FailureCommandTimeout,
	}))

	var finalJob model.Job
	require.NoError(t, db.Where("id = ?", job.ID).First(&finalJob).Error)
	assert.Equal(t, 0, finalJob.FailedTasks)
	assert.Equal(t, 1, finalJob.TimeoutTasks)
	assert.Equal(t, model.JobStatusFailed, finalJob.Status)
}

func TestAggregatorCancelledRollsIntoCancelledBucket(t *testing.T) {
	db := newTestDB(t)
	job := model.NewJob("", "uptime", "alice", []string{"h1"})
	require.NoError(t, db.Create(job).Error)
	require.NoError(t, db.Create(&model.Task{ID: "t1", JobID: job.ID, HostID: "h1", Attempt: 1, Status: model.TaskStatusRunning}).Error)

	agg := NewAggregator(database.NewTaskFacade(db), database.NewJobFacade(db))
	require.NoError(t, agg.Apply(context.Background(), &dispatcher.ResultEnvelope{
		Kind: dispatcher.ResultKindTerminal, TaskID: "t1", JobID: job.ID, Status: model.TaskStatusCancelled,
	}))

	var finalJob model.Job
	require.NoError(t, db.Where("id = ?", job.ID).First(&finalJob).Error)
	assert.Equal(t, 1, finalJob.CancelledTasks)
	assert.Equal(t, model.JobStatusCancelled, finalJob.Status)
}

func TestAggregatorIgnoresProgressEnvelope(t *testing.T) {
	db := newTestDB(t)
	job := model.NewJob("", "uptime", "alice", []string{"h1"})
	require.NoError(t, db.Create(job).Error)
	require.NoError(t, db.Create(&model.Task{ID: "t1", JobID: job.ID, HostID: "h1", Attempt: 1, Status: model.TaskStatusRunning}).Error)

	agg := NewAggregator(database.NewTaskFacade(db), database.NewJobFacade(db))
	require.NoError(t, agg.Apply(context.Background(), &dispatcher.ResultEnvelope{
		Kind: dispatcher.ResultKindProgress, TaskID: "t1", JobID: job.ID,
	}))

	var task model.Task
	require.NoError(t, db.Where("id = ?", "t1").First(&task).Error)
	assert.Equal(t, model.TaskStatusRunning, task.Status)
}

func TestAggregatorDuplicateDeliveryIsNoop(t *testing.T) {
	db := newTestDB(t)
	job := model.NewJob("", "uptime", "alice", []string{"h1"})
	require.NoError(t, db.Create(job).Error)
	require.NoError(t, db.Create(&model.Task{ID: "t1", JobID: job.ID, HostID: "h1", Attempt: 1, Status: model.TaskStatusRunning}).Error)

	agg := NewAggregator(database.NewTaskFacade(db), database.NewJobFacade(db))
	env := &dispatcher.ResultEnvelope{Kind: dispatcher.ResultKindTerminal, TaskID: "t1", JobID: job.ID, Status: model.TaskStatusSucceeded}
	require.NoError(t, agg.Apply(context.Background(), env))
	require.NoError(t, agg.Apply(context.Background(), env))

	var updatedJob model.Job
	require.NoError(t, db.Where("id = ?", job.ID).First(&updatedJob).Error)
	assert.Equal(t, 1, updatedJob.SucceededTasks)
}
