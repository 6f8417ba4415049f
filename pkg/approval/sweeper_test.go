package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umbrella22/ops-service/pkg/database"
	"github.com/umbrella22/ops-service/pkg/database/model"
)

func TestSweeperSweepOnceExpiresAndCancels(t *testing.T) {
	db := newTestDB(t)
	approvals := database.NewApprovalFacade(db)
	jobs := database.NewJobFacade(db)

	job := model.NewJob("", "uptime", "alice", []string{"h1"})
	job.Status = model.JobStatusPendingApproval
	require.NoError(t, db.Create(job).Error)

	req := &model.ApprovalRequest{
		ID:        "req-1",
		JobID:     job.ID,
		Status:    model.ApprovalStatusPending,
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	require.NoError(t, db.Create(req).Error)

	sweeper := NewSweeper(approvals, jobs, time.Hour)
	swept, err := sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	var updatedReq model.ApprovalRequest
	require.NoError(t, db.Where("id = ?", req.ID).First(&updatedReq).Error)
	assert.Equal(t, model.ApprovalStatusExpired, updatedReq.Status)

	var updatedJob model.Job
	require.NoError(t, db.Where("id = ?", job.ID).First(&updatedJob).Error)
	assert.Equal(t, model.JobStatusCancelled, updatedJob.Status)
}

func TestSweeperSweepOnceIgnoresNonExpired(t *testing.T) {
	db := newTestDB(t)
	approvals := database.NewApprovalFacade(db)
	jobs := database.NewJobFacade(db)

	job := model.NewJob("", "uptime", "alice", []string{"h1"})
	job.Status = model.JobStatusPendingApproval
	require.NoError(t, db.Create(job).Error)

	req := &model.ApprovalRequest{
		ID:        "req-1",
		JobID:     job.ID,
		Status:    model.ApprovalStatusPending,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, db.Create(req).Error)

	sweeper := NewSweeper(approvals, jobs, time.Hour)
	swept, err := sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, swept)
}

func TestSweeperStartStop(t *testing.T) {
	db := newTestDB(t)
	approvals := database.NewApprovalFacade(db)
	jobs := database.NewJobFacade(db)

	sweeper := NewSweeper(approvals, jobs, 5*time.Millisecond)
	sweeper.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	sweeper.Stop()
}
