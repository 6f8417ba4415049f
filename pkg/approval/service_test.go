package approval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/umbrella22/ops-service/pkg/database"
	"github.com/umbrella22/ops-service/pkg/database/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Job{}, &model.Task{}, &model.ApprovalRequest{}, &model.ApprovalRecord{}))
	return db
}

func seedJobWithApproval(t *testing.T, db *gorm.DB, requesterID string, quorum int) (*model.Job, *model.ApprovalRequest) {
	t.Helper()
	job := model.NewJob("", "uptime", requesterID, []string{"h1"})
	job.Status = model.JobStatusPendingApproval
	require.NoError(t, db.Create(job).Error)

	req := &model.ApprovalRequest{
		ID:          "req-1",
		JobID:       job.ID,
		TriggeredBy: TriggerProdEnv,
		Quorum:      quorum,
		Status:      model.ApprovalStatusPending,
	}
	require.NoError(t, db.Create(req).Error)
	return job, req
}

func TestServiceRecordDecisionRejectsRequester(t *testing.T) {
	db := newTestDB(t)
	approvals := database.NewApprovalFacade(db)
	jobs := database.NewJobFacade(db)
	job, _ := seedJobWithApproval(t, db, "alice", 1)

	svc := NewService(approvals, jobs)
	_, err := svc.RecordDecision(context.Background(), job.ID, "alice", model.DecisionApprove)
	assert.Equal(t, ErrApproverIsRequester, err)
}

func TestServiceRecordDecisionApprovesAtQuorum(t *testing.T) {
	db := newTestDB(t)
	approvals := database.NewApprovalFacade(db)
	jobs := database.NewJobFacade(db)
	job, req := seedJobWithApproval(t, db, "alice", 2)

	svc := NewService(approvals, jobs)

	got, err := svc.RecordDecision(context.Background(), job.ID, "bob", model.DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalStatusPending, got.Status)

	got, err = svc.RecordDecision(context.Background(), job.ID, "carol", model.DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalStatusApproved, got.Status)

	var updatedJob model.Job
	require.NoError(t, db.Where("id = ?", job.ID).First(&updatedJob).Error)
	assert.Equal(t, model.JobStatusRunning, updatedJob.Status)

	var updatedReq model.ApprovalRequest
	require.NoError(t, db.Where("id = ?", req.ID).First(&updatedReq).Error)
	assert.Equal(t, model.ApprovalStatusApproved, updatedReq.Status)
}

func TestServiceRecordDecisionRejectCancelsJob(t *testing.T) {
	db := newTestDB(t)
	approvals := database.NewApprovalFacade(db)
	jobs := database.NewJobFacade(db)
	job, _ := seedJobWithApproval(t, db, "alice", 2)

	svc := NewService(approvals, jobs)
	got, err := svc.RecordDecision(context.Background(), job.ID, "bob", model.DecisionReject)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalStatusRejected, got.Status)

	var updatedJob model.Job
	require.NoError(t, db.Where("id = ?", job.ID).First(&updatedJob).Error)
	assert.Equal(t, model.JobStatusCancelled, updatedJob.Status)
}

func TestServiceRecordDecisionDuplicateApprover(t *testing.T) {
	db := newTestDB(t)
	approvals := database.NewApprovalFacade(db)
	jobs := database.NewJobFacade(db)
	job, _ := seedJobWithApproval(t, db, "alice", 2)

	svc := NewService(approvals, jobs)
	_, err := svc.RecordDecision(context.Background(), job.ID, "bob", model.DecisionApprove)
	require.NoError(t, err)

	_, err = svc.RecordDecision(context.Background(), job.ID, "bob", model.DecisionApprove)
	assert.Equal(t, ErrAlreadyDecided, err)
}

func TestServiceRecordDecisionNoRequestIsNotPending(t *testing.T) {
	db := newTestDB(t)
	approvals := database.NewApprovalFacade(db)
	jobs := database.NewJobFacade(db)

	svc := NewService(approvals, jobs)
	_, err := svc.RecordDecision(context.Background(), "no-such-job", "bob", model.DecisionApprove)
	assert.Equal(t, ErrRequestNotPending, err)
}
