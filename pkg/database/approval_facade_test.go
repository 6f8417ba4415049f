package database

import (
	"context"
	"testing"
	"time"

	"github.com/umbrella22/ops-service/pkg/database/model"
	"github.com/stretchr/testify/require"
)

func TestApprovalFacadeRecordDecisionRejectsDuplicateApprover(t *testing.T) {
	db := newTestDB(t)
	facade := NewApprovalFacade(db)
	ctx := context.Background()

	req := &model.ApprovalRequest{
		ID: "a1", JobID: "j1", TriggeredBy: "prod_env", Quorum: 2,
		Status: model.ApprovalStatusPending, ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now(),
	}
	require.NoError(t, facade.Create(ctx, req))

	require.NoError(t, facade.RecordDecision(ctx, &model.ApprovalRecord{
		ID: "r1", ApprovalRequestID: "a1", ApproverID: "carol", Decision: model.DecisionApprove, CreatedAt: time.Now(),
	}))

	err := facade.RecordDecision(ctx, &model.ApprovalRecord{
		ID: "r2", ApprovalRequestID: "a1", ApproverID: "carol", Decision: model.DecisionApprove, CreatedAt: time.Now(),
	})
	require.ErrorIs(t, err, ErrApprovalAlreadyDecided)

	count, err := facade.CountDecisions(ctx, "a1", model.DecisionApprove)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestApprovalFacadeTransitionOnlyFromPending(t *testing.T) {
	db := newTestDB(t)
	facade := NewApprovalFacade(db)
	ctx := context.Background()

	req := &model.ApprovalRequest{
		ID: "a1", JobID: "j1", TriggeredBy: "critical_group", Quorum: 1,
		Status: model.ApprovalStatusPending, ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now(),
	}
	require.NoError(t, facade.Create(ctx, req))

	require.NoError(t, facade.Transition(ctx, "a1", model.ApprovalStatusApproved))
	got, err := facade.GetByJobID(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, model.ApprovalStatusApproved, got.Status)
	require.NotNil(t, got.DecidedAt)
}

func TestApprovalFacadeListExpiredPending(t *testing.T) {
	db := newTestDB(t)
	facade := NewApprovalFacade(db)
	ctx := context.Background()

	expired := &model.ApprovalRequest{
		ID: "a1", JobID: "j1", TriggeredBy: "prod_env", Quorum: 1,
		Status: model.ApprovalStatusPending, ExpiresAt: time.Now().Add(-time.Minute), CreatedAt: time.Now(),
	}
	fresh := &model.ApprovalRequest{
		ID: "a2", JobID: "j2", TriggeredBy: "prod_env", Quorum: 1,
		Status: model.ApprovalStatusPending, ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now(),
	}
	require.NoError(t, facade.Create(ctx, expired))
	require.NoError(t, facade.Create(ctx, fresh))

	reqs, err := facade.ListExpiredPending(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	require.Equal(t, "a1", reqs[0].ID)
}
