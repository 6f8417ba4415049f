package database

import (
	"context"
	"time"

	"github.com/umbrella22/ops-service/pkg/database/model"
	dberrors "github.com/umbrella22/ops-service/pkg/errors"
	"gorm.io/gorm"
)

// ErrApprovalAlreadyDecided is returned when an approver tries to record a
// second decision on the same request.
var ErrApprovalAlreadyDecided = dberrors.NewError().WithCode(dberrors.ApprovalAlreadyDecided).WithMessage("approver has already decided this request")

// ApprovalFacadeInterface is the persistence boundary for approval gating.
type ApprovalFacadeInterface interface {
	Create(ctx context.Context, req *model.ApprovalRequest) error
	GetByJobID(ctx context.Context, jobID string) (*model.ApprovalRequest, error)
	// RecordDecision inserts an ApprovalRecord; a uniqueIndex on
	// (ApprovalRequestID, ApproverID) turns a repeat vote into
	// ErrApprovalAlreadyDecided instead of a silent duplicate.
	RecordDecision(ctx context.Context, record *model.ApprovalRecord) error
	CountDecisions(ctx context.Context, requestID string, decision model.ApprovalDecision) (int64, error)
	Transition(ctx context.Context, requestID string, status model.ApprovalStatus) error
	// ListExpiredPending returns pending requests whose deadline has
	// passed, consumed by the periodic expiry sweeper.
	ListExpiredPending(ctx context.Context, asOf time.Time) ([]*model.ApprovalRequest, error)
}

// ApprovalFacade implements ApprovalFacadeInterface.
type ApprovalFacade struct {
	BaseFacade
}

// NewApprovalFacade wraps db as an ApprovalFacadeInterface.
func NewApprovalFacade(db *gorm.DB) ApprovalFacadeInterface {
	return &ApprovalFacade{BaseFacade: NewBaseFacade(db)}
}

func (f *ApprovalFacade) Create(ctx context.Context, req *model.ApprovalRequest) error {
	return f.getDB().WithContext(ctx).Create(req).Error
}

func (f *ApprovalFacade) GetByJobID(ctx context.Context, jobID string) (*model.ApprovalRequest, error) {
	var req model.ApprovalRequest
	err := f.getDB().WithContext(ctx).Where("job_id = ?", jobID).First(&req).Error
	if err != nil {
		if errorsIsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &req, nil
}

func (f *ApprovalFacade) RecordDecision(ctx context.Context, record *model.ApprovalRecord) error {
	err := f.getDB().WithContext(ctx).Create(record).Error
	if isUniqueViolation(err) {
		return ErrApprovalAlreadyDecided
	}
	return err
}

func (f *ApprovalFacade) CountDecisions(ctx context.Context, requestID string, decision model.ApprovalDecision) (int64, error) {
	var count int64
	err := f.getDB().WithContext(ctx).Model(&model.ApprovalRecord{}).
		Where("approval_request_id = ? AND decision = ?", requestID, decision).
		Count(&count).Error
	return count, err
}

func (f *ApprovalFacade) Transition(ctx context.Context, requestID string, status model.ApprovalStatus) error {
	now := time.Now()
	return f.getDB().WithContext(ctx).Model(&model.ApprovalRequest{}).
		Where("id = ? AND status = ?", requestID, model.ApprovalStatusPending).
		Updates(map[string]interface{}{"status": status, "decided_at": now}).Error
}

func (f *ApprovalFacade) ListExpiredPending(ctx context.Context, asOf time.Time) ([]*model.ApprovalRequest, error) {
	var reqs []model.ApprovalRequest
	err := f.getDB().WithContext(ctx).
		Where("status = ? AND expires_at < ?", model.ApprovalStatusPending, asOf).
		Find(&reqs).Error
	if err != nil {
		return nil, err
	}
	out := make([]*model.ApprovalRequest, len(reqs))
	for i := range reqs {
		out[i] = &reqs[i]
	}
	return out, nil
}
