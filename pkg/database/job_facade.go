package database

import (
	"context"
	"strings"
	"time"

	"github.com/umbrella22/ops-service/pkg/database/model"
	dberrors "github.com/umbrella22/ops-service/pkg/errors"
	"gorm.io/gorm"
)

// ErrIdempotencyKeyConflict is returned when a submission reuses an
// idempotency key already bound to a different job.
var ErrIdempotencyKeyConflict = dberrors.NewError().WithCode(dberrors.IdempotencyKeyConflict).WithMessage("idempotency key already in use")

// ErrAggregationConflict is returned by UpdateJobCounters when the
// optimistic-lock version has moved since the caller read the row; the
// caller is expected to re-read and retry.
var ErrAggregationConflict = dberrors.NewError().WithCode(dberrors.AggregationConflict).WithMessage("job aggregation version conflict")

// JobFacadeInterface is the persistence boundary for Job rows.
type JobFacadeInterface interface {
	// CreateWithTasks inserts a Job and its Task rows inside a single
	// transaction, so a submission either fully fans out or leaves no
	// partial state behind.
	CreateWithTasks(ctx context.Context, job *model.Job, tasks []*model.Task) error
	GetByID(ctx context.Context, id string) (*model.Job, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*model.Job, error)
	// UpdateJobCounters applies a terminal-task delta under the row's
	// optimistic-lock Version, retrying internally up to maxRetries times
	// on a version conflict before giving up.
	UpdateJobCounters(ctx context.Context, jobID string, succeededDelta, failedDelta, timeoutDelta, cancelledDelta int, maxRetries int) error
	MarkRunning(ctx context.Context, jobID string) error
	MarkTerminal(ctx context.Context, jobID string, status model.JobStatus) error
	// ListRunningWithPendingTasks supports the post-restart recovery sweep:
	// jobs still "running" whose tasks never left "pending" need
	// re-dispatch.
	ListRunningWithPendingTasks(ctx context.Context) ([]*model.Job, error)
}

// JobFacade implements JobFacadeInterface.
type JobFacade struct {
	BaseFacade
}

// NewJobFacade wraps db as a JobFacadeInterface.
func NewJobFacade(db *gorm.DB) JobFacadeInterface {
	return &JobFacade{BaseFacade: NewBaseFacade(db)}
}

// CreateWithTasks implements the atomic transactional fan-out: a
// uniqueIndex violation on IdempotencyKey surfaces as ErrIdempotencyKeyConflict
// rather than a raw driver error.
func (f *JobFacade) CreateWithTasks(ctx context.Context, job *model.Job, tasks []*model.Task) error {
	err := f.getDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(job).Error; err != nil {
			return err
		}
		if len(tasks) > 0 {
			if err := tx.Create(&tasks).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if isUniqueViolation(err) {
		return ErrIdempotencyKeyConflict
	}
	return err
}

// GetByID retrieves a job by ID, returning (nil, nil) if it does not exist.
func (f *JobFacade) GetByID(ctx context.Context, id string) (*model.Job, error) {
	var job model.Job
	err := f.getDB().WithContext(ctx).Where("id = ?", id).First(&job).Error
	if err != nil {
		if errorsIsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// GetByIdempotencyKey retrieves a job by its idempotency key, returning
// (nil, nil) if no job was ever submitted with that key.
func (f *JobFacade) GetByIdempotencyKey(ctx context.Context, key string) (*model.Job, error) {
	var job model.Job
	err := f.getDB().WithContext(ctx).Where("idempotency_key = ?", key).First(&job).Error
	if err != nil {
		if errorsIsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// UpdateJobCounters applies a terminal-task delta under the Job's
// optimistic lock. Mirrors the teacher's SELECT-modify-conditional-UPDATE
// idiom used for claims, applied here to counter aggregation instead of
// status transition. Terminal status is computed per the four-way rule:
// all succeeded -> completed; some succeeded and any failed/timeout ->
// partially_succeeded; none succeeded and any failed/timeout -> failed;
// otherwise, if any cancelled -> cancelled.
func (f *JobFacade) UpdateJobCounters(ctx context.Context, jobID string, succeededDelta, failedDelta, timeoutDelta, cancelledDelta int, maxRetries int) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		var job model.Job
		if err := f.getDB().WithContext(ctx).Where("id = ?", jobID).First(&job).Error; err != nil {
			return err
		}

		newSucceeded := job.SucceededTasks + succeededDelta
		newFailed := job.FailedTasks + failedDelta
		newTimeout := job.TimeoutTasks + timeoutDelta
		newCancelled := job.CancelledTasks + cancelledDelta
		stillRunning := job.TotalTasks - newSucceeded - newFailed - newTimeout - newCancelled

		newStatus := job.Status
		var completedAt *time.Time
		if stillRunning <= 0 {
			now := time.Now()
			completedAt = &now
			switch {
			case newSucceeded == job.TotalTasks:
				newStatus = model.JobStatusCompleted
			case newSucceeded > 0 && (newFailed > 0 || newTimeout > 0):
				newStatus = model.JobStatusPartiallySucceeded
			case newSucceeded == 0 && (newFailed > 0 || newTimeout > 0):
				newStatus = model.JobStatusFailed
			case newCancelled > 0:
				newStatus = model.JobStatusCancelled
			}
		}

		result := f.getDB().WithContext(ctx).Model(&model.Job{}).
			Where("id = ? AND version = ?", jobID, job.Version).
			Updates(map[string]interface{}{
				"succeeded_tasks": newSucceeded,
				"failed_tasks":    newFailed,
				"timeout_tasks":   newTimeout,
				"cancelled_tasks": newCancelled,
				"status":          newStatus,
				"completed_at":    completedAt,
				"version":         job.Version + 1,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 1 {
			return nil
		}
		// Version moved under us; retry with a freshly read row.
	}
	return ErrAggregationConflict
}

// MarkRunning transitions a job out of pending_approval into running, used
// once an approval quorum is reached.
func (f *JobFacade) MarkRunning(ctx context.Context, jobID string) error {
	now := time.Now()
	return f.getDB().WithContext(ctx).Model(&model.Job{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{"status": model.JobStatusRunning, "started_at": now}).Error
}

// MarkTerminal force-transitions a job to a terminal status, used for
// rejection and cancellation.
func (f *JobFacade) MarkTerminal(ctx context.Context, jobID string, status model.JobStatus) error {
	now := time.Now()
	return f.getDB().WithContext(ctx).Model(&model.Job{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{"status": status, "completed_at": now}).Error
}

// ListRunningWithPendingTasks finds jobs whose status is running but that
// still have at least one task stuck in pending, the signature of an
// orchestrator crash between fan-out and dispatch.
func (f *JobFacade) ListRunningWithPendingTasks(ctx context.Context) ([]*model.Job, error) {
	var jobs []model.Job
	err := f.getDB().WithContext(ctx).
		Where("status = ? AND EXISTS (SELECT 1 FROM tasks WHERE tasks.job_id = jobs.id AND tasks.status = ?)",
			model.JobStatusRunning, model.TaskStatusPending).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	out := make([]*model.Job, len(jobs))
	for i := range jobs {
		out[i] = &jobs[i]
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint") ||
		strings.Contains(msg, "violates unique constraint")
}
