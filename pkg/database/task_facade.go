package database

import (
	"context"
	"time"

	dberrors "github.com/umbrella22/ops-service/pkg/errors"
	"github.com/umbrella22/ops-service/pkg/database/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrTaskNotFound is returned when an operation targets a task row that no
// longer matches the expected preconditions (already claimed, already
// terminal, or never existed).
var ErrTaskNotFound = dberrors.NewError().WithCode(dberrors.RequestDataNotExisted).WithMessage("task not found")

// TaskFilter narrows List/Count queries over tasks.
type TaskFilter struct {
	JobID  string
	Status *model.TaskStatus
	HostID string
	Limit  int
	Offset int
}

// TaskFacadeInterface is the persistence boundary for Task rows.
type TaskFacadeInterface interface {
	CreateBatch(ctx context.Context, tasks []*model.Task) error
	Get(ctx context.Context, id string) (*model.Task, error)
	// ClaimTask locks and returns the oldest pending task for runnerID,
	// using SELECT ... FOR UPDATE SKIP LOCKED so concurrent runners never
	// double-claim the same row. It does not check the runner's capacity;
	// the caller does that before claiming.
	ClaimTask(ctx context.Context, runnerID string, lockDuration time.Duration) (*model.Task, error)
	// ExtendLock renews a claimed task's lock while its runner is still
	// alive; it fails (without error) if another runner has already taken
	// over, signalled by returning false.
	ExtendLock(ctx context.Context, id, runnerID string, lockDuration time.Duration) (bool, error)
	Complete(ctx context.Context, id string, exitCode int, outputHandle string, truncated bool) error
	Fail(ctx context.Context, id string, reason model.FailureReason, exitCode *int, outputHandle string) error
	Cancel(ctx context.Context, id string) error
	List(ctx context.Context, filter *TaskFilter) ([]*model.Task, error)
	Count(ctx context.Context, filter *TaskFilter) (int64, error)
	// ReleaseStaleLocks resets tasks whose lock has expired back to
	// pending, so another runner may claim them.
	ReleaseStaleLocks(ctx context.Context) (int, error)
}

// TaskFacade implements TaskFacadeInterface.
type TaskFacade struct {
	BaseFacade
}

// NewTaskFacade wraps db as a TaskFacadeInterface.
func NewTaskFacade(db *gorm.DB) TaskFacadeInterface {
	return &TaskFacade{BaseFacade: NewBaseFacade(db)}
}

// CreateBatch inserts all of a job's tasks inside a single statement; the
// caller is expected to wrap this in the same transaction as the Job insert
// for the atomic-fan-out guarantee.
func (f *TaskFacade) CreateBatch(ctx context.Context, tasks []*model.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	return f.getDB().WithContext(ctx).Create(&tasks).Error
}

// Get retrieves a task by ID, returning (nil, nil) if it does not exist.
func (f *TaskFacade) Get(ctx context.Context, id string) (*model.Task, error) {
	var task model.Task
	err := f.getDB().WithContext(ctx).Where("id = ?", id).First(&task).Error
	if err != nil {
		if errorsIsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

// ClaimTask atomically claims the oldest pending task for the given runner.
func (f *TaskFacade) ClaimTask(ctx context.Context, runnerID string, lockDuration time.Duration) (*model.Task, error) {
	var task model.Task

	err := f.getDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", model.TaskStatusPending).
			Order("created_at ASC").
			First(&task)
		if result.Error != nil {
			return result.Error
		}

		now := time.Now()
		lockedUntil := now.Add(lockDuration)
		task.Status = model.TaskStatusRunning
		task.RunnerID = runnerID
		task.StartedAt = &now
		task.LockedUntil = &lockedUntil

		return tx.Save(&task).Error
	})

	if err != nil {
		if errorsIsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

// ExtendLock renews the lock on a running task. It returns false without an
// error if the row no longer belongs to runnerID, meaning another runner
// has already taken over.
func (f *TaskFacade) ExtendLock(ctx context.Context, id, runnerID string, lockDuration time.Duration) (bool, error) {
	lockedUntil := time.Now().Add(lockDuration)
	result := f.getDB().WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND runner_id = ? AND status = ?", id, runnerID, model.TaskStatusRunning).
		Update("locked_until", lockedUntil)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Complete marks a running task succeeded.
func (f *TaskFacade) Complete(ctx context.Context, id string, exitCode int, outputHandle string, truncated bool) error {
	now := time.Now()
	result := f.getDB().WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND status = ?", id, model.TaskStatusRunning).
		Updates(map[string]interface{}{
			"status":           model.TaskStatusSucceeded,
			"exit_code":        exitCode,
			"output_handle":    outputHandle,
			"output_truncated": truncated,
			"completed_at":     now,
			"locked_until":     nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// Fail marks a running task failed with the given reason.
func (f *TaskFacade) Fail(ctx context.Context, id string, reason model.FailureReason, exitCode *int, outputHandle string) error {
	now := time.Now()
	result := f.getDB().WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND status = ?", id, model.TaskStatusRunning).
		Updates(map[string]interface{}{
			"status":           model.TaskStatusFailed,
			"failure_reason":   reason,
			"exit_code":        exitCode,
			"output_handle":    outputHandle,
			"completed_at":     now,
			"locked_until":     nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// Cancel marks a pending or running task cancelled.
func (f *TaskFacade) Cancel(ctx context.Context, id string) error {
	now := time.Now()
	result := f.getDB().WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND status IN ?", id, []model.TaskStatus{model.TaskStatusPending, model.TaskStatusDispatched, model.TaskStatusRunning}).
		Updates(map[string]interface{}{
			"status":         model.TaskStatusCancelled,
			"failure_reason": model.FailureCancelled,
			"completed_at":   now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// List returns tasks matching filter, most recent first.
func (f *TaskFacade) List(ctx context.Context, filter *TaskFilter) ([]*model.Task, error) {
	query := f.getDB().WithContext(ctx).Model(&model.Task{})
	if filter != nil {
		if filter.JobID != "" {
			query = query.Where("job_id = ?", filter.JobID)
		}
		if filter.Status != nil {
			query = query.Where("status = ?", *filter.Status)
		}
		if filter.HostID != "" {
			query = query.Where("host_id = ?", filter.HostID)
		}
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit).Offset(filter.Offset)
		}
	}

	var tasks []model.Task
	if err := query.Order("created_at DESC").Find(&tasks).Error; err != nil {
		return nil, err
	}
	out := make([]*model.Task, len(tasks))
	for i := range tasks {
		out[i] = &tasks[i]
	}
	return out, nil
}

// Count counts tasks matching filter.
func (f *TaskFacade) Count(ctx context.Context, filter *TaskFilter) (int64, error) {
	query := f.getDB().WithContext(ctx).Model(&model.Task{})
	if filter != nil {
		if filter.JobID != "" {
			query = query.Where("job_id = ?", filter.JobID)
		}
		if filter.Status != nil {
			query = query.Where("status = ?", *filter.Status)
		}
		if filter.HostID != "" {
			query = query.Where("host_id = ?", filter.HostID)
		}
	}
	var count int64
	err := query.Count(&count).Error
	return count, err
}

// ReleaseStaleLocks resets running tasks whose lock has expired back to
// pending, so a surviving runner can reclaim them.
func (f *TaskFacade) ReleaseStaleLocks(ctx context.Context) (int, error) {
	now := time.Now()
	result := f.getDB().WithContext(ctx).Model(&model.Task{}).
		Where("status = ? AND locked_until < ?", model.TaskStatusRunning, now).
		Updates(map[string]interface{}{
			"status":       model.TaskStatusPending,
			"runner_id":    "",
			"started_at":   nil,
			"locked_until": nil,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

func errorsIsNotFound(err error) bool {
	return err == gorm.ErrRecordNotFound
}
