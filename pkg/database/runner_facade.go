package database

import (
	"context"
	"time"

	"github.com/umbrella22/ops-service/pkg/database/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RunnerFacadeInterface is the persistence boundary for runner fleet
// registration and heartbeat.
type RunnerFacadeInterface interface {
	// Upsert registers or re-registers a runner; called on every
	// heartbeat, so it uses an ON CONFLICT DO UPDATE rather than a
	// read-then-write.
	Upsert(ctx context.Context, runner *model.Runner) error
	GetByID(ctx context.Context, id string) (*model.Runner, error)
	ListActive(ctx context.Context) ([]*model.Runner, error)
	// MarkStale flips any runner whose heartbeat is older than the
	// staleness window to unavailable, returning the count changed.
	MarkStale(ctx context.Context, staleness time.Duration) (int, error)
}

// RunnerFacade implements RunnerFacadeInterface.
type RunnerFacade struct {
	BaseFacade
}

// NewRunnerFacade wraps db as a RunnerFacadeInterface.
func NewRunnerFacade(db *gorm.DB) RunnerFacadeInterface {
	return &RunnerFacade{BaseFacade: NewBaseFacade(db)}
}

func (f *RunnerFacade) Upsert(ctx context.Context, runner *model.Runner) error {
	runner.LastHeartbeatAt = time.Now()
	if runner.RegisteredAt.IsZero() {
		runner.RegisteredAt = runner.LastHeartbeatAt
	}
	return f.getDB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "hostname"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"capabilities", "status", "max_concurrent_tasks",
			"running_tasks", "last_heartbeat_at",
		}),
	}).Create(runner).Error
}

func (f *RunnerFacade) GetByID(ctx context.Context, id string) (*model.Runner, error) {
	var runner model.Runner
	err := f.getDB().WithContext(ctx).Where("id = ?", id).First(&runner).Error
	if err != nil {
		if errorsIsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &runner, nil
}

func (f *RunnerFacade) ListActive(ctx context.Context) ([]*model.Runner, error) {
	var runners []*model.Runner
	err := f.getDB().WithContext(ctx).
		Where("status = ?", model.RunnerStatusActive).
		Order("hostname").
		Find(&runners).Error
	return runners, err
}

func (f *RunnerFacade) MarkStale(ctx context.Context, staleness time.Duration) (int, error) {
	cutoff := time.Now().Add(-staleness)
	result := f.getDB().WithContext(ctx).Model(&model.Runner{}).
		Where("status = ? AND last_heartbeat_at < ?", model.RunnerStatusActive, cutoff).
		Update("status", model.RunnerStatusUnavailable)
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}
