package database

import (
	"context"
	"time"

	"github.com/umbrella22/ops-service/pkg/database/model"
	dberrors "github.com/umbrella22/ops-service/pkg/errors"
	"gorm.io/gorm"
)

// ErrArtifactAlreadyExists is returned when a build tries to register an
// artifact whose (Version, ArtifactType) pair was already published.
var ErrArtifactAlreadyExists = dberrors.NewError().WithCode(dberrors.RequestDataExists).WithMessage("artifact version already published")

// BuildFacadeInterface is the persistence boundary for the build pipeline:
// BuildJob, its ordered BuildSteps, and the BuildArtifacts it registers.
type BuildFacadeInterface interface {
	CreateJob(ctx context.Context, job *model.BuildJob, steps []*model.BuildStep) error
	GetJob(ctx context.Context, id string) (*model.BuildJob, error)
	ListPendingJobs(ctx context.Context) ([]*model.BuildJob, error)
	ClaimJob(ctx context.Context, jobID string) (bool, error)
	ListSteps(ctx context.Context, buildJobID string) ([]*model.BuildStep, error)
	StartStep(ctx context.Context, stepID string) error
	CompleteStep(ctx context.Context, stepID string, status model.TaskStatus, summary, outputHandle string) error
	SkipRemainingSteps(ctx context.Context, buildJobID string, afterSequence int) error
	MarkJobStatus(ctx context.Context, jobID string, status model.TaskStatus) error
	RegisterArtifact(ctx context.Context, artifact *model.BuildArtifact) error
	GetArtifact(ctx context.Context, version, artifactType string) (*model.BuildArtifact, error)
}

// BuildFacade implements BuildFacadeInterface.
type BuildFacade struct {
	BaseFacade
}

// NewBuildFacade wraps db as a BuildFacadeInterface.
func NewBuildFacade(db *gorm.DB) BuildFacadeInterface {
	return &BuildFacade{BaseFacade: NewBaseFacade(db)}
}

func (f *BuildFacade) CreateJob(ctx context.Context, job *model.BuildJob, steps []*model.BuildStep) error {
	return f.getDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(job).Error; err != nil {
			return err
		}
		if len(steps) > 0 {
			if err := tx.Create(&steps).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (f *BuildFacade) GetJob(ctx context.Context, id string) (*model.BuildJob, error) {
	var job model.BuildJob
	err := f.getDB().WithContext(ctx).Where("id = ?", id).First(&job).Error
	if err != nil {
		if errorsIsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// ListPendingJobs returns every BuildJob still awaiting dispatch, oldest
// first.
func (f *BuildFacade) ListPendingJobs(ctx context.Context) ([]*model.BuildJob, error) {
	var jobs []*model.BuildJob
	err := f.getDB().WithContext(ctx).
		Where("status = ?", model.TaskStatusPending).
		Order("created_at ASC").
		Find(&jobs).Error
	return jobs, err
}

// ClaimJob atomically transitions jobID from pending to running, returning
// whether this call won the race. Mirrors the runner's ClaimTask
// SELECT...FOR UPDATE SKIP LOCKED intent with a single conditional UPDATE,
// since only one build-capable runner instance needs to win, not hold a
// row lock for the duration of the build.
func (f *BuildFacade) ClaimJob(ctx context.Context, jobID string) (bool, error) {
	now := time.Now()
	res := f.getDB().WithContext(ctx).Model(&model.BuildJob{}).
		Where("id = ? AND status = ?", jobID, model.TaskStatusPending).
		Updates(map[string]interface{}{"status": model.TaskStatusRunning, "started_at": now})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (f *BuildFacade) ListSteps(ctx context.Context, buildJobID string) ([]*model.BuildStep, error) {
	var steps []*model.BuildStep
	err := f.getDB().WithContext(ctx).
		Where("build_job_id = ?", buildJobID).
		Order("sequence ASC").
		Find(&steps).Error
	return steps, err
}

func (f *BuildFacade) StartStep(ctx context.Context, stepID string) error {
	now := time.Now()
	return f.getDB().WithContext(ctx).Model(&model.BuildStep{}).
		Where("id = ?", stepID).
		Updates(map[string]interface{}{"status": model.TaskStatusRunning, "started_at": now}).Error
}

func (f *BuildFacade) CompleteStep(ctx context.Context, stepID string, status model.TaskStatus, summary, outputHandle string) error {
	now := time.Now()
	return f.getDB().WithContext(ctx).Model(&model.BuildStep{}).
		Where("id = ?", stepID).
		Updates(map[string]interface{}{
			"status":        status,
			"summary":       summary,
			"output_handle": outputHandle,
			"completed_at":  now,
		}).Error
}

// SkipRemainingSteps marks every pending step after afterSequence as
// skipped in one statement, the terminal fan-out when a non-continuable
// step fails.
func (f *BuildFacade) SkipRemainingSteps(ctx context.Context, buildJobID string, afterSequence int) error {
	return f.getDB().WithContext(ctx).Model(&model.BuildStep{}).
		Where("build_job_id = ? AND sequence > ? AND status = ?", buildJobID, afterSequence, model.TaskStatusPending).
		Update("status", model.TaskStatusSkipped).Error
}

func (f *BuildFacade) MarkJobStatus(ctx context.Context, jobID string, status model.TaskStatus) error {
	updates := map[string]interface{}{"status": status}
	if status == model.TaskStatusSucceeded || status == model.TaskStatusFailed || status == model.TaskStatusCancelled {
		updates["completed_at"] = time.Now()
	}
	return f.getDB().WithContext(ctx).Model(&model.BuildJob{}).
		Where("id = ?", jobID).
		Updates(updates).Error
}

func (f *BuildFacade) RegisterArtifact(ctx context.Context, artifact *model.BuildArtifact) error {
	err := f.getDB().WithContext(ctx).Create(artifact).Error
	if isUniqueViolation(err) {
		return ErrArtifactAlreadyExists
	}
	return err
}

func (f *BuildFacade) GetArtifact(ctx context.Context, version, artifactType string) (*model.BuildArtifact, error) {
	var artifact model.BuildArtifact
	err := f.getDB().WithContext(ctx).
		Where("version = ? AND artifact_type = ?", version, artifactType).
		First(&artifact).Error
	if err != nil {
		if errorsIsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &artifact, nil
}
