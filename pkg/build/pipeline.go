// Package build implements the runner's second TaskExecutor: a typed step
// pipeline (clone, install, test, build, package) sharing the same
// terminal-result contract as pkg/sshexec's single-command executor, but
// driving a BuildJob's ordered BuildStep rows instead of one SSH command.
package build

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/umbrella22/ops-service/pkg/blobstore"
	"github.com/umbrella22/ops-service/pkg/config"
	"github.com/umbrella22/ops-service/pkg/database"
	"github.com/umbrella22/ops-service/pkg/database/model"
	"github.com/umbrella22/ops-service/pkg/logger/log"
)

// artifactOutputPrefix namespaces artifact objects within the shared
// bucket, distinct from pkg/runner's task-output prefix.
const artifactOutputPrefix = "build-artifact"

// stepOutputPrefix namespaces per-step log capture.
const stepOutputPrefix = "build-step-output"

// Pipeline drives one BuildJob's steps to completion, grounded in the
// teacher's dataplane_installer processTask state machine: look up the
// next non-terminal step, execute it, persist the outcome, advance.
type Pipeline struct {
	builds database.BuildFacadeInterface
	store  blobstore.Store
	exec   *executor
	cfg    config.BuildConfig
}

// NewPipeline constructs a Pipeline. store may be nil, in which case step
// detail logs and artifact bytes are not persisted beyond the in-memory
// outcome (only status/summary survive on the BuildStep row).
func NewPipeline(builds database.BuildFacadeInterface, store blobstore.Store, cfg config.BuildConfig) *Pipeline {
	return &Pipeline{
		builds: builds,
		store:  store,
		exec:   newExecutor(cfg.WorkspaceRoot),
		cfg:    cfg,
	}
}

// Run executes every step of job not already succeeded or skipped, in
// sequence order, until either the pipeline completes, a non-continuable
// step fails, or ctx is cancelled. It is safe to call again after a crash:
// succeeded and skipped steps are not run again, while any other step
// (including one left "running" by a crashed process, or one that failed
// earlier) is re-executed from scratch, since steps carry no
// partial-progress state of their own.
func (p *Pipeline) Run(ctx context.Context, job *model.BuildJob) error {
	steps, err := p.builds.ListSteps(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("list steps for build %s: %w", job.ID, err)
	}

	if err := p.builds.MarkJobStatus(ctx, job.ID, model.TaskStatusRunning); err != nil {
		log.Errorf("build: mark job %s running: %v", job.ID, err)
	}

	for _, step := range steps {
		if step.Status == model.TaskStatusSucceeded || step.Status == model.TaskStatusSkipped {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := p.builds.StartStep(ctx, step.ID); err != nil {
			log.Errorf("build: start step %s: %v", step.ID, err)
		}

		log.Infof("build: executing step %s (job=%s kind=%s seq=%d)", step.ID, job.ID, step.Kind, step.Sequence)

		outcome := p.exec.run(ctx, job.ID, step, job.RepositoryURL, job.Ref)

		handle := p.storeDetail(ctx, step, outcome.detail)
		if err := p.builds.CompleteStep(ctx, step.ID, outcome.status, outcome.summary, handle); err != nil {
			log.Errorf("build: complete step %s: %v", step.ID, err)
		}

		if outcome.status == model.TaskStatusSucceeded && outcome.artifact != nil {
			if err := p.registerArtifact(ctx, job, step, outcome.artifact); err != nil {
				log.Errorf("build: register artifact for step %s: %v", step.ID, err)
				return p.fail(ctx, job, step)
			}
			continue
		}

		if outcome.status != model.TaskStatusSucceeded {
			if step.ContinueOnFailure {
				log.Warnf("build: step %s failed, continuing (continue_on_failure)", step.ID)
				continue
			}
			return p.fail(ctx, job, step)
		}
	}

	return p.succeed(ctx, job)
}

// fail marks every remaining pending step skipped and the job failed, the
// terminal fan-out spec.md requires when a non-continuable step fails.
func (p *Pipeline) fail(ctx context.Context, job *model.BuildJob, failedStep *model.BuildStep) error {
	if err := p.builds.SkipRemainingSteps(ctx, job.ID, failedStep.Sequence); err != nil {
		log.Errorf("build: skip remaining steps for job %s: %v", job.ID, err)
	}
	if err := p.builds.MarkJobStatus(ctx, job.ID, model.TaskStatusFailed); err != nil {
		log.Errorf("build: mark job %s failed: %v", job.ID, err)
	}
	return fmt.Errorf("build %s failed at step %s", job.ID, failedStep.ID)
}

func (p *Pipeline) succeed(ctx context.Context, job *model.BuildJob) error {
	if err := p.builds.MarkJobStatus(ctx, job.ID, model.TaskStatusSucceeded); err != nil {
		log.Errorf("build: mark job %s succeeded: %v", job.ID, err)
	}
	return nil
}

// storeDetail persists a step's captured output to the blob store. A store
// failure is logged and swallowed: losing the detail log must never block
// recording the step's own terminal outcome.
func (p *Pipeline) storeDetail(ctx context.Context, step *model.BuildStep, detail []byte) string {
	if p.store == nil || len(detail) == 0 {
		return ""
	}
	handle, _, err := p.store.Put(ctx, stepOutputPrefix, detail)
	if err != nil {
		log.Errorf("build: store detail for step %s: %v", step.ID, err)
		return ""
	}
	return handle
}

// registerArtifact reads the package step's declared artifact path,
// uploads it to the blob store, and registers the resulting metadata.
// ErrArtifactAlreadyExists propagates unchanged: a duplicate (version,
// artifact_type) is a build-level failure, not a silent no-op.
func (p *Pipeline) registerArtifact(ctx context.Context, job *model.BuildJob, step *model.BuildStep, ar *artifactResult) error {
	data, err := os.ReadFile(ar.path)
	if err != nil {
		return fmt.Errorf("read artifact %s: %w", ar.path, err)
	}

	var handle, digest string
	if p.store != nil {
		handle, digest, err = p.store.Put(ctx, artifactOutputPrefix, data)
		if err != nil {
			return fmt.Errorf("upload artifact %s: %w", ar.path, err)
		}
	}

	artifact := &model.BuildArtifact{
		ID:           uuid.NewString(),
		BuildJobID:   job.ID,
		Name:         ar.name,
		Version:      job.Version,
		ArtifactType: ar.kind,
		SHA256:       digest,
		BlobHandle:   handle,
		SizeBytes:    int64(len(data)),
		CreatedAt:    time.Now(),
	}
	return p.builds.RegisterArtifact(ctx, artifact)
}
