package build

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/umbrella22/ops-service/pkg/database/model"
)

// stepOutcome is what a single step execution produced, independent of how
// it gets persisted (BuildFacade.CompleteStep, blob store, artifact
// registration).
type stepOutcome struct {
	status   model.TaskStatus
	summary  string
	detail   []byte
	artifact *artifactResult
}

// artifactResult carries the metadata a package step collects for
// registration; only populated when the step is a StepPackage that
// succeeded.
type artifactResult struct {
	path      string // absolute path on disk, read and hashed by the pipeline
	name      string
	kind      string
}

// executor runs one BuildStep's command under a resolved workspace
// directory. clone uses go-git; every other kind shells out.
type executor struct {
	workspacePrefix string
}

func newExecutor(workspacePrefix string) *executor {
	return &executor{workspacePrefix: workspacePrefix}
}

// run executes step against buildJobID's workspace and repository
// coordinates. repoURL/ref are only consulted by a clone step.
func (e *executor) run(ctx context.Context, buildJobID string, step *model.BuildStep, repoURL, ref string) stepOutcome {
	root, err := BuildRoot(e.workspacePrefix, buildJobID)
	if err != nil {
		return stepOutcome{status: model.TaskStatusFailed, summary: err.Error()}
	}

	switch step.Kind {
	case model.StepClone:
		return e.runClone(ctx, root, repoURL, ref)
	case model.StepPackage:
		return e.runPackage(ctx, buildJobID, root, step)
	default:
		return e.runCommand(ctx, root, step.Command)
	}
}

func (e *executor) runClone(ctx context.Context, root, repoURL, ref string) stepOutcome {
	if err := os.MkdirAll(e.workspacePrefix, 0o755); err != nil {
		return stepOutcome{status: model.TaskStatusFailed, summary: fmt.Sprintf("create workspace prefix: %v", err)}
	}

	opts := &git.CloneOptions{
		URL:      repoURL,
		Progress: nil,
	}
	if ref != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(ref)
		opts.SingleBranch = true
	}

	repo, err := git.PlainCloneContext(ctx, root, false, opts)
	if err != nil {
		// ref may be a commit SHA or tag rather than a branch; retry a
		// plain clone and check out the ref explicitly.
		opts.ReferenceName = ""
		opts.SingleBranch = false
		repo, err = git.PlainCloneContext(ctx, root, false, opts)
		if err != nil {
			return stepOutcome{status: model.TaskStatusFailed, summary: fmt.Sprintf("clone %s: %v", repoURL, err)}
		}
		if ref != "" {
			wt, wtErr := repo.Worktree()
			if wtErr != nil {
				return stepOutcome{status: model.TaskStatusFailed, summary: fmt.Sprintf("open worktree: %v", wtErr)}
			}
			hash, resolveErr := repo.ResolveRevision(plumbing.Revision(ref))
			if resolveErr != nil {
				return stepOutcome{status: model.TaskStatusFailed, summary: fmt.Sprintf("resolve ref %s: %v", ref, resolveErr)}
			}
			if checkoutErr := wt.Checkout(&git.CheckoutOptions{Hash: *hash}); checkoutErr != nil {
				return stepOutcome{status: model.TaskStatusFailed, summary: fmt.Sprintf("checkout %s: %v", ref, checkoutErr)}
			}
		}
	}

	return stepOutcome{status: model.TaskStatusSucceeded, summary: fmt.Sprintf("cloned %s@%s", repoURL, ref)}
}

func (e *executor) runCommand(ctx context.Context, root, command string) stepOutcome {
	if command == "" {
		return stepOutcome{status: model.TaskStatusSucceeded, summary: "no command"}
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = root

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	detail := out.Bytes()

	if err != nil {
		return stepOutcome{
			status:  model.TaskStatusFailed,
			summary: fmt.Sprintf("command failed: %v", err),
			detail:  detail,
		}
	}
	return stepOutcome{status: model.TaskStatusSucceeded, summary: "ok", detail: detail}
}

// runPackage runs the step's command like any other, then additionally
// resolves ArtifactPath through the workspace choke point so a malicious or
// mistaken step can never register (or read) a file outside the build's own
// workspace.
func (e *executor) runPackage(ctx context.Context, buildJobID, root string, step *model.BuildStep) stepOutcome {
	outcome := e.runCommand(ctx, root, step.Command)
	if outcome.status != model.TaskStatusSucceeded {
		return outcome
	}
	if step.ArtifactPath == "" {
		return outcome
	}

	full, err := WorkspacePath(e.workspacePrefix, buildJobID, step.ArtifactPath)
	if err != nil {
		return stepOutcome{status: model.TaskStatusFailed, summary: err.Error(), detail: outcome.detail}
	}

	outcome.artifact = &artifactResult{
		path: full,
		name: step.ArtifactName,
		kind: step.ArtifactType,
	}
	return outcome
}
