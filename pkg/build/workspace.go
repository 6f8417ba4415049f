package build

import (
	"fmt"
	"path/filepath"
	"strings"

	dberrors "github.com/umbrella22/ops-service/pkg/errors"
)

// ErrWorkspaceViolation is the build-layer error for any computed path that
// escapes the configured workspace prefix.
var ErrWorkspaceViolation = dberrors.NewError().WithCode(dberrors.WorkspaceViolation).WithMessage("path escapes workspace prefix")

// WorkspacePath is the single choke point every cleanup, clone, and
// package-path operation in this package must pass through. It joins
// prefix, buildJobID and parts, then refuses to return anything that does
// not stay under prefix/buildJobID — the one hard invariant that keeps a
// misbehaving step from touching files outside its own build workspace.
func WorkspacePath(prefix, buildJobID string, parts ...string) (string, error) {
	cleanPrefix := filepath.Clean(prefix)
	root := filepath.Join(cleanPrefix, buildJobID)
	if root != cleanPrefix && !strings.HasPrefix(root, cleanPrefix+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrWorkspaceViolation, root)
	}
	joined := append([]string{root}, parts...)
	full := filepath.Join(joined...)

	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrWorkspaceViolation, full)
	}
	return full, nil
}

// BuildRoot returns the root workspace directory for a single build job,
// the same value WorkspacePath(prefix, buildJobID) with no extra parts
// would return, factored out since callers need it before any step runs.
func BuildRoot(prefix, buildJobID string) (string, error) {
	return WorkspacePath(prefix, buildJobID)
}
