package dispatcher

import (
	"context"
	"time"

	"github.com/umbrella22/ops-service/pkg/database"
	"github.com/umbrella22/ops-service/pkg/database/model"
)

// mockTaskFacade implements database.TaskFacadeInterface with overridable
// function fields, following the teacher's MockQueue pattern in
// aitaskqueue's test suite.
type mockTaskFacade struct {
	getFunc      func(ctx context.Context, id string) (*model.Task, error)
	countFunc    func(ctx context.Context, filter *database.TaskFilter) (int64, error)
	completeFunc func(ctx context.Context, id string, exitCode int, outputHandle string, truncated bool) error
	failFunc     func(ctx context.Context, id string, reason model.FailureReason, exitCode *int, outputHandle string) error
}

func (m *mockTaskFacade) CreateBatch(ctx context.Context, tasks []*model.Task) error { return nil }

func (m *mockTaskFacade) Get(ctx context.Context, id string) (*model.Task, error) {
	return m.getFunc(ctx, id)
}

func (m *mockTaskFacade) ClaimTask(ctx context.Context, runnerID string, lockDuration time.Duration) (*model.Task, error) {
	return nil, nil
}

func (m *mockTaskFacade) ExtendLock(ctx context.Context, id, runnerID string, lockDuration time.Duration) (bool, error) {
	return false, nil
}

func (m *mockTaskFacade) Complete(ctx context.Context, id string, exitCode int, outputHandle string, truncated bool) error {
	if m.completeFunc != nil {
		return m.completeFunc(ctx, id, exitCode, outputHandle, truncated)
	}
	return nil
}

func (m *mockTaskFacade) Fail(ctx context.Context, id string, reason model.FailureReason, exitCode *int, outputHandle string) error {
	if m.failFunc != nil {
		return m.failFunc(ctx, id, reason, exitCode, outputHandle)
	}
	return nil
}

func (m *mockTaskFacade) Cancel(ctx context.Context, id string) error { return nil }

func (m *mockTaskFacade) List(ctx context.Context, filter *database.TaskFilter) ([]*model.Task, error) {
	return nil, nil
}

func (m *mockTaskFacade) Count(ctx context.Context, filter *database.TaskFilter) (int64, error) {
	return m.countFunc(ctx, filter)
}

func (m *mockTaskFacade) ReleaseStaleLocks(ctx context.Context) (int, error) { return 0, nil }
