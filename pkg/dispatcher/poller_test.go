package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umbrella22/ops-service/pkg/database/model"
)

func TestDefaultPollerConfig(t *testing.T) {
	cfg := DefaultPollerConfig()
	assert.Equal(t, 100*time.Millisecond, cfg.InitialInterval)
	assert.Equal(t, 5*time.Second, cfg.MaxInterval)
	assert.Equal(t, 1.5, cfg.Multiplier)
	assert.Equal(t, 5*time.Minute, cfg.DefaultTimeout)
}

func TestResultPollerWaitForResultImmediateTerminal(t *testing.T) {
	facade := &mockTaskFacade{
		getFunc: func(ctx context.Context, id string) (*model.Task, error) {
			return &model.Task{ID: id, Status: model.TaskStatusSucceeded}, nil
		},
	}
	poller := NewResultPoller(facade, &PollerConfig{
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     100 * time.Millisecond,
		Multiplier:      1.5,
		DefaultTimeout:  1 * time.Second,
	})

	task, err := poller.WaitForResult(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusSucceeded, task.Status)
}

func TestResultPollerWaitForResultDelayedTerminal(t *testing.T) {
	calls := 0
	facade := &mockTaskFacade{
		getFunc: func(ctx context.Context, id string) (*model.Task, error) {
			calls++
			if calls < 3 {
				return &model.Task{ID: id, Status: model.TaskStatusRunning}, nil
			}
			return &model.Task{ID: id, Status: model.TaskStatusFailed}, nil
		},
	}
	poller := NewResultPoller(facade, &PollerConfig{
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		Multiplier:      1.5,
		DefaultTimeout:  1 * time.Second,
	})

	task, err := poller.WaitForResult(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, task.Status)
	assert.GreaterOrEqual(t, calls, 3)
}

func TestResultPollerWaitForResultWithTimeoutExpires(t *testing.T) {
	facade := &mockTaskFacade{
		getFunc: func(ctx context.Context, id string) (*model.Task, error) {
			return &model.Task{ID: id, Status: model.TaskStatusRunning}, nil
		},
	}
	poller := NewResultPoller(facade, &PollerConfig{
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		Multiplier:      1.5,
		DefaultTimeout:  1 * time.Second,
	})

	_, err := poller.WaitForResultWithTimeout(context.Background(), "task-1", 30*time.Millisecond)
	assert.Equal(t, ErrPollTimeout, err)
}

func TestResultPollerWaitForResultContextCancelled(t *testing.T) {
	facade := &mockTaskFacade{
		getFunc: func(ctx context.Context, id string) (*model.Task, error) {
			return &model.Task{ID: id, Status: model.TaskStatusRunning}, nil
		},
	}
	poller := NewResultPoller(facade, &PollerConfig{
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     50 * time.Millisecond,
		Multiplier:      1.5,
		DefaultTimeout:  1 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := poller.WaitForResult(ctx, "task-1")
	assert.Equal(t, context.Canceled, err)
}

func TestResultPollerWaitForResults(t *testing.T) {
	attempts := map[string]int{}
	facade := &mockTaskFacade{
		getFunc: func(ctx context.Context, id string) (*model.Task, error) {
			attempts[id]++
			if attempts[id] < 2 {
				return &model.Task{ID: id, Status: model.TaskStatusRunning}, nil
			}
			return &model.Task{ID: id, Status: model.TaskStatusSucceeded}, nil
		},
	}
	poller := NewResultPoller(facade, &PollerConfig{
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		Multiplier:      1.5,
		DefaultTimeout:  1 * time.Second,
	})

	results, err := poller.WaitForResults(context.Background(), []string{"t1", "t2", "t3"}, time.Second)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestResultPollerWaitForResultsPartialTimeout(t *testing.T) {
	facade := &mockTaskFacade{
		getFunc: func(ctx context.Context, id string) (*model.Task, error) {
			if id == "t1" {
				return &model.Task{ID: id, Status: model.TaskStatusSucceeded}, nil
			}
			return &model.Task{ID: id, Status: model.TaskStatusRunning}, nil
		},
	}
	poller := NewResultPoller(facade, &PollerConfig{
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		Multiplier:      1.5,
		DefaultTimeout:  1 * time.Second,
	})

	results, err := poller.WaitForResults(context.Background(), []string{"t1", "t2"}, 30*time.Millisecond)
	assert.Equal(t, ErrPollTimeout, err)
	assert.Len(t, results, 1)
	assert.NotNil(t, results["t1"])
}
