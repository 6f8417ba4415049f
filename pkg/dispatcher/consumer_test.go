package dispatcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umbrella22/ops-service/pkg/database"
	"github.com/umbrella22/ops-service/pkg/database/model"
)

func TestResultHandlerApplyIgnoresProgress(t *testing.T) {
	facade := &mockTaskFacade{}
	handler := NewResultHandler(facade)

	applied, err := handler.Apply(context.Background(), &ResultEnvelope{
		Kind:   ResultKindProgress,
		TaskID: "task-1",
	})
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestResultHandlerApplyTerminalSuccess(t *testing.T) {
	var completedID string
	facade := &mockTaskFacade{
		completeFunc: func(ctx context.Context, id string, exitCode int, outputHandle string, truncated bool) error {
			completedID = id
			return nil
		},
	}
	handler := NewResultHandler(facade)

	applied, err := handler.Apply(context.Background(), &ResultEnvelope{
		Kind:   ResultKindTerminal,
		TaskID: "task-1",
		Status: model.TaskStatusSucceeded,
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "task-1", completedID)
}

func TestResultHandlerApplyTerminalFailure(t *testing.T) {
	var failedReason model.FailureReason
	facade := &mockTaskFacade{
		failFunc: func(ctx context.Context, id string, reason model.FailureReason, exitCode *int, outputHandle string) error {
			failedReason = reason
			return nil
		},
	}
	handler := NewResultHandler(facade)

	applied, err := handler.Apply(context.Background(), &ResultEnvelope{
		Kind:          ResultKindTerminal,
		TaskID:        "task-1",
		Status:        model.TaskStatusFailed,
		FailureReason: model.FailureCommandTimeout,
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, model.FailureCommandTimeout, failedReason)
}

func TestResultHandlerApplyDuplicateIsNotAnError(t *testing.T) {
	facade := &mockTaskFacade{
		completeFunc: func(ctx context.Context, id string, exitCode int, outputHandle string, truncated bool) error {
			return database.ErrTaskNotFound
		},
	}
	handler := NewResultHandler(facade)

	applied, err := handler.Apply(context.Background(), &ResultEnvelope{
		Kind:   ResultKindTerminal,
		TaskID: "task-1",
		Status: model.TaskStatusSucceeded,
	})
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestResultHandlerApplyPropagatesOtherErrors(t *testing.T) {
	facade := &mockTaskFacade{
		completeFunc: func(ctx context.Context, id string, exitCode int, outputHandle string, truncated bool) error {
			return assert.AnError
		},
	}
	handler := NewResultHandler(facade)

	_, err := handler.Apply(context.Background(), &ResultEnvelope{
		Kind:   ResultKindTerminal,
		TaskID: "task-1",
		Status: model.TaskStatusSucceeded,
	})
	assert.ErrorIs(t, err, assert.AnError)
}
