package database

import (
	"context"
	"testing"
	"time"

	"github.com/umbrella22/ops-service/pkg/database/model"
	"github.com/stretchr/testify/require"
)

func TestRunnerFacadeUpsertReRegistersByHostname(t *testing.T) {
	db := newTestDB(t)
	facade := NewRunnerFacade(db)
	ctx := context.Background()

	runner := &model.Runner{
		ID: "r1", Hostname: "runner-1", Status: model.RunnerStatusActive,
		MaxConcurrentTasks: 4, Capabilities: model.JSONStringSlice{"ssh"},
	}
	require.NoError(t, facade.Upsert(ctx, runner))

	again := &model.Runner{
		ID: "r1", Hostname: "runner-1", Status: model.RunnerStatusActive,
		MaxConcurrentTasks: 8, RunningTasks: 2, Capabilities: model.JSONStringSlice{"ssh", "build"},
	}
	require.NoError(t, facade.Upsert(ctx, again))

	got, err := facade.GetByID(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, 8, got.MaxConcurrentTasks)
	require.Equal(t, 2, got.RunningTasks)
}

func TestRunnerFacadeListActiveAndMarkStale(t *testing.T) {
	db := newTestDB(t)
	facade := NewRunnerFacade(db)
	ctx := context.Background()

	stale := &model.Runner{ID: "r1", Hostname: "runner-1", Status: model.RunnerStatusActive}
	require.NoError(t, facade.Upsert(ctx, stale))
	db.Model(&model.Runner{}).Where("id = ?", "r1").Update("last_heartbeat_at", time.Now().Add(-time.Hour))

	fresh := &model.Runner{ID: "r2", Hostname: "runner-2", Status: model.RunnerStatusActive}
	require.NoError(t, facade.Upsert(ctx, fresh))

	active, err := facade.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)

	changed, err := facade.MarkStale(ctx, 10*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, changed)

	got, err := facade.GetByID(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, model.RunnerStatusUnavailable, got.Status)
}
