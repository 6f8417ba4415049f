package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigAppliesDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	err := os.WriteFile(path, []byte(`
httpPort: 8080
database:
  dsn: "postgres://localhost/ops"
broker:
  url: "amqp://localhost:5672"
scheduler:
  maxConcurrentTasks: 5
`), 0644)
	require.NoError(t, err)

	t.Setenv("CONFIG_PATH", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "postgres://localhost/ops", cfg.Database.DSN)
	assert.Equal(t, 5, cfg.Scheduler.MaxConcurrentTasks)
	assert.Equal(t, "ops.tasks", cfg.Broker.TasksExchange)
	assert.Equal(t, "ops.results", cfg.Broker.ResultsExchange)
	assert.NotZero(t, cfg.SSH.ConnectTimeout)
	assert.Equal(t, 1, cfg.Approval.DefaultQuorum)
	assert.Equal(t, "exec", cfg.Orchestrator.Capability)
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", "/nonexistent/config.yaml")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestMiddlewareConfigDefaults(t *testing.T) {
	var m MiddlewareConfig
	assert.True(t, m.IsLoggingEnabled())
	assert.True(t, m.IsMetricsEnabled())
	assert.False(t, m.IsAuthEnabled())
}
