package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/umbrella22/ops-service/pkg/approval"
	"github.com/umbrella22/ops-service/pkg/config"
	"github.com/umbrella22/ops-service/pkg/database"
	"github.com/umbrella22/ops-service/pkg/database/model"
	"github.com/umbrella22/ops-service/pkg/dispatcher"
	"github.com/umbrella22/ops-service/pkg/model/rest"
	"github.com/umbrella22/ops-service/pkg/orchestrator"
)

type fakePublisher struct{}

func (fakePublisher) PublishTask(context.Context, string, *dispatcher.TaskEnvelope) error    { return nil }
func (fakePublisher) PublishControl(context.Context, *dispatcher.ControlEnvelope) error       { return nil }

func newTestEngine(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.Job{}, &model.Task{}, &model.Host{}, &model.Group{},
		&model.ApprovalRequest{}, &model.ApprovalRecord{},
		&model.BuildJob{}, &model.BuildStep{}, &model.BuildArtifact{},
	))

	jobs := database.NewJobFacade(db)
	tasks := database.NewTaskFacade(db)
	hosts := database.NewHostFacade(db)
	groups := database.NewGroupFacade(db)
	approvals := database.NewApprovalFacade(db)
	builds := database.NewBuildFacade(db)

	gate := approval.NewGate(config.ApprovalConfig{DefaultQuorum: 1, DefaultTTL: time.Hour})
	orch := orchestrator.NewService(jobs, tasks, hosts, groups, approvals, gate, fakePublisher{}, config.OrchestratorConfig{Capability: "exec"})
	approvalSvc := approval.NewService(approvals, jobs)

	h := NewHandlers(orch, approvalSvc, jobs, tasks, builds)

	engine := gin.New()
	g := engine.Group("")
	require.NoError(t, h.Register(g))

	return engine, db
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	return doJSONAs(t, engine, method, path, body, "")
}

func doJSONAs(t *testing.T, engine *gin.Engine, method, path string, body interface{}, requesterID string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if requesterID != "" {
		req.Header.Set("X-Requester-ID", requesterID)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func decodeResp(t *testing.T, w *httptest.ResponseRecorder) rest.Response {
	t.Helper()
	var resp rest.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestSubmitJobAndGet(t *testing.T) {
	engine, db := newTestEngine(t)
	require.NoError(t, db.Create(&model.Host{ID: "h1", Hostname: "h1", Address: "h1:22", Environment: "staging", SSHUser: "ops"}).Error)

	w := doJSON(t, engine, http.MethodPost, "/jobs", submitJobRequest{Command: "uptime", TargetHostIDs: []string{"h1"}})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeResp(t, w)
	assert.Equal(t, rest.CodeSuccess, resp.Meta.Code)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var job model.Job
	require.NoError(t, json.Unmarshal(data, &job))
	assert.Equal(t, model.JobStatusRunning, job.Status)

	w2 := doJSON(t, engine, http.MethodGet, "/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, w2.Code)
	resp2 := decodeResp(t, w2)
	assert.Equal(t, rest.CodeSuccess, resp2.Meta.Code)
}

func TestSubmitJobMissingCommandReturnsError(t *testing.T) {
	engine, _ := newTestEngine(t)

	w := doJSON(t, engine, http.MethodPost, "/jobs", map[string]interface{}{})
	resp := decodeResp(t, w)
	assert.NotEqual(t, rest.CodeSuccess, resp.Meta.Code)
}

func TestCancelJob(t *testing.T) {
	engine, db := newTestEngine(t)
	require.NoError(t, db.Create(&model.Host{ID: "h1", Hostname: "h1", Address: "h1:22", Environment: "staging", SSHUser: "ops"}).Error)

	w := doJSON(t, engine, http.MethodPost, "/jobs", submitJobRequest{Command: "uptime", TargetHostIDs: []string{"h1"}})
	resp := decodeResp(t, w)
	data, _ := json.Marshal(resp.Data)
	var job model.Job
	require.NoError(t, json.Unmarshal(data, &job))

	w2 := doJSON(t, engine, http.MethodPost, "/jobs/"+job.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w2.Code)

	var updated model.Job
	require.NoError(t, db.Where("id = ?", job.ID).First(&updated).Error)
	assert.Equal(t, model.JobStatusCancelled, updated.Status)
}

func TestDecideApprovalDispatchesOnQuorum(t *testing.T) {
	engine, db := newTestEngine(t)
	require.NoError(t, db.Create(&model.Host{ID: "h1", Hostname: "h1", Address: "h1:22", Environment: "prod", SSHUser: "ops"}).Error)

	w := doJSONAs(t, engine, http.MethodPost, "/jobs", submitJobRequest{Command: "uptime", TargetHostIDs: []string{"h1"}}, "alice")
	resp := decodeResp(t, w)
	data, _ := json.Marshal(resp.Data)
	var job model.Job
	require.NoError(t, json.Unmarshal(data, &job))
	require.Equal(t, model.JobStatusPendingApproval, job.Status)

	w2 := doJSONAs(t, engine, http.MethodPost, "/jobs/"+job.ID+"/approvals", decideApprovalRequest{Decision: model.DecisionApprove}, "bob")
	require.Equal(t, http.StatusOK, w2.Code)
	resp2 := decodeResp(t, w2)
	assert.Equal(t, rest.CodeSuccess, resp2.Meta.Code)

	var updated model.Job
	require.NoError(t, db.Where("id = ?", job.ID).First(&updated).Error)
	assert.Equal(t, model.JobStatusRunning, updated.Status)
}
