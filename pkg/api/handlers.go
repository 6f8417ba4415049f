// Package api implements the Submission API's HTTP surface: job submission,
// status lookup, cancellation, approval decisions. Handlers are thin
// translators between gin requests and pkg/orchestrator / pkg/approval;
// all business logic lives there.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/umbrella22/ops-service/pkg/approval"
	"github.com/umbrella22/ops-service/pkg/database"
	"github.com/umbrella22/ops-service/pkg/database/model"
	"github.com/umbrella22/ops-service/pkg/errors"
	"github.com/umbrella22/ops-service/pkg/model/rest"
	"github.com/umbrella22/ops-service/pkg/orchestrator"
	"github.com/umbrella22/ops-service/pkg/router/middleware"
)

// Handlers bundles the services the Submission API routes through.
type Handlers struct {
	orch      *orchestrator.Service
	approvals *approval.Service
	jobs      database.JobFacadeInterface
	tasks     database.TaskFacadeInterface
	builds    database.BuildFacadeInterface
}

// NewHandlers wraps the services a Register call wires onto a route group.
func NewHandlers(orch *orchestrator.Service, approvals *approval.Service, jobs database.JobFacadeInterface, tasks database.TaskFacadeInterface, builds database.BuildFacadeInterface) *Handlers {
	return &Handlers{orch: orch, approvals: approvals, jobs: jobs, tasks: tasks, builds: builds}
}

// Register mounts every Submission API route onto group, suitable for
// passing to router.RegisterGroup.
func (h *Handlers) Register(group *gin.RouterGroup) error {
	jobs := group.Group("/jobs")
	jobs.POST("", h.submitJob)
	jobs.GET("/:id", h.getJob)
	jobs.POST("/:id/cancel", h.cancelJob)
	jobs.GET("/:id/tasks", h.listTasks)
	jobs.POST("/:id/approvals", h.decideApproval)

	builds := group.Group("/builds")
	builds.GET("/:id", h.getBuild)
	builds.GET("/:id/steps", h.listBuildSteps)

	return nil
}

type submitJobRequest struct {
	IdempotencyKey           string   `json:"idempotency_key"`
	Command                  string   `json:"command" binding:"required"`
	TargetHostIDs            []string `json:"target_host_ids"`
	TargetGroupIDs           []string `json:"target_group_ids"`
	TemplateRequiresApproval bool     `json:"template_requires_approval"`
}

func (h *Handlers) submitJob(c *gin.Context) {
	var req submitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessage("invalid request body").WithError(err))
		return
	}

	requesterID := middleware.RequesterID(c)
	if requesterID == "" {
		requesterID = c.GetHeader("X-Requester-ID")
	}

	job, err := h.orch.Submit(c.Request.Context(), orchestrator.Submission{
		IdempotencyKey:           req.IdempotencyKey,
		Command:                  req.Command,
		RequesterID:              requesterID,
		TargetHostIDs:            req.TargetHostIDs,
		TargetGroupIDs:           req.TargetGroupIDs,
		TemplateRequiresApproval: req.TemplateRequiresApproval,
	})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rest.SuccessResp(job))
}

func (h *Handlers) getJob(c *gin.Context) {
	job, err := h.jobs.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	if job == nil {
		c.Error(errors.NewError().WithCode(errors.RequestDataNotExisted).WithMessage("job not found"))
		return
	}
	c.JSON(http.StatusOK, rest.SuccessResp(job))
}

func (h *Handlers) cancelJob(c *gin.Context) {
	if err := h.orch.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rest.SuccessResp(nil))
}

func (h *Handlers) listTasks(c *gin.Context) {
	jobID := c.Param("id")
	tasks, err := h.tasks.List(c.Request.Context(), &database.TaskFilter{JobID: jobID})
	if err != nil {
		c.Error(err)
		return
	}
	total, err := h.tasks.Count(c.Request.Context(), &database.TaskFilter{JobID: jobID})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rest.SuccessResp(rest.NewListData(tasks, total)))
}

type decideApprovalRequest struct {
	Decision model.ApprovalDecision `json:"decision" binding:"required"`
}

// decideApproval records an approve/reject vote and, once a decision makes
// the request conclusive, drives the side effect: a reject already
// cancelled the job inside approval.Service; an approve that reaches
// quorum still needs the orchestrator to actually dispatch the job's
// tasks, which approval.Service has no Publisher to do itself.
func (h *Handlers) decideApproval(c *gin.Context) {
	var req decideApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessage("invalid request body").WithError(err))
		return
	}

	approverID := middleware.RequesterID(c)
	if approverID == "" {
		approverID = c.GetHeader("X-Requester-ID")
	}

	jobID := c.Param("id")
	result, err := h.approvals.RecordDecision(c.Request.Context(), jobID, approverID, req.Decision)
	if err != nil {
		c.Error(errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessage(err.Error()).WithError(err))
		return
	}

	if result.Status == model.ApprovalStatusApproved {
		if err := h.orch.DispatchApprovedJob(c.Request.Context(), jobID); err != nil {
			c.Error(err)
			return
		}
	}

	c.JSON(http.StatusOK, rest.SuccessResp(result))
}

func (h *Handlers) getBuild(c *gin.Context) {
	job, err := h.builds.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	if job == nil {
		c.Error(errors.NewError().WithCode(errors.RequestDataNotExisted).WithMessage("build job not found"))
		return
	}
	c.JSON(http.StatusOK, rest.SuccessResp(job))
}

func (h *Handlers) listBuildSteps(c *gin.Context) {
	steps, err := h.builds.ListSteps(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rest.SuccessResp(rest.NewListData(steps, int64(len(steps)))))
}
