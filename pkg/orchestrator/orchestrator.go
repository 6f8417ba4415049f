// Package orchestrator implements the job orchestrator: submission
// validation, target resolution, atomic fan-out, risk evaluation, terminal
// aggregation, cancellation and the post-restart recovery sweep.
package orchestrator

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/umbrella22/ops-service/pkg/approval"
	"github.com/umbrella22/ops-service/pkg/config"
	"github.com/umbrella22/ops-service/pkg/database"
	"github.com/umbrella22/ops-service/pkg/database/model"
	"github.com/umbrella22/ops-service/pkg/dispatcher"
	"github.com/umbrella22/ops-service/pkg/errors"
	"github.com/umbrella22/ops-service/pkg/logger/log"
)

// Publisher is the subset of *dispatcher.Publisher the orchestrator needs,
// narrowed to an interface so tests can substitute a fake instead of a live
// broker connection.
type Publisher interface {
	PublishTask(ctx context.Context, capability string, env *dispatcher.TaskEnvelope) error
	PublishControl(ctx context.Context, env *dispatcher.ControlEnvelope) error
}

// Submission is the validated input to Service.Submit.
type Submission struct {
	IdempotencyKey           string
	Command                  string
	RequesterID              string
	TargetHostIDs            []string
	TargetGroupIDs           []string
	TemplateRequiresApproval bool
}

// Service is the job orchestrator.
type Service struct {
	jobs       database.JobFacadeInterface
	tasks      database.TaskFacadeInterface
	hosts      database.HostFacadeInterface
	groups     database.GroupFacadeInterface
	approvals  database.ApprovalFacadeInterface
	gate       *approval.Gate
	publisher  Publisher
	capability string
}

// NewService wires the orchestrator's dependencies. approvals is the raw
// facade (Submit only ever needs to Create a request); deciding on a
// pending request is a separate concern owned by approval.Service.
func NewService(
	jobs database.JobFacadeInterface,
	tasks database.TaskFacadeInterface,
	hosts database.HostFacadeInterface,
	groups database.GroupFacadeInterface,
	approvals database.ApprovalFacadeInterface,
	gate *approval.Gate,
	publisher Publisher,
	cfg config.OrchestratorConfig,
) *Service {
	capability := cfg.Capability
	if capability == "" {
		capability = "exec"
	}
	return &Service{
		jobs:       jobs,
		tasks:      tasks,
		hosts:      hosts,
		groups:     groups,
		approvals:  approvals,
		gate:       gate,
		publisher:  publisher,
		capability: capability,
	}
}

// ErrEmptyTargetSet is returned when a submission names no hosts or groups,
// or every referenced group resolves to zero hosts.
var ErrEmptyTargetSet = errors.NewError().WithCode(errors.InvalidTargetSet).WithMessage("resolved target set is empty")

// ErrCommandRequired is returned when Submission.Command is blank.
var ErrCommandRequired = errors.NewError().WithCode(errors.RequestParameterInvalid).WithMessage("command is required")

// ErrJobNotFound is returned when Cancel targets a job id that does not exist.
var ErrJobNotFound = errors.NewError().WithCode(errors.RequestDataNotExisted).WithMessage("job not found")

// Submit validates sub, resolves its target set, and persists the job.
// If sub.IdempotencyKey is set and a job with that key already exists, that
// job is returned unchanged with no new side effects.
func (s *Service) Submit(ctx context.Context, sub Submission) (*model.Job, error) {
	if sub.Command == "" {
		return nil, ErrCommandRequired
	}

	if sub.IdempotencyKey != "" {
		existing, err := s.jobs.GetByIdempotencyKey(ctx, sub.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	hosts, groups, err := s.resolveTargets(ctx, sub.TargetHostIDs, sub.TargetGroupIDs)
	if err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		return nil, ErrEmptyTargetSet
	}

	hostIDs := make([]string, 0, len(hosts))
	for _, h := range hosts {
		hostIDs = append(hostIDs, h.ID)
	}
	sort.Strings(hostIDs)

	job := model.NewJob(sub.IdempotencyKey, sub.Command, sub.RequesterID, hostIDs)
	tasks := make([]*model.Task, 0, len(hostIDs))
	for _, id := range hostIDs {
		tasks = append(tasks, &model.Task{
			ID:      uuid.NewString(),
			JobID:   job.ID,
			HostID:  id,
			Attempt: 1,
			Status:  model.TaskStatusPending,
		})
	}

	approvalReq := s.gate.Evaluate(job.ID, approval.Submission{
		Hosts:                    hosts,
		Groups:                   groups,
		TemplateRequiresApproval: sub.TemplateRequiresApproval,
	})
	if approvalReq != nil {
		job.Status = model.JobStatusPendingApproval
	}

	if err := s.jobs.CreateWithTasks(ctx, job, tasks); err != nil {
		return nil, err
	}

	if approvalReq != nil {
		if err := s.approvals.Create(ctx, approvalReq); err != nil {
			return nil, err
		}
		return job, nil
	}

	s.dispatchHosts(ctx, job, tasks, hosts)
	return job, nil
}

// resolveTargets computes the union of explicit hosts and the transitive
// closure of named groups, deduplicated by host ID. The returned groups
// slice carries every group actually referenced, for the approval gate's
// critical_group predicate.
func (s *Service) resolveTargets(ctx context.Context, hostIDs, groupIDs []string) ([]*model.Host, []*model.Group, error) {
	seen := make(map[string]struct{})
	var hosts []*model.Host

	if len(hostIDs) > 0 {
		explicit, err := s.hosts.ListByIDs(ctx, hostIDs)
		if err != nil {
			return nil, nil, err
		}
		for _, h := range explicit {
			if _, ok := seen[h.ID]; ok {
				continue
			}
			seen[h.ID] = struct{}{}
			hosts = append(hosts, h)
		}
	}

	var groups []*model.Group
	for _, gid := range groupIDs {
		grp, err := s.groups.GetByID(ctx, gid)
		if err != nil {
			return nil, nil, err
		}
		if grp == nil {
			continue
		}
		groups = append(groups, grp)

		members, err := s.hosts.ListByIDs(ctx, grp.HostIDs)
		if err != nil {
			return nil, nil, err
		}
		for _, h := range members {
			if _, ok := seen[h.ID]; ok {
				continue
			}
			seen[h.ID] = struct{}{}
			hosts = append(hosts, h)
		}
	}

	return hosts, groups, nil
}

// dispatchHosts publishes one TaskEnvelope per task. A publish failure is
// logged and left for the recovery sweep to retry; it never fails Submit,
// since the job and tasks are already durably persisted.
func (s *Service) dispatchHosts(ctx context.Context, job *model.Job, tasks []*model.Task, hosts []*model.Host) {
	byID := make(map[string]*model.Host, len(hosts))
	for _, h := range hosts {
		byID[h.ID] = h
	}
	for _, t := range tasks {
		h := byID[t.HostID]
		if h == nil {
			continue
		}
		s.publishTask(ctx, job, t, h)
	}
}

func (s *Service) publishTask(ctx context.Context, job *model.Job, t *model.Task, h *model.Host) {
	env := &dispatcher.TaskEnvelope{
		TaskID:      t.ID,
		JobID:       job.ID,
		Attempt:     t.Attempt,
		Command:     job.Command,
		HostID:      h.ID,
		Hostname:    h.Hostname,
		Address:     h.Address,
		SSHUser:     h.SSHUser,
		SSHKeyRef:   h.SSHKeyRef,
		Environment: h.Environment,
	}
	if err := s.publisher.PublishTask(ctx, s.capability, env); err != nil {
		log.Errorf("orchestrator: publish task %s for job %s: %v", t.ID, job.ID, err)
	}
}

// DispatchApprovedJob re-resolves job's target hosts and publishes a
// TaskEnvelope for every still-pending task. It is called once an
// approval.Service decision brings a pending_approval job's quorum to
// approved; approval.Service itself never publishes, since it has no
// Publisher dependency and a rejected decision must never dispatch
// anything.
func (s *Service) DispatchApprovedJob(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrJobNotFound
	}

	pending := model.TaskStatusPending
	tasks, err := s.tasks.List(ctx, &database.TaskFilter{JobID: jobID, Status: &pending})
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return nil
	}

	hostIDs := make([]string, 0, len(tasks))
	for _, t := range tasks {
		hostIDs = append(hostIDs, t.HostID)
	}
	hosts, err := s.hosts.ListByIDs(ctx, hostIDs)
	if err != nil {
		return err
	}

	s.dispatchHosts(ctx, job, tasks, hosts)
	return nil
}

// Cancel marks job cancelled and publishes a cancel_job control message.
// It does not change any Task row, and no runner in this repository
// consumes ops.control, so the job's pending and running tasks are not
// moved to cancelled.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return ErrJobNotFound
	}
	if err := s.jobs.MarkTerminal(ctx, jobID, model.JobStatusCancelled); err != nil {
		return err
	}
	if err := s.publisher.PublishControl(ctx, &dispatcher.ControlEnvelope{
		Kind:  dispatcher.ControlKindCancelJob,
		JobID: jobID,
	}); err != nil {
		log.Errorf("orchestrator: publish cancel for job %s: %v", jobID, err)
	}
	return nil
}
