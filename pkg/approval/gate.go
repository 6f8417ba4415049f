// Package approval implements the gate that can hold a job in
// pending_approval before dispatch when a risk trigger fires, and release
// it once a quorum of distinct approvers has decided.
package approval

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/umbrella22/ops-service/pkg/config"
	"github.com/umbrella22/ops-service/pkg/database"
	"github.com/umbrella22/ops-service/pkg/database/model"
)

// Built-in trigger predicate names, recorded on ApprovalRequest.TriggeredBy.
const (
	TriggerProdEnv                  = "prod_env"
	TriggerCriticalGroup            = "critical_group"
	TriggerTemplateRequiresApproval = "template_requires_approval"
)

// Submission is the subset of a job submission the gate needs to evaluate
// triggers: the resolved target hosts and the groups they came from (group
// membership, once frozen into TargetHostIDs, no longer carries the
// is_critical flag, so the gate must see it before freezing).
type Submission struct {
	Hosts                    []*model.Host
	Groups                   []*model.Group
	TemplateRequiresApproval bool
}

// Gate decides whether a submission requires approval and, if so, builds
// the ApprovalRequest row for it.
type Gate struct {
	cfg config.ApprovalConfig
}

// NewGate builds a Gate from the approval section of the process config.
func NewGate(cfg config.ApprovalConfig) *Gate {
	return &Gate{cfg: cfg}
}

// Evaluate runs the built-in trigger predicates against sub in order and
// returns the ApprovalRequest to persist for jobID, or nil if no trigger
// fired. Only the first matching trigger is recorded; a job either needs
// approval or it doesn't; which predicate caused it is informational.
func (g *Gate) Evaluate(jobID string, sub Submission) *model.ApprovalRequest {
	trigger := g.firstTrigger(sub)
	if trigger == "" {
		return nil
	}
	return &model.ApprovalRequest{
		ID:          uuid.NewString(),
		JobID:       jobID,
		TriggeredBy: trigger,
		Quorum:      g.cfg.DefaultQuorum,
		Status:      model.ApprovalStatusPending,
		ExpiresAt:   time.Now().Add(g.cfg.DefaultTTL),
		CreatedAt:   time.Now(),
	}
}

func (g *Gate) firstTrigger(sub Submission) string {
	for _, h := range sub.Hosts {
		if h.Environment == "prod" {
			return TriggerProdEnv
		}
	}
	for _, grp := range sub.Groups {
		if grp.Critical {
			return TriggerCriticalGroup
		}
	}
	if sub.TemplateRequiresApproval {
		return TriggerTemplateRequiresApproval
	}
	return ""
}

// DecisionError is a closed set of synchronous approval errors, propagated
// to the approver's action per the propagation policy (approval errors are
// never recorded on a task; they are user-visible to the approver).
type DecisionError string

const (
	ErrApproverIsRequester DecisionError = "approver_is_requester"
	ErrRequestNotPending   DecisionError = "request_not_pending"
	ErrAlreadyDecided      DecisionError = "already_decided"
)

func (e DecisionError) Error() string { return string(e) }

// Service validates and records approval decisions and transitions a
// request to approved/rejected once a decision is conclusive.
type Service struct {
	approvals database.ApprovalFacadeInterface
	jobs      database.JobFacadeInterface
}

// NewService wraps the facades the approval workflow writes through.
func NewService(approvals database.ApprovalFacadeInterface, jobs database.JobFacadeInterface) *Service {
	return &Service{approvals: approvals, jobs: jobs}
}

// RecordDecision validates and records decision by approverID on the
// pending ApprovalRequest for jobID, then applies any resulting
// transition: a reject immediately terminates the request and cancels the
// job; an approve only transitions the request (and resumes the job) once
// the quorum is met. ApprovalRequest carries a uniqueIndex on JobID, so the
// facade only ever exposes a by-job lookup — there is at most one pending
// request per job.
func (s *Service) RecordDecision(ctx context.Context, jobID, approverID string, decision model.ApprovalDecision) (*model.ApprovalRequest, error) {
	req, err := s.approvals.GetByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if req == nil || req.Status != model.ApprovalStatusPending {
		return nil, ErrRequestNotPending
	}

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job != nil && approverID == job.RequesterID {
		return nil, ErrApproverIsRequester
	}

	record := &model.ApprovalRecord{
		ID:                uuid.NewString(),
		ApprovalRequestID: req.ID,
		ApproverID:        approverID,
		Decision:          decision,
		CreatedAt:         time.Now(),
	}
	if err := s.approvals.RecordDecision(ctx, record); err != nil {
		if err == database.ErrApprovalAlreadyDecided {
			return nil, ErrAlreadyDecided
		}
		return nil, err
	}

	if decision == model.DecisionReject {
		if err := s.approvals.Transition(ctx, req.ID, model.ApprovalStatusRejected); err != nil {
			return nil, err
		}
		if err := s.jobs.MarkTerminal(ctx, req.JobID, model.JobStatusCancelled); err != nil {
			return nil, err
		}
		req.Status = model.ApprovalStatusRejected
		return req, nil
	}

	approveCount, err := s.approvals.CountDecisions(ctx, req.ID, model.DecisionApprove)
	if err != nil {
		return nil, err
	}
	if approveCount < int64(req.Quorum) {
		return req, nil
	}

	if err := s.approvals.Transition(ctx, req.ID, model.ApprovalStatusApproved); err != nil {
		return nil, err
	}
	if err := s.jobs.MarkRunning(ctx, req.JobID); err != nil {
		return nil, err
	}
	req.Status = model.ApprovalStatusApproved
	return req, nil
}
