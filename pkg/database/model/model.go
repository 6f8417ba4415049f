// Package model defines the gorm-mapped data model shared by every facade:
// hosts and groups (read-only, externally owned), jobs and tasks (the
// orchestration core), approvals, build artifacts and runner registrations.
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Host is a read-only row describing a single SSH-reachable target,
// consulted but never written by the core per the persistence contract.
type Host struct {
	ID          string `gorm:"primaryKey;size:64"`
	Hostname    string `gorm:"size:255;index"`
	Address     string `gorm:"size:255"`
	Environment string `gorm:"size:64;index"` // e.g. "prod", "staging"
	SSHUser     string `gorm:"size:128"`
	SSHKeyRef   string `gorm:"size:255"` // credential reference, never a raw secret
	Tags        JSONStringSlice `gorm:"type:jsonb"`
	CreatedAt   time.Time
}

func (Host) TableName() string { return "hosts" }

// Group is a read-only named collection of hosts. Group membership is
// resolved and frozen into a Job's target set at submission time.
type Group struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:255;uniqueIndex"`
	HostIDs   JSONStringSlice `gorm:"type:jsonb"`
	Critical  bool   `gorm:"default:false"` // triggers the approval gate
	CreatedAt time.Time
}

func (Group) TableName() string { return "groups" }

// JobStatus is the aggregate lifecycle state of a Job, rolled up from its
// Tasks' terminal states.
type JobStatus string

const (
	JobStatusPendingApproval    JobStatus = "pending_approval"
	JobStatusRejected           JobStatus = "rejected"
	JobStatusRunning            JobStatus = "running"
	JobStatusCompleted          JobStatus = "completed"
	JobStatusPartiallySucceeded JobStatus = "partially_succeeded"
	JobStatusFailed             JobStatus = "failed"
	JobStatusCancelled          JobStatus = "cancelled"
)

// Job is a single submitted batch operation, fanning out to one Task per
// resolved target host. Rolling counters satisfy the invariant
// TotalTasks = SucceededTasks + FailedTasks + TimeoutTasks + CancelledTasks
// + still-running (pending or running) tasks.
type Job struct {
	ID             string    `gorm:"primaryKey;size:64"`
	IdempotencyKey string    `gorm:"size:128;uniqueIndex"`
	Command        string    `gorm:"type:text"`
	TargetHostIDs  JSONStringSlice `gorm:"type:jsonb"` // frozen at creation
	RequesterID    string    `gorm:"size:128;index"`
	Status         JobStatus `gorm:"size:32;index"`
	TotalTasks     int
	SucceededTasks int
	FailedTasks    int
	TimeoutTasks   int
	CancelledTasks int
	Version        int       `gorm:"default:1"` // optimistic lock for aggregation
	CreatedAt      time.Time `gorm:"index"`
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

func (Job) TableName() string { return "jobs" }

// NewJob constructs a Job ready for transactional insertion alongside its
// Task rows.
func NewJob(idempotencyKey, command, requesterID string, targetHostIDs []string) *Job {
	return &Job{
		ID:             uuid.NewString(),
		IdempotencyKey: idempotencyKey,
		Command:        command,
		TargetHostIDs:  targetHostIDs,
		RequesterID:    requesterID,
		Status:         JobStatusRunning,
		TotalTasks:     len(targetHostIDs),
		CreatedAt:      time.Now(),
		Version:        1,
	}
}

// TaskStatus is the lifecycle state of a single per-host Task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusDispatched TaskStatus = "dispatched"
	TaskStatusRunning    TaskStatus = "running"
	TaskStatusSucceeded  TaskStatus = "succeeded"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
	// TaskStatusSkipped is used only by BuildStep rows: the remaining steps
	// of a build whose earlier step failed without continue_on_failure are
	// marked skipped rather than left pending.
	TaskStatusSkipped TaskStatus = "skipped"
)

// FailureReason is a closed enum of execution-layer failures. It is data on
// the Task row, never a Go error — the boundary between the control plane's
// pkg/errors and the runner's terminal outcomes.
type FailureReason string

const (
	FailureNone           FailureReason = ""
	FailureAuthFailed     FailureReason = "auth_failed"
	FailureConnectTimeout FailureReason = "connect_timeout"
	FailureCommandTimeout FailureReason = "command_timeout"
	FailureNonZeroExit    FailureReason = "non_zero_exit"
	FailureCancelled      FailureReason = "cancelled"
	FailureUnavailable    FailureReason = "runner_unavailable"
)

// Task is one host's unit of work within a Job.
type Task struct {
	ID            string        `gorm:"primaryKey;size:64"`
	JobID         string        `gorm:"size:64;index"`
	HostID        string        `gorm:"size:64;index"`
	Attempt       int           `gorm:"default:1"`
	Status        TaskStatus    `gorm:"size:32;index"`
	RunnerID      string        `gorm:"size:128"`
	ExitCode      *int
	FailureReason FailureReason `gorm:"size:32"`
	OutputHandle  string        `gorm:"size:255"` // reference into the detail store, not the output itself
	OutputTruncated bool
	CreatedAt     time.Time `gorm:"index"`
	DispatchedAt  *time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	LockedUntil   *time.Time `gorm:"index"` // heartbeat-extended claim lock
}

func (Task) TableName() string { return "tasks" }

// IsTerminal reports whether the task has reached a final state.
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// ApprovalStatus is the lifecycle of an ApprovalRequest.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
	ApprovalStatusExpired  ApprovalStatus = "expired"
)

// ApprovalRequest gates a Job behind a quorum of ApprovalRecords before its
// tasks may be dispatched.
type ApprovalRequest struct {
	ID          string         `gorm:"primaryKey;size:64"`
	JobID       string         `gorm:"size:64;uniqueIndex"`
	TriggeredBy string         `gorm:"size:64"` // predicate name: prod_env, critical_group, template_requires_approval
	Quorum      int
	Status      ApprovalStatus `gorm:"size:32;index"`
	ExpiresAt   time.Time      `gorm:"index"`
	CreatedAt   time.Time
	DecidedAt   *time.Time
}

func (ApprovalRequest) TableName() string { return "approval_requests" }

// ApprovalDecision is an individual approver's vote.
type ApprovalDecision string

const (
	DecisionApprove ApprovalDecision = "approve"
	DecisionReject  ApprovalDecision = "reject"
)

// ApprovalRecord is a single approver's recorded decision on an
// ApprovalRequest. A requester may never record a decision on their own
// request.
type ApprovalRecord struct {
	ID                string           `gorm:"primaryKey;size:64"`
	ApprovalRequestID string           `gorm:"size:64;uniqueIndex:idx_approval_approver"`
	ApproverID        string           `gorm:"size:128;uniqueIndex:idx_approval_approver"`
	Decision          ApprovalDecision `gorm:"size:16"`
	CreatedAt         time.Time
}

func (ApprovalRecord) TableName() string { return "approval_records" }

// BuildJob is the build pipeline's equivalent of a Job: one repository
// checkout carried through an ordered sequence of BuildSteps.
type BuildJob struct {
	ID            string    `gorm:"primaryKey;size:64"`
	RepositoryURL string    `gorm:"size:512"`
	Ref           string    `gorm:"size:255"` // branch, tag or commit
	Version       string    `gorm:"size:128"`
	RequesterID   string    `gorm:"size:128;index"`
	Status        TaskStatus `gorm:"size:32;index"` // reuses Task's terminal vocabulary
	CreatedAt     time.Time `gorm:"index"`
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

func (BuildJob) TableName() string { return "build_jobs" }

// BuildStepKind enumerates the fixed pipeline stages.
type BuildStepKind string

const (
	StepClone   BuildStepKind = "clone"
	StepInstall BuildStepKind = "install"
	StepTest    BuildStepKind = "test"
	StepBuild   BuildStepKind = "build"
	StepPackage BuildStepKind = "package"
)

// BuildStep is one ordered stage of a BuildJob's pipeline.
type BuildStep struct {
	ID                string        `gorm:"primaryKey;size:64"`
	BuildJobID        string        `gorm:"size:64;index"`
	Kind              BuildStepKind `gorm:"size:32"`
	Sequence          int
	Command           string `gorm:"type:text"`
	ContinueOnFailure bool
	// ArtifactPath/ArtifactName/ArtifactType are only meaningful on a
	// StepPackage row: the workspace-relative path to package and the
	// metadata to register it under once the step succeeds.
	ArtifactPath string     `gorm:"size:512"`
	ArtifactName string     `gorm:"size:255"`
	ArtifactType string     `gorm:"size:64"`
	Status       TaskStatus `gorm:"size:32"`
	Summary      string     `gorm:"type:text"` // short inline outcome, independent of OutputHandle
	OutputHandle string     `gorm:"size:255"`
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

func (BuildStep) TableName() string { return "build_steps" }

// BuildArtifact is a registered output of a BuildJob. The (Version,
// ArtifactType) pair is unique: re-running a build for an already-published
// version and type is rejected rather than silently overwritten.
type BuildArtifact struct {
	ID           string `gorm:"primaryKey;size:64"`
	BuildJobID   string `gorm:"size:64;index"`
	Name         string `gorm:"size:255"`
	Version      string `gorm:"size:128;uniqueIndex:idx_artifact_version_type"`
	ArtifactType string `gorm:"size:64;uniqueIndex:idx_artifact_version_type"`
	SHA256       string `gorm:"size:64"`
	BlobHandle   string `gorm:"size:255"` // opaque handle into the minio-backed blob store
	SizeBytes    int64
	CreatedAt    time.Time
}

func (BuildArtifact) TableName() string { return "build_artifacts" }

// RunnerStatus is the lifecycle of a Runner's registration.
type RunnerStatus string

const (
	RunnerStatusActive      RunnerStatus = "active"
	RunnerStatusUnavailable RunnerStatus = "unavailable"
)

// Runner is a registered execution-engine instance in the runner fleet,
// upserted on every heartbeat.
type Runner struct {
	ID                string       `gorm:"primaryKey;size:64"`
	Hostname          string       `gorm:"size:255;uniqueIndex"`
	Capabilities      JSONStringSlice `gorm:"type:jsonb"`
	Status            RunnerStatus `gorm:"size:32;index"`
	MaxConcurrentTasks int
	RunningTasks      int
	LastHeartbeatAt   time.Time `gorm:"index"`
	RegisteredAt      time.Time
}

func (Runner) TableName() string { return "runners" }

// IsStale reports whether the runner's heartbeat has not been renewed
// within the given staleness window.
func (r *Runner) IsStale(window time.Duration) bool {
	return time.Since(r.LastHeartbeatAt) > window
}

// JSONStringSlice is a []string stored as a jsonb column, following the
// teacher's BeforeSave/AfterFind JSON-column convention but implemented via
// gorm's Valuer/Scanner interfaces instead, since the slice has no other
// in-memory representation to keep in sync.
type JSONStringSlice []string

// Value implements driver.Valuer.
func (s JSONStringSlice) Value() (interface{}, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	return string(b), err
}

// Scan implements sql.Scanner.
func (s *JSONStringSlice) Scan(src interface{}) error {
	if src == nil {
		*s = nil
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return nil
	}
	if len(b) == 0 {
		*s = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	*s = out
	return nil
}
