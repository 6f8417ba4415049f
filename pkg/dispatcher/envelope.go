// Package dispatcher builds and parses the wire envelopes carried over
// pkg/broker's exchanges, and owns the at-least-once redelivery / dedup
// contract the runner relies on.
package dispatcher

import (
	"encoding/json"
	"fmt"

	"github.com/umbrella22/ops-service/pkg/database/model"
)

// TaskEnvelope is published to ops.tasks with routing key
// "<capability>.<environment>". A runner subscribed to a capability/env
// pair receives exactly the tasks it is eligible to execute.
type TaskEnvelope struct {
	TaskID      string `json:"task_id"`
	JobID       string `json:"job_id"`
	Attempt     int    `json:"attempt"`
	Command     string `json:"command"`
	HostID      string `json:"host_id"`
	Hostname    string `json:"hostname"`
	Address     string `json:"address"`
	SSHUser     string `json:"ssh_user"`
	SSHKeyRef   string `json:"ssh_key_ref"`
	Environment string `json:"environment"`
}

// TasksRoutingKey returns the routing key a TaskEnvelope for (capability,
// environment) is published/bound under.
func TasksRoutingKey(capability, environment string) string {
	return fmt.Sprintf("%s.%s", capability, environment)
}

// EncodeTask marshals a TaskEnvelope for publishing.
func EncodeTask(env *TaskEnvelope) ([]byte, error) {
	return json.Marshal(env)
}

// DecodeTask unmarshals a TaskEnvelope received off ops.tasks.
func DecodeTask(body []byte) (*TaskEnvelope, error) {
	var env TaskEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// ResultKind distinguishes a progress update from a task's one terminal
// result. Consumers that only care about final state can ignore progress
// envelopes without tracking any other state.
type ResultKind string

const (
	ResultKindProgress ResultKind = "progress"
	ResultKindTerminal ResultKind = "terminal"
)

// ResultEnvelope is published to ops.results (a fanout exchange, so every
// subscriber — the orchestrator's aggregator, any status-poll listener —
// observes every result without needing its own routing rule).
type ResultEnvelope struct {
	Kind          ResultKind          `json:"kind"`
	TaskID        string              `json:"task_id"`
	JobID         string              `json:"job_id"`
	Attempt       int                 `json:"attempt"`
	RunnerID      string              `json:"runner_id"`
	Status        model.TaskStatus    `json:"status"`
	ExitCode      *int                `json:"exit_code,omitempty"`
	FailureReason model.FailureReason `json:"failure_reason,omitempty"`
	OutputHandle  string              `json:"output_handle,omitempty"`
}

// DedupKey identifies a result envelope for at-least-once dedup: a runner
// may redeliver the same (task, attempt) pair after a redelivered-but-
// already-acked message, a reconnect, or a retried heartbeat, and the
// orchestrator's aggregator must apply it at most once.
func (r *ResultEnvelope) DedupKey() string {
	return fmt.Sprintf("%s:%d", r.TaskID, r.Attempt)
}

// EncodeResult marshals a ResultEnvelope for publishing.
func EncodeResult(env *ResultEnvelope) ([]byte, error) {
	return json.Marshal(env)
}

// DecodeResult unmarshals a ResultEnvelope received off ops.results.
func DecodeResult(body []byte) (*ResultEnvelope, error) {
	var env ResultEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// ControlKind distinguishes the two control messages the orchestrator
// fans out over ops.control.
type ControlKind string

const (
	ControlKindCancelTask ControlKind = "cancel_task"
	ControlKindCancelJob  ControlKind = "cancel_job"
)

// ControlEnvelope is published to ops.control with routing key
// "task.<id>" or "job.<id>" depending on Kind.
type ControlEnvelope struct {
	Kind   ControlKind `json:"kind"`
	TaskID string      `json:"task_id,omitempty"`
	JobID  string      `json:"job_id,omitempty"`
}

// ControlRoutingKey returns the routing key a ControlEnvelope is
// published/bound under.
func ControlRoutingKey(env *ControlEnvelope) string {
	switch env.Kind {
	case ControlKindCancelTask:
		return fmt.Sprintf("task.%s", env.TaskID)
	case ControlKindCancelJob:
		return fmt.Sprintf("job.%s", env.JobID)
	default:
		return ""
	}
}

// EncodeControl marshals a ControlEnvelope for publishing.
func EncodeControl(env *ControlEnvelope) ([]byte, error) {
	return json.Marshal(env)
}

// DecodeControl unmarshals a ControlEnvelope received off ops.control.
func DecodeControl(body []byte) (*ControlEnvelope, error) {
	var env ControlEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
