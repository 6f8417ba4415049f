package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/umbrella22/ops-service/pkg/database"
	"github.com/umbrella22/ops-service/pkg/database/model"
)

// ErrPollTimeout is returned when WaitForResult's deadline elapses before
// the task reaches a terminal status.
var ErrPollTimeout = errors.New("polling timed out waiting for task completion")

// PollerConfig tunes ResultPoller's exponential backoff.
type PollerConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	DefaultTimeout  time.Duration
}

// DefaultPollerConfig mirrors the teacher's tuned defaults.
func DefaultPollerConfig() *PollerConfig {
	return &PollerConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      1.5,
		DefaultTimeout:  5 * time.Minute,
	}
}

// ResultPoller lets a caller synchronously await a task's terminal result
// instead of consuming ops.results itself. It exists for callers of the
// Submission API that want a blocking status check; it is not a substitute
// for the orchestrator's own aggregation, which always happens via
// ops.results regardless of whether anyone is polling.
type ResultPoller struct {
	tasks  database.TaskFacadeInterface
	config *PollerConfig
}

// NewResultPoller wraps tasks for polling.
func NewResultPoller(tasks database.TaskFacadeInterface, config *PollerConfig) *ResultPoller {
	if config == nil {
		config = DefaultPollerConfig()
	}
	return &ResultPoller{tasks: tasks, config: config}
}

// WaitForResult polls until task reaches a terminal status or the default
// timeout elapses.
func (p *ResultPoller) WaitForResult(ctx context.Context, taskID string) (*model.Task, error) {
	return p.WaitForResultWithTimeout(ctx, taskID, p.config.DefaultTimeout)
}

// WaitForResultWithTimeout polls until task reaches a terminal status or
// timeout elapses, backing off from InitialInterval up to MaxInterval.
func (p *ResultPoller) WaitForResultWithTimeout(ctx context.Context, taskID string, timeout time.Duration) (*model.Task, error) {
	deadline := time.Now().Add(timeout)
	interval := p.config.InitialInterval

	for {
		if time.Now().After(deadline) {
			return nil, ErrPollTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		task, err := p.tasks.Get(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if task.IsTerminal() {
			return task, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}

		interval = time.Duration(float64(interval) * p.config.Multiplier)
		if interval > p.config.MaxInterval {
			interval = p.config.MaxInterval
		}
	}
}

// WaitForResults polls multiple tasks in shared rounds (one Get per
// still-pending task per round, in sequence) with the same budget,
// returning whichever have reached a terminal status by the deadline.
func (p *ResultPoller) WaitForResults(ctx context.Context, taskIDs []string, timeout time.Duration) (map[string]*model.Task, error) {
	deadline := time.Now().Add(timeout)
	results := make(map[string]*model.Task, len(taskIDs))
	pending := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		pending[id] = true
	}

	interval := p.config.InitialInterval
	for len(pending) > 0 {
		if time.Now().After(deadline) {
			return results, ErrPollTimeout
		}
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}

		for id := range pending {
			task, err := p.tasks.Get(ctx, id)
			if err != nil {
				continue
			}
			if task.IsTerminal() {
				results[id] = task
				delete(pending, id)
			}
		}
		if len(pending) == 0 {
			break
		}

		select {
		case <-ctx.Done():
			return results, ctx.Err()
		case <-time.After(interval):
		}

		interval = time.Duration(float64(interval) * p.config.Multiplier)
		if interval > p.config.MaxInterval {
			interval = p.config.MaxInterval
		}
	}
	return results, nil
}
