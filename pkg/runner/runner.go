// Package runner implements the bounded-concurrency execution engine: it
// claims pending tasks from the database, dials the target host over SSH,
// and reports the outcome back onto ops.results. It is woken by
// TaskEnvelope deliveries but never trusts them for task data — ClaimTask
// is the sole authority over which task a given runner instance owns.
package runner

import (
	"context"
	"sync"
	"time"

	"github.com/umbrella22/ops-service/pkg/blobstore"
	"github.com/umbrella22/ops-service/pkg/config"
	"github.com/umbrella22/ops-service/pkg/database"
	"github.com/umbrella22/ops-service/pkg/database/model"
	"github.com/umbrella22/ops-service/pkg/dispatcher"
	"github.com/umbrella22/ops-service/pkg/logger/log"
	"github.com/umbrella22/ops-service/pkg/sshexec"
)

// outputPrefix namespaces task output objects within the shared bucket.
const outputPrefix = "task-output"

// Publisher is the narrow slice of dispatcher.Publisher the runner needs;
// tests substitute a recording fake instead of requiring a live broker
// connection, the same seam used by pkg/orchestrator.
type Publisher interface {
	PublishResult(ctx context.Context, env *dispatcher.ResultEnvelope) error
}

// Runner claims and executes tasks, bounded to config.MaxConcurrentTasks
// concurrent executions.
type Runner struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	instanceID string
	capability string

	tasks     database.TaskFacadeInterface
	hosts     database.HostFacadeInterface
	publisher Publisher
	store     blobstore.Store

	runningTasks map[string]context.CancelFunc
	runningMu    sync.RWMutex

	schedulerCfg config.SchedulerConfig
	sshCfg       config.SSHConfig
}

// NewRunner constructs a Runner. instanceID identifies this process as a
// lock owner; capability is the task kind this runner executes (only
// "exec" today, matching pkg/orchestrator's dispatch capability). store may
// be nil, in which case task output is discarded after execution and only
// the exit code/failure reason survive on the Task row.
func NewRunner(instanceID, capability string, tasks database.TaskFacadeInterface, hosts database.HostFacadeInterface, publisher Publisher, store blobstore.Store, schedulerCfg config.SchedulerConfig, sshCfg config.SSHConfig) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		ctx:          ctx,
		cancel:       cancel,
		instanceID:   instanceID,
		capability:   capability,
		tasks:        tasks,
		hosts:        hosts,
		publisher:    publisher,
		store:        store,
		runningTasks: make(map[string]context.CancelFunc),
		schedulerCfg: schedulerCfg,
		sshCfg:       sshCfg,
	}
}

// Start releases stale locks left by a prior crash, then starts the scan
// and stale-lock-cleanup loops.
func (r *Runner) Start() error {
	if released, err := r.tasks.ReleaseStaleLocks(r.ctx); err != nil {
		log.Errorf("runner: release stale locks on startup: %v", err)
	} else if released > 0 {
		log.Infof("runner: released %d stale task locks on startup", released)
	}

	r.wg.Add(2)
	go r.scanLoop()
	go r.staleLockCleanupLoop()

	log.Infof("runner: started (instance=%s capability=%s)", r.instanceID, r.capability)
	return nil
}

// Stop cancels every running task's context and waits for all loops and
// in-flight executions to exit.
func (r *Runner) Stop() {
	r.cancel()

	r.runningMu.Lock()
	for taskID, cancel := range r.runningTasks {
		log.Infof("runner: cancelling task %s on shutdown", taskID)
		cancel()
	}
	r.runningMu.Unlock()

	r.wg.Wait()
}

// RunningCount reports how many tasks this instance currently holds the
// lock on.
func (r *Runner) RunningCount() int {
	r.runningMu.RLock()
	defer r.runningMu.RUnlock()
	return len(r.runningTasks)
}

// Wake is called when a TaskEnvelope arrives off ops.tasks; it is a
// best-effort nudge that runs one scan immediately instead of waiting for
// the next tick. It never inspects the envelope's payload — ClaimTask
// always re-derives the task to execute from the database.
func (r *Runner) Wake(context.Context, *dispatcher.TaskEnvelope) error {
	r.scanAndClaim()
	return nil
}

func (r *Runner) scanLoop() {
	defer r.wg.Done()

	interval := r.schedulerCfg.ScanInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.scanAndClaim()
		}
	}
}

func (r *Runner) staleLockCleanupLoop() {
	defer r.wg.Done()

	interval := r.schedulerCfg.StaleLockCleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if released, err := r.tasks.ReleaseStaleLocks(r.ctx); err != nil {
				log.Errorf("runner: release stale locks: %v", err)
			} else if released > 0 {
				log.Infof("runner: released %d stale task locks", released)
			}
		}
	}
}

// scanAndClaim claims as many pending tasks as there is spare capacity for
// and starts one goroutine per claim. It stops at the first empty claim
// rather than probing further, since ClaimTask already serializes against
// every other runner instance via SELECT ... FOR UPDATE SKIP LOCKED.
func (r *Runner) scanAndClaim() {
	for {
		r.runningMu.RLock()
		running := len(r.runningTasks)
		r.runningMu.RUnlock()

		max := r.schedulerCfg.MaxConcurrentTasks
		if max <= 0 {
			max = 20
		}
		if running >= max {
			return
		}

		lockDuration := r.schedulerCfg.LockDuration
		if lockDuration <= 0 {
			lockDuration = 30 * time.Second
		}

		task, err := r.tasks.ClaimTask(r.ctx, r.instanceID, lockDuration)
		if err != nil {
			log.Errorf("runner: claim task: %v", err)
			return
		}
		if task == nil {
			return
		}

		r.wg.Add(1)
		go r.executeTask(task)
	}
}

func (r *Runner) executeTask(task *model.Task) {
	defer r.wg.Done()

	taskCtx, taskCancel := context.WithCancel(r.ctx)
	defer taskCancel()

	r.runningMu.Lock()
	r.runningTasks[task.ID] = taskCancel
	r.runningMu.Unlock()

	heartbeatCtx, cancelHeartbeat := context.WithCancel(taskCtx)
	r.wg.Add(1)
	go r.heartbeatLoop(heartbeatCtx, task)

	defer func() {
		cancelHeartbeat()
		r.runningMu.Lock()
		delete(r.runningTasks, task.ID)
		r.runningMu.Unlock()
	}()

	log.Infof("runner: executing task %s (job=%s host=%s attempt=%d)", task.ID, task.JobID, task.HostID, task.Attempt)

	host, err := r.hosts.GetByID(taskCtx, task.HostID)
	if err != nil || host == nil {
		r.fail(taskCtx, task, model.FailureUnavailable, nil, "")
		return
	}

	cred, err := sshexec.ResolveAuth(host, r.sshCfg)
	if err != nil {
		r.fail(taskCtx, task, model.FailureAuthFailed, nil, "")
		return
	}

	result, err := sshexec.Run(taskCtx, host.Address, cred, task.Command, r.sshCfg)
	if err != nil {
		r.fail(taskCtx, task, model.FailureUnavailable, nil, "")
		return
	}

	handle := r.storeOutput(taskCtx, task, result.Detail)

	if result.FailureReason == model.FailureNone {
		r.succeed(taskCtx, task, result.ExitCode, handle, result.Truncated)
		return
	}
	exitCode := result.ExitCode
	r.fail(taskCtx, task, result.FailureReason, &exitCode, handle)
}

// storeOutput persists a task's full output to the blob store, returning
// the opaque handle recorded on the Task row. A store failure is logged
// and swallowed: losing the detail log must never block reporting the
// task's own terminal outcome.
func (r *Runner) storeOutput(ctx context.Context, task *model.Task, detail []byte) string {
	if r.store == nil || len(detail) == 0 {
		return ""
	}
	handle, _, err := r.store.Put(ctx, outputPrefix, detail)
	if err != nil {
		log.Errorf("runner: store output for task %s: %v", task.ID, err)
		return ""
	}
	return handle
}

func (r *Runner) heartbeatLoop(ctx context.Context, task *model.Task) {
	defer r.wg.Done()

	interval := r.schedulerCfg.HeartbeatInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lockDuration := r.schedulerCfg.LockDuration
	if lockDuration <= 0 {
		lockDuration = 30 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			extended, err := r.tasks.ExtendLock(ctx, task.ID, r.instanceID, lockDuration)
			if err != nil {
				log.Errorf("runner: extend lock for task %s: %v", task.ID, err)
				return
			}
			if !extended {
				log.Warnf("runner: lost lock on task %s, another instance may have taken over", task.ID)
				return
			}
		}
	}
}

func (r *Runner) succeed(ctx context.Context, task *model.Task, exitCode int, outputHandle string, truncated bool) {
	if err := r.tasks.Complete(ctx, task.ID, exitCode, outputHandle, truncated); err != nil && err != database.ErrTaskNotFound {
		log.Errorf("runner: complete task %s: %v", task.ID, err)
	}
	r.publishResult(ctx, task, model.TaskStatusSucceeded, &exitCode, model.FailureNone, outputHandle)
}

func (r *Runner) fail(ctx context.Context, task *model.Task, reason model.FailureReason, exitCode *int, outputHandle string) {
	if err := r.tasks.Fail(ctx, task.ID, reason, exitCode, outputHandle); err != nil && err != database.ErrTaskNotFound {
		log.Errorf("runner: fail task %s: %v", task.ID, err)
	}
	r.publishResult(ctx, task, model.TaskStatusFailed, exitCode, reason, outputHandle)
}

func (r *Runner) publishResult(ctx context.Context, task *model.Task, status model.TaskStatus, exitCode *int, reason model.FailureReason, outputHandle string) {
	if r.publisher == nil {
		return
	}
	env := &dispatcher.ResultEnvelope{
		Kind:          dispatcher.ResultKindTerminal,
		TaskID:        task.ID,
		JobID:         task.JobID,
		Attempt:       task.Attempt,
		RunnerID:      r.instanceID,
		Status:        status,
		ExitCode:      exitCode,
		FailureReason: reason,
		OutputHandle:  outputHandle,
	}
	if err := r.publisher.PublishResult(ctx, env); err != nil {
		log.Errorf("runner: publish result for task %s: %v", task.ID, err)
	}
}
