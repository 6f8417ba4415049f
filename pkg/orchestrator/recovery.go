package orchestrator

import (
	"context"
	"time"

	"github.com/umbrella22/ops-service/pkg/database"
	"github.com/umbrella22/ops-service/pkg/database/model"
	"github.com/umbrella22/ops-service/pkg/logger/log"
)

// RecoverOnce re-publishes the TaskEnvelope for every task still pending
// under a job whose status is running, the signature left behind by an
// orchestrator crash between atomic fan-out and dispatch (Submit persists
// before it publishes). It returns the number of tasks re-published.
func (s *Service) RecoverOnce(ctx context.Context) (int, error) {
	jobs, err := s.jobs.ListRunningWithPendingTasks(ctx)
	if err != nil {
		return 0, err
	}

	pending := model.TaskStatusPending
	republished := 0
	for _, job := range jobs {
		tasks, err := s.tasks.List(ctx, &database.TaskFilter{JobID: job.ID, Status: &pending})
		if err != nil {
			log.Errorf("orchestrator: recovery list tasks for job %s: %v", job.ID, err)
			continue
		}
		if len(tasks) == 0 {
			continue
		}

		hostIDs := make([]string, 0, len(tasks))
		for _, t := range tasks {
			hostIDs = append(hostIDs, t.HostID)
		}
		hosts, err := s.hosts.ListByIDs(ctx, hostIDs)
		if err != nil {
			log.Errorf("orchestrator: recovery list hosts for job %s: %v", job.ID, err)
			continue
		}
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
			republished++
		}
	}
	return republished, nil
}

// Recoverer runs RecoverOnce on a fixed interval, grounded on the same
// ticker-loop shape as approval.Sweeper and the teacher's
// TaskScheduler.recoverTasks (called once at Start, then periodically to
// catch crashes that happen after startup too).
type Recoverer struct {
	svc      *Service
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewRecoverer builds a Recoverer running every interval.
func NewRecoverer(svc *Service, interval time.Duration) *Recoverer {
	return &Recoverer{svc: svc, interval: interval, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
}

// Start runs the recovery loop in a goroutine, after one immediate pass.
func (r *Recoverer) Start(ctx context.Context) {
	go r.run(ctx)
}

// Stop signals the loop to exit and waits for it to do so.
func (r *Recoverer) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Recoverer) run(ctx context.Context) {
	defer close(r.doneCh)

	if n, err := r.svc.RecoverOnce(ctx); err != nil {
		log.Errorf("orchestrator: startup recovery sweep: %v", err)
	} else if n > 0 {
		log.Infof("orchestrator: startup recovery re-published %d tasks", n)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			if n, err := r.svc.RecoverOnce(ctx); err != nil {
				log.Errorf("orchestrator: recovery sweep: %v", err)
			} else if n > 0 {
				log.Infof("orchestrator: recovery re-published %d tasks", n)
			}
		}
	}
}
