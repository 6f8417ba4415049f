package approval

import (
	"context"
	"time"

	"github.com/umbrella22/ops-service/pkg/database"
	"github.com/umbrella22/ops-service/pkg/database/model"
	"github.com/umbrella22/ops-service/pkg/logger/log"
)

// Sweeper periodically transitions expired pending approval requests to
// expired and cancels their job. It is idempotent under concurrent runs:
// Transition only touches rows still in pending, so a request already
// swept by another process is a silent no-op here.
type Sweeper struct {
	approvals database.ApprovalFacadeInterface
	jobs      database.JobFacadeInterface
	interval  time.Duration
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewSweeper builds a Sweeper running every interval.
func NewSweeper(approvals database.ApprovalFacadeInterface, jobs database.JobFacadeInterface, interval time.Duration) *Sweeper {
	return &Sweeper{
		approvals: approvals,
		jobs:      jobs,
		interval:  interval,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start runs the sweep loop in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop signals the loop to exit and waits for it to do so.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

// SweepOnce runs one expiry pass, exported for callers (tests, a manual
// admin trigger) that want to run it outside the ticker loop.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	return s.sweepOnce(ctx)
}

func (s *Sweeper) sweepOnce(ctx context.Context) (int, error) {
	expired, err := s.approvals.ListExpiredPending(ctx, time.Now())
	if err != nil {
		log.Errorf("approval sweeper: list expired pending: %v", err)
		return 0, err
	}

	swept := 0
	for _, req := range expired {
		if err := s.approvals.Transition(ctx, req.ID, model.ApprovalStatusExpired); err != nil {
			log.Errorf("approval sweeper: transition request %s: %v", req.ID, err)
			continue
		}
		if err := s.jobs.MarkTerminal(ctx, req.JobID, model.JobStatusCancelled); err != nil {
			log.Errorf("approval sweeper: cancel job %s: %v", req.JobID, err)
			continue
		}
		swept++
	}
	return swept, nil
}
