package build

import (
	"context"
	"time"

	"github.com/umbrella22/ops-service/pkg/database"
	"github.com/umbrella22/ops-service/pkg/logger/log"
)

// Scanner periodically polls for pending BuildJobs and drives each claimed
// job through a Pipeline, the build side of the runner's task scanLoop:
// since a build runs to completion in one goroutine instead of claiming a
// single unit of work, Scanner claims a whole job rather than one task row.
type Scanner struct {
	builds   database.BuildFacadeInterface
	pipeline *Pipeline
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewScanner builds a Scanner running every interval.
func NewScanner(builds database.BuildFacadeInterface, pipeline *Pipeline, interval time.Duration) *Scanner {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Scanner{
		builds:   builds,
		pipeline: pipeline,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the scan loop in a goroutine.
func (s *Scanner) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop signals the loop to exit and waits for it to do so.
func (s *Scanner) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scanner) run(ctx context.Context) {
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
			s.scanOnce(ctx)
		}
	}
}

// scanOnce lists every pending build job and runs the ones this instance
// wins the ClaimJob race for, sequentially. Builds are not expected to be
// high-volume enough to warrant the runner's bounded-concurrency pool.
func (s *Scanner) scanOnce(ctx context.Context) {
	jobs, err := s.builds.ListPendingJobs(ctx)
	if err != nil {
		log.Errorf("build scanner: list pending jobs: %v", err)
		return
	}

	for _, job := range jobs {
		claimed, err := s.builds.ClaimJob(ctx, job.ID)
		if err != nil {
			log.Errorf("build scanner: claim job %s: %v", job.ID, err)
			continue
		}
		if !claimed {
			continue
		}

		log.Infof("build scanner: running build job %s", job.ID)
		if err := s.pipeline.Run(ctx, job); err != nil {
			log.Errorf("build scanner: run job %s: %v", job.ID, err)
		}
	}
}
