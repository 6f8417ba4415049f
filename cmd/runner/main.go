// Package main is the runner binary: claims pending exec tasks over SSH
// and pending build jobs through the typed step pipeline, reporting
// terminal results back onto ops.results. It is woken by TaskEnvelope
// deliveries on ops.tasks but never trusts them for task data.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/umbrella22/ops-service/pkg/blobstore"
	"github.com/umbrella22/ops-service/pkg/broker"
	"github.com/umbrella22/ops-service/pkg/build"
	"github.com/umbrella22/ops-service/pkg/config"
	"github.com/umbrella22/ops-service/pkg/database"
	"github.com/umbrella22/ops-service/pkg/database/model"
	"github.com/umbrella22/ops-service/pkg/dispatcher"
	"github.com/umbrella22/ops-service/pkg/errors"
	"github.com/umbrella22/ops-service/pkg/logger/log"
	"github.com/umbrella22/ops-service/pkg/runner"
	"github.com/umbrella22/ops-service/pkg/server"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("runner: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := connectDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("runner: %v", err)
	}

	br, err := broker.New(cfg.Broker)
	if err != nil {
		log.Fatalf("runner: %v", err)
	}
	br.Start(ctx.Done())
	defer br.Close()

	store, err := blobstore.NewMinioStore(ctx, cfg.Build.ArtifactStore)
	if err != nil {
		log.Fatalf("runner: connect artifact store: %v", err)
	}

	tasks := database.NewTaskFacade(db)
	hosts := database.NewHostFacade(db)
	builds := database.NewBuildFacade(db)
	runners := database.NewRunnerFacade(db)

	publisher := dispatcher.NewPublisher(br)

	hostname := instanceHostname()
	capability := cfg.Orchestrator.Capability
	if capability == "" {
		capability = "exec"
	}

	r := runner.NewRunner(hostname, capability, tasks, hosts, publisher, store, cfg.Scheduler, cfg.SSH)
	if err := r.Start(); err != nil {
		log.Fatalf("runner: start: %v", err)
	}
	defer r.Stop()

	pipeline := build.NewPipeline(builds, store, cfg.Build)
	scanner := build.NewScanner(builds, pipeline, cfg.Scheduler.ScanInterval)
	scanner.Start(ctx)
	defer scanner.Stop()

	ch, err := br.Channel()
	if err != nil {
		log.Fatalf("runner: %v", err)
	}
	tasksQueue, err := broker.DeclareQueue(ch, cfg.Broker.TasksExchange, "", dispatcher.TasksRoutingKey(capability, "#"))
	if err != nil {
		log.Fatalf("runner: %v", err)
	}
	go func() {
		if err := dispatcher.ConsumeTasks(ctx, ch, tasksQueue, r.Wake); err != nil && ctx.Err() == nil {
			log.Errorf("runner: task consumer exited: %v", err)
		}
	}()

	go heartbeatLoop(ctx, runners, hostname, capability, cfg.Scheduler)

	server.InitHealthServer(cfg.HTTPPort + 1)
	log.Infof("runner: started (instance=%s capability=%s, health on :%d)", hostname, capability, cfg.HTTPPort+1)

	<-ctx.Done()
	log.Infof("runner: shutting down")
}

// heartbeatLoop upserts this instance's Runner row on a fixed interval, so
// the fleet table (pkg/database.RunnerFacade) reflects which instances are
// alive and what they can run. RunnerFacade.MarkStale can flip a row whose
// heartbeat has lapsed to unavailable, but neither binary in this
// repository calls it, so the row of a stopped instance keeps its last
// upserted status.
func heartbeatLoop(ctx context.Context, runners database.RunnerFacadeInterface, hostname, capability string, cfg config.SchedulerConfig) {
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	beat := func() {
		row := &model.Runner{
			ID:                 hostname,
			Hostname:           hostname,
			Capabilities:       model.JSONStringSlice{capability},
			Status:             model.RunnerStatusActive,
			MaxConcurrentTasks: cfg.MaxConcurrentTasks,
		}
		if err := runners.Upsert(ctx, row); err != nil {
			log.Errorf("runner: heartbeat upsert: %v", err)
		}
	}
	beat()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			beat()
		}
	}
}

func instanceHostname() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return fmt.Sprintf("runner-%s", uuid.NewString()[:8])
	}
	return host
}

func connectDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, errors.NewError().WithCode(errors.DatabaseError).WithMessage("open database").WithError(err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.NewError().WithCode(errors.DatabaseError).WithMessage("unwrap sql.DB").WithError(err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	log.Infof("runner: connected to database")
	return db, nil
}
