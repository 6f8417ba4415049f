// Package main is the orchestrator binary: the Submission API, the job
// orchestrator, the approval gate/sweeper and the post-restart recovery
// sweep all run in this process. The runner binary is separate (cmd/runner)
// since it scales independently and needs SSH/minio access the orchestrator
// does not.
package main

import (
	"context"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/umbrella22/ops-service/pkg/api"
	"github.com/umbrella22/ops-service/pkg/approval"
	"github.com/umbrella22/ops-service/pkg/broker"
	"github.com/umbrella22/ops-service/pkg/config"
	"github.com/umbrella22/ops-service/pkg/database"
	"github.com/umbrella22/ops-service/pkg/database/model"
	"github.com/umbrella22/ops-service/pkg/dispatcher"
	"github.com/umbrella22/ops-service/pkg/errors"
	"github.com/umbrella22/ops-service/pkg/logger/log"
	"github.com/umbrella22/ops-service/pkg/orchestrator"
	"github.com/umbrella22/ops-service/pkg/router"
	"github.com/umbrella22/ops-service/pkg/server"
)

func main() {
	if err := server.InitServer(context.Background(), preInit); err != nil {
		log.Fatalf("orchestrator: %v", err)
	}
}

func preInit(ctx context.Context, cfg *config.Config) error {
	db, err := connectDatabase(cfg.Database)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(
		&model.Host{}, &model.Group{},
		&model.Job{}, &model.Task{},
		&model.ApprovalRequest{}, &model.ApprovalRecord{},
		&model.BuildJob{}, &model.BuildStep{}, &model.BuildArtifact{},
		&model.Runner{},
	); err != nil {
		return errors.NewError().WithCode(errors.DatabaseError).WithMessage("auto-migrate").WithError(err)
	}

	br, err := broker.New(cfg.Broker)
	if err != nil {
		return err
	}
	br.Start(ctx.Done())

	ch, err := br.Channel()
	if err != nil {
		return err
	}
	resultsQueue, err := broker.DeclareQueue(ch, cfg.Broker.ResultsExchange, "orchestrator.results", "")
	if err != nil {
		return err
	}

	jobs := database.NewJobFacade(db)
	tasks := database.NewTaskFacade(db)
	hosts := database.NewHostFacade(db)
	groups := database.NewGroupFacade(db)
	approvals := database.NewApprovalFacade(db)
	builds := database.NewBuildFacade(db)

	publisher := dispatcher.NewPublisher(br)
	gate := approval.NewGate(cfg.Approval)
	orch := orchestrator.NewService(jobs, tasks, hosts, groups, approvals, gate, publisher, cfg.Orchestrator)
	approvalSvc := approval.NewService(approvals, jobs)

	sweeper := approval.NewSweeper(approvals, jobs, cfg.Approval.SweepInterval)
	sweeper.Start(ctx)

	recoveryInterval := cfg.Orchestrator.RecoveryInterval
	if recoveryInterval <= 0 {
		recoveryInterval = 30 * time.Second
	}
	recoverer := orchestrator.NewRecoverer(orch, recoveryInterval)
	recoverer.Start(ctx)

	aggregator := orchestrator.NewAggregator(tasks, jobs)
	go func() {
		if err := dispatcher.Consume(ctx, ch, resultsQueue, aggregator.Apply); err != nil && ctx.Err() == nil {
			log.Errorf("orchestrator: result consumer exited: %v", err)
		}
	}()

	handlers := api.NewHandlers(orch, approvalSvc, jobs, tasks, builds)
	router.RegisterGroup(handlers.Register)

	return nil
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

	log.Infof("orchestrator: connected to database")
	return db, nil
}
