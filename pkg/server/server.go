package server

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/umbrella22/ops-service/pkg/config"
	"github.com/umbrella22/ops-service/pkg/errors"
	"github.com/umbrella22/ops-service/pkg/logger/log"
	"github.com/umbrella22/ops-service/pkg/router"
)

// PreInitFunc runs after configuration is loaded and before the gin engine
// starts serving, giving the caller a chance to open the database, start
// background loops and call router.RegisterGroup.
type PreInitFunc func(ctx context.Context, cfg *config.Config) error

// InitServer loads configuration, runs preInit, wires the /v1 router and
// blocks serving HTTP on cfg.HTTPPort. The health/metrics server runs on
// cfg.HTTPPort+1.
func InitServer(ctx context.Context, preInit PreInitFunc) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	if preInit != nil {
		if err := preInit(ctx, cfg); err != nil {
			return errors.NewError().WithCode(errors.InitializeError).WithMessage("preInit failed").WithError(err)
		}
	}

	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())
	if err := router.InitRouter(ginEngine, cfg); err != nil {
		return err
	}

	InitHealthServer(cfg.HTTPPort + 1)

	log.Infof("Submission API listening on :%d (health/metrics on :%d)", cfg.HTTPPort, cfg.HTTPPort+1)
	return ginEngine.Run(fmt.Sprintf(":%d", cfg.HTTPPort))
}
