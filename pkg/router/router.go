// Package router wires the Submission API's gin route group and its
// middleware chain.
package router

import (
	"github.com/gin-gonic/gin"

	"github.com/umbrella22/ops-service/pkg/config"
	"github.com/umbrella22/ops-service/pkg/logger/log"
	"github.com/umbrella22/ops-service/pkg/router/middleware"
)

// GroupRegister registers a set of routes on the /v1 group.
type GroupRegister func(group *gin.RouterGroup) error

var groupRegisters []GroupRegister

// RegisterGroup queues group for registration the next time InitRouter runs.
func RegisterGroup(group GroupRegister) {
	groupRegisters = append(groupRegisters, group)
}

// InitRouter wires the full middleware chain onto /v1 and applies every
// registered group.
func InitRouter(engine *gin.Engine, cfg *config.Config) error {
	g := engine.Group("/v1")
	g.Use(middleware.HandleMetrics())

	if cfg.Middleware.IsLoggingEnabled() {
		log.Info("HTTP request logging middleware enabled")
		g.Use(middleware.HandleLogging())
	} else {
		log.Info("HTTP request logging middleware disabled")
	}

	g.Use(middleware.HandleErrors())
	g.Use(middleware.CorsMiddleware())

	if cfg.Middleware.IsAuthEnabled() {
		log.Info("Auth middleware enabled")
		g.Use(middleware.HandleAuth(cfg.Middleware.Auth))
	} else {
		log.Info("Auth middleware disabled")
	}

	for _, group := range groupRegisters {
		if err := group(g); err != nil {
			return err
		}
	}
	return nil
}
