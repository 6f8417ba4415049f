package server

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once          sync.Once
	engine        *gin.Engine
	engineMu      sync.RWMutex
	defaultGather prometheus.Gatherer

	registers   []func(g *gin.RouterGroup)
	registersMu sync.Mutex
)

func init() {
	defaultGather = prometheus.DefaultGatherer
	AddRegister(addMetrics)
}

// SetDefaultGather overrides the gatherer /metrics serves from; tests use
// this to point at an isolated registry.
func SetDefaultGather(g prometheus.Gatherer) {
	defaultGather = g
}

// AddRegister queues a route to be applied to the health server's group the
// next time InitHealthServer runs.
func AddRegister(register func(g *gin.RouterGroup)) {
	registersMu.Lock()
	defer registersMu.Unlock()
	registers = append(registers, register)
}

// AddDefaultRegister registers a simple GET endpoint that serves whatever
// method returns as JSON, or a 500 if it errors.
func AddDefaultRegister(path string, method func() (interface{}, error)) {
	AddRegister(func(g *gin.RouterGroup) {
		g.GET(path, func(c *gin.Context) {
			data, err := method()
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, data)
		})
	})
}

// InitHealthServer starts the health/metrics server on port in a background
// goroutine; subsequent calls are no-ops.
func InitHealthServer(port int) {
	once.Do(func() {
		engineMu.Lock()
		engine = gin.New()
		g := engine.Group("")
		e := engine
		engineMu.Unlock()

		g.Use(gin.Recovery())
		g.Use(gin.Logger())

		registersMu.Lock()
		for _, reg := range registers {
			reg(g)
		}
		registersMu.Unlock()

		go func() {
			_ = e.Run(fmt.Sprintf(":%d", port))
		}()
	})
}

func addMetrics(g *gin.RouterGroup) {
	g.GET("/metrics", func(c *gin.Context) {
		promhttp.HandlerFor(defaultGather, promhttp.HandlerOpts{EnableOpenMetrics: true}).
			ServeHTTP(c.Writer, c.Request)
	})
}
