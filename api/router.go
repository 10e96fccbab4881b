package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/seibro/api/handler"
	"github.com/use-agent/seibro/api/middleware"
	"github.com/use-agent/seibro/config"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health endpoint is outside auth so monitoring probes always work.
// Background cleanup goroutines stop when ctx is done.
func NewRouter(ctx context.Context, runner *handler.Runner, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	// Health — no auth required.
	v1.GET("/health", handler.Health(runner, startTime))

	// Protected group — auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(ctx, cfg.RateLimit))

	// Runs
	protected.POST("/runs", runner.PostRun())
	protected.GET("/runs/:id", runner.GetRun())
	protected.GET("/runs/:id/rows", runner.GetRunRows())
	protected.POST("/runs/:id/stop", runner.StopRun())

	return r
}
