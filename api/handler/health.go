package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/seibro/models"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Health returns a handler for GET /api/v1/health.
//
// Reports run utilisation and degrades status when no run slot is free.
func Health(r *Runner, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := models.WorkerStats{
			ActiveRuns:    r.Active(),
			MaxRuns:       r.maxRuns(),
			WorkersPerRun: r.cfg.Orchestrator.Concurrency,
		}

		status := "healthy"
		if stats.ActiveRuns >= stats.MaxRuns {
			status = "busy"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:      status,
			Uptime:      time.Since(startTime).Round(time.Second).String(),
			WorkerStats: stats,
			Version:     Version,
		})
	}
}
