// Package engine runs scrape workflows for many targets concurrently, each
// on its own isolated browser session.
package engine

import (
	"context"
	"time"

	"github.com/use-agent/seibro/config"
	"github.com/use-agent/seibro/models"
	"github.com/use-agent/seibro/workflow"
)

// Session is a workflow session the orchestrator can force closed.
type Session interface {
	workflow.Session
	// Cleanup releases the session. It must be idempotent and must make
	// in-flight operations return promptly.
	Cleanup()
}

// SessionFactory creates a fresh, isolated session for one task.
type SessionFactory func(ctx context.Context, workerID int) (Session, error)

// Sink receives the rows of every successful task. Append is never called
// concurrently.
type Sink interface {
	Append(ctx context.Context, rows []models.RowRecord) error
}

// Resetter is implemented by sinks that must be emptied before a run.
type Resetter interface {
	Reset(ctx context.Context) error
}

// ResultCache remembers the rows of recently scraped entities.
type ResultCache interface {
	Get(entity models.EntityDescriptor, rng models.TimeRange, maxAge time.Duration) ([]models.RowRecord, bool)
	Set(entity models.EntityDescriptor, rng models.TimeRange, rows []models.RowRecord)
}

// Options configures an Orchestrator. Callbacks run on the goroutine that
// called Run.
type Options struct {
	Config    config.OrchestratorConfig
	Workflow  config.WorkflowConfig
	Selectors config.Selectors
	Range     models.TimeRange

	// Cache, when set, receives every complete result. Lookups happen only
	// when CacheMaxAge is positive.
	Cache       ResultCache
	CacheMaxAge time.Duration

	OnLog      func(line string)
	OnProgress func(completed, total int)
	OnResult   func(res models.TaskResult)
}

// RunSummary is the aggregate outcome of a run.
type RunSummary struct {
	Total     int                 `json:"total"`
	Completed int                 `json:"completed"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
	Records   int                 `json:"records"`
	Stopped   bool                `json:"stopped"`
	PeakAlive int                 `json:"peak_alive"`
	Results   []models.TaskResult `json:"results"`
	Duration  time.Duration       `json:"duration"`
}
