package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/seibro/cache"
	"github.com/use-agent/seibro/config"
	"github.com/use-agent/seibro/engine"
	"github.com/use-agent/seibro/models"
	"github.com/use-agent/seibro/sink"
	"github.com/use-agent/seibro/webhook"
)

const (
	runTTL         = time.Hour
	maxLogLines    = 200
	defaultRowPage = 1000
	maxRowPage     = 10000
)

// Runner starts scrape runs in the background and keeps their state for
// polling until they expire.
type Runner struct {
	cfg     *config.Config
	factory engine.SessionFactory
	cache   *cache.Cache
	runs    sync.Map // id -> *runJob
	active  atomic.Int32
}

// NewRunner creates a Runner. Finished runs older than one hour are
// expired until ctx is done.
func NewRunner(ctx context.Context, cfg *config.Config, factory engine.SessionFactory) *Runner {
	r := &Runner{cfg: cfg, factory: factory, cache: cache.New(ctx, cfg.Cache.MaxEntries)}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.expire(time.Now().Add(-runTTL))
			}
		}
	}()
	return r
}

func (r *Runner) expire(cutoff time.Time) {
	r.runs.Range(func(key, value any) bool {
		job := value.(*runJob)
		if job.finishedBefore(cutoff) {
			r.runs.Delete(key)
		}
		return true
	})
}

func (r *Runner) maxRuns() int {
	return max(r.cfg.Server.MaxRuns, 1)
}

// Active returns the number of executing runs.
func (r *Runner) Active() int { return int(r.active.Load()) }

// StopAll stops every executing run and waits for them to finish or ctx
// to expire.
func (r *Runner) StopAll(ctx context.Context) {
	var jobs []*runJob
	r.runs.Range(func(_, value any) bool {
		job := value.(*runJob)
		job.orch.Stop()
		jobs = append(jobs, job)
		return true
	})
	for _, job := range jobs {
		select {
		case <-job.done:
		case <-ctx.Done():
			return
		}
	}
}

// runJob tracks one run. All fields after mu are guarded by it.
type runJob struct {
	id      string
	total   int
	rng     models.TimeRange
	rows    *sink.Memory
	orch    *engine.Orchestrator
	created time.Time
	done    chan struct{}

	mu        sync.Mutex
	status    string
	completed int
	succeeded int
	failed    int
	records   int
	logs      []string
	results   []models.TaskResult
	err       *models.ErrorDetail
	finished  time.Time
}

func (j *runJob) appendLog(line string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.logs = append(j.logs, time.Now().Format("15:04:05")+" "+line)
	if n := len(j.logs) - maxLogLines; n > 0 {
		j.logs = append([]string(nil), j.logs[n:]...)
	}
}

func (j *runJob) record(res models.TaskResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.completed++
	j.results = append(j.results, res)
	if res.Success {
		j.succeeded++
		j.records += res.RecordCount
	} else {
		j.failed++
	}
}

func (j *runJob) finish(sum *engine.RunSummary, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.finished = time.Now()
	switch {
	case err != nil:
		j.status = models.RunStatusFailed
		j.err = &models.ErrorDetail{Code: models.CodeOf(err), Message: err.Error()}
	case sum.Stopped:
		j.status = models.RunStatusStopped
	case sum.Failed == 0:
		j.status = models.RunStatusCompleted
	case sum.Succeeded == 0:
		j.status = models.RunStatusFailed
	default:
		j.status = models.RunStatusPartial
	}
}

func (j *runJob) finishedBefore(cutoff time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return !j.finished.IsZero() && j.finished.Before(cutoff)
}

func (j *runJob) view() models.RunStatusResponse {
	j.mu.Lock()
	defer j.mu.Unlock()
	end := j.finished
	if end.IsZero() {
		end = time.Now()
	}
	return models.RunStatusResponse{
		ID:        j.id,
		Status:    j.status,
		Range:     j.rng,
		Completed: j.completed,
		Total:     j.total,
		Succeeded: j.succeeded,
		Failed:    j.failed,
		Records:   j.records,
		Logs:      append([]string(nil), j.logs...),
		Results:   append([]models.TaskResult(nil), j.results...),
		Error:     j.err,
		CreatedAt: j.created.Unix(),
		ElapsedMs: end.Sub(j.created).Milliseconds(),
	}
}

// PostRun returns a handler for POST /api/v1/runs.
// It validates the request, creates a run, and starts its orchestrator in
// the background.
func (r *Runner) PostRun() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.RunRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.NewErrorResponse(models.ErrCodeInvalidInput, err.Error()))
			return
		}

		rng := models.DefaultTimeRange(time.Now())
		if req.FromDate != "" {
			rng.FromDate = req.FromDate
		}
		if req.ToDate != "" {
			rng.ToDate = req.ToDate
		}
		if err := rng.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, models.NewErrorResponse(models.ErrCodeInvalidInput, err.Error()))
			return
		}

		if int(r.active.Add(1)) > r.maxRuns() {
			r.active.Add(-1)
			c.JSON(http.StatusServiceUnavailable, models.NewErrorResponse(
				models.ErrCodeRateLimited, "too many active runs, try again later"))
			return
		}

		job := r.newJob(req, rng)
		r.runs.Store(job.id, job)
		go r.execute(job, req)

		c.JSON(http.StatusAccepted, models.RunResponse{
			ID:     job.id,
			Status: models.RunStatusRunning,
			Total:  job.total,
		})
	}
}

func (r *Runner) newJob(req models.RunRequest, rng models.TimeRange) *runJob {
	job := &runJob{
		id:      "run-" + randomID(),
		total:   len(req.Targets),
		rng:     rng,
		rows:    sink.NewMemory(),
		created: time.Now(),
		done:    make(chan struct{}),
		status:  models.RunStatusRunning,
	}

	orchCfg := r.cfg.Orchestrator
	if req.Workers > 0 {
		orchCfg.Concurrency = req.Workers
	}
	opts := engine.Options{
		Config:      orchCfg,
		Workflow:    r.cfg.Workflow,
		Selectors:   r.cfg.Selectors,
		Range:       rng,
		Cache:       r.cache,
		CacheMaxAge: time.Duration(req.MaxAgeMs) * time.Millisecond,
		OnLog:       job.appendLog,
		OnResult: func(res models.TaskResult) {
			job.record(res)
			if req.NotifyEntities && req.WebhookURL != "" {
				webhook.DeliverAsync(req.WebhookURL, req.WebhookSecret,
					webhook.NewEvent(webhook.EventEntityCompleted, job.id, res))
			}
		},
	}
	job.orch = engine.New(r.factory, job.rows, opts)
	return job
}

// execute runs the orchestrator to completion and fires the webhook.
func (r *Runner) execute(job *runJob, req models.RunRequest) {
	defer close(job.done)
	defer r.active.Add(-1)

	sum, err := job.orch.Run(context.Background(), req.Targets)
	job.finish(sum, err)

	view := job.view()
	slog.Info("run finished",
		"id", job.id,
		"status", view.Status,
		"succeeded", view.Succeeded,
		"failed", view.Failed,
		"records", view.Records,
		"total", view.Total,
	)

	if req.WebhookURL != "" {
		typ := webhook.EventRunCompleted
		if view.Status == models.RunStatusStopped {
			typ = webhook.EventRunStopped
		}
		view.Logs = nil
		webhook.DeliverAsync(req.WebhookURL, req.WebhookSecret, webhook.NewEvent(typ, job.id, view))
	}
}

func (r *Runner) lookup(c *gin.Context) (*runJob, bool) {
	val, ok := r.runs.Load(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, models.NewErrorResponse(models.ErrCodeNotFound, "run not found"))
		return nil, false
	}
	return val.(*runJob), true
}

// GetRun returns a handler for GET /api/v1/runs/:id.
func (r *Runner) GetRun() gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := r.lookup(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, job.view())
	}
}

// GetRunRows returns a handler for GET /api/v1/runs/:id/rows?offset=&limit=.
func (r *Runner) GetRunRows() gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := r.lookup(c)
		if !ok {
			return
		}
		offset, err1 := strconv.Atoi(c.DefaultQuery("offset", "0"))
		limit, err2 := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultRowPage)))
		if err1 != nil || err2 != nil || offset < 0 || limit < 1 {
			c.JSON(http.StatusBadRequest, models.NewErrorResponse(models.ErrCodeInvalidInput, "offset and limit must be non-negative integers"))
			return
		}
		limit = min(limit, maxRowPage)

		rows := job.rows.Rows()
		start := min(offset, len(rows))
		end := min(start+limit, len(rows))
		c.JSON(http.StatusOK, models.RowsResponse{
			ID:     job.id,
			Total:  len(rows),
			Offset: start,
			Rows:   rows[start:end],
		})
	}
}

// StopRun returns a handler for POST /api/v1/runs/:id/stop.
// Stopping is asynchronous; poll GetRun for the final status.
func (r *Runner) StopRun() gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := r.lookup(c)
		if !ok {
			return
		}
		job.orch.Stop()
		c.JSON(http.StatusAccepted, job.view())
	}
}

// randomID generates a short random hex string for run IDs.
func randomID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
