package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/use-agent/seibro/logging"
	"github.com/use-agent/seibro/models"
	"github.com/use-agent/seibro/workflow"
	"golang.org/x/time/rate"
)

// Orchestrator launches one task per target, at most Concurrency alive at
// once and at least LaunchDelay apart. An Orchestrator runs once.
type Orchestrator struct {
	opts    Options
	factory SessionFactory
	sink    Sink
	sinkMu  sync.Mutex
	limiter *rate.Limiter

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates an orchestrator. sink may be nil when rows are only reported.
func New(factory SessionFactory, sink Sink, opts Options) *Orchestrator {
	opts.Config.Normalize()
	opts.Workflow.Normalize()
	if opts.Range == (models.TimeRange{}) {
		opts.Range = models.DefaultTimeRange(time.Now())
	}

	limit := rate.Inf
	if opts.Config.LaunchDelay > 0 {
		limit = rate.Every(opts.Config.LaunchDelay)
	}
	return &Orchestrator{
		opts:    opts,
		factory: factory,
		sink:    sink,
		limiter: rate.NewLimiter(limit, 1),
		stopCh:  make(chan struct{}),
	}
}

// Stop asks a running orchestrator to terminate. It returns immediately.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
}

func (o *Orchestrator) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-o.stopCh:
		return true
	default:
		return false
	}
}

// Run scrapes every entity and returns once all tasks have reported or,
// after a stop, once the alive ones are terminated and joined.
func (o *Orchestrator) Run(ctx context.Context, entities []models.EntityDescriptor) (summary *RunSummary, err error) {
	start := time.Now()
	summary = &RunSummary{Total: len(entities)}
	alive := make(map[int]*task)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("orchestrator panic", "panic", r)
			o.terminate(alive)
			err = models.NewScrapeError(models.ErrCodeInternal, fmt.Sprintf("orchestrator failed: %v", r), nil)
		}
		summary.Duration = time.Since(start)
	}()

	if len(entities) == 0 {
		o.log("no targets to scrape")
		return summary, nil
	}
	if err := o.opts.Range.Validate(); err != nil {
		return summary, err
	}
	if r, ok := o.sink.(Resetter); ok {
		if err := r.Reset(runCtx); err != nil {
			return summary, models.NewScrapeError(models.ErrCodeSink, "failed to reset output", err)
		}
	}

	o.log(fmt.Sprintf("scraping %d targets (%s to %s) with %d workers",
		len(entities), o.opts.Range.FromDate, o.opts.Range.ToDate, o.opts.Config.Concurrency))

	results := make(chan models.TaskResult, len(entities))
	poll := o.opts.Config.PollInterval

	next := 0
	for next < len(entities) && !o.stopping(runCtx) {
		o.drain(results, summary)
		reap(alive)

		if len(alive) >= o.opts.Config.Concurrency {
			o.wait(runCtx, results, summary, poll)
			continue
		}
		if d := o.launchDelay(); d > 0 {
			o.wait(runCtx, results, summary, min(d, poll))
			continue
		}

		t := o.launch(runCtx, next, entities[next], results)
		alive[t.id] = t
		summary.PeakAlive = max(summary.PeakAlive, len(alive))
		next++
	}

	for len(alive) > 0 && !o.stopping(runCtx) {
		o.drain(results, summary)
		if reap(alive); len(alive) == 0 {
			break
		}
		o.wait(runCtx, results, summary, poll)
	}

	if o.stopping(runCtx) {
		summary.Stopped = true
		o.log(fmt.Sprintf("stopping: %d running tasks terminated, %d never started",
			len(alive), len(entities)-next))
		o.terminate(alive)
	}
	o.drain(results, summary)

	o.log(fmt.Sprintf("finished: %d/%d completed, %d succeeded, %d failed, %d rows",
		summary.Completed, summary.Total, summary.Succeeded, summary.Failed, summary.Records))

	if ctx.Err() != nil {
		return summary, models.NewScrapeError(models.ErrCodeCanceled, "run canceled", ctx.Err())
	}
	return summary, nil
}

// launchDelay reserves a launch slot, returning how long to wait when the
// previous launch was too recent.
func (o *Orchestrator) launchDelay() time.Duration {
	r := o.limiter.Reserve()
	if d := r.Delay(); d > 0 {
		r.Cancel()
		return d
	}
	return 0
}

// wait blocks for one result, a stop or d, whichever comes first.
func (o *Orchestrator) wait(ctx context.Context, results <-chan models.TaskResult, summary *RunSummary, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case res := <-results:
		o.record(summary, res)
	case <-ctx.Done():
	case <-o.stopCh:
	case <-t.C:
	}
}

// drain records every queued result without blocking.
func (o *Orchestrator) drain(results <-chan models.TaskResult, summary *RunSummary) {
	for {
		select {
		case res := <-results:
			o.record(summary, res)
		default:
			return
		}
	}
}

func (o *Orchestrator) record(summary *RunSummary, res models.TaskResult) {
	summary.Completed++
	summary.Results = append(summary.Results, res)
	if res.Success {
		summary.Succeeded++
		summary.Records += res.RecordCount
	} else {
		summary.Failed++
	}

	if o.opts.OnResult != nil {
		o.opts.OnResult(res)
	}
	switch {
	case !res.Success:
		o.log(fmt.Sprintf("[%d/%d] %s failed: %s", summary.Completed, summary.Total, res.Keyword, res.Message))
	case res.RecordCount == 0:
		o.log(fmt.Sprintf("[%d/%d] %s: no matching rows", summary.Completed, summary.Total, res.Keyword))
	default:
		o.log(fmt.Sprintf("[%d/%d] %s: saved %d rows", summary.Completed, summary.Total, res.Keyword, res.RecordCount))
	}
	if o.opts.OnProgress != nil {
		o.opts.OnProgress(summary.Completed, summary.Total)
	}
}

func (o *Orchestrator) log(line string) {
	slog.Info(line)
	if o.opts.OnLog != nil {
		o.opts.OnLog(line)
	}
}

// terminate cancels every alive task, force-closes its session and waits
// up to JoinTimeout for each to exit.
func (o *Orchestrator) terminate(alive map[int]*task) {
	for _, t := range alive {
		t.kill()
	}
	for id, t := range alive {
		timer := time.NewTimer(o.opts.Config.JoinTimeout)
		select {
		case <-t.done:
		case <-timer.C:
			slog.Warn("task did not exit in time", "worker", id, "keyword", t.entity.Keyword)
		}
		timer.Stop()
		delete(alive, id)
	}
}

// appendRows writes rows to the shared sink under the sink lock.
func (o *Orchestrator) appendRows(ctx context.Context, rows []models.RowRecord) error {
	if o.sink == nil {
		return nil
	}
	o.sinkMu.Lock()
	defer o.sinkMu.Unlock()
	return o.sink.Append(ctx, rows)
}

// task is one target bound to one session.
type task struct {
	id     int
	entity models.EntityDescriptor
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	sess Session
}

func (t *task) setSession(s Session) {
	t.mu.Lock()
	t.sess = s
	t.mu.Unlock()
}

// kill cancels the task and force-closes its session.
func (t *task) kill() {
	t.cancel()
	t.mu.Lock()
	s := t.sess
	t.mu.Unlock()
	if s != nil {
		s.Cleanup()
	}
}

// reap forgets tasks that have exited.
func reap(alive map[int]*task) {
	for id, t := range alive {
		select {
		case <-t.done:
			delete(alive, id)
		default:
		}
	}
}

func (o *Orchestrator) launch(ctx context.Context, id int, entity models.EntityDescriptor, results chan<- models.TaskResult) *task {
	taskCtx, cancel := context.WithCancel(ctx)
	t := &task{id: id, entity: entity, cancel: cancel, done: make(chan struct{})}
	slog.Debug("launching task", "worker", id, "keyword", entity.Keyword)
	go o.runTask(taskCtx, t, results)
	return t
}

// runTask reports exactly one result for t, whatever happens inside.
func (o *Orchestrator) runTask(ctx context.Context, t *task, results chan<- models.TaskResult) {
	defer close(t.done)
	defer t.cancel()

	res := models.TaskResult{Keyword: t.entity.Keyword}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("task panic", "worker", t.id, "keyword", t.entity.Keyword, "panic", r)
			res = failure(t.entity.Keyword, models.NewScrapeError(models.ErrCodeInternal, fmt.Sprintf("task panic: %v", r), nil))
		}
		results <- res
	}()

	logger := logging.FromContext(ctx).With("worker", t.id, "keyword", t.entity.Keyword)
	ctx = logging.ContextWithLogger(ctx, logger)

	if rows, ok := o.cached(t.entity); ok {
		if err := o.appendRows(ctx, rows); err != nil {
			res = failure(t.entity.Keyword, models.NewScrapeError(models.ErrCodeSink, "failed to save rows", err))
			return
		}
		res = models.TaskResult{
			Keyword:     t.entity.Keyword,
			RecordCount: len(rows),
			Success:     true,
			Message:     fmt.Sprintf("%s: %d rows (cached)", t.entity.Keyword, len(rows)),
			Cached:      true,
		}
		logger.Info("served from cache", "rows", len(rows))
		return
	}

	sess, err := o.factory(ctx, t.id)
	if err != nil {
		if models.CodeOf(err) == models.ErrCodeInternal {
			err = models.NewScrapeError(models.ErrCodeSessionInit, "failed to start browser session", err)
		}
		res = failure(t.entity.Keyword, err)
		return
	}
	t.setSession(sess)
	defer sess.Cleanup()

	sr := workflow.New(sess, o.opts.Workflow, o.opts.Selectors).Run(ctx, t.entity, o.opts.Range)
	if !sr.Success {
		res = failure(t.entity.Keyword, sr.Err)
		res.Message = sr.Message
		return
	}

	if len(sr.Rows) > 0 {
		if err := o.appendRows(ctx, sr.Rows); err != nil {
			res = failure(t.entity.Keyword, models.NewScrapeError(models.ErrCodeSink, "failed to save rows", err))
			return
		}
	}
	if o.opts.Cache != nil && !sr.Partial {
		o.opts.Cache.Set(t.entity.Clean(), o.opts.Range, sr.Rows)
	}
	res = models.TaskResult{
		Keyword:     t.entity.Keyword,
		RecordCount: len(sr.Rows),
		Success:     true,
		Message:     sr.Message,
	}
	logger.Info("task finished", "rows", len(sr.Rows))
}

func (o *Orchestrator) cached(entity models.EntityDescriptor) ([]models.RowRecord, bool) {
	if o.opts.Cache == nil || o.opts.CacheMaxAge <= 0 {
		return nil, false
	}
	return o.opts.Cache.Get(entity.Clean(), o.opts.Range, o.opts.CacheMaxAge)
}

func failure(keyword string, err error) models.TaskResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return models.TaskResult{
		Keyword: keyword,
		Success: false,
		Message: msg,
		Code:    models.CodeOf(err),
	}
}
