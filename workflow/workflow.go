// Package workflow drives one target through the exercise-history UI:
// search, disambiguation, date range and grid pagination.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/use-agent/seibro/config"
	"github.com/use-agent/seibro/logging"
	"github.com/use-agent/seibro/matcher"
	"github.com/use-agent/seibro/models"
	"github.com/use-agent/seibro/table"
)

// Session is the browser capability a workflow drives. Operations act on
// the current document; a non-empty frame argument enters that frame for the
// duration of the call only.
type Session interface {
	table.Grid

	Open(ctx context.Context, url string) error
	SwitchToFrame(ctx context.Context, locator string) error
	SwitchToDefault() error
	ClickButton(ctx context.Context, locator, frame string) error
	FillInput(ctx context.Context, locator, value, frame string) error
	// CheckErrorPopup dismisses the application's alert modal if shown.
	CheckErrorPopup(ctx context.Context) bool
	// Texts returns the trimmed text of every items match inside container.
	Texts(ctx context.Context, container, items string) ([]string, error)
}

// Inspector is implemented by sessions that can dump DOM subtrees.
type Inspector interface {
	ExtractSubtree(ctx context.Context, locators []string) []models.NodeDescriptor
}

// Workflow runs the UI sequence for targets on one session. It is not safe
// for concurrent use.
type Workflow struct {
	sess   Session
	cfg    config.WorkflowConfig
	sel    config.Selectors
	logger *slog.Logger
	state  State
}

// New binds a workflow to sess.
func New(sess Session, cfg config.WorkflowConfig, sel config.Selectors) *Workflow {
	cfg.Normalize()
	return &Workflow{sess: sess, cfg: cfg, sel: sel, logger: slog.Default()}
}

// State returns the state reached by the last transition.
func (w *Workflow) State() State { return w.state }

func (w *Workflow) transition(to State) {
	w.logger.Debug("workflow transition", "from", w.state.String(), "to", to.String())
	w.state = to
}

// Run scrapes one entity. Failures before pagination abort the attempt and
// retryable ones are retried up to MaxRetries times. A failure while
// paginating keeps the rows gathered so far. The session is back in the
// top-level document when Run returns.
func (w *Workflow) Run(ctx context.Context, entity models.EntityDescriptor, tr models.TimeRange) models.ScrapeResult {
	entity = entity.Clean()
	w.logger = logging.FromContext(ctx).With("keyword", entity.Keyword)
	w.state = StateInit
	defer func() { _ = w.sess.SwitchToDefault() }()

	if entity.Keyword == "" || entity.CompanyName == "" {
		return w.fail(entity, models.NewScrapeError(models.ErrCodeInvalidInput, "keyword and company name are required", nil))
	}
	if err := tr.Validate(); err != nil {
		return w.fail(entity, err)
	}

	var err error
	for attempt := 1; attempt <= w.cfg.MaxRetries; attempt++ {
		w.state = StateInit

		var rows []models.RowRecord
		var pageErr error
		rows, pageErr, err = w.attempt(ctx, entity, tr)
		if err == nil {
			return w.succeed(ctx, entity, rows, pageErr)
		}
		if !models.IsRetryable(err) || attempt == w.cfg.MaxRetries {
			break
		}

		backoff := w.cfg.RetryBackoff * time.Duration(attempt)
		w.logger.Warn("attempt failed, retrying",
			"attempt", attempt,
			"maxRetries", w.cfg.MaxRetries,
			"backoff", backoff,
			"error", err,
		)
		_ = w.sess.SwitchToDefault()
		if sleepErr := sleep(ctx, backoff); sleepErr != nil {
			err = models.Categorize(sleepErr, "retry wait interrupted")
			break
		}
	}
	return w.fail(entity, err)
}

func (w *Workflow) succeed(ctx context.Context, entity models.EntityDescriptor, rows []models.RowRecord, pageErr error) models.ScrapeResult {
	if pageErr != nil && ctx.Err() != nil {
		res := w.fail(entity, models.Categorize(pageErr, "pagination interrupted"))
		res.Rows = rows
		return res
	}

	w.transition(StateDone)
	msg := fmt.Sprintf("%s: %d rows", entity.Keyword, len(rows))
	if len(rows) == 0 {
		msg = fmt.Sprintf("%s: no rows in range", entity.Keyword)
	}
	if pageErr != nil {
		msg += fmt.Sprintf(" (pagination stopped early: %v)", pageErr)
		w.logger.Warn("pagination stopped early", "rows", len(rows), "error", pageErr)
	}
	return models.ScrapeResult{Entity: entity, Rows: rows, Success: true, Partial: pageErr != nil, Message: msg}
}

func (w *Workflow) fail(entity models.EntityDescriptor, err error) models.ScrapeResult {
	w.transition(StateFailed)
	w.logger.Error("workflow failed", "code", models.CodeOf(err), "error", err)
	return models.ScrapeResult{
		Entity:  entity,
		Success: false,
		Message: fmt.Sprintf("%s: %v", entity.Keyword, err),
		Err:     err,
	}
}

// attempt performs one pass of the full sequence. A non-nil pageErr with a
// nil err means pagination stopped on a failure after rows were gathered.
func (w *Workflow) attempt(ctx context.Context, entity models.EntityDescriptor, tr models.TimeRange) (rows []models.RowRecord, pageErr, err error) {
	if err := w.openSearch(ctx); err != nil {
		return nil, nil, err
	}
	if err := w.searchCompany(ctx, entity.CompanyName); err != nil {
		return nil, nil, err
	}
	idx, err := w.disambiguate(ctx, entity.Keyword)
	if err != nil {
		return nil, nil, err
	}
	if err := w.selectCandidate(ctx, idx); err != nil {
		return nil, nil, err
	}
	if err := w.setRange(ctx, tr); err != nil {
		return nil, nil, err
	}
	rows, pageErr = w.paginate(ctx, entity.CompanyName)
	return rows, pageErr, nil
}

func (w *Workflow) openSearch(ctx context.Context) error {
	if err := w.sess.Open(ctx, w.sel.DetailsURL); err != nil {
		return models.Categorize(err, "open details page")
	}
	if err := w.settle(ctx, "open details page"); err != nil {
		return err
	}
	w.transition(StateSearchOpened)
	return nil
}

func (w *Workflow) searchCompany(ctx context.Context, company string) error {
	steps := []struct {
		name string
		do   func() error
	}{
		{"open company search", func() error {
			return w.sess.ClickButton(ctx, w.sel.SearchTrigger, "")
		}},
		{"fill company name", func() error {
			return w.sess.FillInput(ctx, w.sel.CompanyInput, company, w.sel.ResultsFrame)
		}},
		{"confirm company search", func() error {
			return w.sess.ClickButton(ctx, w.sel.SearchConfirm, w.sel.ResultsFrame)
		}},
	}
	for _, step := range steps {
		if err := step.do(); err != nil {
			return models.Categorize(err, step.name)
		}
		if err := w.settle(ctx, step.name); err != nil {
			return err
		}
	}
	w.transition(StateCompanySearched)
	return nil
}

// disambiguate enumerates candidates inside the results frame until one
// matches keyword. The session stays in the frame on success.
func (w *Workflow) disambiguate(ctx context.Context, keyword string) (int, error) {
	if err := w.sess.SwitchToFrame(ctx, w.sel.ResultsFrame); err != nil {
		return -1, models.Categorize(err, "enter results frame")
	}

	for try := 1; try <= w.cfg.MaxSearchRetries; try++ {
		labels, err := w.sess.Texts(ctx, w.sel.CandidateList, w.sel.CandidateItem)
		switch {
		case err != nil:
			w.logger.Debug("candidate list not ready", "try", try, "error", err)
		default:
			idx, matches := matcher.FindMatchingIndex(labels, keyword)
			if idx >= 0 {
				if matches > 1 {
					w.logger.Warn("multiple candidates match, using first", "matches", matches, "index", idx)
				}
				w.transition(StateEntityDisambiguated)
				return idx, nil
			}
			w.logger.Debug("no candidate matches yet", "try", try, "candidates", len(labels))
		}
		if try < w.cfg.MaxSearchRetries {
			if err := sleep(ctx, w.cfg.SearchRetryDelay); err != nil {
				return -1, models.Categorize(err, "candidate search interrupted")
			}
		}
	}

	if in, ok := w.sess.(Inspector); ok {
		w.logger.Debug("candidate list at give-up",
			"nodes", in.ExtractSubtree(ctx, []string{w.sel.CandidateList}))
	}
	return -1, models.NewScrapeError(models.ErrCodeNotFound,
		fmt.Sprintf("no candidate matches keyword %q after %d searches", keyword, w.cfg.MaxSearchRetries), nil)
}

func (w *Workflow) selectCandidate(ctx context.Context, idx int) error {
	if err := w.sess.ClickButton(ctx, w.sel.CandidateRow(idx), ""); err != nil {
		return models.Categorize(err, fmt.Sprintf("select candidate %d", idx))
	}
	if err := w.sess.SwitchToDefault(); err != nil {
		return models.Categorize(err, "leave results frame")
	}
	if err := w.settle(ctx, "select candidate"); err != nil {
		return err
	}
	w.transition(StateEntitySelected)
	return nil
}

func (w *Workflow) setRange(ctx context.Context, tr models.TimeRange) error {
	if err := w.sess.FillInput(ctx, w.sel.FromDate, tr.FromDate, ""); err != nil {
		return models.Categorize(err, "fill from date")
	}
	if err := w.settle(ctx, "fill from date"); err != nil {
		return err
	}
	if err := w.sess.FillInput(ctx, w.sel.ToDate, tr.ToDate, ""); err != nil {
		return models.Categorize(err, "fill to date")
	}
	if err := w.settle(ctx, "fill to date"); err != nil {
		return err
	}
	if err := w.sess.ClickButton(ctx, w.sel.RangeConfirm, ""); err != nil {
		return models.Categorize(err, "confirm date range")
	}
	if err := w.settle(ctx, "confirm date range"); err != nil {
		return err
	}
	w.transition(StateRangeSet)
	return nil
}

// paginate reads grid pages until the first row repeats, a page is short,
// the next-page control fails or MaxPages is reached. The error reports why
// a page could not be read; rows gathered before it are always returned.
func (w *Workflow) paginate(ctx context.Context, company string) ([]models.RowRecord, error) {
	w.transition(StatePaginating)
	mapper := ExerciseRowMapper(company)

	var all []models.RowRecord
	var prevKey string
	havePrev := false

	for page := 1; ; page++ {
		recs, raw, err := table.ToRecords(ctx, w.sess, w.sel.GridBody, mapper)
		if err != nil {
			all = append(all, recs...)
			return all, fmt.Errorf("page %d: %w", page, err)
		}

		key, ok := table.PageKey(raw)
		if havePrev && ok && key == prevKey {
			w.logger.Debug("page key repeated, stopping", "page", page)
			return all, nil
		}
		all = append(all, recs...)
		prevKey, havePrev = key, ok
		w.logger.Debug("page read", "page", page, "rows", len(raw), "records", len(recs))

		if len(raw) < w.cfg.PageSize {
			return all, nil
		}
		if w.cfg.MaxPages > 0 && page >= w.cfg.MaxPages {
			w.logger.Info("page limit reached", "maxPages", w.cfg.MaxPages)
			return all, nil
		}
		if err := w.sess.ClickButton(ctx, w.sel.NextPage, ""); err != nil {
			if ctx.Err() != nil {
				return all, err
			}
			w.logger.Debug("next page unavailable, stopping", "page", page, "error", err)
			return all, nil
		}
		if err := sleep(ctx, w.cfg.StepDelay); err != nil {
			return all, err
		}
	}
}

// settle pauses StepDelay and then fails the step if the alert modal is up.
func (w *Workflow) settle(ctx context.Context, step string) error {
	if err := sleep(ctx, w.cfg.StepDelay); err != nil {
		return models.Categorize(err, step+" interrupted")
	}
	if w.sess.CheckErrorPopup(ctx) {
		return models.NewScrapeError(models.ErrCodeTransientUI, "error popup after "+step, nil)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsNotFound reports whether err is a disambiguation miss.
func IsNotFound(err error) bool {
	var se *models.ScrapeError
	return errors.As(err, &se) && se.Code == models.ErrCodeNotFound
}
