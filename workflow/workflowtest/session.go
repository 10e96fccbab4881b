// Package workflowtest provides a scripted in-memory Session that mimics the
// exercise-history application closely enough to drive a workflow.
package workflowtest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/use-agent/seibro/config"
	"github.com/use-agent/seibro/models"
	"github.com/use-agent/seibro/table"
)

// ErrClosed is returned by every operation after Cleanup.
var ErrClosed = errors.New("session closed")

// Session is a fake browser session. Configure the exported fields before
// use; they must not change while a workflow runs.
type Session struct {
	Selectors config.Selectors

	// Candidates are the labels rendered after a company search.
	Candidates []string
	// RenderDelay is the number of candidate enumerations that return
	// nothing before Candidates appear.
	RenderDelay int
	// Pages are the grid pages. Clicking next on the last page leaves it
	// in place.
	Pages [][]table.Row
	// OpenFailures makes the first n Open calls fail.
	OpenFailures int
	// PopupAfter raises the alert modal after the next n interactions with
	// a locator.
	PopupAfter map[string]int
	// NoNextPage makes the next-page control unclickable.
	NoNextPage bool
	// GridFailsOnPage makes reading that 1-based page fail.
	GridFailsOnPage int
	// OpDelay is spent in every operation.
	OpDelay time.Duration

	mu          sync.Mutex
	frame       string
	searched    bool
	enumerated  int
	page        int
	popup       bool
	closed      bool
	closedCh    chan struct{}
	closeOnce   sync.Once
	opens       int
	clicks      []string
	fills       map[string]string
	selected    int
	maxPageSeen int
}

// NewSession returns a session over the default selectors.
func NewSession() *Session {
	return &Session{
		Selectors: config.DefaultSelectors(),
		selected:  -1,
	}
}

func (s *Session) init() {
	if s.closedCh == nil {
		s.closedCh = make(chan struct{})
	}
	if s.fills == nil {
		s.fills = make(map[string]string)
	}
}

// wait spends OpDelay, returning early on cancellation or Cleanup.
func (s *Session) wait(ctx context.Context) error {
	s.mu.Lock()
	s.init()
	closed, ch := s.closed, s.closedCh
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if s.OpDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.OpDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return ErrClosed
	case <-t.C:
		return nil
	}
}

func (s *Session) Open(ctx context.Context, url string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if s.OpenFailures > 0 {
		s.OpenFailures--
		return fmt.Errorf("navigate %s: net::ERR_CONNECTION_RESET", url)
	}
	s.frame, s.searched, s.enumerated, s.page, s.popup = "", false, 0, 0, false
	return nil
}

func (s *Session) SwitchToFrame(ctx context.Context, locator string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if locator != s.Selectors.ResultsFrame {
		return fmt.Errorf("frame %q not found", locator)
	}
	s.frame = locator
	return nil
}

func (s *Session) SwitchToDefault() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = ""
	return nil
}

func (s *Session) ClickButton(ctx context.Context, locator, frame string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if frame != "" && frame != s.Selectors.ResultsFrame {
		return fmt.Errorf("frame %q not found", frame)
	}
	inFrame := frame != "" || s.frame != ""

	switch {
	case locator == s.Selectors.NextPage:
		if s.NoNextPage {
			return fmt.Errorf("element %q not found", locator)
		}
		if s.page < len(s.Pages)-1 {
			s.page++
		}
	case locator == s.Selectors.SearchConfirm && inFrame:
		s.searched = true
	case inFrame && strings.HasPrefix(locator, "#isinList_"):
		idx, err := s.candidateIndex(locator)
		if err != nil {
			return err
		}
		s.selected = idx
	}
	s.clicks = append(s.clicks, locator)
	s.raisePopup(locator)
	return nil
}

func (s *Session) candidateIndex(locator string) (int, error) {
	for i := range s.Candidates {
		if s.Selectors.CandidateRow(i) == locator {
			if !s.searched || s.enumerated <= s.RenderDelay {
				return -1, fmt.Errorf("element %q not rendered", locator)
			}
			return i, nil
		}
	}
	return -1, fmt.Errorf("element %q not found", locator)
}

func (s *Session) FillInput(ctx context.Context, locator, value, frame string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()
	s.fills[locator] = value
	s.raisePopup(locator)
	return nil
}

func (s *Session) raisePopup(locator string) {
	if n := s.PopupAfter[locator]; n > 0 {
		s.PopupAfter[locator] = n - 1
		s.popup = true
	}
}

func (s *Session) CheckErrorPopup(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.popup {
		s.popup = false
		return true
	}
	return false
}

func (s *Session) Texts(ctx context.Context, container, items string) ([]string, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame != s.Selectors.ResultsFrame || container != s.Selectors.CandidateList {
		return nil, fmt.Errorf("element %q not found", container)
	}
	if !s.searched {
		return nil, nil
	}
	s.enumerated++
	if s.enumerated <= s.RenderDelay {
		return nil, nil
	}
	return append([]string(nil), s.Candidates...), nil
}

func (s *Session) Rows(ctx context.Context, bodyLocator string) ([]table.Row, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if bodyLocator != s.Selectors.GridBody || s.frame != "" {
		return nil, fmt.Errorf("element %q not found", bodyLocator)
	}
	if s.GridFailsOnPage > 0 && s.page+1 == s.GridFailsOnPage {
		return nil, errors.New("grid body detached")
	}
	if s.page+1 > s.maxPageSeen {
		s.maxPageSeen = s.page + 1
	}
	if len(s.Pages) == 0 {
		return nil, nil
	}
	return s.Pages[s.page], nil
}

// ExtractSubtree dumps the candidate list as rendered.
func (s *Session) ExtractSubtree(_ context.Context, locators []string) []models.NodeDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.NodeDescriptor
	for _, loc := range locators {
		if loc != s.Selectors.CandidateList {
			continue
		}
		root := models.NodeDescriptor{Tag: "div", Attributes: map[string]string{"id": "isinList"}}
		for _, c := range s.Candidates {
			root.Children = append(root.Children, models.NodeDescriptor{Tag: "div", Text: c})
		}
		out = append(out, root)
	}
	return out
}

// Cleanup closes the session and aborts in-flight operations.
func (s *Session) Cleanup() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.init()
		s.closed = true
		close(s.closedCh)
		s.mu.Unlock()
	})
}

// Closed reports whether Cleanup ran.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Opens returns the number of Open calls.
func (s *Session) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// Selected returns the clicked candidate index, or -1.
func (s *Session) Selected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Filled returns the last value typed into locator.
func (s *Session) Filled(locator string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fills[locator]
}

// PagesRead returns the highest 1-based page index read.
func (s *Session) PagesRead() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxPageSeen
}

// Frame returns the current frame locator, empty for the top document.
func (s *Session) Frame() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

// ExerciseRow builds a grid row with the given date and exercise amount
// in the columns the exercise-history mapper reads.
func ExerciseRow(date, amount string) table.StaticRow {
	cells := make([]string, 11)
	for i := range cells {
		cells[i] = "-" + strconv.Itoa(i)
	}
	cells[5] = date
	cells[6] = amount
	cells[8] = "1,000"
	cells[9] = "12,500"
	cells[10] = date
	return table.StaticRow{Cells: cells}
}

// Page builds n exercise rows whose dates start with prefix.
func Page(prefix string, n int) []table.Row {
	rows := make([]table.Row, n)
	for i := range rows {
		rows[i] = ExerciseRow(fmt.Sprintf("%s/%02d", prefix, i+1), strconv.Itoa((i+1)*1000))
	}
	return rows
}
