package models

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar format the target application expects (YYYYMMDD).
const DateLayout = "20060102"

// EntityDescriptor is one target to scrape. Keyword is matched against the
// rendered candidate labels; CompanyName is typed into the search box and
// becomes the Title of every row.
type EntityDescriptor struct {
	Keyword     string `json:"keyword" yaml:"keyword" binding:"required"`
	CompanyName string `json:"company_name" yaml:"company_name" binding:"required"`
}

// TimeRange bounds the exercise history query.
type TimeRange struct {
	FromDate string `json:"from_date" yaml:"from_date"`
	ToDate   string `json:"to_date" yaml:"to_date"`
}

// DefaultTimeRange returns 2021-01-01 through today.
func DefaultTimeRange(now time.Time) TimeRange {
	return TimeRange{FromDate: "20210101", ToDate: now.Format(DateLayout)}
}

// Validate checks both dates parse and are ordered.
func (r TimeRange) Validate() error {
	from, err := time.Parse(DateLayout, r.FromDate)
	if err != nil {
		return NewScrapeError(ErrCodeInvalidInput, fmt.Sprintf("invalid from date %q", r.FromDate), err)
	}
	to, err := time.Parse(DateLayout, r.ToDate)
	if err != nil {
		return NewScrapeError(ErrCodeInvalidInput, fmt.Sprintf("invalid to date %q", r.ToDate), err)
	}
	if to.Before(from) {
		return NewScrapeError(ErrCodeInvalidInput, fmt.Sprintf("to date %s precedes from date %s", r.ToDate, r.FromDate), nil)
	}
	return nil
}

// RowRecord is one exercise-history row. Nil numeric fields mean the cell was empty.
type RowRecord struct {
	Title          string   `json:"title"`
	Date           string   `json:"date"`
	ExerciseAmount *float64 `json:"exercise_amount"`
	ExerciseShares *float64 `json:"exercise_shares"`
	ExercisePrice  *float64 `json:"exercise_price"`
	ListingDate    string   `json:"listing_date"`
}

// ScrapeResult is the terminal outcome of one workflow run.
type ScrapeResult struct {
	Entity  EntityDescriptor
	Rows    []RowRecord
	Success bool
	// Partial marks a success whose pagination stopped on an error.
	Partial bool
	Message string
	Err     error
}

// TaskResult is what a finished worker task reports to the orchestrator.
type TaskResult struct {
	Keyword     string `json:"keyword"`
	RecordCount int    `json:"record_count"`
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	Code        string `json:"code,omitempty"`
	Cached      bool   `json:"cached,omitempty"`
}

// Clean trims surrounding whitespace from both fields.
func (e EntityDescriptor) Clean() EntityDescriptor {
	return EntityDescriptor{
		Keyword:     strings.TrimSpace(e.Keyword),
		CompanyName: strings.TrimSpace(e.CompanyName),
	}
}
