// Package sink persists exercise-history rows as they arrive from workers.
package sink

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/use-agent/seibro/models"
)

// Supported output formats.
const (
	FormatCSV   = "csv"
	FormatJSONL = "jsonl"
)

// Columns is the CSV header, one per RowRecord field.
var Columns = []string{"title", "date", "exc_amount", "exc_shares", "exc_price", "listing_date"}

// FileSink is an append-only sink backed by a file.
type FileSink interface {
	Append(ctx context.Context, rows []models.RowRecord) error
	Reset(ctx context.Context) error
	Close() error
}

// Open creates (or truncates) path and returns a sink for format.
func Open(format, path string) (FileSink, error) {
	switch strings.ToLower(format) {
	case FormatCSV, "":
		return NewCSV(path)
	case FormatJSONL, "json":
		return NewJSONL(path)
	default:
		return nil, models.NewScrapeError(models.ErrCodeInvalidInput, fmt.Sprintf("unknown output format %q", format), nil)
	}
}

// FormatFromPath guesses the format from a file extension.
func FormatFromPath(path string) string {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".jsonl") || strings.HasSuffix(lower, ".ndjson") || strings.HasSuffix(lower, ".json") {
		return FormatJSONL
	}
	return FormatCSV
}

// Record flattens r in Columns order. Nil numbers become empty cells.
func Record(r models.RowRecord) []string {
	return []string{
		r.Title,
		r.Date,
		formatNumber(r.ExerciseAmount),
		formatNumber(r.ExerciseShares),
		formatNumber(r.ExercisePrice),
		r.ListingDate,
	}
}

func formatNumber(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
