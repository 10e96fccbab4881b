// Package table turns a rendered grid body into ordered, typed records and
// fingerprints grid pages so pagination stalls can be detected.
package table

import (
	"context"
	"strings"

	"github.com/use-agent/seibro/logging"
	"github.com/use-agent/seibro/models"
)

// KeyDelimiter joins the first row's cells into a page key.
const KeyDelimiter = "|"

// Row is one rendered grid row.
type Row interface {
	// CellTexts returns the trimmed text of every cell in column order.
	CellTexts() ([]string, error)
	// FirstCellVisible reports whether the first cell is rendered.
	FirstCellVisible() (bool, error)
}

// Grid enumerates the rows under a grid body locator.
type Grid interface {
	Rows(ctx context.Context, bodyLocator string) ([]Row, error)
}

// Mapper converts one row's cell texts into a record.
type Mapper[T any] func(cells []string) (T, error)

// ExtractRowTexts returns the row's cell texts, or nil when the row has no
// cells or, with displayOnly, its first cell is not rendered.
func ExtractRowTexts(row Row, displayOnly bool) ([]string, error) {
	cells, err := row.CellTexts()
	if err != nil {
		return nil, err
	}
	if len(cells) == 0 {
		return nil, nil
	}
	if displayOnly {
		visible, err := row.FirstCellVisible()
		if err != nil {
			return nil, err
		}
		if !visible {
			return nil, nil
		}
	}
	return cells, nil
}

// ToRecords maps every displayed row under bodyLocator. Rows the mapper
// rejects are logged and skipped. The raw rows are returned for PageKey.
func ToRecords[T any](ctx context.Context, grid Grid, bodyLocator string, mapper Mapper[T]) ([]T, []Row, error) {
	rows, err := grid.Rows(ctx, bodyLocator)
	if err != nil {
		return nil, nil, models.Categorize(err, "grid body unavailable")
	}

	logger := logging.FromContext(ctx)
	records := make([]T, 0, len(rows))
	for i, row := range rows {
		cells, err := ExtractRowTexts(row, true)
		if err != nil {
			return records, rows, models.Categorize(err, "read grid row")
		}
		if cells == nil {
			continue
		}
		rec, err := mapper(cells)
		if err != nil {
			logger.Warn("row skipped",
				"code", models.ErrCodeMapping,
				"row", i,
				"cells", strings.Join(cells, KeyDelimiter),
				"error", err,
			)
			continue
		}
		records = append(records, rec)
	}
	return records, rows, nil
}

// PageKey returns the first row's cell texts joined by KeyDelimiter, or
// false when there are no rows or the first row cannot be read.
func PageKey(rows []Row) (string, bool) {
	if len(rows) == 0 {
		return "", false
	}
	cells, err := rows[0].CellTexts()
	if err != nil || len(cells) == 0 {
		return "", false
	}
	return strings.Join(cells, KeyDelimiter), true
}
