package workflow

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/use-agent/seibro/models"
	"github.com/use-agent/seibro/table"
)

// Column positions in the exercise-history grid.
const (
	colDate        = 5
	colAmount      = 6
	colShares      = 8
	colPrice       = 9
	colListingDate = 10
)

// ExerciseRowMapper maps one exercise-history grid row. Every record's Title
// is company.
func ExerciseRowMapper(company string) table.Mapper[models.RowRecord] {
	return func(cells []string) (models.RowRecord, error) {
		if len(cells) <= colListingDate {
			return models.RowRecord{}, models.NewScrapeError(models.ErrCodeMapping,
				fmt.Sprintf("row has %d cells, want at least %d", len(cells), colListingDate+1), nil)
		}
		amount, err := parseNumber(cells[colAmount])
		if err != nil {
			return models.RowRecord{}, err
		}
		shares, err := parseNumber(cells[colShares])
		if err != nil {
			return models.RowRecord{}, err
		}
		price, err := parseNumber(cells[colPrice])
		if err != nil {
			return models.RowRecord{}, err
		}
		return models.RowRecord{
			Title:          company,
			Date:           strings.TrimSpace(cells[colDate]),
			ExerciseAmount: amount,
			ExerciseShares: shares,
			ExercisePrice:  price,
			ListingDate:    strings.TrimSpace(cells[colListingDate]),
		}, nil
	}
}

// parseNumber parses thousand-separated text. An empty cell is nil; NaN and
// infinities are malformed.
func parseNumber(s string) (*float64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeMapping, fmt.Sprintf("malformed number %q", s), err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, models.NewScrapeError(models.ErrCodeMapping, fmt.Sprintf("non-finite number %q", s), nil)
	}
	return &v, nil
}
