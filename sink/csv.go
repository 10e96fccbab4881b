package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/use-agent/seibro/models"
)

// CSV writes rows to a CSV file with a single header line.
type CSV struct {
	mu     sync.Mutex
	f      *os.File
	w      *csv.Writer
	header bool
}

// NewCSV creates or truncates path.
func NewCSV(path string) (*CSV, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeSink, "open csv output", err)
	}
	return &CSV{f: f, w: csv.NewWriter(f)}, nil
}

// Reset empties the file and rewrites the header.
func (c *CSV) Reset(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate %s: %w", c.f.Name(), err)
	}
	if _, err := c.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind %s: %w", c.f.Name(), err)
	}
	c.w = csv.NewWriter(c.f)
	c.header = false
	return c.writeHeader()
}

func (c *CSV) writeHeader() error {
	if c.header {
		return nil
	}
	if err := c.w.Write(Columns); err != nil {
		return err
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return err
	}
	c.header = true
	return nil
}

// Append writes rows and flushes them to disk before returning.
func (c *CSV) Append(_ context.Context, rows []models.RowRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeHeader(); err != nil {
		return err
	}
	for _, r := range rows {
		if err := c.w.Write(Record(r)); err != nil {
			return err
		}
	}
	c.w.Flush()
	return c.w.Error()
}

// Close flushes and closes the file.
func (c *CSV) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		c.f.Close()
		return err
	}
	return c.f.Close()
}
