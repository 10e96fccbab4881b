package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/use-agent/seibro/models"
)

// JSONL writes one JSON object per row.
type JSONL struct {
	mu sync.Mutex
	f  *os.File
	bw *bufio.Writer
}

// NewJSONL creates or truncates path.
func NewJSONL(path string) (*JSONL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeSink, "open jsonl output", err)
	}
	return &JSONL{f: f, bw: bufio.NewWriter(f)}, nil
}

func (j *JSONL) Reset(_ context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.bw.Reset(j.f)
	if err := j.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate %s: %w", j.f.Name(), err)
	}
	_, err := j.f.Seek(0, io.SeekStart)
	return err
}

func (j *JSONL) Append(_ context.Context, rows []models.RowRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	enc := json.NewEncoder(j.bw)
	enc.SetEscapeHTML(false)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return j.bw.Flush()
}

func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.bw.Flush(); err != nil {
		j.f.Close()
		return err
	}
	return j.f.Close()
}
