package sink

import (
	"context"
	"sync"

	"github.com/use-agent/seibro/models"
)

// Memory keeps rows in memory. It is safe for concurrent readers.
type Memory struct {
	mu   sync.RWMutex
	rows []models.RowRecord
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Append(_ context.Context, rows []models.RowRecord) error {
	m.mu.Lock()
	m.rows = append(m.rows, rows...)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	m.rows = nil
	m.mu.Unlock()
	return nil
}

// Rows returns a copy of everything appended so far.
func (m *Memory) Rows() []models.RowRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.RowRecord(nil), m.rows...)
}

// Len returns the number of rows held.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}
