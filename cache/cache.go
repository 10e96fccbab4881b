// Package cache remembers the rows of recently scraped entities so repeated
// runs over the same targets can skip the browser.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/use-agent/seibro/matcher"
	"github.com/use-agent/seibro/models"
)

// retention bounds how long any entry is kept regardless of maxAge.
const retention = time.Hour

// entry holds cached rows with their creation timestamp.
type entry struct {
	rows      []models.RowRecord
	createdAt time.Time
}

// Cache is an in-memory row cache keyed by entity and date range.
// It is safe for concurrent use.
type Cache struct {
	mu         sync.RWMutex
	store      map[string]*entry
	maxEntries int
}

// New creates a Cache with the given maximum number of entries. Entries
// older than one hour are evicted every 5 minutes until ctx is done.
func New(ctx context.Context, maxEntries int) *Cache {
	c := &Cache{
		store:      make(map[string]*entry),
		maxEntries: max(maxEntries, 1),
	}
	go c.cleanupLoop(ctx)
	return c
}

// Key identifies an entity and range. Keywords that normalize to the same
// match key share an entry.
func Key(entity models.EntityDescriptor, rng models.TimeRange) string {
	h := sha256.New()
	h.Write([]byte(matcher.Normalize(entity.Keyword)))
	h.Write([]byte("|"))
	h.Write([]byte(strings.TrimSpace(entity.CompanyName)))
	h.Write([]byte("|"))
	h.Write([]byte(rng.FromDate))
	h.Write([]byte("|"))
	h.Write([]byte(rng.ToDate))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns cached rows younger than maxAge. maxAge <= 0 disables the
// lookup.
func (c *Cache) Get(entity models.EntityDescriptor, rng models.TimeRange, maxAge time.Duration) ([]models.RowRecord, bool) {
	if maxAge <= 0 {
		return nil, false
	}

	c.mu.RLock()
	e, ok := c.store[Key(entity, rng)]
	c.mu.RUnlock()

	if !ok || time.Since(e.createdAt) > maxAge {
		return nil, false
	}
	return append([]models.RowRecord(nil), e.rows...), true
}

// Set stores rows. If the cache is at capacity, a random entry is evicted
// to make room.
func (c *Cache) Set(entity models.EntityDescriptor, rng models.TimeRange, rows []models.RowRecord) {
	key := Key(entity, rng)
	c.mu.Lock()
	defer c.mu.Unlock()

	// Map iteration order is random.
	if _, exists := c.store[key]; !exists && len(c.store) >= c.maxEntries {
		for k := range c.store {
			delete(c.store, k)
			break
		}
	}

	c.store[key] = &entry{
		rows:      append([]models.RowRecord(nil), rows...),
		createdAt: time.Now(),
	}
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

func (c *Cache) evict(cutoff time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.store {
		if e.createdAt.Before(cutoff) {
			delete(c.store, k)
		}
	}
}

func (c *Cache) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.evict(time.Now().Add(-retention))
		}
	}
}
