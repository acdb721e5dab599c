package sink

import (
	"context"
	"slices"
	"sync"

	"github.com/mangaraw/harvester/pkg/models"
)

// Memory is an in-memory Sink, for tests and dry runs. It also implements
// source.KeyLister and Counter.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*models.StoredRecord
	writes  int
}

// NewMemory returns an empty Memory sink.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]*models.StoredRecord)}
}

// Upsert implements Sink.
func (m *Memory) Upsert(_ context.Context, naturalKey string, rec *models.StoredRecord) error {
	rec = rec.Clone()
	if err := prepare(naturalKey, rec); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.records[naturalKey]; ok {
		rec.FirstFetchedAt = prev.FirstFetchedAt
	}
	m.records[naturalKey] = rec
	m.writes++

	return nil
}

// Get implements Sink.
func (m *Memory) Get(_ context.Context, naturalKey string) (*models.StoredRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[naturalKey]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// Exists implements Sink.
func (m *Memory) Exists(_ context.Context, naturalKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[naturalKey]
	return ok && rec.Status == models.StatusOK, nil
}

// Count implements Counter.
func (m *Memory) Count(_ context.Context, source string, statuses ...models.RecordStatus) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, rec := range m.records {
		if rec.Source == source && (len(statuses) == 0 || slices.Contains(statuses, rec.Status)) {
			n++
		}
	}
	return n, nil
}

// ListKeys implements source.KeyLister.
func (m *Memory) ListKeys(_ context.Context, source string, after *models.WorkItem, limit int, statuses ...models.RecordStatus) ([]models.WorkItem, error) {
	m.mu.RLock()
	var keys []models.WorkItem
	for _, rec := range m.records {
		if rec.Source != source {
			continue
		}
		if after != nil && sortKey(rec.Key) <= sortKey(*after) {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, rec.Status) {
			continue
		}
		keys = append(keys, rec.Key)
	}
	m.mu.RUnlock()

	slices.SortFunc(keys, func(a, b models.WorkItem) int {
		switch ka, kb := sortKey(a), sortKey(b); {
		case ka < kb:
			return -1
		case ka > kb:
			return 1
		default:
			return 0
		}
	})
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	return keys, nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Writes returns how many upserts succeeded.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Close implements Sink.
func (m *Memory) Close() error {
	return nil
}
