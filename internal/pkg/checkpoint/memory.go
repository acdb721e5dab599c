package checkpoint

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// Memory is a Store that keeps records in memory, for tests and dry runs.
type Memory struct {
	mu      sync.Mutex
	records map[string]Record
	saves   int
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

// Load implements Store.
func (m *Memory) Load(_ context.Context, stage string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[stage]
	if !ok {
		return Record{Stage: stage}, nil
	}
	return rec.Clone(), nil
}

// Save implements Store.
func (m *Memory) Save(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkAdvance(m.records[rec.Stage], rec); err != nil {
		return err
	}

	rec = rec.Clone()
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	m.records[rec.Stage] = rec
	m.saves++

	return nil
}

// Reset implements Store.
func (m *Memory) Reset(_ context.Context, stage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, stage)
	return nil
}

// List implements Store.
func (m *Memory) List(_ context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		records = append(records, rec.Clone())
	}
	slices.SortFunc(records, func(a, b Record) int { return strings.Compare(a.Stage, b.Stage) })

	return records, nil
}

// Saves returns how many saves succeeded.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Close implements Store.
func (m *Memory) Close() error {
	return nil
}
