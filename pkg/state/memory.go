package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chazu/ballast/pkg/resource"
)

// Memory is an in-memory Store. It backs tests and simulation runs and is
// safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	records map[resource.ID]*ObservedState
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		records: make(map[resource.ID]*ObservedState),
	}
}

// Get returns the observed state for id, or ErrNotFound
func (m *Memory) Get(ctx context.Context, id resource.ID) (*ObservedState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obs, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return obs.Clone(), nil
}

// Put writes a record, enforcing the serial compare-and-swap
func (m *Memory) Put(ctx context.Context, obs *ObservedState) error {
	if obs == nil {
		return fmt.Errorf("observed state cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var current int64
	if existing, ok := m.records[obs.ID]; ok {
		current = existing.Serial
	}
	if obs.Serial != current+1 {
		return fmt.Errorf("%s: have serial %d, presented %d: %w", obs.ID, current, obs.Serial, ErrSerialConflict)
	}

	record := obs.Clone()
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now()
	}
	m.records[obs.ID] = record
	return nil
}

// Delete removes the record for id
func (m *Memory) Delete(ctx context.Context, id resource.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, id)
	return nil
}

// List returns all records ordered by identity
func (m *Memory) List(ctx context.Context) ([]*ObservedState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]*ObservedState, 0, len(m.records))
	for _, obs := range m.records {
		records = append(records, obs.Clone())
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ID.String() < records[j].ID.String()
	})
	return records, nil
}

// Size returns the number of records
func (m *Memory) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
