// README: In-memory trip store used by engine tests and single-node dev runs.
package trip

import (
	"context"
	"sort"
	"sync"
	"time"

	"wheels/internal/types"
)

type MemoryStore struct {
	mu             sync.Mutex
	trips          map[types.ID]*Trip
	byDriverIntent map[types.ID]types.ID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trips:          make(map[types.ID]*Trip),
		byDriverIntent: make(map[types.ID]types.ID),
	}
}

func (m *MemoryStore) Create(_ context.Context, t *Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byDriverIntent[t.DriverIntentID]; ok {
		return ErrExists
	}
	m.trips[t.ID] = t.Clone()
	m.byDriverIntent[t.DriverIntentID] = t.ID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (*Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return t.Clone(), nil
}

func (m *MemoryStore) GetByDriverIntent(_ context.Context, driverIntentID types.ID) (*Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byDriverIntent[driverIntentID]
	if !ok {
		return nil, types.ErrNotFound
	}
	return m.trips[id].Clone(), nil
}

func (m *MemoryStore) Finish(_ context.Context, id types.ID, to Status, at time.Time, reason *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok || t.Status != StatusInProgress {
		return false, nil
	}
	t.Status = to
	t.CompletedAt = &at
	if reason != nil {
		r := *reason
		t.FailureReason = &r
	}
	return true, nil
}

func (m *MemoryStore) ListByDriver(_ context.Context, driverID types.ID) ([]*Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Trip
	for _, t := range m.trips {
		if t.DriverID == driverID {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}
