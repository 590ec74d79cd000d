// README: In-memory acceptance store enforcing the same unique slots as the SQL schema.
package acceptance

import (
	"context"
	"sort"
	"sync"
	"time"

	"wheels/internal/types"
)

type seatKey struct {
	driverIntentID types.ID
	seatNo         int
}

type MemoryStore struct {
	mu          sync.Mutex
	byID        map[types.ID]*Acceptance
	byPassenger map[types.ID]types.ID
	bySeat      map[seatKey]types.ID
	// FailInsert, when set, is returned by Insert before any state changes.
	FailInsert error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:        make(map[types.ID]*Acceptance),
		byPassenger: make(map[types.ID]types.ID),
		bySeat:      make(map[seatKey]types.ID),
	}
}

func (m *MemoryStore) Insert(_ context.Context, a *Acceptance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailInsert != nil {
		return m.FailInsert
	}
	key := seatKey{a.DriverIntentID, a.SeatNo}
	if _, ok := m.bySeat[key]; ok {
		return ErrSeatTaken
	}
	if _, ok := m.byPassenger[a.PassengerIntentID]; ok {
		return ErrPassengerTaken
	}
	m.byID[a.ID] = a.Clone()
	m.byPassenger[a.PassengerIntentID] = a.ID
	m.bySeat[key] = a.ID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (*Acceptance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return a.Clone(), nil
}

func (m *MemoryStore) GetByPassengerIntent(_ context.Context, passengerIntentID types.ID) (*Acceptance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byPassenger[passengerIntentID]
	if !ok {
		return nil, types.ErrNotFound
	}
	return m.byID[id].Clone(), nil
}

func (m *MemoryStore) ListByDriverIntent(_ context.Context, driverIntentID types.ID) ([]*Acceptance, error) {
	out := m.filter(func(a *Acceptance) bool { return a.DriverIntentID == driverIntentID })
	sort.Slice(out, func(i, j int) bool { return out[i].SeatNo < out[j].SeatNo })
	return out, nil
}

func (m *MemoryStore) ListByPassenger(_ context.Context, passengerID types.ID) ([]*Acceptance, error) {
	out := m.filter(func(a *Acceptance) bool { return a.PassengerID == passengerID })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) Revoke(_ context.Context, passengerIntentID, driverID types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byPassenger[passengerIntentID]
	if !ok {
		return nil
	}
	a := m.byID[id]
	if a.DriverID != driverID {
		return nil
	}
	delete(m.byID, id)
	delete(m.byPassenger, passengerIntentID)
	delete(m.bySeat, seatKey{a.DriverIntentID, a.SeatNo})
	return nil
}

func (m *MemoryStore) MarkPickedUp(_ context.Context, id types.ID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok || a.PickedUpAt != nil {
		return false, nil
	}
	a.PickedUpAt = &at
	return true, nil
}

func (m *MemoryStore) filter(keep func(*Acceptance) bool) []*Acceptance {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Acceptance
	for _, a := range m.byID {
		if keep(a) {
			out = append(out, a.Clone())
		}
	}
	return out
}
