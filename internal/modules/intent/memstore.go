// README: In-memory intent store with the same conditional-write semantics as PostgresStore.
package intent

import (
	"context"
	"sort"
	"sync"
	"time"

	"wheels/internal/types"
)

type MemoryStore struct {
	mu      sync.Mutex
	seq     int64
	intents map[types.ID]*memIntent
	events  []Event
}

type memIntent struct {
	seq    int64
	intent *Intent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{intents: make(map[types.ID]*memIntent)}
}

func (m *MemoryStore) Create(_ context.Context, i *Intent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.intents[i.ID]; ok {
		return types.ErrBadRequest
	}
	for _, row := range m.intents {
		o := row.intent
		if o.ParticipantID == i.ParticipantID && o.Role == i.Role && !o.Status.Terminal() {
			return types.ErrActiveIntent
		}
	}
	m.seq++
	m.intents[i.ID] = &memIntent{seq: m.seq, intent: i.Clone()}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (*Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.intents[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return row.intent.Clone(), nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id types.ID, from, to Status, version int, driverID *types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.intents[id]
	if !ok {
		return false, nil
	}
	cur := row.intent
	if cur.Status != from || cur.StatusVersion != version {
		return false, nil
	}
	if to == StatusMatched && from != StatusMatched && cur.MatchedDriverID != nil {
		return false, nil
	}
	switch to {
	case StatusMatched:
		if driverID != nil {
			cur.MatchedDriverID = driverID.Ptr()
		}
	case StatusSearching, StatusCancelled:
		cur.MatchedDriverID = nil
	}
	cur.Status = to
	cur.StatusVersion++
	cur.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) ResetMatch(_ context.Context, id, driverID types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.intents[id]
	if !ok {
		return false, nil
	}
	cur := row.intent
	if cur.Status != StatusMatched || !cur.MatchedTo(driverID) {
		return false, nil
	}
	cur.Status = StatusSearching
	cur.MatchedDriverID = nil
	cur.StatusVersion++
	cur.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) Latest(_ context.Context, participantID types.ID, role Role, statuses ...Status) (*Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *memIntent
	for _, row := range m.intents {
		i := row.intent
		if i.ParticipantID != participantID || i.Role != role {
			continue
		}
		if len(statuses) > 0 && !containsStatus(statuses, i.Status) {
			continue
		}
		if best == nil || newer(row, best) {
			best = row
		}
	}
	if best == nil {
		return nil, types.ErrNotFound
	}
	return best.intent.Clone(), nil
}

func (m *MemoryStore) ListByStatus(_ context.Context, role Role, status Status, limit int) ([]*Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([]*memIntent, 0)
	for _, row := range m.intents {
		if row.intent.Role == role && row.intent.Status == status {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(a, b int) bool { return newer(rows[b], rows[a]) })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]*Intent, len(rows))
	for i, row := range rows {
		out[i] = row.intent.Clone()
	}
	return out, nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev := *e
	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, ev)
	return nil
}

// Events returns the recorded transitions of intentID in order.
func (m *MemoryStore) Events(intentID types.ID) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.IntentID == intentID {
			out = append(out, e)
		}
	}
	return out
}

func newer(a, b *memIntent) bool {
	if !a.intent.CreatedAt.Equal(b.intent.CreatedAt) {
		return a.intent.CreatedAt.After(b.intent.CreatedAt)
	}
	return a.seq > b.seq
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
