// README: In-memory rating ledger; the mutex plays the role of the SQL transaction.
package rating

import (
	"context"
	"sort"
	"sync"
	"time"

	"wheels/internal/types"
)

type tripleKey struct {
	trip, rater, rated types.ID
}

type MemoryStore struct {
	mu         sync.Mutex
	ratings    []*Rating
	triples    map[tripleKey]bool
	aggregates map[types.ID]*Aggregate
	// FailAggregate, when set, makes Append fail after validating the batch and
	// before anything is written.
	FailAggregate error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		triples:    make(map[tripleKey]bool),
		aggregates: make(map[types.ID]*Aggregate),
	}
}

func (m *MemoryStore) Append(_ context.Context, ratings []*Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[tripleKey]bool, len(ratings))
	for _, r := range ratings {
		k := tripleKey{r.TripID, r.RaterID, r.RatedID}
		if m.triples[k] || seen[k] {
			return ErrDuplicate
		}
		seen[k] = true
	}
	if m.FailAggregate != nil {
		return m.FailAggregate
	}
	for _, r := range ratings {
		c := *r
		m.ratings = append(m.ratings, &c)
		m.triples[tripleKey{r.TripID, r.RaterID, r.RatedID}] = true
	}
	for k := range seen {
		m.reaggregateLocked(k.rated)
	}
	return nil
}

func (m *MemoryStore) Exists(_ context.Context, tripID, raterID, ratedID types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.triples[tripleKey{tripID, raterID, ratedID}], nil
}

func (m *MemoryStore) ListByTrip(_ context.Context, tripID types.ID) ([]*Rating, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Rating
	for _, r := range m.ratings {
		if r.TripID == tripID {
			c := *r
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) Aggregate(_ context.Context, participantID types.ID) (*Aggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.aggregates[participantID]
	if !ok {
		return nil, types.ErrNotFound
	}
	c := *a
	return &c, nil
}

func (m *MemoryStore) Reaggregate(_ context.Context, participantID types.ID) (*Aggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *m.reaggregateLocked(participantID)
	return &c, nil
}

func (m *MemoryStore) reaggregateLocked(participantID types.ID) *Aggregate {
	a := &Aggregate{ParticipantID: participantID, UpdatedAt: time.Now()}
	sum := 0
	for _, r := range m.ratings {
		if r.RatedID == participantID {
			a.Count++
			sum += r.Score
		}
	}
	if a.Count > 0 {
		a.Average = float64(sum) / float64(a.Count)
	}
	m.aggregates[participantID] = a
	return a
}
