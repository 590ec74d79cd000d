// README: Rating ledger tests (eligibility, duplicates, aggregate maintenance).
package rating

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"wheels/internal/modules/trip"
	"wheels/internal/types"
)

type fakeTrips struct {
	trips        map[types.ID]*trip.Trip
	participants map[types.ID][]types.ID
}

func (f *fakeTrips) Participants(_ context.Context, id types.ID) (*trip.Trip, []types.ID, error) {
	t, ok := f.trips[id]
	if !ok {
		return nil, nil, types.ErrNotFound
	}
	return t, f.participants[id], nil
}

func newLedger() (*Ledger, *MemoryStore) {
	trips := &fakeTrips{
		trips: map[types.ID]*trip.Trip{
			"t_done": {ID: "t_done", DriverID: "d1", Status: trip.StatusCompleted},
			"t_live": {ID: "t_live", DriverID: "d1", Status: trip.StatusInProgress},
			"t_fail": {ID: "t_fail", DriverID: "d1", Status: trip.StatusCancelled},
		},
		participants: map[types.ID][]types.ID{
			"t_done": {"d1", "p1", "p2"},
			"t_live": {"d1", "p1"},
			"t_fail": {"d1", "p1"},
		},
	}
	store := NewMemoryStore()
	return NewLedger(store, trips, Options{}), store
}

func TestSubmitRatingsUpdatesAggregate(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()

	if _, err := l.SubmitRatings(ctx, SubmitCommand{TripID: "t_done", RaterID: "p1", Scores: map[types.ID]Score{"d1": {Value: 5}}}); err != nil {
		t.Fatalf("p1 rates: %v", err)
	}
	if _, err := l.SubmitRatings(ctx, SubmitCommand{TripID: "t_done", RaterID: "p2", Scores: map[types.ID]Score{"d1": {Value: 2, Comment: "late"}}}); err != nil {
		t.Fatalf("p2 rates: %v", err)
	}
	agg, err := l.Aggregate(ctx, "d1")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.Count != 2 || math.Abs(agg.Average-3.5) > 1e-9 {
		t.Fatalf("unexpected aggregate: %+v", agg)
	}
}

func TestSubmitRatingsDriverRatesEveryPassenger(t *testing.T) {
	l, store := newLedger()
	ctx := context.Background()

	got, err := l.SubmitRatings(ctx, SubmitCommand{TripID: "t_done", RaterID: "d1", Scores: map[types.ID]Score{
		"p1": {Value: 4},
		"p2": {Value: 5},
	}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 ratings, got %d", len(got))
	}
	list, _ := store.ListByTrip(ctx, "t_done")
	if len(list) != 2 {
		t.Fatalf("ledger rows = %d", len(list))
	}
	rated, err := l.HasRated(ctx, "t_done", "d1")
	if err != nil || !rated {
		t.Fatalf("HasRated(d1) = %v, %v", rated, err)
	}
	rated, _ = l.HasRated(ctx, "t_done", "p1")
	if rated {
		t.Fatalf("p1 has not rated yet")
	}
}

func TestSubmitRatingsRejections(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()

	cases := []struct {
		name string
		cmd  SubmitCommand
		want error
	}{
		{"trip in progress", SubmitCommand{TripID: "t_live", RaterID: "p1", Scores: map[types.ID]Score{"d1": {Value: 4}}}, types.ErrNotEligible},
		{"trip failed", SubmitCommand{TripID: "t_fail", RaterID: "p1", Scores: map[types.ID]Score{"d1": {Value: 4}}}, types.ErrNotEligible},
		{"unknown trip", SubmitCommand{TripID: "nope", RaterID: "p1", Scores: map[types.ID]Score{"d1": {Value: 4}}}, types.ErrNotFound},
		{"outsider rater", SubmitCommand{TripID: "t_done", RaterID: "x", Scores: map[types.ID]Score{"d1": {Value: 4}}}, types.ErrNotEligible},
		{"outsider rated", SubmitCommand{TripID: "t_done", RaterID: "p1", Scores: map[types.ID]Score{"x": {Value: 4}}}, types.ErrNotEligible},
		{"score too high", SubmitCommand{TripID: "t_done", RaterID: "p1", Scores: map[types.ID]Score{"d1": {Value: 6}}}, types.ErrBadRequest},
		{"score too low", SubmitCommand{TripID: "t_done", RaterID: "p1", Scores: map[types.ID]Score{"d1": {Value: 0}}}, types.ErrBadRequest},
		{"self rating", SubmitCommand{TripID: "t_done", RaterID: "p1", Scores: map[types.ID]Score{"p1": {Value: 5}}}, types.ErrBadRequest},
		{"empty", SubmitCommand{TripID: "t_done", RaterID: "p1"}, types.ErrBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := l.SubmitRatings(ctx, tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSubmitRatingsDuplicate(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()
	cmd := SubmitCommand{TripID: "t_done", RaterID: "p1", Scores: map[types.ID]Score{"d1": {Value: 5}}}

	if _, err := l.SubmitRatings(ctx, cmd); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := l.SubmitRatings(ctx, cmd); !errors.Is(err, types.ErrDuplicateRating) {
		t.Fatalf("expected ErrDuplicateRating, got %v", err)
	}
	agg, _ := l.Aggregate(ctx, "d1")
	if agg.Count != 1 {
		t.Fatalf("duplicate must not change the aggregate: %+v", agg)
	}
}

func TestConcurrentDuplicateSubmissions(t *testing.T) {
	l, store := newLedger()
	ctx := context.Background()
	cmd := SubmitCommand{TripID: "t_done", RaterID: "p2", Scores: map[types.ID]Score{"d1": {Value: 3}}}

	const n = 8
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = l.SubmitRatings(ctx, cmd)
		}(i)
	}
	close(start)
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else if !errors.Is(err, types.ErrDuplicateRating) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one accepted submission, got %d", ok)
	}
	list, _ := store.ListByTrip(ctx, "t_done")
	if len(list) != 1 {
		t.Fatalf("ledger rows = %d, want 1", len(list))
	}
}

func TestAggregateFailureLeavesNoOrphan(t *testing.T) {
	l, store := newLedger()
	ctx := context.Background()
	store.FailAggregate = errors.New("disk full")

	_, err := l.SubmitRatings(ctx, SubmitCommand{TripID: "t_done", RaterID: "p1", Scores: map[types.ID]Score{"d1": {Value: 4}}})
	if !errors.Is(err, types.ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	if list, _ := store.ListByTrip(ctx, "t_done"); len(list) != 0 {
		t.Fatalf("failed batch left %d ledger rows", len(list))
	}

	store.FailAggregate = nil
	if _, err := l.SubmitRatings(ctx, SubmitCommand{TripID: "t_done", RaterID: "p1", Scores: map[types.ID]Score{"d1": {Value: 4}}}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	agg, err := l.Reaggregate(ctx, "d1")
	if err != nil {
		t.Fatalf("reaggregate: %v", err)
	}
	if agg.Count != 1 || agg.Average != 4 {
		t.Fatalf("unexpected aggregate: %+v", agg)
	}
}
