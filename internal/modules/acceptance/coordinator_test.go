// README: Acceptance coordinator tests (happy path, capacity, rollback).
package acceptance

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"wheels/internal/modules/intent"
	"wheels/internal/types"
)

type fixture struct {
	intents *intent.Service
	istore  *intent.MemoryStore
	store   *MemoryStore
	coord   *Coordinator
}

func newFixture() *fixture {
	istore := intent.NewMemoryStore()
	intents := intent.NewService(istore, intent.Options{})
	store := NewMemoryStore()
	return &fixture{
		intents: intents,
		istore:  istore,
		store:   store,
		coord:   NewCoordinator(intents, store, Options{}),
	}
}

func place(addr string, lat, lng float64) types.Place {
	return types.Place{Address: addr, Point: types.Point{Lat: lat, Lng: lng}}
}

func (f *fixture) driver(t *testing.T, id types.ID, seats int) *intent.Intent {
	t.Helper()
	i, err := f.intents.Create(context.Background(), intent.CreateCommand{
		ParticipantID: id,
		Role:          intent.RoleDriver,
		Pickup:        place("Calle 26 #68", 4.6486, -74.1020),
		Dropoff:       place("Universidad de los Andes", 4.6014, -74.0661),
		SeatCount:     seats,
		PricePerSeat:  types.Money{Amount: 8000},
	})
	if err != nil {
		t.Fatalf("create driver intent: %v", err)
	}
	return i
}

func (f *fixture) passenger(t *testing.T, id types.ID) *intent.Intent {
	t.Helper()
	i, err := f.intents.Create(context.Background(), intent.CreateCommand{
		ParticipantID: id,
		Role:          intent.RolePassenger,
		Pickup:        place("Av. Boyaca #64", 4.6700, -74.1100),
		Dropoff:       place("Universidad de los Andes", 4.6014, -74.0661),
	})
	if err != nil {
		t.Fatalf("create passenger intent: %v", err)
	}
	return i
}

func (f *fixture) status(t *testing.T, id types.ID) intent.Status {
	t.Helper()
	i, err := f.intents.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get intent %s: %v", id, err)
	}
	return i.Status
}

func TestAcceptHappyPath(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d := f.driver(t, "d1", 2)
	p := f.passenger(t, "p1")

	res, err := f.coord.Accept(ctx, AcceptCommand{DriverID: "d1", PassengerIntentID: p.ID})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if res.SeatsTaken != 1 || res.SeatCount != 2 || res.DriverStatus != intent.StatusSearching {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Acceptance.SeatNo != 1 || res.Acceptance.DriverIntentID != d.ID || res.Acceptance.Snapshot.PassengerID != "p1" {
		t.Fatalf("unexpected acceptance: %+v", res.Acceptance)
	}

	got, err := f.intents.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("get passenger: %v", err)
	}
	if got.Status != intent.StatusMatched || !got.MatchedTo("d1") {
		t.Fatalf("passenger should be matched to d1: %+v", got)
	}
	if st := f.status(t, d.ID); st != intent.StatusSearching {
		t.Fatalf("driver with free seats should stay searching, got %s", st)
	}
}

func TestAcceptLastSeatClosesOffer(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d := f.driver(t, "d1", 1)
	p := f.passenger(t, "p1")

	res, err := f.coord.Accept(ctx, AcceptCommand{DriverID: "d1", PassengerIntentID: p.ID})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if res.DriverStatus != intent.StatusMatched {
		t.Fatalf("expected driver matched, got %s", res.DriverStatus)
	}
	if st := f.status(t, d.ID); st != intent.StatusMatched {
		t.Fatalf("driver intent status = %s", st)
	}

	p2 := f.passenger(t, "p2")
	if _, err := f.coord.Accept(ctx, AcceptCommand{DriverID: "d1", PassengerIntentID: p2.ID}); !errors.Is(err, types.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if st := f.status(t, p2.ID); st != intent.StatusSearching {
		t.Fatalf("rejected passenger must stay searching, got %s", st)
	}
}

func TestAcceptTwiceIsAlreadyMatched(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d := f.driver(t, "d1", 3)
	p := f.passenger(t, "p1")

	if _, err := f.coord.Accept(ctx, AcceptCommand{DriverID: "d1", PassengerIntentID: p.ID}); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	if _, err := f.coord.Accept(ctx, AcceptCommand{DriverID: "d1", PassengerIntentID: p.ID}); !errors.Is(err, types.ErrAlreadyMatched) {
		t.Fatalf("expected ErrAlreadyMatched, got %v", err)
	}
	list, _ := f.store.ListByDriverIntent(ctx, d.ID)
	if len(list) != 1 {
		t.Fatalf("expected exactly one acceptance, got %d", len(list))
	}
}

func TestAcceptRejections(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.driver(t, "d1", 2)
	p := f.passenger(t, "p1")
	other := f.driver(t, "d2", 2)

	if _, err := f.coord.Accept(ctx, AcceptCommand{DriverID: "nobody", PassengerIntentID: p.ID}); !errors.Is(err, types.ErrNotEligible) {
		t.Fatalf("driver without offer: expected ErrNotEligible, got %v", err)
	}
	if _, err := f.coord.Accept(ctx, AcceptCommand{DriverID: "d1", PassengerIntentID: "missing"}); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("missing passenger: expected ErrNotFound, got %v", err)
	}
	if _, err := f.coord.Accept(ctx, AcceptCommand{DriverID: "d1", PassengerIntentID: other.ID}); !errors.Is(err, types.ErrBadRequest) {
		t.Fatalf("driver intent as passenger: expected ErrBadRequest, got %v", err)
	}
	if _, err := f.coord.Accept(ctx, AcceptCommand{DriverID: "d1"}); !errors.Is(err, types.ErrBadRequest) {
		t.Fatalf("empty command: expected ErrBadRequest, got %v", err)
	}

	// a cancelled request is final
	cur, _ := f.intents.Get(ctx, p.ID)
	if _, err := f.intents.Transition(ctx, intent.TransitionCommand{Intent: cur, To: intent.StatusCancelled, ActorID: "p1"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.coord.Accept(ctx, AcceptCommand{DriverID: "d1", PassengerIntentID: p.ID}); !errors.Is(err, types.ErrAlreadyFinalized) {
		t.Fatalf("cancelled passenger: expected ErrAlreadyFinalized, got %v", err)
	}
}

func TestAcceptRollsBackWhenInsertFails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d := f.driver(t, "d1", 2)
	p := f.passenger(t, "p1")
	f.store.FailInsert = fmt.Errorf("connection reset")

	_, err := f.coord.Accept(ctx, AcceptCommand{DriverID: "d1", PassengerIntentID: p.ID})
	if !errors.Is(err, types.ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	got, _ := f.intents.Get(ctx, p.ID)
	if got.Status != intent.StatusSearching || got.MatchedDriverID != nil {
		t.Fatalf("passenger should be reverted to searching: %+v", got)
	}
	if st := f.status(t, d.ID); st != intent.StatusSearching {
		t.Fatalf("driver should be untouched, got %s", st)
	}

	// once storage recovers the same passenger can be accepted again
	f.store.FailInsert = nil
	if _, err := f.coord.Accept(ctx, AcceptCommand{DriverID: "d1", PassengerIntentID: p.ID}); err != nil {
		t.Fatalf("accept after recovery: %v", err)
	}
}

func TestRollbackIsIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d := f.driver(t, "d1", 2)
	p := f.passenger(t, "p1")

	if _, err := f.coord.Accept(ctx, AcceptCommand{DriverID: "d1", PassengerIntentID: p.ID}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := f.coord.Rollback(ctx, p.ID, "d1"); err != nil {
			t.Fatalf("rollback %d: %v", i, err)
		}
	}
	if st := f.status(t, p.ID); st != intent.StatusSearching {
		t.Fatalf("passenger should be searching after rollback, got %s", st)
	}
	list, _ := f.store.ListByDriverIntent(ctx, d.ID)
	if len(list) != 0 {
		t.Fatalf("acceptance should be revoked, got %d", len(list))
	}
}

func TestRollbackLeavesOtherDriversMatch(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.driver(t, "d1", 2)
	f.driver(t, "d2", 2)
	p := f.passenger(t, "p1")

	if _, err := f.coord.Accept(ctx, AcceptCommand{DriverID: "d2", PassengerIntentID: p.ID}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := f.coord.Rollback(ctx, p.ID, "d1"); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	got, _ := f.intents.Get(ctx, p.ID)
	if got.Status != intent.StatusMatched || !got.MatchedTo("d2") {
		t.Fatalf("rollback for d1 must not touch d2's match: %+v", got)
	}
	if _, err := f.store.GetByPassengerIntent(ctx, p.ID); err != nil {
		t.Fatalf("d2 acceptance should survive: %v", err)
	}
}

func TestAcceptAfterDriverCancelled(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	d := f.driver(t, "d1", 2)
	p := f.passenger(t, "p1")

	if _, err := f.intents.Transition(ctx, intent.TransitionCommand{Intent: d, To: intent.StatusCancelled, ActorID: "d1"}); err != nil {
		t.Fatalf("cancel driver: %v", err)
	}
	if _, err := f.coord.Accept(ctx, AcceptCommand{DriverID: "d1", PassengerIntentID: p.ID}); !errors.Is(err, types.ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible, got %v", err)
	}
	if st := f.status(t, p.ID); st != intent.StatusSearching {
		t.Fatalf("passenger should remain searching, got %s", st)
	}
}

func TestFirstFreeSeat(t *testing.T) {
	list := []*Acceptance{{SeatNo: 1}, {SeatNo: 3}}
	if got := firstFreeSeat(list, 3); got != 2 {
		t.Fatalf("firstFreeSeat = %d, want 2", got)
	}
	if got := firstFreeSeat(nil, 2); got != 1 {
		t.Fatalf("firstFreeSeat(empty) = %d, want 1", got)
	}
}
