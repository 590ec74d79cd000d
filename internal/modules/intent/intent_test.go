// README: Intent service tests (creation rules, CAS transitions, compensation).
package intent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wheels/internal/types"
)

// TestCanTransition verifies the state machine transition table.
func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusSearching, StatusMatched, true},
		{StatusSearching, StatusInProgress, true}, // driver starts with unfilled seats
		{StatusSearching, StatusCancelled, true},
		{StatusMatched, StatusInProgress, true},
		{StatusMatched, StatusSearching, true}, // compensation
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusCancelled, true}, // failure path
		// cancelling once matched is not allowed
		{StatusMatched, StatusCancelled, false},
		// terminal states have no outgoing transitions
		{StatusCompleted, StatusSearching, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusSearching, false},
		// skipping states
		{StatusSearching, StatusCompleted, false},
		{StatusMatched, StatusCompleted, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	cases := []struct {
		name string
		cmd  CreateCommand
	}{
		{"missing participant", passengerCmd("")},
		{"bad role", func() CreateCommand { c := passengerCmd("p1"); c.Role = "pilot"; return c }()},
		{"driver without seats", func() CreateCommand { c := driverCmd("d1", 0); return c }()},
		{"missing address", func() CreateCommand { c := passengerCmd("p1"); c.Pickup.Address = " "; return c }()},
		{"null island", func() CreateCommand { c := passengerCmd("p1"); c.Dropoff.Point = types.Point{}; return c }()},
		{"negative detour", func() CreateCommand { c := passengerCmd("p1"); c.MaxDetourKm = -1; return c }()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, tc.cmd); !errors.Is(err, types.ErrBadRequest) {
				t.Fatalf("expected ErrBadRequest, got %v", err)
			}
		})
	}
}

func TestCreateRejectsSecondActiveIntent(t *testing.T) {
	svc, _, pool := newTestService()
	ctx := context.Background()

	first, err := svc.Create(ctx, passengerCmd("p_dup"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.Status != StatusSearching || first.SeatCount != 1 {
		t.Fatalf("unexpected new intent: %+v", first)
	}
	if !pool.has(first.ID) {
		t.Fatalf("passenger intent should be in candidate pool")
	}
	if _, err := svc.Create(ctx, passengerCmd("p_dup")); !errors.Is(err, types.ErrActiveIntent) {
		t.Fatalf("expected ErrActiveIntent, got %v", err)
	}
	// the same participant may still offer seats as a driver
	if _, err := svc.Create(ctx, driverCmd("p_dup", 2)); err != nil {
		t.Fatalf("driver offer for same participant: %v", err)
	}
}

func TestCreateDriverDefaultsCurrency(t *testing.T) {
	svc, _, pool := newTestService()
	d, err := svc.Create(context.Background(), driverCmd("d_cur", 3))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if d.PricePerSeat.Currency != types.DefaultCurrency {
		t.Fatalf("expected default currency, got %q", d.PricePerSeat.Currency)
	}
	if pool.has(d.ID) {
		t.Fatalf("driver offers must not enter the passenger pool")
	}
}

func TestTransitionCompareAndSwap(t *testing.T) {
	svc, store, pool := newTestService()
	ctx := context.Background()

	p, err := svc.Create(ctx, passengerCmd("p_cas"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	d1, d2 := types.ID("d1"), types.ID("d2")

	matched, err := svc.Transition(ctx, TransitionCommand{Intent: p, To: StatusMatched, DriverID: &d1, ActorID: d1})
	if err != nil {
		t.Fatalf("first transition: %v", err)
	}
	if !matched.MatchedTo(d1) || matched.StatusVersion != p.StatusVersion+1 {
		t.Fatalf("unexpected matched intent: %+v", matched)
	}
	// stale read: p still carries version 0
	if _, err := svc.Transition(ctx, TransitionCommand{Intent: p, To: StatusMatched, DriverID: &d2, ActorID: d2}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on stale version, got %v", err)
	}
	if pool.has(p.ID) {
		t.Fatalf("matched passenger should leave the pool")
	}

	stored, _ := store.Get(ctx, p.ID)
	if !stored.MatchedTo(d1) {
		t.Fatalf("store lost the winning driver: %+v", stored)
	}
	events := store.Events(p.ID)
	if len(events) != 2 || events[1].ToStatus != StatusMatched {
		t.Fatalf("expected create+match events, got %+v", events)
	}
}

func TestTransitionRejectsInvalidState(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	p, _ := svc.Create(ctx, passengerCmd("p_invalid"))
	if _, err := svc.Transition(ctx, TransitionCommand{Intent: p, To: StatusCompleted}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if _, err := svc.Transition(ctx, TransitionCommand{Intent: p, To: StatusMatched}); !errors.Is(err, types.ErrBadRequest) {
		t.Fatalf("match without driver: expected ErrBadRequest, got %v", err)
	}
}

func TestTouchBumpsVersionOnly(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	d, _ := svc.Create(ctx, driverCmd("d_touch", 2))
	touched, err := svc.Transition(ctx, TransitionCommand{Intent: d, To: StatusSearching})
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if touched.Status != StatusSearching || touched.StatusVersion != 1 {
		t.Fatalf("unexpected touched intent: %+v", touched)
	}
	if n := len(store.Events(d.ID)); n != 1 {
		t.Fatalf("touch must not append an event, got %d events", n)
	}
}

func TestDriverOfferClosesWithoutDriverID(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	d, _ := svc.Create(ctx, driverCmd("d_full", 1))
	closed, err := svc.Transition(ctx, TransitionCommand{Intent: d, To: StatusMatched, ActorID: "d_full"})
	if err != nil {
		t.Fatalf("close offer: %v", err)
	}
	if closed.Status != StatusMatched || closed.MatchedDriverID != nil {
		t.Fatalf("unexpected closed offer: %+v", closed)
	}
	got, err := svc.Get(ctx, d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusMatched || got.StatusVersion != 1 {
		t.Fatalf("stored offer = %+v", got)
	}
	if n := len(store.Events(d.ID)); n != 2 {
		t.Fatalf("expected create and close events, got %d", n)
	}
}

func TestRevertMatchIsIdempotent(t *testing.T) {
	svc, store, pool := newTestService()
	ctx := context.Background()

	p, _ := svc.Create(ctx, passengerCmd("p_revert"))
	d := types.ID("d_revert")
	if _, err := svc.Transition(ctx, TransitionCommand{Intent: p, To: StatusMatched, DriverID: &d}); err != nil {
		t.Fatalf("match: %v", err)
	}

	// reverting for another driver never touches the row
	if ok, err := svc.RevertMatch(ctx, p.ID, "someone_else"); err != nil || ok {
		t.Fatalf("foreign revert: ok=%v err=%v", ok, err)
	}
	for i := 0; i < 3; i++ {
		ok, err := svc.RevertMatch(ctx, p.ID, d)
		if err != nil {
			t.Fatalf("revert %d: %v", i, err)
		}
		if ok != (i == 0) {
			t.Fatalf("revert %d: ok=%v", i, ok)
		}
	}
	got, _ := store.Get(ctx, p.ID)
	if got.Status != StatusSearching || got.MatchedDriverID != nil {
		t.Fatalf("expected clean searching intent, got %+v", got)
	}
	if !pool.has(p.ID) {
		t.Fatalf("reverted passenger should be back in the pool")
	}
}

func TestConcurrentMatchSinglePassenger(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	p, _ := svc.Create(ctx, passengerCmd("p_race"))
	const attempts = 16
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(did types.ID) {
			defer wg.Done()
			<-start
			_, err := svc.Transition(ctx, TransitionCommand{Intent: p, To: StatusMatched, DriverID: &did})
			errs <- err
		}(types.ID("d" + string(rune('a'+i))))
	}
	close(start)
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", success)
	}
	got, _ := store.Get(ctx, p.ID)
	if got.Status != StatusMatched || got.MatchedDriverID == nil {
		t.Fatalf("unexpected final intent: %+v", got)
	}
}

func TestLatestPrefersNewest(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i, st := range []Status{StatusCompleted, StatusCancelled, StatusSearching} {
		_ = store.Create(ctx, &Intent{
			ID:            types.ID(string(rune('a' + i))),
			ParticipantID: "p_hist",
			Role:          RolePassenger,
			Status:        st,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		})
	}
	got, err := store.Latest(ctx, "p_hist", RolePassenger, ActiveStatuses...)
	if err != nil || got.ID != "c" {
		t.Fatalf("active latest: got %+v err %v", got, err)
	}
	got, err = store.Latest(ctx, "p_hist", RolePassenger, StatusCompleted, StatusCancelled)
	if err != nil || got.ID != "b" {
		t.Fatalf("terminal latest: got %+v err %v", got, err)
	}
	if _, err := store.Latest(ctx, "p_hist", RoleDriver); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other role, got %v", err)
	}
}

type fakePool struct {
	mu  sync.Mutex
	ids map[types.ID]bool
}

func (f *fakePool) Add(_ context.Context, i *Intent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids[i.ID] = true
	return nil
}

func (f *fakePool) Remove(_ context.Context, id types.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.ids, id)
	return nil
}

func (f *fakePool) has(id types.ID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ids[id]
}

func newTestService() (*Service, *MemoryStore, *fakePool) {
	store := NewMemoryStore()
	pool := &fakePool{ids: make(map[types.ID]bool)}
	return NewService(store, Options{Pool: pool}), store, pool
}

func passengerCmd(id types.ID) CreateCommand {
	return CreateCommand{
		ParticipantID: id,
		Role:          RolePassenger,
		Pickup:        types.Place{Address: "Calle 72 #10", Point: types.Point{Lat: 4.6584, Lng: -74.0562}},
		Dropoff:       types.Place{Address: "Universidad de La Sabana", Point: types.Point{Lat: 4.8614, Lng: -74.0325}},
		MaxDetourKm:   3,
	}
}

func driverCmd(id types.ID, seats int) CreateCommand {
	c := passengerCmd(id)
	c.Role = RoleDriver
	c.SeatCount = seats
	c.PricePerSeat = types.Money{Amount: 5000}
	return c
}
