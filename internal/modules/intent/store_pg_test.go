// README: Postgres intent store tests (conditional writes under contention).
package intent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"wheels/internal/infra/pgtest"
	"wheels/internal/types"
)

func TestPostgresStoreConcurrentMatch(t *testing.T) {
	db := pgtest.Open(t)
	svc := NewService(NewPostgresStore(db), Options{})
	ctx := context.Background()

	p, err := svc.Create(ctx, passengerCmd(types.NewID()))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const n = 10
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = svc.Transition(ctx, TransitionCommand{Intent: p, To: StatusMatched, DriverID: types.NewID().Ptr()})
		}(i)
	}
	close(start)
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	got, err := svc.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusMatched || got.MatchedDriverID == nil || got.StatusVersion != 1 {
		t.Fatalf("unexpected row: %+v", got)
	}
}

func TestPostgresStoreRevertAndActiveIndex(t *testing.T) {
	db := pgtest.Open(t)
	store := NewPostgresStore(db)
	svc := NewService(store, Options{})
	ctx := context.Background()
	pid := types.NewID()

	p, err := svc.Create(ctx, passengerCmd(pid))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, passengerCmd(pid)); !errors.Is(err, types.ErrActiveIntent) {
		t.Fatalf("expected ErrActiveIntent, got %v", err)
	}

	driver := types.NewID()
	if _, err := svc.Transition(ctx, TransitionCommand{Intent: p, To: StatusMatched, DriverID: driver.Ptr()}); err != nil {
		t.Fatalf("match: %v", err)
	}
	if ok, err := svc.RevertMatch(ctx, p.ID, types.NewID()); err != nil || ok {
		t.Fatalf("revert for other driver = %v, %v", ok, err)
	}
	if ok, err := svc.RevertMatch(ctx, p.ID, driver); err != nil || !ok {
		t.Fatalf("revert = %v, %v", ok, err)
	}
	got, err := svc.Latest(ctx, pid, RolePassenger, StatusSearching)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got.ID != p.ID || got.MatchedDriverID != nil || got.StatusVersion != 2 {
		t.Fatalf("unexpected row after revert: %+v", got)
	}
}
