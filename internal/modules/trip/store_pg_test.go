// README: Postgres trip store tests (one trip per offer, guarded finish).
package trip

import (
	"context"
	"errors"
	"testing"
	"time"

	"wheels/internal/infra/pgtest"
	"wheels/internal/modules/intent"
	"wheels/internal/types"
)

func TestPostgresStoreFinishOnce(t *testing.T) {
	db := pgtest.Open(t)
	ctx := context.Background()
	intents := intent.NewService(intent.NewPostgresStore(db), intent.Options{})
	store := NewPostgresStore(db)

	d, err := intents.Create(ctx, intent.CreateCommand{
		ParticipantID: types.NewID(),
		Role:          intent.RoleDriver,
		Pickup:        types.Place{Address: "Calle 80", Point: types.Point{Lat: 4.69, Lng: -74.08}},
		Dropoff:       types.Place{Address: "Chia", Point: types.Point{Lat: 4.86, Lng: -74.03}},
		SeatCount:     2,
	})
	if err != nil {
		t.Fatalf("create driver intent: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	tr := &Trip{
		ID:             types.NewID(),
		DriverID:       d.ParticipantID,
		DriverIntentID: d.ID,
		Status:         StatusInProgress,
		SeatOccupancy:  1,
		StartedAt:      now,
	}
	if err := store.Create(ctx, tr); err != nil {
		t.Fatalf("create trip: %v", err)
	}
	dup := tr.Clone()
	dup.ID = types.NewID()
	if err := store.Create(ctx, dup); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	ok, err := store.Finish(ctx, tr.ID, StatusCompleted, now.Add(time.Minute), nil)
	if err != nil || !ok {
		t.Fatalf("first finish = %v, %v", ok, err)
	}
	reason := "late"
	ok, err = store.Finish(ctx, tr.ID, StatusCancelled, now.Add(2*time.Minute), &reason)
	if err != nil || ok {
		t.Fatalf("second finish = %v, %v", ok, err)
	}

	got, err := store.GetByDriverIntent(ctx, d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusCompleted || got.CompletedAt == nil || got.FailureReason != nil {
		t.Fatalf("unexpected trip: %+v", got)
	}
	list, err := store.ListByDriver(ctx, d.ParticipantID)
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %d, %v", len(list), err)
	}
}
