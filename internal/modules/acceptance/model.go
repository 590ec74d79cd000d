// README: Acceptance records lock a passenger request to one seat of a driver offer.
package acceptance

import (
	"errors"
	"time"

	"wheels/internal/types"
)

var (
	// ErrSeatTaken is returned by Store.Insert when the (driver intent, seat) slot is already claimed.
	ErrSeatTaken = errors.New("seat already claimed")
	// ErrPassengerTaken is returned by Store.Insert when the passenger intent already has an acceptance.
	ErrPassengerTaken = errors.New("passenger intent already accepted")
)

// Snapshot freezes the passenger's trip as it looked when the pairing was confirmed.
type Snapshot struct {
	PassengerID types.ID    `json:"passenger_id"`
	Pickup      types.Place `json:"pickup"`
	Dropoff     types.Place `json:"dropoff"`
	ScheduledAt *time.Time  `json:"scheduled_at,omitempty"`
}

type Acceptance struct {
	ID                types.ID
	DriverID          types.ID
	DriverIntentID    types.ID
	PassengerIntentID types.ID
	PassengerID       types.ID
	SeatNo            int
	Snapshot          Snapshot
	PickedUpAt        *time.Time
	CreatedAt         time.Time
}

func (a *Acceptance) Clone() *Acceptance {
	c := *a
	if a.PickedUpAt != nil {
		t := *a.PickedUpAt
		c.PickedUpAt = &t
	}
	if a.Snapshot.ScheduledAt != nil {
		t := *a.Snapshot.ScheduledAt
		c.Snapshot.ScheduledAt = &t
	}
	return &c
}
