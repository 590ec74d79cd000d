// README: Trip domain model (one trip per started driver offer).
package trip

import (
	"errors"
	"time"

	"wheels/internal/modules/intent"
	"wheels/internal/types"
)

// ErrExists is returned by Store.Create when the driver offer already has a trip.
var ErrExists = errors.New("trip already exists for driver intent")

type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IntentStatus is the status every intent of the trip converges to.
func (s Status) IntentStatus() intent.Status {
	return intent.Status(s)
}

type Trip struct {
	ID             types.ID   `json:"id"`
	DriverID       types.ID   `json:"driverId"`
	DriverIntentID types.ID   `json:"driverIntentId"`
	Status         Status     `json:"status"`
	SeatOccupancy  int        `json:"seatOccupancy"`
	StartedAt      time.Time  `json:"startedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	FailureReason  *string    `json:"failureReason,omitempty"`
}

func (t *Trip) Clone() *Trip {
	c := *t
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	if t.FailureReason != nil {
		r := *t.FailureReason
		c.FailureReason = &r
	}
	return &c
}

// HistoryEntry is a finished trip seen from one participant.
type HistoryEntry struct {
	Trip *Trip       `json:"trip"`
	Role intent.Role `json:"role"`
}
