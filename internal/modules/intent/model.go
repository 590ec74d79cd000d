// README: Trip intent aggregate (driver offer or passenger request) and its status flow.
package intent

import (
	"time"

	"wheels/internal/types"
)

type Role string

const (
	RoleDriver    Role = "driver"
	RolePassenger Role = "passenger"
)

func (r Role) Valid() bool {
	return r == RoleDriver || r == RolePassenger
}

type Status string

const (
	StatusNone       Status = "none"
	StatusSearching  Status = "searching"
	StatusMatched    Status = "matched"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// ActiveStatuses are the non-terminal statuses, in lifecycle order.
var ActiveStatuses = []Status{StatusSearching, StatusMatched, StatusInProgress}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Stage orders statuses along the lifecycle; both terminal statuses share the last stage.
func (s Status) Stage() int {
	switch s {
	case StatusSearching:
		return 1
	case StatusMatched:
		return 2
	case StatusInProgress:
		return 3
	case StatusCompleted, StatusCancelled:
		return 4
	default:
		return 0
	}
}

type Intent struct {
	ID              types.ID
	ParticipantID   types.ID
	Role            Role
	Pickup          types.Place
	Dropoff         types.Place
	SeatCount       int
	PricePerSeat    types.Money
	MaxDetourKm     float64
	Status          Status
	StatusVersion   int
	MatchedDriverID *types.ID
	ScheduledAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (i *Intent) Clone() *Intent {
	c := *i
	if i.MatchedDriverID != nil {
		c.MatchedDriverID = i.MatchedDriverID.Ptr()
	}
	if i.ScheduledAt != nil {
		t := *i.ScheduledAt
		c.ScheduledAt = &t
	}
	return &c
}

// MatchedTo reports whether a passenger intent is locked to driverID.
func (i *Intent) MatchedTo(driverID types.ID) bool {
	return i.MatchedDriverID != nil && *i.MatchedDriverID == driverID
}

type Event struct {
	ID            int64     `json:"-"`
	IntentID      types.ID  `json:"intent_id"`
	ParticipantID types.ID  `json:"participant_id"`
	Role          Role      `json:"role"`
	FromStatus    Status    `json:"from_status"`
	ToStatus      Status    `json:"to_status"`
	ActorID       *types.ID `json:"actor_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// AllowedTransitions represents the intent state flow as code.
// searching -> in_progress covers drivers starting with unfilled seats;
// matched -> searching is only reachable through match compensation.
var AllowedTransitions = map[Status][]Status{
	StatusSearching:  {StatusMatched, StatusInProgress, StatusCancelled},
	StatusMatched:    {StatusSearching, StatusInProgress},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}
