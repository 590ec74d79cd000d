// README: Rating ledger model (append-only ratings and per-participant aggregates).
package rating

import (
	"errors"
	"time"

	"wheels/internal/types"
)

const (
	MinScore = 1
	MaxScore = 5
)

// ErrDuplicate is returned by Store.Append when a (trip, rater, rated) triple exists.
var ErrDuplicate = errors.New("rating triple exists")

type Rating struct {
	ID        types.ID  `json:"id"`
	TripID    types.ID  `json:"tripId"`
	RaterID   types.ID  `json:"raterId"`
	RatedID   types.ID  `json:"ratedId"`
	Score     int       `json:"score"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Aggregate is the mean of every score a participant received. It is derived
// data and can always be rebuilt from the ledger.
type Aggregate struct {
	ParticipantID types.ID  `json:"participantId"`
	Count         int       `json:"count"`
	Average       float64   `json:"average"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type Score struct {
	Value   int    `json:"score"`
	Comment string `json:"comment,omitempty"`
}
