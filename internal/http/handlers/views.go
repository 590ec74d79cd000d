// README: JSON views of engine records returned by the API.
package handlers

import (
	"time"

	"wheels/internal/modules/acceptance"
	"wheels/internal/modules/intent"
	"wheels/internal/types"
)

type placeBody struct {
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

func (p placeBody) place() types.Place {
	return types.Place{Address: p.Address, Point: types.Point{Lat: p.Lat, Lng: p.Lng}}
}

type intentView struct {
	ID              types.ID      `json:"id"`
	ParticipantID   types.ID      `json:"participantId"`
	Role            intent.Role   `json:"role"`
	Status          intent.Status `json:"status"`
	Pickup          types.Place   `json:"pickup"`
	Dropoff         types.Place   `json:"dropoff"`
	SeatCount       int           `json:"seatCount"`
	PricePerSeat    types.Money   `json:"pricePerSeat"`
	MaxDetourKm     float64       `json:"maxDetourKm,omitempty"`
	MatchedDriverID *types.ID     `json:"matchedDriverId,omitempty"`
	ScheduledAt     *time.Time    `json:"scheduledAt,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

func newIntentView(i *intent.Intent) intentView {
	return intentView{
		ID:              i.ID,
		ParticipantID:   i.ParticipantID,
		Role:            i.Role,
		Status:          i.Status,
		Pickup:          i.Pickup,
		Dropoff:         i.Dropoff,
		SeatCount:       i.SeatCount,
		PricePerSeat:    i.PricePerSeat,
		MaxDetourKm:     i.MaxDetourKm,
		MatchedDriverID: i.MatchedDriverID,
		ScheduledAt:     i.ScheduledAt,
		CreatedAt:       i.CreatedAt,
		UpdatedAt:       i.UpdatedAt,
	}
}

type acceptanceView struct {
	ID                types.ID            `json:"id"`
	DriverID          types.ID            `json:"driverId"`
	DriverIntentID    types.ID            `json:"driverIntentId"`
	PassengerIntentID types.ID            `json:"passengerIntentId"`
	PassengerID       types.ID            `json:"passengerId"`
	SeatNo            int                 `json:"seatNo"`
	Snapshot          acceptance.Snapshot `json:"snapshot"`
	PickedUpAt        *time.Time          `json:"pickedUpAt,omitempty"`
	CreatedAt         time.Time           `json:"createdAt"`
}

func newAcceptanceView(a *acceptance.Acceptance) acceptanceView {
	return acceptanceView{
		ID:                a.ID,
		DriverID:          a.DriverID,
		DriverIntentID:    a.DriverIntentID,
		PassengerIntentID: a.PassengerIntentID,
		PassengerID:       a.PassengerID,
		SeatNo:            a.SeatNo,
		Snapshot:          a.Snapshot,
		PickedUpAt:        a.PickedUpAt,
		CreatedAt:         a.CreatedAt,
	}
}
