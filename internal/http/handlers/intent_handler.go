// README: Intent handlers for create/get/cancel and trip history.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"wheels/internal/modules/intent"
	"wheels/internal/modules/trip"
	"wheels/internal/types"
)

type IntentHandler struct {
	intents *intent.Service
	trips   *trip.Manager
}

func NewIntentHandler(intents *intent.Service, trips *trip.Manager) *IntentHandler {
	return &IntentHandler{intents: intents, trips: trips}
}

type createIntentReq struct {
	Role         intent.Role `json:"role"`
	Pickup       placeBody   `json:"pickup"`
	Dropoff      placeBody   `json:"dropoff"`
	SeatCount    int         `json:"seatCount"`
	PricePerSeat types.Money `json:"pricePerSeat"`
	MaxDetourKm  float64     `json:"maxDetourKm"`
	ScheduledAt  *time.Time  `json:"scheduledAt"`
}

// Create opens an intent for the caller. Offering seats needs the driver role.
func (h *IntentHandler) Create(c *gin.Context) {
	var req createIntentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Role == intent.RoleDriver && !requireDriver(c) {
		return
	}
	i, err := h.intents.Create(c.Request.Context(), intent.CreateCommand{
		ParticipantID: caller(c),
		Role:          req.Role,
		Pickup:        req.Pickup.place(),
		Dropoff:       req.Dropoff.place(),
		SeatCount:     req.SeatCount,
		PricePerSeat:  req.PricePerSeat,
		MaxDetourKm:   req.MaxDetourKm,
		ScheduledAt:   req.ScheduledAt,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, newIntentView(i))
}

// Get is visible to the owner and to the driver the intent is matched to.
func (h *IntentHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	i, err := h.intents.Get(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if me := caller(c); i.ParticipantID != me && !i.MatchedTo(me) {
		writeError(c, http.StatusForbidden, "not your intent")
		return
	}
	writeJSON(c, http.StatusOK, newIntentView(i))
}

func (h *IntentHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	i, err := h.trips.CancelIntent(c.Request.Context(), id, caller(c))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, newIntentView(i))
}

func (h *IntentHandler) History(c *gin.Context) {
	list, err := h.trips.History(c.Request.Context(), caller(c))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if list == nil {
		list = []trip.HistoryEntry{}
	}
	writeJSON(c, http.StatusOK, map[string]any{"trips": list})
}
