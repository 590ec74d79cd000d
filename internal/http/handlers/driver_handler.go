// README: Driver handlers for candidates, accept, start, pickup and complete.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"wheels/internal/modules/acceptance"
	"wheels/internal/modules/intent"
	"wheels/internal/modules/matching"
	"wheels/internal/modules/trip"
	"wheels/internal/types"
)

type DriverHandler struct {
	matching *matching.Service
	accept   *acceptance.Coordinator
	trips    *trip.Manager
}

func NewDriverHandler(matchingSvc *matching.Service, coord *acceptance.Coordinator, trips *trip.Manager) *DriverHandler {
	return &DriverHandler{matching: matchingSvc, accept: coord, trips: trips}
}

func (h *DriverHandler) Candidates(c *gin.Context) {
	if !requireDriver(c) {
		return
	}
	list, err := h.matching.Candidates(c.Request.Context(), caller(c))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	out := make([]intentView, 0, len(list))
	for _, i := range list {
		out = append(out, newIntentView(i))
	}
	writeJSON(c, http.StatusOK, map[string]any{"candidates": out})
}

type acceptReq struct {
	PassengerIntentID types.ID `json:"passengerIntentId"`
}

func (h *DriverHandler) Accept(c *gin.Context) {
	if !requireDriver(c) {
		return
	}
	var req acceptReq
	if err := c.ShouldBindJSON(&req); err != nil || !isValidID(string(req.PassengerIntentID)) {
		writeError(c, http.StatusBadRequest, "missing passengerIntentId")
		return
	}
	res, err := h.accept.Accept(c.Request.Context(), acceptance.AcceptCommand{
		DriverID:          caller(c),
		PassengerIntentID: req.PassengerIntentID,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{
		"acceptance":   newAcceptanceView(res.Acceptance),
		"seatsTaken":   res.SeatsTaken,
		"seatCount":    res.SeatCount,
		"driverStatus": res.DriverStatus,
	})
}

func (h *DriverHandler) Start(c *gin.Context) {
	if !requireDriver(c) {
		return
	}
	t, err := h.trips.StartTrip(c.Request.Context(), caller(c))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"trip": t, "status": intent.StatusInProgress})
}

func (h *DriverHandler) Pickup(c *gin.Context) {
	if !requireDriver(c) {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	a, err := h.trips.MarkPickedUp(c.Request.Context(), trip.PickupCommand{AcceptanceID: id, DriverID: caller(c)})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"acceptance": newAcceptanceView(a)})
}

type completeReq struct {
	Failed bool   `json:"failed"`
	Reason string `json:"reason"`
}

// Complete ends the trip; an empty body completes it normally.
func (h *DriverHandler) Complete(c *gin.Context) {
	if !requireDriver(c) {
		return
	}
	var req completeReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	t, err := h.trips.CompleteTrip(c.Request.Context(), trip.CompleteCommand{
		DriverID: caller(c),
		Failed:   req.Failed,
		Reason:   req.Reason,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"trip": t})
}
