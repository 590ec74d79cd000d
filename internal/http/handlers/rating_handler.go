// README: Rating handlers for submitting trip ratings and reading aggregates.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"wheels/internal/modules/rating"
	"wheels/internal/types"
)

type RatingHandler struct {
	ledger *rating.Ledger
}

func NewRatingHandler(ledger *rating.Ledger) *RatingHandler {
	return &RatingHandler{ledger: ledger}
}

type submitRatingsReq struct {
	Scores map[types.ID]rating.Score `json:"scores"`
}

func (h *RatingHandler) Submit(c *gin.Context) {
	tripID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req submitRatingsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	list, err := h.ledger.SubmitRatings(c.Request.Context(), rating.SubmitCommand{
		TripID:  tripID,
		RaterID: caller(c),
		Scores:  req.Scores,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, map[string]any{"ratings": list})
}

func (h *RatingHandler) Aggregate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	agg, err := h.ledger.Aggregate(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, agg)
}

// Reaggregate rebuilds the caller's own aggregate from the ledger.
func (h *RatingHandler) Reaggregate(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if id != caller(c) {
		writeError(c, http.StatusForbidden, "can only recompute your own rating")
		return
	}
	agg, err := h.ledger.Reaggregate(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, agg)
}
