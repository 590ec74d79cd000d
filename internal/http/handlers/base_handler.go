// README: Base handler utilities (JSON helpers, caller checks, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"wheels/internal/http/middleware"
	"wheels/internal/modules/intent"
	"wheels/internal/types"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Resync    bool   `json:"resync,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// isValidID accepts uuids and Firebase uids: alphanumerics and dashes, at most 128 chars.
func isValidID(v string) bool {
	if v == "" || len(v) > 128 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// pathID reads and validates a path parameter, answering 400 when it is unusable.
func pathID(c *gin.Context, name string) (types.ID, bool) {
	v := c.Param(name)
	if !isValidID(v) {
		writeError(c, http.StatusBadRequest, "invalid "+name)
		return "", false
	}
	return types.ID(v), true
}

func caller(c *gin.Context) types.ID {
	return types.ID(middleware.CallerUID(c))
}

func requireDriver(c *gin.Context) bool {
	if middleware.CallerRole(c) != middleware.RoleDriver {
		writeError(c, http.StatusForbidden, "driver role required")
		return false
	}
	return true
}

var conflictCodes = []struct {
	err  error
	code string
}{
	{types.ErrAlreadyMatched, "already_matched"},
	{types.ErrCapacityExceeded, "capacity_exceeded"},
	{types.ErrAlreadyFinalized, "already_finalized"},
	{types.ErrNotEligible, "not_eligible"},
	{types.ErrDuplicateRating, "duplicate_rating"},
	{types.ErrActiveIntent, "active_intent"},
	{intent.ErrInvalidState, "invalid_state"},
}

// writeDomainError maps the engine's error taxonomy onto HTTP.
func writeDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, types.ErrBadRequest):
		writeJSON(c, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "bad_request"})
		return
	case errors.Is(err, types.ErrForbidden):
		writeJSON(c, http.StatusForbidden, errorResponse{Error: err.Error(), Code: "forbidden"})
		return
	case errors.Is(err, types.ErrNotFound):
		writeJSON(c, http.StatusNotFound, errorResponse{Error: err.Error(), Code: "not_found"})
		return
	case errors.Is(err, types.ErrNoActiveTrip):
		writeJSON(c, http.StatusConflict, errorResponse{Error: err.Error(), Code: "no_active_trip", Resync: true})
		return
	}
	for _, cc := range conflictCodes {
		if errors.Is(err, cc.err) {
			writeJSON(c, http.StatusConflict, errorResponse{Error: cc.err.Error(), Code: cc.code})
			return
		}
	}
	_ = c.Error(err)
	if types.IsRetryable(err) || errors.Is(err, intent.ErrConflict) {
		writeJSON(c, http.StatusServiceUnavailable, errorResponse{Error: types.ErrTransient.Error(), Code: "transient", Retryable: true})
		return
	}
	writeError(c, http.StatusInternalServerError, "internal error")
}
