// README: Client sync handlers (reconcile and a websocket stream of reconciled state).
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"wheels/internal/http/middleware"
	"wheels/internal/modules/intent"
	"wheels/internal/modules/recovery"
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type SyncHandler struct {
	sync     *recovery.Service
	interval time.Duration
	log      *slog.Logger
}

func NewSyncHandler(svc *recovery.Service, interval time.Duration, log *slog.Logger) *SyncHandler {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &SyncHandler{sync: svc, interval: interval, log: log}
}

type reconcileReq struct {
	Role   intent.Role          `json:"role"`
	Cached *recovery.CacheEntry `json:"cached"`
}

// queryRole picks ?role=, falling back to the token's role claim.
func queryRole(c *gin.Context) intent.Role {
	if r := intent.Role(c.Query("role")); r != "" {
		return r
	}
	if middleware.CallerRole(c) == middleware.RoleDriver {
		return intent.RoleDriver
	}
	return intent.RolePassenger
}

// Reconcile resolves the caller's screen from the server-side cache or the store.
func (h *SyncHandler) Reconcile(c *gin.Context) {
	h.reconcile(c, recovery.Query{ParticipantID: caller(c), Role: queryRole(c)})
}

// ReconcileCached is Reconcile for clients that send the entry they kept locally.
func (h *SyncHandler) ReconcileCached(c *gin.Context) {
	var req reconcileReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Role == "" {
		req.Role = queryRole(c)
	}
	h.reconcile(c, recovery.Query{ParticipantID: caller(c), Role: req.Role, Cached: req.Cached})
}

func (h *SyncHandler) reconcile(c *gin.Context, q recovery.Query) {
	st, err := h.sync.Reconcile(c.Request.Context(), q)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

// Stream upgrades to a websocket and pushes every reconciled state until a
// terminal screen is reached or the client goes away.
func (h *SyncHandler) Stream(c *gin.Context) {
	q := recovery.Query{ParticipantID: caller(c), Role: queryRole(c)}
	if !q.Role.Valid() {
		writeError(c, http.StatusBadRequest, "invalid role")
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already answered the client.
		h.log.Warn("websocket upgrade failed", "participant_id", q.ParticipantID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		// Reads only detect the peer closing.
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = h.sync.Poll(ctx, q, h.interval, func(st *recovery.ResolvedState) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(st)
	})
	switch {
	case err == nil:
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "terminal screen"),
			time.Now().Add(wsWriteWait))
	case errors.Is(err, context.Canceled):
	default:
		h.log.Warn("sync stream ended", "participant_id", q.ParticipantID, "role", q.Role, "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "sync failed"),
			time.Now().Add(wsWriteWait))
	}
}
