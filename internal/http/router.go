// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wheels/internal/http/handlers"
	"wheels/internal/http/middleware"
	"wheels/internal/infra"
	"wheels/internal/modules/acceptance"
	"wheels/internal/modules/intent"
	"wheels/internal/modules/matching"
	"wheels/internal/modules/rating"
	"wheels/internal/modules/recovery"
	"wheels/internal/modules/trip"
)

type RouterDeps struct {
	Verifier     infra.TokenVerifier
	Intents      *intent.Service
	Matching     *matching.Service
	Acceptance   *acceptance.Coordinator
	Trips        *trip.Manager
	Sync         *recovery.Service
	Ratings      *rating.Ledger
	PollInterval time.Duration
	Logger       *slog.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Logging(log), middleware.Metrics(), middleware.Recovery(log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", middleware.Auth(deps.Verifier))

	intentHandler := handlers.NewIntentHandler(deps.Intents, deps.Trips)
	api.POST("/intents", intentHandler.Create)
	api.GET("/intents/:id", intentHandler.Get)
	api.POST("/intents/:id/cancel", intentHandler.Cancel)
	api.GET("/history", intentHandler.History)

	driverHandler := handlers.NewDriverHandler(deps.Matching, deps.Acceptance, deps.Trips)
	api.GET("/drivers/candidates", driverHandler.Candidates)
	api.POST("/drivers/accept", driverHandler.Accept)
	api.POST("/drivers/trip/start", driverHandler.Start)
	api.POST("/drivers/trip/complete", driverHandler.Complete)
	api.POST("/drivers/acceptances/:id/pickup", driverHandler.Pickup)

	syncHandler := handlers.NewSyncHandler(deps.Sync, deps.PollInterval, log)
	api.GET("/sync", syncHandler.Reconcile)
	api.POST("/sync", syncHandler.ReconcileCached)
	api.GET("/sync/ws", syncHandler.Stream)

	ratingHandler := handlers.NewRatingHandler(deps.Ratings)
	api.POST("/trips/:id/ratings", ratingHandler.Submit)
	api.GET("/participants/:id/rating", ratingHandler.Aggregate)
	api.POST("/participants/:id/rating/recompute", ratingHandler.Reaggregate)

	return r
}
