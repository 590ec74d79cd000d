// README: Entry point; loads config, wires stores and engine services, starts the HTTP server and the pool resync loop.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"wheels/internal/config"
	httptransport "wheels/internal/http"
	"wheels/internal/infra"
	"wheels/internal/logging"
	"wheels/internal/modules/acceptance"
	"wheels/internal/modules/intent"
	"wheels/internal/modules/matching"
	"wheels/internal/modules/rating"
	"wheels/internal/modules/recovery"
	"wheels/internal/modules/trip"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("wheels-api stopped", "error", err)
		os.Exit(1)
	}
}

type stores struct {
	intents     intent.Store
	acceptances acceptance.Store
	trips       trip.Store
	ratings     rating.Store
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	st := stores{
		intents:     intent.NewMemoryStore(),
		acceptances: acceptance.NewMemoryStore(),
		trips:       trip.NewMemoryStore(),
		ratings:     rating.NewMemoryStore(),
	}
	var db *pgxpool.Pool
	if cfg.DB.DSN != "" {
		if cfg.DB.RunMigrations {
			if err := infra.Migrate(ctx, cfg.DB.DSN); err != nil {
				return err
			}
			log.Info("migrations applied")
		}
		var err error
		if db, err = infra.NewDB(ctx, cfg.DB.DSN, cfg.DB.MaxConns); err != nil {
			return err
		}
		defer db.Close()
		st = stores{
			intents:     intent.NewPostgresStore(db),
			acceptances: acceptance.NewPostgresStore(db),
			trips:       trip.NewPostgresStore(db),
			ratings:     rating.NewPostgresStore(db),
		}
	} else {
		log.Warn("WHEELS_DB_DSN not set; using in-memory stores")
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		var err error
		if rdb, err = infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password); err != nil {
			return err
		}
		defer rdb.Close()
	}

	verifier, sinks, cleanup, err := firebaseAndSinks(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	var (
		pool  *matching.GeoPool
		cache recovery.Cache = recovery.NewMemoryCache()
	)
	intentOpts := intent.Options{Logger: log, StoreTimeout: cfg.Engine.StoreTimeout}
	if len(sinks) > 0 {
		intentOpts.Events = sinks
	}
	if rdb != nil {
		pool = matching.NewGeoPool(rdb, cfg.Matching.RadiusKm)
		intentOpts.Pool = pool
		cache = recovery.NewRedisCache(rdb, cfg.Engine.CacheTTL)
	}
	intents := intent.NewService(st.intents, intentOpts)

	var provider matching.Provider = &matching.ScanProvider{Intents: intents, RadiusKm: cfg.Matching.RadiusKm}
	if pool != nil {
		provider = pool
	}
	matchingSvc := matching.NewService(intents, provider, matching.Options{Logger: log, Limit: cfg.Matching.Limit})
	coord := acceptance.NewCoordinator(intents, st.acceptances, acceptance.Options{Logger: log, StoreTimeout: cfg.Engine.StoreTimeout})
	trips := trip.NewManager(intents, st.acceptances, st.trips, trip.Options{
		Logger:        log,
		StoreTimeout:  cfg.Engine.StoreTimeout,
		RetryAttempts: cfg.Engine.RetryAttempts,
		RetryBase:     cfg.Engine.RetryBase,
	})
	ledger := rating.NewLedger(st.ratings, trips, rating.Options{Logger: log, StoreTimeout: cfg.Engine.StoreTimeout})
	syncSvc := recovery.NewService(intents, st.acceptances, trips, ledger, cache, recovery.Options{
		Logger:       log,
		Freshness:    cfg.Engine.CacheFreshness,
		StoreTimeout: cfg.Engine.StoreTimeout,
	})

	if pool != nil {
		// a restarted Redis loses the pool; rebuild it from the store
		go matchingSvc.RunResync(ctx, pool, cfg.Matching.ResyncInterval)
	}

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Verifier:     verifier,
		Intents:      intents,
		Matching:     matchingSvc,
		Acceptance:   coord,
		Trips:        trips,
		Sync:         syncSvc,
		Ratings:      ledger,
		PollInterval: cfg.Engine.PollInterval,
		Logger:       log,
	})
	return httptransport.NewServer(cfg.HTTP, router, log).Run(ctx)
}

// firebaseAndSinks builds the token verifier and the event sinks that depend
// on Firebase or Kafka.
func firebaseAndSinks(ctx context.Context, cfg config.Config, log *slog.Logger) (infra.TokenVerifier, infra.Sinks, func(), error) {
	var (
		sinks   infra.Sinks
		closers []func()
	)
	cleanup := func() {
		for _, fn := range closers {
			fn()
		}
	}

	if len(cfg.Kafka.Brokers) > 0 {
		k := infra.NewKafkaEventSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		sinks = append(sinks, k)
		closers = append(closers, func() {
			if err := k.Close(); err != nil {
				log.Warn("kafka writer close failed", "error", err)
			}
		})
	}

	needApp := cfg.Firebase.AuthMode == config.AuthModeFirebase || cfg.Firebase.FCMEnabled
	if !needApp {
		log.Warn("dev auth enabled; bearer tokens are trusted as uid:role")
		return infra.DevVerifier{}, sinks, cleanup, nil
	}
	app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	if cfg.Firebase.FCMEnabled {
		fcm, err := infra.NewFCMNotifier(ctx, app)
		if err != nil {
			cleanup()
			return nil, nil, nil, err
		}
		sinks = append(sinks, fcm)
	}

	var verifier infra.TokenVerifier = infra.DevVerifier{}
	if cfg.Firebase.AuthMode == config.AuthModeFirebase {
		if verifier, err = infra.NewFirebaseVerifier(ctx, app); err != nil {
			cleanup()
			return nil, nil, nil, err
		}
	} else {
		log.Warn("dev auth enabled; bearer tokens are trusted as uid:role")
	}
	return verifier, sinks, cleanup, nil
}
