// README: Config loader with env defaults for HTTP, DB, Redis, Kafka, Firebase and engine settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	AuthModeFirebase = "firebase"
	AuthModeDev      = "dev"
)

type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DBConfig selects Postgres when DSN is set; otherwise in-memory stores are used.
type DBConfig struct {
	DSN           string
	MaxConns      int32
	RunMigrations bool
}

// RedisConfig enables the server-side state cache and geo candidate pool when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	AuthMode        string
	FCMEnabled      bool
}

type EngineConfig struct {
	StoreTimeout   time.Duration
	RetryAttempts  int
	RetryBase      time.Duration
	CacheFreshness time.Duration
	CacheTTL       time.Duration
	PollInterval   time.Duration
}

type MatchingConfig struct {
	RadiusKm       float64
	Limit          int
	ResyncInterval time.Duration
}

type Config struct {
	HTTP     HTTPConfig
	DB       DBConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Firebase FirebaseConfig
	Engine   EngineConfig
	Matching MatchingConfig
	LogLevel string
}

func defaultConfig() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		DB:    DBConfig{MaxConns: 10},
		Kafka: KafkaConfig{Topic: "intent-transitions"},
		Firebase: FirebaseConfig{
			AuthMode: AuthModeFirebase,
		},
		Engine: EngineConfig{
			StoreTimeout:   3 * time.Second,
			RetryAttempts:  3,
			RetryBase:      50 * time.Millisecond,
			CacheFreshness: 2 * time.Hour,
			CacheTTL:       24 * time.Hour,
			PollInterval:   3 * time.Second,
		},
		Matching: MatchingConfig{
			RadiusKm:       3.0,
			Limit:          20,
			ResyncInterval: time.Minute,
		},
		LogLevel: "info",
	}
}

// Load reads WHEELS_* variables over the defaults. Every malformed value is
// reported, not just the first.
func Load() (Config, error) {
	cfg := defaultConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTP.Addr, "WHEELS_HTTP_ADDR")
	setDurationFromEnv(&cfg.HTTP.ReadTimeout, "WHEELS_HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.HTTP.WriteTimeout, "WHEELS_HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.HTTP.IdleTimeout, "WHEELS_HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.HTTP.ShutdownTimeout, "WHEELS_HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.DB.DSN, "WHEELS_DB_DSN")
	var maxConns int
	setIntFromEnv(&maxConns, "WHEELS_DB_MAX_CONNS", &errs)
	if maxConns != 0 {
		cfg.DB.MaxConns = int32(maxConns)
	}
	setBoolFromEnv(&cfg.DB.RunMigrations, "WHEELS_MIGRATE", &errs)

	setStringFromEnv(&cfg.Redis.Addr, "WHEELS_REDIS_ADDR")
	cfg.Redis.Password = os.Getenv("WHEELS_REDIS_PASSWORD")

	if brokers := os.Getenv("WHEELS_KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.Kafka.Topic, "WHEELS_KAFKA_TOPIC")

	setStringFromEnv(&cfg.Firebase.ProjectID, "WHEELS_FIREBASE_PROJECT_ID")
	setStringFromEnv(&cfg.Firebase.CredentialsFile, "WHEELS_FIREBASE_CREDENTIALS")
	if v := os.Getenv("WHEELS_AUTH_MODE"); v != "" {
		cfg.Firebase.AuthMode = strings.ToLower(strings.TrimSpace(v))
	}
	setBoolFromEnv(&cfg.Firebase.FCMEnabled, "WHEELS_FCM_ENABLED", &errs)

	setDurationFromEnv(&cfg.Engine.StoreTimeout, "WHEELS_STORE_TIMEOUT", &errs)
	setIntFromEnv(&cfg.Engine.RetryAttempts, "WHEELS_RETRY_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.Engine.RetryBase, "WHEELS_RETRY_BASE", &errs)
	setDurationFromEnv(&cfg.Engine.CacheFreshness, "WHEELS_CACHE_FRESHNESS", &errs)
	setDurationFromEnv(&cfg.Engine.CacheTTL, "WHEELS_CACHE_TTL", &errs)
	setDurationFromEnv(&cfg.Engine.PollInterval, "WHEELS_POLL_INTERVAL", &errs)

	setFloatFromEnv(&cfg.Matching.RadiusKm, "WHEELS_MATCH_RADIUS_KM", &errs)
	setIntFromEnv(&cfg.Matching.Limit, "WHEELS_MATCH_LIMIT", &errs)
	setDurationFromEnv(&cfg.Matching.ResyncInterval, "WHEELS_MATCH_RESYNC_INTERVAL", &errs)

	if v := os.Getenv("WHEELS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (c Config) validate() []error {
	var errs []error
	if c.Firebase.AuthMode != AuthModeFirebase && c.Firebase.AuthMode != AuthModeDev {
		errs = append(errs, fmt.Errorf("WHEELS_AUTH_MODE must be %q or %q", AuthModeFirebase, AuthModeDev))
	}
	if c.DB.MaxConns <= 0 {
		errs = append(errs, fmt.Errorf("WHEELS_DB_MAX_CONNS must be > 0"))
	}
	if c.Engine.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("WHEELS_RETRY_ATTEMPTS must be >= 1"))
	}
	if c.Engine.RetryBase <= 0 {
		errs = append(errs, fmt.Errorf("WHEELS_RETRY_BASE must be > 0"))
	}
	if c.Engine.CacheFreshness <= 0 || c.Engine.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("cache freshness and poll interval must be > 0"))
	}
	if c.Matching.RadiusKm <= 0 || c.Matching.Limit <= 0 {
		errs = append(errs, fmt.Errorf("matching radius and limit must be > 0"))
	}
	if c.Firebase.FCMEnabled && c.Firebase.ProjectID == "" {
		errs = append(errs, fmt.Errorf("WHEELS_FCM_ENABLED requires WHEELS_FIREBASE_PROJECT_ID"))
	}
	return errs
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setBoolFromEnv(target *bool, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = b
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
