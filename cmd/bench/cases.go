// README: Bench checks for DB/Redis reachability, migrations, accept races and reconcile throughput.
package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"wheels/migrations"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

var expectedTables = []string{"trip_intents", "intent_events", "acceptances", "trips", "ratings", "participant_ratings"}

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
}

type Result struct {
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		start := time.Now()
		res := tc.Run(ctx, r)
		if res.Latency == 0 {
			res.Latency = time.Since(start).Round(time.Millisecond)
		}
		results = append(results, res)
		fmt.Printf("%-5s %s (%s)", res.Status, tc.Name, res.Latency)
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: pingDB},
		{Name: "Env: Redis connect", Run: pingRedis},
		{Name: "Migration: apply (optional)", Run: applyMigrations},
		{Name: "Migration: tables exist", Run: tablesExist},
		{Name: "API: server reachable", Run: health},
		{Name: "Concurrency: many drivers accept one passenger", Run: driversRace},
		{Name: "Concurrency: passengers race for limited seats", Run: seatsRace},
		{Name: "Perf: reconcile throughput", Run: reconcileLoad},
	}
}

func pingDB(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusSkip, Note: "db not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.db.Ping(ctx); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return Result{Status: statusPass}
}

func pingRedis(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: statusSkip, Note: "redis not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return Result{Status: statusPass}
}

func applyMigrations(ctx context.Context, r *Runner) Result {
	if !r.cfg.ApplyMigration {
		return Result{Status: statusSkip, Note: "apply-migration=false"}
	}
	if r.cfg.DSN == "" {
		return Result{Status: statusFail, Note: "db not configured"}
	}
	db, err := sql.Open("postgres", r.cfg.DSN)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	defer db.Close()
	if err := migrations.Up(ctx, db); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return Result{Status: statusPass}
}

func tablesExist(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusSkip, Note: "db not configured"}
	}
	for _, table := range expectedTables {
		var ok bool
		err := r.db.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables WHERE table_name = $1
			)`, table).Scan(&ok)
		if err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		if !ok {
			return Result{Status: statusFail, Note: "missing table " + table}
		}
	}
	return Result{Status: statusPass}
}

func health(ctx context.Context, r *Runner) Result {
	status, _, err := r.call(ctx, http.MethodGet, "/health", "", nil)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if status != http.StatusOK {
		return Result{Status: statusFail, Note: fmt.Sprintf("status=%d", status)}
	}
	return Result{Status: statusPass}
}

// driversRace has Concurrency drivers accept the same passenger; exactly one may win.
func driversRace(ctx context.Context, r *Runner) Result {
	passenger := devToken("passenger")
	p, err := r.createIntent(ctx, passenger, "passenger", 1)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	drivers := make([]string, r.cfg.Concurrency)
	for i := range drivers {
		drivers[i] = devToken("driver")
		if _, err := r.createIntent(ctx, drivers[i], "driver", 2); err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
	}

	codes := r.race(ctx, drivers, func(tok string) map[string]any {
		return map[string]any{"passengerIntentId": p}
	})
	if codes[http.StatusOK] == 1 && codes[http.StatusOK]+codes[http.StatusConflict] == len(drivers) {
		return Result{Status: statusPass, Note: fmt.Sprintf("codes=%v", codes)}
	}
	return Result{Status: statusFail, Note: fmt.Sprintf("codes=%v", codes)}
}

// seatsRace has Concurrency passengers accepted onto one offer at once; at most Seats may land.
func seatsRace(ctx context.Context, r *Runner) Result {
	driver := devToken("driver")
	if _, err := r.createIntent(ctx, driver, "driver", r.cfg.Seats); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	ids := make([]string, r.cfg.Concurrency)
	tokens := make([]string, r.cfg.Concurrency)
	for i := range ids {
		id, err := r.createIntent(ctx, devToken("passenger"), "passenger", 1)
		if err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		ids[i], tokens[i] = id, driver
	}

	var next atomic.Int64
	codes := r.race(ctx, tokens, func(string) map[string]any {
		return map[string]any{"passengerIntentId": ids[next.Add(1)-1]}
	})
	if codes[http.StatusOK] <= r.cfg.Seats && codes[http.StatusOK] > 0 {
		return Result{Status: statusPass, Note: fmt.Sprintf("seats=%d codes=%v", r.cfg.Seats, codes)}
	}
	return Result{Status: statusFail, Note: fmt.Sprintf("seats=%d codes=%v", r.cfg.Seats, codes)}
}

func (r *Runner) race(ctx context.Context, tokens []string, body func(tok string) map[string]any) map[int]int {
	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		codes = map[int]int{}
	)
	start := make(chan struct{})
	for _, tok := range tokens {
		wg.Add(1)
		go func(tok string) {
			defer wg.Done()
			<-start
			status, _, err := r.call(ctx, http.MethodPost, "/api/drivers/accept", tok, body(tok))
			if err != nil {
				status = -1
			}
			mu.Lock()
			codes[status]++
			mu.Unlock()
		}(tok)
	}
	close(start)
	wg.Wait()
	return codes
}

func reconcileLoad(ctx context.Context, r *Runner) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		tok := devToken("passenger")
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				status, _, err := r.call(ctx, http.MethodGet, "/api/sync?role=passenger", tok, nil)
				if err != nil || status != http.StatusOK {
					errCount.Add(1)
					continue
				}
				count.Add(1)
			}
		}()
	}
	wg.Wait()

	if count.Load() == 0 {
		return Result{Status: statusFail, Note: "no requests completed"}
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return Result{Status: statusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount.Load())}
}

func devToken(role string) string {
	return "bench-" + uuid.NewString() + ":" + role
}

func (r *Runner) createIntent(ctx context.Context, tok, role string, seats int) (string, error) {
	body := map[string]any{
		"role":      role,
		"pickup":    map[string]any{"address": "Calle 26 #68", "lat": 4.6486, "lng": -74.1020},
		"dropoff":   map[string]any{"address": "Universidad de los Andes", "lat": 4.6014, "lng": -74.0661},
		"seatCount": seats,
	}
	status, out, err := r.call(ctx, http.MethodPost, "/api/intents", tok, body)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("create %s intent: status=%d body=%s", role, status, out)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(out, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (r *Runner) call(ctx context.Context, method, path, tok string, body any) (int, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, &buf)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	return resp.StatusCode, out, err
}
