// README: Test helper opening a migrated Postgres pool from WHEELS_TEST_DSN.
package pgtest

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"wheels/migrations"
)

// Open skips t when WHEELS_TEST_DSN is unset. Tables are not truncated since
// packages run concurrently against the same database; tests use fresh ids.
func Open(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("WHEELS_TEST_DSN")
	if dsn == "" {
		t.Skip("WHEELS_TEST_DSN not set; skipping DB-backed tests")
	}
	ctx := context.Background()

	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer sqlDB.Close()
	if err := migrations.Up(ctx, sqlDB); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(db.Close)
	return db
}
