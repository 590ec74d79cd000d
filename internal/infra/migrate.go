// README: Applies the embedded goose migrations through database/sql and lib/pq.
package infra

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"wheels/migrations"
)

func Migrate(ctx context.Context, dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open migration db: %w", err)
	}
	defer db.Close()
	return migrations.Up(ctx, db)
}
