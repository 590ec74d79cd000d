// README: Trip store contract and PostgreSQL implementation.
package trip

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"wheels/internal/types"
)

type Store interface {
	// Create is an insert-if-absent on driver_intent_id.
	Create(ctx context.Context, t *Trip) error
	Get(ctx context.Context, id types.ID) (*Trip, error)
	GetByDriverIntent(ctx context.Context, driverIntentID types.ID) (*Trip, error)
	// Finish moves an in_progress trip to a terminal status.
	Finish(ctx context.Context, id types.ID, to Status, at time.Time, reason *string) (bool, error)
	ListByDriver(ctx context.Context, driverID types.ID) ([]*Trip, error)
}

const (
	uniqueViolation = "23505"
	tripColumns     = `id, driver_id, driver_intent_id, status, seat_occupancy, started_at, completed_at, failure_reason`
)

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, t *Trip) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO trips (`+tripColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		string(t.ID),
		string(t.DriverID),
		string(t.DriverIntentID),
		string(t.Status),
		t.SeatOccupancy,
		t.StartedAt,
		t.CompletedAt,
		t.FailureReason,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrExists
	}
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id types.ID) (*Trip, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, string(id))
	return scanTrip(row)
}

func (s *PostgresStore) GetByDriverIntent(ctx context.Context, driverIntentID types.ID) (*Trip, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE driver_intent_id = $1`, string(driverIntentID))
	return scanTrip(row)
}

func (s *PostgresStore) Finish(ctx context.Context, id types.ID, to Status, at time.Time, reason *string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE trips
		SET status = $1, completed_at = $2, failure_reason = $3
		WHERE id = $4 AND status = 'in_progress'`,
		string(to), at, reason, string(id),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListByDriver(ctx context.Context, driverID types.ID) ([]*Trip, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+tripColumns+` FROM trips
		WHERE driver_id = $1
		ORDER BY started_at DESC`, string(driverID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTrip(row pgx.Row) (*Trip, error) {
	var (
		t                            Trip
		id, driverID, driverIntentID string
		status                       string
	)
	err := row.Scan(&id, &driverID, &driverIntentID, &status, &t.SeatOccupancy, &t.StartedAt, &t.CompletedAt, &t.FailureReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.ID = types.ID(id)
	t.DriverID = types.ID(driverID)
	t.DriverIntentID = types.ID(driverIntentID)
	t.Status = Status(status)
	return &t, nil
}
