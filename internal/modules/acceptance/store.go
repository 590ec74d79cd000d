// README: Acceptance store contract and PostgreSQL implementation (unique seat and passenger slots).
package acceptance

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"wheels/internal/types"
)

type Store interface {
	// Insert is an insert-if-absent on both (driver_intent_id, seat_no) and
	// passenger_intent_id; it reports ErrSeatTaken or ErrPassengerTaken on collision.
	Insert(ctx context.Context, a *Acceptance) error
	Get(ctx context.Context, id types.ID) (*Acceptance, error)
	GetByPassengerIntent(ctx context.Context, passengerIntentID types.ID) (*Acceptance, error)
	ListByDriverIntent(ctx context.Context, driverIntentID types.ID) ([]*Acceptance, error)
	ListByPassenger(ctx context.Context, passengerID types.ID) ([]*Acceptance, error)
	// Revoke deletes the acceptance of passengerIntentID held by driverID, if any.
	Revoke(ctx context.Context, passengerIntentID, driverID types.ID) error
	// MarkPickedUp sets picked_up_at only when it is still null.
	MarkPickedUp(ctx context.Context, id types.ID, at time.Time) (bool, error)
}

const (
	uniqueViolation   = "23505"
	seatConstraint    = "acceptances_driver_intent_seat_key"
	acceptanceColumns = `id, driver_id, driver_intent_id, passenger_intent_id, passenger_id, seat_no, trip_snapshot, picked_up_at, created_at`
)

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, a *Acceptance) error {
	snapshot, err := json.Marshal(a.Snapshot)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO acceptances (`+acceptanceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(a.ID),
		string(a.DriverID),
		string(a.DriverIntentID),
		string(a.PassengerIntentID),
		string(a.PassengerID),
		a.SeatNo,
		snapshot,
		a.PickedUpAt,
		a.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if pgErr.ConstraintName == seatConstraint {
			return ErrSeatTaken
		}
		return ErrPassengerTaken
	}
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id types.ID) (*Acceptance, error) {
	row := s.db.QueryRow(ctx, `SELECT `+acceptanceColumns+` FROM acceptances WHERE id = $1`, string(id))
	return scanAcceptance(row)
}

func (s *PostgresStore) GetByPassengerIntent(ctx context.Context, passengerIntentID types.ID) (*Acceptance, error) {
	row := s.db.QueryRow(ctx, `SELECT `+acceptanceColumns+` FROM acceptances WHERE passenger_intent_id = $1`, string(passengerIntentID))
	return scanAcceptance(row)
}

func (s *PostgresStore) ListByDriverIntent(ctx context.Context, driverIntentID types.ID) ([]*Acceptance, error) {
	return s.list(ctx, `SELECT `+acceptanceColumns+` FROM acceptances WHERE driver_intent_id = $1 ORDER BY seat_no ASC`, string(driverIntentID))
}

func (s *PostgresStore) ListByPassenger(ctx context.Context, passengerID types.ID) ([]*Acceptance, error) {
	return s.list(ctx, `SELECT `+acceptanceColumns+` FROM acceptances WHERE passenger_id = $1 ORDER BY created_at DESC`, string(passengerID))
}

func (s *PostgresStore) Revoke(ctx context.Context, passengerIntentID, driverID types.ID) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM acceptances
		WHERE passenger_intent_id = $1 AND driver_id = $2`,
		string(passengerIntentID), string(driverID),
	)
	return err
}

func (s *PostgresStore) MarkPickedUp(ctx context.Context, id types.ID, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE acceptances SET picked_up_at = $1
		WHERE id = $2 AND picked_up_at IS NULL`,
		at, string(id),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) list(ctx context.Context, query string, arg string) ([]*Acceptance, error) {
	rows, err := s.db.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Acceptance
	for rows.Next() {
		a, err := scanAcceptance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAcceptance(row pgx.Row) (*Acceptance, error) {
	var (
		a                              Acceptance
		id, driverID, driverIntentID   string
		passengerIntentID, passengerID string
		snapshot                       []byte
	)
	err := row.Scan(&id, &driverID, &driverIntentID, &passengerIntentID, &passengerID,
		&a.SeatNo, &snapshot, &a.PickedUpAt, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(snapshot, &a.Snapshot); err != nil {
		return nil, err
	}
	a.ID = types.ID(id)
	a.DriverID = types.ID(driverID)
	a.DriverIntentID = types.ID(driverIntentID)
	a.PassengerIntentID = types.ID(passengerIntentID)
	a.PassengerID = types.ID(passengerID)
	return &a, nil
}
