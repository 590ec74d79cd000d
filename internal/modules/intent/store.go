// README: Intent store contract and its PostgreSQL implementation (CAS on status + status_version).
package intent

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"wheels/internal/types"
)

// Store is the TripIntentStore. UpdateStatus and ResetMatch are the conditional
// writes every coordinator relies on; everything else is plain reads and inserts.
type Store interface {
	Create(ctx context.Context, i *Intent) error
	Get(ctx context.Context, id types.ID) (*Intent, error)
	// UpdateStatus moves id from -> to only if the row still has status from and
	// status_version version. A move to matched additionally requires the row to be
	// unmatched and stamps driverID.
	UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, driverID *types.ID) (bool, error)
	// ResetMatch returns a passenger intent matched to driverID back to searching.
	ResetMatch(ctx context.Context, id, driverID types.ID) (bool, error)
	// Latest returns the newest intent of participantID in role whose status is in
	// statuses (any status when empty).
	Latest(ctx context.Context, participantID types.ID, role Role, statuses ...Status) (*Intent, error)
	ListByStatus(ctx context.Context, role Role, status Status, limit int) ([]*Intent, error)
	AppendEvent(ctx context.Context, e *Event) error
}

const uniqueViolation = "23505"

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const intentColumns = `
	id, participant_id, role,
	pickup_address, pickup_lat, pickup_lng,
	dropoff_address, dropoff_lat, dropoff_lng,
	seat_count, price_amount, price_currency, max_detour_km,
	status, status_version, matched_driver_id, scheduled_at,
	created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, i *Intent) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO trip_intents (`+intentColumns+`)
		VALUES (
			$1, $2, $3,
			$4, $5, $6,
			$7, $8, $9,
			$10, $11, $12, $13,
			$14, $15, $16, $17,
			$18, $19
		)`,
		string(i.ID), string(i.ParticipantID), string(i.Role),
		i.Pickup.Address, i.Pickup.Lat, i.Pickup.Lng,
		i.Dropoff.Address, i.Dropoff.Lat, i.Dropoff.Lng,
		i.SeatCount, i.PricePerSeat.Amount, i.PricePerSeat.Currency, i.MaxDetourKm,
		string(i.Status), i.StatusVersion, toStringPtr(i.MatchedDriverID), i.ScheduledAt,
		i.CreatedAt, i.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return types.ErrActiveIntent
	}
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id types.ID) (*Intent, error) {
	row := s.db.QueryRow(ctx, `SELECT `+intentColumns+` FROM trip_intents WHERE id = $1`, string(id))
	return scanIntent(row)
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, driverID *types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE trip_intents
		SET status = $1,
			status_version = status_version + 1,
			matched_driver_id = CASE
				WHEN $1 = 'matched' THEN COALESCE($2, matched_driver_id)
				WHEN $1 IN ('searching', 'cancelled') THEN NULL
				ELSE matched_driver_id END,
			updated_at = NOW()
		WHERE id = $3 AND status = $4 AND status_version = $5
		  AND ($1 <> 'matched' OR $4 = 'matched' OR matched_driver_id IS NULL)`,
		string(to),
		toStringPtr(driverID),
		string(id),
		string(from),
		version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ResetMatch(ctx context.Context, id, driverID types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE trip_intents
		SET status = 'searching',
			status_version = status_version + 1,
			matched_driver_id = NULL,
			updated_at = NOW()
		WHERE id = $1 AND status = 'matched' AND matched_driver_id = $2`,
		string(id), string(driverID),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Latest(ctx context.Context, participantID types.ID, role Role, statuses ...Status) (*Intent, error) {
	filter := make([]string, len(statuses))
	for i, st := range statuses {
		filter[i] = string(st)
	}
	row := s.db.QueryRow(ctx, `
		SELECT `+intentColumns+`
		FROM trip_intents
		WHERE participant_id = $1 AND role = $2
		  AND (cardinality($3::text[]) = 0 OR status = ANY($3::text[]))
		ORDER BY created_at DESC
		LIMIT 1`,
		string(participantID), string(role), filter,
	)
	return scanIntent(row)
}

func (s *PostgresStore) ListByStatus(ctx context.Context, role Role, status Status, limit int) ([]*Intent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+intentColumns+`
		FROM trip_intents
		WHERE role = $1 AND status = $2
		ORDER BY created_at ASC
		LIMIT NULLIF($3::int, 0)`,
		string(role), string(status), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Intent
	for rows.Next() {
		i, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO intent_events (
			intent_id, participant_id, role, from_status, to_status, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(e.IntentID),
		string(e.ParticipantID),
		string(e.Role),
		string(e.FromStatus),
		string(e.ToStatus),
		toStringPtr(e.ActorID),
		e.CreatedAt,
	)
	return err
}

func scanIntent(row pgx.Row) (*Intent, error) {
	var (
		i                       Intent
		id, participantID, role string
		status                  string
		matchedDriverID         *string
		scheduledAt             *time.Time
	)
	err := row.Scan(
		&id, &participantID, &role,
		&i.Pickup.Address, &i.Pickup.Lat, &i.Pickup.Lng,
		&i.Dropoff.Address, &i.Dropoff.Lat, &i.Dropoff.Lng,
		&i.SeatCount, &i.PricePerSeat.Amount, &i.PricePerSeat.Currency, &i.MaxDetourKm,
		&status, &i.StatusVersion, &matchedDriverID, &scheduledAt,
		&i.CreatedAt, &i.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	i.ID = types.ID(id)
	i.ParticipantID = types.ID(participantID)
	i.Role = Role(role)
	i.Status = Status(status)
	if matchedDriverID != nil {
		i.MatchedDriverID = types.ID(*matchedDriverID).Ptr()
	}
	i.ScheduledAt = scheduledAt
	return &i, nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
