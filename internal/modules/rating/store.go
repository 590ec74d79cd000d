// README: Rating store contract and PostgreSQL implementation (ledger insert and aggregate in one tx).
package rating

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"wheels/internal/types"
)

type Store interface {
	// Append inserts the batch and recomputes the aggregate of every rated
	// participant atomically.
	Append(ctx context.Context, ratings []*Rating) error
	Exists(ctx context.Context, tripID, raterID, ratedID types.ID) (bool, error)
	ListByTrip(ctx context.Context, tripID types.ID) ([]*Rating, error)
	Aggregate(ctx context.Context, participantID types.ID) (*Aggregate, error)
	// Reaggregate rebuilds one participant's aggregate from the ledger.
	Reaggregate(ctx context.Context, participantID types.ID) (*Aggregate, error)
}

const uniqueViolation = "23505"

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, ratings []*Rating) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	rated := make(map[types.ID]bool)
	for _, r := range ratings {
		_, err := tx.Exec(ctx, `
			INSERT INTO ratings (id, trip_id, rater_id, rated_id, score, comment, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			string(r.ID), string(r.TripID), string(r.RaterID), string(r.RatedID),
			r.Score, r.Comment, r.CreatedAt,
		)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		if err != nil {
			return err
		}
		rated[r.RatedID] = true
	}
	for id := range rated {
		if _, err := reaggregate(ctx, tx, id); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Exists(ctx context.Context, tripID, raterID, ratedID types.ID) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ratings WHERE trip_id = $1 AND rater_id = $2 AND rated_id = $3
		)`, string(tripID), string(raterID), string(ratedID),
	).Scan(&ok)
	return ok, err
}

func (s *PostgresStore) ListByTrip(ctx context.Context, tripID types.ID) ([]*Rating, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, trip_id, rater_id, rated_id, score, comment, created_at
		FROM ratings WHERE trip_id = $1
		ORDER BY created_at ASC`, string(tripID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Rating
	for rows.Next() {
		var (
			r                          Rating
			id, trip, raterID, ratedID string
		)
		if err := rows.Scan(&id, &trip, &raterID, &ratedID, &r.Score, &r.Comment, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.ID, r.TripID, r.RaterID, r.RatedID = types.ID(id), types.ID(trip), types.ID(raterID), types.ID(ratedID)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Aggregate(ctx context.Context, participantID types.ID) (*Aggregate, error) {
	a := Aggregate{ParticipantID: participantID}
	err := s.db.QueryRow(ctx, `
		SELECT rating_count, rating_avg, updated_at
		FROM participant_ratings WHERE participant_id = $1`, string(participantID),
	).Scan(&a.Count, &a.Average, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) Reaggregate(ctx context.Context, participantID types.ID) (*Aggregate, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	a, err := reaggregate(ctx, tx, participantID)
	if err != nil {
		return nil, err
	}
	return a, tx.Commit(ctx)
}

// reaggregate serializes recomputes per participant with an advisory lock so
// two concurrent batches cannot each overwrite the other's mean.
func reaggregate(ctx context.Context, tx pgx.Tx, participantID types.ID) (*Aggregate, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(participantID)); err != nil {
		return nil, err
	}
	a := Aggregate{ParticipantID: participantID}
	err := tx.QueryRow(ctx, `
		INSERT INTO participant_ratings (participant_id, rating_count, rating_avg, updated_at)
		SELECT $1, COUNT(*), COALESCE(AVG(score), 0)::float8, now()
		FROM ratings WHERE rated_id = $1
		ON CONFLICT (participant_id) DO UPDATE
		SET rating_count = EXCLUDED.rating_count,
		    rating_avg = EXCLUDED.rating_avg,
		    updated_at = EXCLUDED.updated_at
		RETURNING rating_count, rating_avg, updated_at`, string(participantID),
	).Scan(&a.Count, &a.Average, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
