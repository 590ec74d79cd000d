// README: Rating ledger service (post-trip ratings gated on completed trips).
package rating

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"wheels/internal/modules/trip"
	"wheels/internal/observability"
	"wheels/internal/types"
)

// Trips resolves a trip and the participants allowed to rate each other in it.
type Trips interface {
	Participants(ctx context.Context, tripID types.ID) (*trip.Trip, []types.ID, error)
}

type Options struct {
	Logger       *slog.Logger
	StoreTimeout time.Duration
	Now          func() time.Time
}

type Ledger struct {
	store   Store
	trips   Trips
	log     *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewLedger(store Store, trips Trips, opts Options) *Ledger {
	l := &Ledger{
		store:   store,
		trips:   trips,
		log:     opts.Logger,
		timeout: opts.StoreTimeout,
		now:     opts.Now,
	}
	if l.log == nil {
		l.log = slog.Default()
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

type SubmitCommand struct {
	TripID  types.ID
	RaterID types.ID
	Scores  map[types.ID]Score
}

func (c SubmitCommand) validate() error {
	if c.TripID == "" || c.RaterID == "" || len(c.Scores) == 0 {
		return types.ErrBadRequest
	}
	for rated, s := range c.Scores {
		if rated == "" || rated == c.RaterID {
			return types.ErrBadRequest
		}
		if s.Value < MinScore || s.Value > MaxScore {
			return types.ErrBadRequest
		}
	}
	return nil
}

// SubmitRatings appends one rating per rated participant. The batch is
// accepted or rejected as a whole.
func (l *Ledger) SubmitRatings(ctx context.Context, cmd SubmitCommand) ([]*Rating, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	t, participants, err := l.trips.Participants(ctx, cmd.TripID)
	if err != nil {
		return nil, err
	}
	if t.Status != trip.StatusCompleted {
		return nil, types.ErrNotEligible
	}
	member := make(map[types.ID]bool, len(participants))
	for _, id := range participants {
		member[id] = true
	}
	if !member[cmd.RaterID] {
		return nil, types.ErrNotEligible
	}

	sctx, cancel := types.WithStoreTimeout(ctx, l.timeout)
	defer cancel()
	now := l.now()
	batch := make([]*Rating, 0, len(cmd.Scores))
	for rated, s := range cmd.Scores {
		if !member[rated] {
			return nil, types.ErrNotEligible
		}
		dup, err := l.store.Exists(sctx, cmd.TripID, cmd.RaterID, rated)
		if err != nil {
			return nil, types.Transient(err)
		}
		if dup {
			return nil, types.ErrDuplicateRating
		}
		batch = append(batch, &Rating{
			ID:        types.NewID(),
			TripID:    cmd.TripID,
			RaterID:   cmd.RaterID,
			RatedID:   rated,
			Score:     s.Value,
			Comment:   s.Comment,
			CreatedAt: now,
		})
	}

	if err := l.store.Append(sctx, batch); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, types.ErrDuplicateRating
		}
		return nil, types.Transient(err)
	}
	observability.RatingsTotal.Add(float64(len(batch)))
	l.log.Info("ratings submitted", "trip_id", cmd.TripID, "rater_id", cmd.RaterID, "count", len(batch))
	return batch, nil
}

// HasRated reports whether participantID already submitted ratings for tripID.
func (l *Ledger) HasRated(ctx context.Context, tripID, participantID types.ID) (bool, error) {
	sctx, cancel := types.WithStoreTimeout(ctx, l.timeout)
	defer cancel()
	list, err := l.store.ListByTrip(sctx, tripID)
	if err != nil {
		return false, types.Transient(err)
	}
	for _, r := range list {
		if r.RaterID == participantID {
			return true, nil
		}
	}
	return false, nil
}

func (l *Ledger) Aggregate(ctx context.Context, participantID types.ID) (*Aggregate, error) {
	sctx, cancel := types.WithStoreTimeout(ctx, l.timeout)
	defer cancel()
	a, err := l.store.Aggregate(sctx, participantID)
	return a, types.Transient(err)
}

// Reaggregate rebuilds an aggregate from the ledger after a failed or
// interrupted recompute.
func (l *Ledger) Reaggregate(ctx context.Context, participantID types.ID) (*Aggregate, error) {
	sctx, cancel := types.WithStoreTimeout(ctx, l.timeout)
	defer cancel()
	a, err := l.store.Reaggregate(sctx, participantID)
	return a, types.Transient(err)
}
