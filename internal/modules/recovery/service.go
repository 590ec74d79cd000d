// README: Recovery service reconciles a client's cached state against the authoritative stores.
package recovery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"wheels/internal/modules/acceptance"
	"wheels/internal/modules/intent"
	"wheels/internal/modules/trip"
	"wheels/internal/observability"
	"wheels/internal/types"
)

const DefaultFreshness = 2 * time.Hour

type Intents interface {
	Get(ctx context.Context, id types.ID) (*intent.Intent, error)
	Latest(ctx context.Context, participantID types.ID, role intent.Role, statuses ...intent.Status) (*intent.Intent, error)
}

type Acceptances interface {
	GetByPassengerIntent(ctx context.Context, passengerIntentID types.ID) (*acceptance.Acceptance, error)
	ListByDriverIntent(ctx context.Context, driverIntentID types.ID) ([]*acceptance.Acceptance, error)
}

type Trips interface {
	ForIntent(ctx context.Context, i *intent.Intent) (*trip.Trip, error)
}

type Ratings interface {
	HasRated(ctx context.Context, tripID, participantID types.ID) (bool, error)
}

type Options struct {
	Logger       *slog.Logger
	Freshness    time.Duration
	StoreTimeout time.Duration
	Now          func() time.Time
}

type Service struct {
	intents     Intents
	acceptances Acceptances
	trips       Trips
	ratings     Ratings
	cache       Cache
	log         *slog.Logger
	freshness   time.Duration
	timeout     time.Duration
	now         func() time.Time
}

func NewService(intents Intents, acceptances Acceptances, trips Trips, ratings Ratings, cache Cache, opts Options) *Service {
	s := &Service{
		intents:     intents,
		acceptances: acceptances,
		trips:       trips,
		ratings:     ratings,
		cache:       cache,
		log:         opts.Logger,
		freshness:   opts.Freshness,
		timeout:     opts.StoreTimeout,
		now:         opts.Now,
	}
	if s.freshness <= 0 {
		s.freshness = DefaultFreshness
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Reconcile resolves which screen the participant's client should show. It
// only reads the stores; the single write is the cache refresh.
func (s *Service) Reconcile(ctx context.Context, q Query) (*ResolvedState, error) {
	if q.ParticipantID == "" || !q.Role.Valid() {
		return nil, types.ErrBadRequest
	}
	now := s.now()
	cached := q.Cached
	if cached == nil && s.cache != nil {
		e, err := s.cache.Load(ctx, q.ParticipantID, q.Role)
		if err != nil {
			s.log.Warn("recovery cache load failed", "participant_id", q.ParticipantID, "role", q.Role, "error", err)
		}
		cached = e
	}

	var st *ResolvedState
	if cached.Fresh(now, s.freshness) {
		var err error
		if st, err = s.fromCache(ctx, q, cached); err != nil {
			return nil, err
		}
	}
	if st == nil {
		var err error
		if st, err = s.fromStore(ctx, q); err != nil {
			return nil, err
		}
	}

	s.persist(ctx, q, st, now)
	observability.ReconcileTotal.WithLabelValues(string(st.Screen), string(st.Source)).Inc()
	return st, nil
}

// fromCache re-reads the intent the cache points at. The screen always comes
// from the store; nil means the entry is unusable and the store is queried.
func (s *Service) fromCache(ctx context.Context, q Query, e *CacheEntry) (*ResolvedState, error) {
	i, err := s.intents.Get(ctx, e.IntentID)
	if errors.Is(err, types.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if i.ParticipantID != q.ParticipantID || i.Role != q.Role {
		return nil, nil
	}
	st, err := s.resolve(ctx, q.ParticipantID, i)
	if err != nil {
		return nil, err
	}
	if st.Screen == ScreenIdle || st.Screen.Rank() < e.Screen.Rank() {
		return nil, nil
	}
	st.Source = SourceCache
	return st, nil
}

func (s *Service) fromStore(ctx context.Context, q Query) (*ResolvedState, error) {
	i, err := s.intents.Latest(ctx, q.ParticipantID, q.Role, intent.ActiveStatuses...)
	if errors.Is(err, types.ErrNotFound) {
		return &ResolvedState{Screen: ScreenIdle, Source: SourceNone}, nil
	}
	if err != nil {
		return nil, err
	}
	st, err := s.resolve(ctx, q.ParticipantID, i)
	if err != nil {
		return nil, err
	}
	st.Source = SourceStore
	return st, nil
}

func (s *Service) resolve(ctx context.Context, participantID types.ID, i *intent.Intent) (*ResolvedState, error) {
	st := &ResolvedState{IntentID: i.ID, Status: i.Status}
	switch i.Status {
	case intent.StatusSearching:
		st.Screen = ScreenMatching
	case intent.StatusMatched:
		peer, err := s.confirmedPeer(ctx, i)
		if err != nil {
			return nil, err
		}
		// a matched status whose acceptance has not landed yet still shows matching
		st.Screen = ScreenMatching
		if peer != "" {
			st.Screen = ScreenMatched
			st.PeerID = peer
		}
	case intent.StatusInProgress:
		st.Screen = ScreenLiveTrip
		peer, err := s.confirmedPeer(ctx, i)
		if err != nil {
			return nil, err
		}
		st.PeerID = peer
		if st.TripID, err = s.tripID(ctx, i); err != nil {
			return nil, err
		}
	case intent.StatusCompleted:
		tripID, err := s.tripID(ctx, i)
		if err != nil {
			return nil, err
		}
		st.Screen = ScreenRating
		st.TripID = tripID
		if tripID != "" {
			rated, err := s.ratings.HasRated(ctx, tripID, participantID)
			if err != nil {
				return nil, err
			}
			if rated {
				return &ResolvedState{Screen: ScreenIdle}, nil
			}
		}
	default:
		return &ResolvedState{Screen: ScreenIdle}, nil
	}
	return st, nil
}

// confirmedPeer returns the counterpart whose acceptance backs the intent:
// the matched driver for a passenger, the most recent passenger for a driver.
func (s *Service) confirmedPeer(ctx context.Context, i *intent.Intent) (types.ID, error) {
	sctx, cancel := types.WithStoreTimeout(ctx, s.timeout)
	defer cancel()
	if i.Role == intent.RolePassenger {
		a, err := s.acceptances.GetByPassengerIntent(sctx, i.ID)
		if errors.Is(err, types.ErrNotFound) {
			return "", nil
		}
		if err != nil {
			return "", types.Transient(err)
		}
		if !i.MatchedTo(a.DriverID) {
			return "", nil
		}
		return a.DriverID, nil
	}
	list, err := s.acceptances.ListByDriverIntent(sctx, i.ID)
	if err != nil {
		return "", types.Transient(err)
	}
	var last *acceptance.Acceptance
	for _, a := range list {
		if last == nil || a.CreatedAt.After(last.CreatedAt) {
			last = a
		}
	}
	if last == nil {
		return "", nil
	}
	return last.PassengerID, nil
}

func (s *Service) tripID(ctx context.Context, i *intent.Intent) (types.ID, error) {
	t, err := s.trips.ForIntent(ctx, i)
	if errors.Is(err, types.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

func (s *Service) persist(ctx context.Context, q Query, st *ResolvedState, now time.Time) {
	if s.cache == nil {
		return
	}
	var err error
	if st.Screen == ScreenIdle {
		err = s.cache.Clear(ctx, q.ParticipantID, q.Role)
	} else {
		err = s.cache.Save(ctx, q.ParticipantID, q.Role, st.entry(now))
	}
	if err != nil {
		s.log.Warn("recovery cache write failed", "participant_id", q.ParticipantID, "role", q.Role, "error", err)
	}
}

// Poll reconciles every interval and hands each state to fn until a terminal
// screen is reached or ctx ends. Transient failures back off exponentially up
// to eight intervals and never reach fn.
func (s *Service) Poll(ctx context.Context, q Query, interval time.Duration, fn func(*ResolvedState) error) error {
	if interval <= 0 {
		return types.ErrBadRequest
	}
	newBackoff := func() retry.Backoff {
		return retry.WithCappedDuration(8*interval, retry.NewExponential(interval))
	}
	backoff := newBackoff()
	for {
		wait := interval
		st, err := s.Reconcile(ctx, q)
		switch {
		case err == nil:
			backoff = newBackoff()
			if err := fn(st); err != nil {
				return err
			}
			if st.Screen.Terminal() {
				return nil
			}
		case types.IsRetryable(err):
			s.log.Warn("reconcile failed, backing off", "participant_id", q.ParticipantID, "error", err)
			wait, _ = backoff.Next()
		default:
			return err
		}
		// only the first round trusts the client-supplied entry
		q.Cached = nil

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
