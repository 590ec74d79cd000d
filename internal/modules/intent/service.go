// README: Intent service creates intents and applies CAS transitions with an event trail.
package intent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"wheels/internal/types"
)

var (
	// ErrConflict means the conditional write lost: the row moved since it was read.
	ErrConflict = errors.New("intent state conflict")
	// ErrInvalidState means the requested transition is not in AllowedTransitions.
	ErrInvalidState = errors.New("invalid intent state transition")
)

// CandidatePool receives passenger requests while they are open for matching.
type CandidatePool interface {
	Add(ctx context.Context, i *Intent) error
	Remove(ctx context.Context, id types.ID) error
}

// EventSink publishes committed transitions to other processes.
type EventSink interface {
	Publish(ctx context.Context, e Event) error
}

type Options struct {
	Pool         CandidatePool
	Events       EventSink
	Logger       *slog.Logger
	StoreTimeout time.Duration
	Now          func() time.Time
}

type Service struct {
	store   Store
	pool    CandidatePool
	events  EventSink
	log     *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewService(store Store, opts Options) *Service {
	s := &Service{
		store:   store,
		pool:    opts.Pool,
		events:  opts.Events,
		log:     opts.Logger,
		timeout: opts.StoreTimeout,
		now:     opts.Now,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type CreateCommand struct {
	ParticipantID types.ID
	Role          Role
	Pickup        types.Place
	Dropoff       types.Place
	SeatCount     int
	PricePerSeat  types.Money
	MaxDetourKm   float64
	ScheduledAt   *time.Time
}

func (c CreateCommand) validate() error {
	if c.ParticipantID == "" || !c.Role.Valid() {
		return types.ErrBadRequest
	}
	if !c.Pickup.Valid() || !c.Dropoff.Valid() {
		return types.ErrBadRequest
	}
	if strings.TrimSpace(c.Pickup.Address) == "" || strings.TrimSpace(c.Dropoff.Address) == "" {
		return types.ErrBadRequest
	}
	if c.Role == RoleDriver && c.SeatCount < 1 {
		return types.ErrBadRequest
	}
	if c.MaxDetourKm < 0 || c.PricePerSeat.Amount < 0 {
		return types.ErrBadRequest
	}
	return nil
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Intent, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}
	if _, err := s.Latest(ctx, cmd.ParticipantID, cmd.Role, ActiveStatuses...); err == nil {
		return nil, types.ErrActiveIntent
	} else if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}

	now := s.now()
	i := &Intent{
		ID:            types.NewID(),
		ParticipantID: cmd.ParticipantID,
		Role:          cmd.Role,
		Pickup:        cmd.Pickup,
		Dropoff:       cmd.Dropoff,
		SeatCount:     cmd.SeatCount,
		PricePerSeat:  cmd.PricePerSeat,
		MaxDetourKm:   cmd.MaxDetourKm,
		Status:        StatusSearching,
		StatusVersion: 0,
		ScheduledAt:   cmd.ScheduledAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if i.Role == RolePassenger {
		i.SeatCount = 1
		i.PricePerSeat = types.Money{}
	} else if i.PricePerSeat.Currency == "" {
		i.PricePerSeat.Currency = types.DefaultCurrency
	}

	sctx, cancel := types.WithStoreTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.store.Create(sctx, i); err != nil {
		return nil, types.Transient(err)
	}
	s.record(ctx, i, StatusNone, StatusSearching, &cmd.ParticipantID)
	if i.Role == RolePassenger && s.pool != nil {
		if err := s.pool.Add(ctx, i); err != nil {
			s.log.Warn("candidate pool add failed", "intent_id", i.ID, "error", err)
		}
	}
	return i, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Intent, error) {
	sctx, cancel := types.WithStoreTimeout(ctx, s.timeout)
	defer cancel()
	i, err := s.store.Get(sctx, id)
	return i, types.Transient(err)
}

// Latest returns the participant's newest intent in role restricted to statuses.
func (s *Service) Latest(ctx context.Context, participantID types.ID, role Role, statuses ...Status) (*Intent, error) {
	sctx, cancel := types.WithStoreTimeout(ctx, s.timeout)
	defer cancel()
	i, err := s.store.Latest(sctx, participantID, role, statuses...)
	return i, types.Transient(err)
}

func (s *Service) ListSearching(ctx context.Context, role Role, limit int) ([]*Intent, error) {
	sctx, cancel := types.WithStoreTimeout(ctx, s.timeout)
	defer cancel()
	list, err := s.store.ListByStatus(sctx, role, StatusSearching, limit)
	return list, types.Transient(err)
}

type TransitionCommand struct {
	// Intent is the row as last read; its Status and StatusVersion are the expected prior values.
	Intent   *Intent
	To       Status
	DriverID *types.ID
	ActorID  types.ID
}

// Transition applies a compare-and-swap on the intent. A transition to the
// current status is allowed and only bumps the version.
func (s *Service) Transition(ctx context.Context, cmd TransitionCommand) (*Intent, error) {
	cur := cmd.Intent
	if cur == nil {
		return nil, types.ErrBadRequest
	}
	from := cur.Status
	if from != cmd.To && !CanTransition(from, cmd.To) {
		return nil, ErrInvalidState
	}
	// a driver offer closes without a driver id; a passenger match needs one
	if cur.Role == RolePassenger && cmd.To == StatusMatched && from != StatusMatched && cmd.DriverID == nil {
		return nil, types.ErrBadRequest
	}

	sctx, cancel := types.WithStoreTimeout(ctx, s.timeout)
	ok, err := s.store.UpdateStatus(sctx, cur.ID, from, cmd.To, cur.StatusVersion, cmd.DriverID)
	cancel()
	if err != nil {
		return nil, types.Transient(err)
	}
	if !ok {
		return nil, ErrConflict
	}

	next := cur.Clone()
	next.Status = cmd.To
	next.StatusVersion++
	next.UpdatedAt = s.now()
	switch cmd.To {
	case StatusMatched:
		if cmd.DriverID != nil {
			next.MatchedDriverID = cmd.DriverID.Ptr()
		}
	case StatusSearching, StatusCancelled:
		next.MatchedDriverID = nil
	}

	if from != cmd.To {
		var actor *types.ID
		if cmd.ActorID != "" {
			actor = cmd.ActorID.Ptr()
		}
		s.record(ctx, next, from, cmd.To, actor)
		if next.Role == RolePassenger && from == StatusSearching {
			s.leavePool(ctx, next.ID)
		}
	}
	return next, nil
}

// RevertMatch undoes a searching -> matched move made for driverID. It is a
// no-op when the intent is no longer matched to that driver, so repeated
// compensation converges.
func (s *Service) RevertMatch(ctx context.Context, id, driverID types.ID) (bool, error) {
	sctx, cancel := types.WithStoreTimeout(ctx, s.timeout)
	ok, err := s.store.ResetMatch(sctx, id, driverID)
	cancel()
	if err != nil {
		return false, types.Transient(err)
	}
	if !ok {
		return false, nil
	}
	i, err := s.Get(ctx, id)
	if err != nil {
		// the revert itself is committed
		s.log.Warn("reload after revert failed", "intent_id", id, "error", err)
		return true, nil
	}
	s.record(ctx, i, StatusMatched, StatusSearching, driverID.Ptr())
	if s.pool != nil && i.Status == StatusSearching {
		if err := s.pool.Add(ctx, i); err != nil {
			s.log.Warn("candidate pool re-add failed", "intent_id", id, "error", err)
		}
	}
	return true, nil
}

func (s *Service) record(ctx context.Context, i *Intent, from, to Status, actor *types.ID) {
	e := Event{
		IntentID:      i.ID,
		ParticipantID: i.ParticipantID,
		Role:          i.Role,
		FromStatus:    from,
		ToStatus:      to,
		ActorID:       actor,
		CreatedAt:     s.now(),
	}
	sctx, cancel := types.WithStoreTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.store.AppendEvent(sctx, &e); err != nil {
		s.log.Warn("append intent event failed", "intent_id", i.ID, "error", err)
	}
	if s.events != nil {
		if err := s.events.Publish(ctx, e); err != nil {
			s.log.Warn("publish intent event failed", "intent_id", i.ID, "error", err)
		}
	}
}

func (s *Service) leavePool(ctx context.Context, id types.ID) {
	if s.pool == nil {
		return
	}
	if err := s.pool.Remove(ctx, id); err != nil {
		s.log.Warn("candidate pool remove failed", "intent_id", id, "error", err)
	}
}
