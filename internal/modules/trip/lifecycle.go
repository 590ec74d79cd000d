// README: Trip lifecycle manager (start, pickup, complete or fail, cancel, history).
package trip

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/sethvargo/go-retry"

	"wheels/internal/modules/acceptance"
	"wheels/internal/modules/intent"
	"wheels/internal/observability"
	"wheels/internal/types"
)

const defaultFailureReason = "trip aborted by driver"

// Intents is the slice of the intent service the lifecycle manager needs.
type Intents interface {
	Get(ctx context.Context, id types.ID) (*intent.Intent, error)
	Latest(ctx context.Context, participantID types.ID, role intent.Role, statuses ...intent.Status) (*intent.Intent, error)
	Transition(ctx context.Context, cmd intent.TransitionCommand) (*intent.Intent, error)
}

type Options struct {
	Logger        *slog.Logger
	StoreTimeout  time.Duration
	RetryAttempts int
	RetryBase     time.Duration
	Now           func() time.Time
}

type Manager struct {
	intents     Intents
	acceptances acceptance.Store
	trips       Store
	log         *slog.Logger
	timeout     time.Duration
	attempts    uint64
	base        time.Duration
	now         func() time.Time
}

func NewManager(intents Intents, acceptances acceptance.Store, trips Store, opts Options) *Manager {
	m := &Manager{
		intents:     intents,
		acceptances: acceptances,
		trips:       trips,
		log:         opts.Logger,
		timeout:     opts.StoreTimeout,
		base:        opts.RetryBase,
		now:         opts.Now,
	}
	if opts.RetryAttempts > 0 {
		m.attempts = uint64(opts.RetryAttempts)
	} else {
		m.attempts = 3
	}
	if m.base <= 0 {
		m.base = 50 * time.Millisecond
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// withRetry runs fn with exponential backoff while it fails transiently or
// loses a CAS. Every step fn performs must be safe to replay.
func (m *Manager) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(m.attempts, retry.NewExponential(m.base))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, intent.ErrConflict) || types.IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	return types.Transient(err)
}

// StartTrip freezes the driver's offer into a trip. Replaying it after a
// partial failure or a duplicate tap returns the same trip.
func (m *Manager) StartTrip(ctx context.Context, driverID types.ID) (*Trip, error) {
	if driverID == "" {
		return nil, types.ErrBadRequest
	}
	var out *Trip
	err := m.withRetry(ctx, func(ctx context.Context) error {
		t, err := m.startOnce(ctx, driverID)
		out = t
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) startOnce(ctx context.Context, driverID types.ID) (*Trip, error) {
	d, err := m.intents.Latest(ctx, driverID, intent.RoleDriver,
		intent.StatusSearching, intent.StatusMatched, intent.StatusInProgress)
	if errors.Is(err, types.ErrNotFound) {
		return nil, m.noOpenOffer(ctx, driverID)
	}
	if err != nil {
		return nil, err
	}

	existing, err := m.tripByDriverIntent(ctx, d.ID)
	switch {
	case err == nil:
		if existing.Status.Terminal() {
			return nil, types.ErrAlreadyFinalized
		}
		if _, err := m.board(ctx, d); err != nil {
			return nil, err
		}
		return existing, nil
	case !errors.Is(err, types.ErrNotFound):
		return nil, err
	}

	list, err := m.listAcceptances(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 && d.Status != intent.StatusInProgress {
		return nil, types.ErrNotEligible
	}
	if d.Status != intent.StatusInProgress {
		// the CAS fails if an accept touched the offer after the listing above
		d, err = m.intents.Transition(ctx, intent.TransitionCommand{Intent: d, To: intent.StatusInProgress, ActorID: driverID})
		if err != nil {
			return nil, err
		}
	}

	boarded, err := m.board(ctx, d)
	if err != nil {
		return nil, err
	}
	t := &Trip{
		ID:             types.NewID(),
		DriverID:       driverID,
		DriverIntentID: d.ID,
		Status:         StatusInProgress,
		SeatOccupancy:  boarded,
		StartedAt:      m.now(),
	}
	sctx, cancel := types.WithStoreTimeout(ctx, m.timeout)
	err = m.trips.Create(sctx, t)
	cancel()
	if errors.Is(err, ErrExists) {
		return m.tripByDriverIntent(ctx, d.ID)
	}
	if err != nil {
		return nil, types.Transient(err)
	}
	observability.TripTransitionsTotal.WithLabelValues("start").Inc()
	m.log.Info("trip started", "trip_id", t.ID, "driver_id", driverID, "seat_occupancy", boarded, "seat_count", d.SeatCount)
	return t, nil
}

// board advances every accepted passenger of the offer to in_progress and
// returns how many are on the trip. Acceptances whose passenger was reverted by
// a failed accept are revoked.
func (m *Manager) board(ctx context.Context, d *intent.Intent) (int, error) {
	list, err := m.listAcceptances(ctx, d.ID)
	if err != nil {
		return 0, err
	}
	boarded := 0
	for _, a := range list {
		p, err := m.intents.Get(ctx, a.PassengerIntentID)
		if err != nil && !errors.Is(err, types.ErrNotFound) {
			return 0, err
		}
		switch {
		case p != nil && p.MatchedTo(d.ParticipantID) && p.Status == intent.StatusInProgress:
			boarded++
		case p != nil && p.MatchedTo(d.ParticipantID) && p.Status == intent.StatusMatched:
			if _, err := m.intents.Transition(ctx, intent.TransitionCommand{Intent: p, To: intent.StatusInProgress, ActorID: d.ParticipantID}); err != nil {
				return 0, err
			}
			boarded++
		default:
			m.log.Warn("dropping stale acceptance", "acceptance_id", a.ID, "passenger_intent_id", a.PassengerIntentID)
			if err := m.revoke(ctx, a.PassengerIntentID, d.ParticipantID); err != nil {
				return 0, err
			}
		}
	}
	return boarded, nil
}

type PickupCommand struct {
	AcceptanceID types.ID
	DriverID     types.ID
}

// MarkPickedUp records that the driver collected a passenger. Repeating it is a no-op.
func (m *Manager) MarkPickedUp(ctx context.Context, cmd PickupCommand) (*acceptance.Acceptance, error) {
	sctx, cancel := types.WithStoreTimeout(ctx, m.timeout)
	a, err := m.acceptances.Get(sctx, cmd.AcceptanceID)
	cancel()
	if err != nil {
		return nil, types.Transient(err)
	}
	if a.DriverID != cmd.DriverID {
		return nil, types.ErrForbidden
	}
	if a.PickedUpAt != nil {
		return a, nil
	}
	p, err := m.intents.Get(ctx, a.PassengerIntentID)
	if err != nil {
		return nil, err
	}
	switch {
	case p.Status.Terminal():
		return nil, types.ErrAlreadyFinalized
	case p.Status != intent.StatusInProgress:
		return nil, types.ErrNotEligible
	}

	at := m.now()
	sctx, cancel = types.WithStoreTimeout(ctx, m.timeout)
	defer cancel()
	ok, err := m.acceptances.MarkPickedUp(sctx, a.ID, at)
	if err != nil {
		return nil, types.Transient(err)
	}
	if !ok {
		a, err = m.acceptances.Get(sctx, a.ID)
		return a, types.Transient(err)
	}
	a.PickedUpAt = &at
	observability.TripTransitionsTotal.WithLabelValues("pickup").Inc()
	return a, nil
}

type CompleteCommand struct {
	DriverID types.ID
	// Failed takes the failure path: the trip and its intents end cancelled.
	Failed bool
	Reason string
}

// CompleteTrip finishes the driver's in-progress trip and converges every
// intent in it to the trip's final status.
func (m *Manager) CompleteTrip(ctx context.Context, cmd CompleteCommand) (*Trip, error) {
	if cmd.DriverID == "" {
		return nil, types.ErrBadRequest
	}
	to := StatusCompleted
	var reason *string
	if cmd.Failed {
		to = StatusCancelled
		r := cmd.Reason
		if r == "" {
			r = defaultFailureReason
		}
		reason = &r
	}

	var (
		out *Trip
		won bool
	)
	err := m.withRetry(ctx, func(ctx context.Context) error {
		d, t, err := m.activeTrip(ctx, cmd.DriverID)
		if err != nil {
			return err
		}
		if t.Status == StatusInProgress {
			sctx, cancel := types.WithStoreTimeout(ctx, m.timeout)
			ok, err := m.trips.Finish(sctx, t.ID, to, m.now(), reason)
			cancel()
			if err != nil {
				return types.Transient(err)
			}
			if t, err = m.tripByDriverIntent(ctx, d.ID); err != nil {
				return err
			}
			won = won || ok
		}
		if err := m.converge(ctx, d, t.Status.IntentStatus()); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, types.ErrAlreadyFinalized
	}
	label := "complete"
	if cmd.Failed {
		label = "fail"
	}
	observability.TripTransitionsTotal.WithLabelValues(label).Inc()
	m.log.Info("trip finished", "trip_id", out.ID, "driver_id", cmd.DriverID, "status", out.Status)
	return out, nil
}

// activeTrip finds the trip CompleteTrip should act on. A driver intent that
// already reached a terminal status is returned too so a partially applied
// completion can be converged.
func (m *Manager) activeTrip(ctx context.Context, driverID types.ID) (*intent.Intent, *Trip, error) {
	d, err := m.intents.Latest(ctx, driverID, intent.RoleDriver, intent.StatusInProgress)
	if errors.Is(err, types.ErrNotFound) {
		d, err = m.intents.Latest(ctx, driverID, intent.RoleDriver)
		if errors.Is(err, types.ErrNotFound) {
			return nil, nil, types.ErrNoActiveTrip
		}
	}
	if err != nil {
		return nil, nil, err
	}
	t, err := m.tripByDriverIntent(ctx, d.ID)
	if errors.Is(err, types.ErrNotFound) {
		return nil, nil, types.ErrNoActiveTrip
	}
	if err != nil {
		return nil, nil, err
	}
	if d.Status != intent.StatusInProgress && !t.Status.Terminal() {
		return nil, nil, types.ErrNoActiveTrip
	}
	if d.Status.Terminal() && t.Status.Terminal() {
		return nil, nil, types.ErrAlreadyFinalized
	}
	return d, t, nil
}

// converge moves the passengers and then the driver intent from in_progress to
// to. The driver goes last so a replay still finds it in progress.
func (m *Manager) converge(ctx context.Context, d *intent.Intent, to intent.Status) error {
	list, err := m.listAcceptances(ctx, d.ID)
	if err != nil {
		return err
	}
	for _, a := range list {
		p, err := m.intents.Get(ctx, a.PassengerIntentID)
		if errors.Is(err, types.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if p.Status != intent.StatusInProgress || !p.MatchedTo(d.ParticipantID) {
			continue
		}
		if _, err := m.intents.Transition(ctx, intent.TransitionCommand{Intent: p, To: to, ActorID: d.ParticipantID}); err != nil {
			return err
		}
	}
	cur, err := m.intents.Get(ctx, d.ID)
	if err != nil {
		return err
	}
	if cur.Status != intent.StatusInProgress {
		return nil
	}
	_, err = m.intents.Transition(ctx, intent.TransitionCommand{Intent: cur, To: to, ActorID: d.ParticipantID})
	return err
}

const maxCancelAttempts = 3

// CancelIntent withdraws an intent that nobody has matched yet. Later stages
// end only through CompleteTrip.
func (m *Manager) CancelIntent(ctx context.Context, intentID, actorID types.ID) (*intent.Intent, error) {
	for attempt := 0; attempt < maxCancelAttempts; attempt++ {
		i, err := m.intents.Get(ctx, intentID)
		if err != nil {
			return nil, err
		}
		if i.ParticipantID != actorID {
			return nil, types.ErrForbidden
		}
		switch {
		case i.Status.Terminal():
			return nil, types.ErrAlreadyFinalized
		case i.Status == intent.StatusMatched:
			return nil, types.ErrAlreadyMatched
		case i.Status != intent.StatusSearching:
			return nil, types.ErrNotEligible
		}
		if i.Role == intent.RoleDriver {
			list, err := m.listAcceptances(ctx, i.ID)
			if err != nil {
				return nil, err
			}
			if len(list) > 0 {
				return nil, types.ErrAlreadyMatched
			}
		}
		next, err := m.intents.Transition(ctx, intent.TransitionCommand{Intent: i, To: intent.StatusCancelled, ActorID: actorID})
		if errors.Is(err, intent.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		observability.TripTransitionsTotal.WithLabelValues("cancel_intent").Inc()
		return next, nil
	}
	return nil, types.Transient(intent.ErrConflict)
}

// History lists the finished trips the participant drove or rode in, newest first.
func (m *Manager) History(ctx context.Context, participantID types.ID) ([]HistoryEntry, error) {
	sctx, cancel := types.WithStoreTimeout(ctx, m.timeout)
	defer cancel()
	drove, err := m.trips.ListByDriver(sctx, participantID)
	if err != nil {
		return nil, types.Transient(err)
	}
	rode, err := m.acceptances.ListByPassenger(sctx, participantID)
	if err != nil {
		return nil, types.Transient(err)
	}

	var out []HistoryEntry
	for _, t := range drove {
		if t.Status.Terminal() {
			out = append(out, HistoryEntry{Trip: t, Role: intent.RoleDriver})
		}
	}
	for _, a := range rode {
		t, err := m.trips.GetByDriverIntent(sctx, a.DriverIntentID)
		if errors.Is(err, types.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, types.Transient(err)
		}
		if t.Status.Terminal() {
			out = append(out, HistoryEntry{Trip: t, Role: intent.RolePassenger})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Trip.StartedAt.After(out[j].Trip.StartedAt) })
	return out, nil
}

// Participants returns the trip with its driver and the passengers whose
// acceptances it holds.
func (m *Manager) Participants(ctx context.Context, tripID types.ID) (*Trip, []types.ID, error) {
	sctx, cancel := types.WithStoreTimeout(ctx, m.timeout)
	defer cancel()
	t, err := m.trips.Get(sctx, tripID)
	if err != nil {
		return nil, nil, types.Transient(err)
	}
	list, err := m.acceptances.ListByDriverIntent(sctx, t.DriverIntentID)
	if err != nil {
		return nil, nil, types.Transient(err)
	}
	ids := []types.ID{t.DriverID}
	for _, a := range list {
		ids = append(ids, a.PassengerID)
	}
	return t, ids, nil
}

// ForIntent returns the trip an intent belongs to.
func (m *Manager) ForIntent(ctx context.Context, i *intent.Intent) (*Trip, error) {
	driverIntentID := i.ID
	if i.Role == intent.RolePassenger {
		sctx, cancel := types.WithStoreTimeout(ctx, m.timeout)
		a, err := m.acceptances.GetByPassengerIntent(sctx, i.ID)
		cancel()
		if err != nil {
			return nil, types.Transient(err)
		}
		driverIntentID = a.DriverIntentID
	}
	return m.tripByDriverIntent(ctx, driverIntentID)
}

func (m *Manager) noOpenOffer(ctx context.Context, driverID types.ID) error {
	last, err := m.intents.Latest(ctx, driverID, intent.RoleDriver)
	if errors.Is(err, types.ErrNotFound) {
		return types.ErrNotEligible
	}
	if err != nil {
		return err
	}
	if last.Status.Terminal() {
		return types.ErrAlreadyFinalized
	}
	return types.ErrNotEligible
}

func (m *Manager) tripByDriverIntent(ctx context.Context, driverIntentID types.ID) (*Trip, error) {
	sctx, cancel := types.WithStoreTimeout(ctx, m.timeout)
	defer cancel()
	t, err := m.trips.GetByDriverIntent(sctx, driverIntentID)
	return t, types.Transient(err)
}

func (m *Manager) listAcceptances(ctx context.Context, driverIntentID types.ID) ([]*acceptance.Acceptance, error) {
	sctx, cancel := types.WithStoreTimeout(ctx, m.timeout)
	defer cancel()
	list, err := m.acceptances.ListByDriverIntent(sctx, driverIntentID)
	return list, types.Transient(err)
}

func (m *Manager) revoke(ctx context.Context, passengerIntentID, driverID types.ID) error {
	sctx, cancel := types.WithStoreTimeout(ctx, m.timeout)
	defer cancel()
	return types.Transient(m.acceptances.Revoke(sctx, passengerIntentID, driverID))
}
