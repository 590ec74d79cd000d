// README: Acceptance coordinator performs the race-safe "driver accepts passenger" transaction.
package acceptance

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"wheels/internal/modules/intent"
	"wheels/internal/observability"
	"wheels/internal/types"
)

// touchSlack is added to the seat count to bound how often the driver offer is
// re-read. Every lost CAS means another accept, a cancel or a start committed,
// and at most SeatCount accepts can commit on one offer.
const touchSlack = 4

var (
	errTouchContention = errors.New("driver offer under contention")
	errOfferStarted    = errors.New("driver offer already started")
)

// Intents is the slice of the intent service the coordinator needs.
type Intents interface {
	Get(ctx context.Context, id types.ID) (*intent.Intent, error)
	Latest(ctx context.Context, participantID types.ID, role intent.Role, statuses ...intent.Status) (*intent.Intent, error)
	Transition(ctx context.Context, cmd intent.TransitionCommand) (*intent.Intent, error)
	RevertMatch(ctx context.Context, id, driverID types.ID) (bool, error)
}

type Options struct {
	Logger       *slog.Logger
	StoreTimeout time.Duration
	Now          func() time.Time
}

type Coordinator struct {
	intents Intents
	store   Store
	log     *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewCoordinator(intents Intents, store Store, opts Options) *Coordinator {
	c := &Coordinator{
		intents: intents,
		store:   store,
		log:     opts.Logger,
		timeout: opts.StoreTimeout,
		now:     opts.Now,
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

type AcceptCommand struct {
	DriverID          types.ID
	PassengerIntentID types.ID
}

type Result struct {
	Acceptance   *Acceptance
	SeatsTaken   int
	SeatCount    int
	DriverStatus intent.Status
}

// Accept locks the passenger intent to the driver's current offer. The CAS on the
// passenger intent decides between racing drivers; the seat slot insert decides
// between racing passengers of one driver.
func (c *Coordinator) Accept(ctx context.Context, cmd AcceptCommand) (*Result, error) {
	start := time.Now()
	res, err := c.accept(ctx, cmd)
	observability.AcceptsTotal.WithLabelValues(acceptOutcome(err)).Inc()
	observability.AcceptLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		c.log.Info("accept rejected", "driver_id", cmd.DriverID, "passenger_intent_id", cmd.PassengerIntentID, "error", err)
	}
	return res, err
}

func (c *Coordinator) accept(ctx context.Context, cmd AcceptCommand) (*Result, error) {
	if cmd.DriverID == "" || cmd.PassengerIntentID == "" {
		return nil, types.ErrBadRequest
	}
	driver, err := c.intents.Latest(ctx, cmd.DriverID, intent.RoleDriver, intent.StatusSearching, intent.StatusMatched)
	if errors.Is(err, types.ErrNotFound) {
		return nil, types.ErrNotEligible
	}
	if err != nil {
		return nil, err
	}
	passenger, err := c.intents.Get(ctx, cmd.PassengerIntentID)
	if err != nil {
		return nil, err
	}
	if passenger.Role != intent.RolePassenger || passenger.ParticipantID == cmd.DriverID {
		return nil, types.ErrBadRequest
	}
	if passenger.Status != intent.StatusSearching {
		return nil, lostMatch(passenger)
	}

	matched, err := c.intents.Transition(ctx, intent.TransitionCommand{
		Intent:   passenger,
		To:       intent.StatusMatched,
		DriverID: cmd.DriverID.Ptr(),
		ActorID:  cmd.DriverID,
	})
	if errors.Is(err, intent.ErrConflict) {
		return nil, c.classifyLost(ctx, passenger.ID)
	}
	if err != nil {
		return nil, err
	}

	acc, err := c.claimSeat(ctx, driver, matched)
	if err != nil {
		if _, cerr := c.compensate(ctx, matched.ID, cmd.DriverID); cerr != nil {
			c.log.Error("accept rollback failed", "passenger_intent_id", matched.ID, "driver_id", cmd.DriverID, "error", cerr)
		}
		return nil, err
	}

	res, err := c.closeIfFull(ctx, driver.ID, acc)
	if errors.Is(err, errOfferStarted) {
		res, err = c.joinStarted(ctx, driver, matched, acc)
	}
	if err != nil {
		absorbed, cerr := c.compensate(ctx, matched.ID, cmd.DriverID)
		if cerr != nil {
			c.log.Error("accept rollback failed", "passenger_intent_id", matched.ID, "driver_id", cmd.DriverID, "error", cerr)
			return nil, err
		}
		if absorbed {
			// the driver started the trip with this passenger on board
			return &Result{Acceptance: acc, SeatCount: driver.SeatCount, DriverStatus: intent.StatusInProgress}, nil
		}
		return nil, err
	}
	c.log.Info("passenger accepted",
		"driver_id", cmd.DriverID,
		"passenger_intent_id", matched.ID,
		"seat", acc.SeatNo,
		"seats_taken", res.SeatsTaken,
		"seat_count", res.SeatCount,
	)
	return res, nil
}

// claimSeat counts the offer's acceptances and inserts into the first free seat
// slot. A lost slot means a concurrent accept committed first, so the count is
// taken again before deciding on capacity.
func (c *Coordinator) claimSeat(ctx context.Context, driver, passenger *intent.Intent) (*Acceptance, error) {
	for attempt := 0; attempt <= driver.SeatCount; attempt++ {
		list, err := c.listByDriverIntent(ctx, driver.ID)
		if err != nil {
			return nil, err
		}
		if len(list)+1 > driver.SeatCount {
			return nil, types.ErrCapacityExceeded
		}
		a := &Acceptance{
			ID:                types.NewID(),
			DriverID:          driver.ParticipantID,
			DriverIntentID:    driver.ID,
			PassengerIntentID: passenger.ID,
			PassengerID:       passenger.ParticipantID,
			SeatNo:            firstFreeSeat(list, driver.SeatCount),
			Snapshot: Snapshot{
				PassengerID: passenger.ParticipantID,
				Pickup:      passenger.Pickup,
				Dropoff:     passenger.Dropoff,
				ScheduledAt: passenger.ScheduledAt,
			},
			CreatedAt: c.now(),
		}
		sctx, cancel := types.WithStoreTimeout(ctx, c.timeout)
		err = c.store.Insert(sctx, a)
		cancel()
		switch {
		case err == nil:
			return a, nil
		case errors.Is(err, ErrSeatTaken):
			continue
		case errors.Is(err, ErrPassengerTaken):
			return nil, types.ErrAlreadyMatched
		default:
			return nil, types.Transient(err)
		}
	}
	return nil, types.ErrCapacityExceeded
}

// closeIfFull bumps the driver offer's version so that a concurrent cancel or
// start observes this acceptance, and closes the offer once every seat is taken.
func (c *Coordinator) closeIfFull(ctx context.Context, driverIntentID types.ID, acc *Acceptance) (*Result, error) {
	limit := touchSlack
	for attempt := 0; attempt < limit; attempt++ {
		d, err := c.intents.Get(ctx, driverIntentID)
		if err != nil {
			return nil, err
		}
		limit = d.SeatCount + touchSlack
		switch d.Status {
		case intent.StatusSearching, intent.StatusMatched:
		case intent.StatusInProgress:
			return nil, errOfferStarted
		default:
			return nil, types.ErrAlreadyFinalized
		}
		list, err := c.listByDriverIntent(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		to := d.Status
		if len(list) >= d.SeatCount {
			to = intent.StatusMatched
		}
		_, err = c.intents.Transition(ctx, intent.TransitionCommand{Intent: d, To: to, ActorID: acc.DriverID})
		if errors.Is(err, intent.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &Result{Acceptance: acc, SeatsTaken: len(list), SeatCount: d.SeatCount, DriverStatus: to}, nil
	}
	return nil, types.Transient(errTouchContention)
}

// joinStarted handles a start that committed between the seat insert and the
// touch. The acceptance row was already written, so the passenger boards the
// trip instead of being reverted. A start may board the passenger first; the
// CAS below then loses and the re-read sees in_progress.
func (c *Coordinator) joinStarted(ctx context.Context, driver, passenger *intent.Intent, acc *Acceptance) (*Result, error) {
	for attempt := 0; attempt < touchSlack; attempt++ {
		p, err := c.intents.Get(ctx, passenger.ID)
		if err != nil {
			return nil, err
		}
		if !p.MatchedTo(acc.DriverID) {
			return nil, types.ErrNotEligible
		}
		switch p.Status {
		case intent.StatusInProgress:
		case intent.StatusMatched:
			_, err = c.intents.Transition(ctx, intent.TransitionCommand{Intent: p, To: intent.StatusInProgress, ActorID: acc.DriverID})
			if errors.Is(err, intent.ErrConflict) {
				continue
			}
			if err != nil {
				return nil, err
			}
		default:
			return nil, types.ErrNotEligible
		}
		list, err := c.listByDriverIntent(ctx, driver.ID)
		if err != nil {
			return nil, err
		}
		return &Result{Acceptance: acc, SeatsTaken: len(list), SeatCount: driver.SeatCount, DriverStatus: intent.StatusInProgress}, nil
	}
	return nil, types.Transient(errTouchContention)
}

// Rollback undoes a partially applied accept. It is safe to run any number of
// times and never detaches a passenger already riding in a started trip.
func (c *Coordinator) Rollback(ctx context.Context, passengerIntentID, driverID types.ID) error {
	_, err := c.compensate(ctx, passengerIntentID, driverID)
	return err
}

// compensate reverts the passenger intent first and only then revokes the
// acceptance. absorbed is true when the passenger had already been moved into
// the driver's trip, in which case nothing is undone.
func (c *Coordinator) compensate(ctx context.Context, passengerIntentID, driverID types.ID) (absorbed bool, err error) {
	ctx = context.WithoutCancel(ctx)
	observability.CompensationsTotal.Inc()

	if _, err := c.intents.RevertMatch(ctx, passengerIntentID, driverID); err != nil {
		return false, err
	}
	p, err := c.intents.Get(ctx, passengerIntentID)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return false, err
	}
	if p != nil && p.MatchedTo(driverID) && p.Status != intent.StatusMatched {
		return true, nil
	}

	sctx, cancel := types.WithStoreTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.store.Revoke(sctx, passengerIntentID, driverID); err != nil {
		return false, types.Transient(err)
	}
	return false, nil
}

func (c *Coordinator) classifyLost(ctx context.Context, passengerIntentID types.ID) error {
	p, err := c.intents.Get(ctx, passengerIntentID)
	if err != nil {
		return err
	}
	return lostMatch(p)
}

func (c *Coordinator) listByDriverIntent(ctx context.Context, driverIntentID types.ID) ([]*Acceptance, error) {
	sctx, cancel := types.WithStoreTimeout(ctx, c.timeout)
	defer cancel()
	list, err := c.store.ListByDriverIntent(sctx, driverIntentID)
	return list, types.Transient(err)
}

func lostMatch(p *intent.Intent) error {
	if p.Status.Terminal() {
		return types.ErrAlreadyFinalized
	}
	return types.ErrAlreadyMatched
}

func firstFreeSeat(list []*Acceptance, seatCount int) int {
	taken := make(map[int]bool, len(list))
	for _, a := range list {
		taken[a.SeatNo] = true
	}
	for seat := 1; seat <= seatCount; seat++ {
		if !taken[seat] {
			return seat
		}
	}
	return seatCount + 1
}

func acceptOutcome(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, types.ErrAlreadyMatched):
		return "already_matched"
	case errors.Is(err, types.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, types.ErrTransient):
		return "transient"
	default:
		return "rejected"
	}
}
