// README: Matching service lists compatible passenger requests for a driver offer.
package matching

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"wheels/internal/modules/intent"
	"wheels/internal/observability"
	"wheels/internal/types"
)

type Intents interface {
	Get(ctx context.Context, id types.ID) (*intent.Intent, error)
	Latest(ctx context.Context, participantID types.ID, role intent.Role, statuses ...intent.Status) (*intent.Intent, error)
	ListSearching(ctx context.Context, role intent.Role, limit int) ([]*intent.Intent, error)
}

// Pool is the writable side of a candidate pool, used by Resync.
type Pool interface {
	Add(ctx context.Context, i *intent.Intent) error
}

type Options struct {
	Logger *slog.Logger
	Limit  int
}

type Service struct {
	intents  Intents
	provider Provider
	log      *slog.Logger
	limit    int
}

func NewService(intents Intents, provider Provider, opts Options) *Service {
	s := &Service{intents: intents, provider: provider, log: opts.Logger, limit: opts.Limit}
	if s.limit <= 0 {
		s.limit = defaultLimit
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Candidates returns open passenger requests compatible with the driver's
// current offer. Provider failures yield an empty list.
func (s *Service) Candidates(ctx context.Context, driverID types.ID) ([]*intent.Intent, error) {
	d, err := s.intents.Latest(ctx, driverID, intent.RoleDriver, intent.StatusSearching, intent.StatusMatched)
	if errors.Is(err, types.ErrNotFound) {
		return nil, types.ErrNotEligible
	}
	if err != nil {
		return nil, err
	}

	ids, err := s.provider.FindMatches(ctx, d)
	if err != nil {
		observability.ProviderFailuresTotal.Inc()
		s.log.Warn("compatibility provider failed", "driver_id", driverID, "intent_id", d.ID, "error", err)
		return []*intent.Intent{}, nil
	}

	out := make([]*intent.Intent, 0, len(ids))
	for _, id := range ids {
		if len(out) >= s.limit {
			break
		}
		p, err := s.intents.Get(ctx, id)
		if errors.Is(err, types.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if p.Role != intent.RolePassenger || p.Status != intent.StatusSearching || p.ParticipantID == driverID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Resync re-registers every searching passenger request in pool, repairing
// best-effort pool writes that were lost.
func (s *Service) Resync(ctx context.Context, pool Pool) (int, error) {
	list, err := s.intents.ListSearching(ctx, intent.RolePassenger, 0)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, i := range list {
		if err := pool.Add(ctx, i); err != nil {
			return n, types.Transient(err)
		}
		n++
	}
	return n, nil
}

// RunResync calls Resync every interval until ctx ends.
func (s *Service) RunResync(ctx context.Context, pool Pool, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Resync(ctx, pool)
			if err != nil {
				s.log.Warn("candidate pool resync failed", "error", err)
				continue
			}
			s.log.Debug("candidate pool resynced", "count", n)
		}
	}
}

// ScanProvider matches by scanning searching requests in the intent store. It
// serves single-node runs without Redis.
type ScanProvider struct {
	Intents  Intents
	RadiusKm float64
	Scan     int
}

func (p *ScanProvider) FindMatches(ctx context.Context, driver *intent.Intent) ([]types.ID, error) {
	radius := p.RadiusKm
	if radius <= 0 {
		radius = defaultRadiusKm
	}
	list, err := p.Intents.ListSearching(ctx, intent.RolePassenger, p.Scan)
	if err != nil {
		return nil, err
	}
	var ids []types.ID
	for _, i := range list {
		if types.DistanceKm(i.Pickup.Point, driver.Pickup.Point) <= radius &&
			types.DistanceKm(i.Dropoff.Point, driver.Dropoff.Point) <= radius {
			ids = append(ids, i.ID)
		}
	}
	return ids, nil
}
