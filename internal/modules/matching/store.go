// README: Candidate pool backed by Redis GEO sets (passenger pickups and dropoffs).
package matching

import (
	"context"

	"github.com/redis/go-redis/v9"

	"wheels/internal/modules/intent"
	"wheels/internal/types"
)

const (
	pickupGeoKey  = "matching:passengers:pickup"
	dropoffGeoKey = "matching:passengers:dropoff"
)

// GeoPool keeps open passenger requests in Redis and answers compatibility
// queries: a request matches when both its pickup and its dropoff lie within
// the radius of the driver's.
type GeoPool struct {
	redis    *redis.Client
	radiusKm float64
}

func NewGeoPool(redis *redis.Client, radiusKm float64) *GeoPool {
	if radiusKm <= 0 {
		radiusKm = defaultRadiusKm
	}
	return &GeoPool{redis: redis, radiusKm: radiusKm}
}

func (p *GeoPool) Add(ctx context.Context, i *intent.Intent) error {
	pipe := p.redis.Pipeline()
	pipe.GeoAdd(ctx, pickupGeoKey, &redis.GeoLocation{
		Name:      string(i.ID),
		Longitude: i.Pickup.Lng,
		Latitude:  i.Pickup.Lat,
	})
	pipe.GeoAdd(ctx, dropoffGeoKey, &redis.GeoLocation{
		Name:      string(i.ID),
		Longitude: i.Dropoff.Lng,
		Latitude:  i.Dropoff.Lat,
	})
	_, err := pipe.Exec(ctx)
	return err
}

func (p *GeoPool) Remove(ctx context.Context, id types.ID) error {
	pipe := p.redis.Pipeline()
	pipe.ZRem(ctx, pickupGeoKey, string(id))
	pipe.ZRem(ctx, dropoffGeoKey, string(id))
	_, err := pipe.Exec(ctx)
	return err
}

func (p *GeoPool) FindMatches(ctx context.Context, driver *intent.Intent) ([]types.ID, error) {
	near, err := p.search(ctx, pickupGeoKey, driver.Pickup.Point)
	if err != nil {
		return nil, err
	}
	if len(near) == 0 {
		return nil, nil
	}
	sameWay, err := p.search(ctx, dropoffGeoKey, driver.Dropoff.Point)
	if err != nil {
		return nil, err
	}
	dest := make(map[string]bool, len(sameWay))
	for _, id := range sameWay {
		dest[id] = true
	}
	var ids []types.ID
	for _, id := range near {
		if dest[id] {
			ids = append(ids, types.ID(id))
		}
	}
	return ids, nil
}

func (p *GeoPool) search(ctx context.Context, key string, at types.Point) ([]string, error) {
	return p.redis.GeoSearch(ctx, key, &redis.GeoSearchQuery{
		Longitude:  at.Lng,
		Latitude:   at.Lat,
		Radius:     p.radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
}
