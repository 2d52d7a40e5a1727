package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/arbi/kvengine/pkg/kv"
)

func unitArg(u kv.GeoUnit) (string, error) {
	if _, err := u.ToMeters(1); err != nil {
		return "", err
	}
	if u == "" {
		return string(kv.Meters), nil
	}
	return string(u), nil
}

// Geospatial operations

func (s *Store) GeoAdd(ctx context.Context, key string, locations ...kv.GeoLocation) (int64, error) {
	if err := needArgs(len(locations), "geoadd needs at least one location"); err != nil {
		return 0, err
	}
	locs := make([]*redis.GeoLocation, 0, len(locations))
	for _, loc := range locations {
		if err := kv.ValidateCoordinates(loc.Longitude, loc.Latitude); err != nil {
			return 0, err
		}
		locs = append(locs, &redis.GeoLocation{Name: loc.Name, Longitude: loc.Longitude, Latitude: loc.Latitude})
	}
	n, err := s.client.GeoAdd(ctx, key, locs...).Result()
	return n, mapError(err)
}

func (s *Store) GeoPos(ctx context.Context, key string, member string) (kv.GeoLocation, error) {
	pos, err := s.client.GeoPos(ctx, key, member).Result()
	if err != nil {
		return kv.GeoLocation{}, mapError(err)
	}
	if len(pos) == 0 || pos[0] == nil {
		return kv.GeoLocation{}, kv.ErrNotFound
	}
	return kv.GeoLocation{Name: member, Longitude: pos[0].Longitude, Latitude: pos[0].Latitude}, nil
}

func (s *Store) GeoDist(ctx context.Context, key string, member1, member2 string, unit kv.GeoUnit) (float64, error) {
	u, err := unitArg(unit)
	if err != nil {
		return 0, err
	}
	d, err := s.client.GeoDist(ctx, key, member1, member2, u).Result()
	if err != nil {
		return 0, notFound(err)
	}
	return d, nil
}

// GeoSearch maps onto GEOSEARCH FROMLONLAT BYRADIUS. Redis already sorts
// ascending when COUNT is given without an order.
func (s *Store) GeoSearch(ctx context.Context, key string, q kv.GeoSearchQuery) ([]kv.GeoLocation, error) {
	if err := kv.ValidateCoordinates(q.Longitude, q.Latitude); err != nil {
		return nil, err
	}
	if q.Radius < 0 {
		return nil, fmt.Errorf("%w: negative radius", kv.ErrSyntax)
	}
	u, err := unitArg(q.Unit)
	if err != nil {
		return nil, err
	}

	query := redis.GeoSearchQuery{
		Longitude:  q.Longitude,
		Latitude:   q.Latitude,
		Radius:     q.Radius,
		RadiusUnit: u,
		Count:      q.Count,
	}
	switch q.Sort {
	case kv.GeoSortAsc:
		query.Sort = "ASC"
	case kv.GeoSortDesc:
		query.Sort = "DESC"
	}

	locs, err := s.client.GeoSearchLocation(ctx, key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: query,
		WithCoord:      true,
		WithDist:       true,
	}).Result()
	if err != nil {
		return nil, mapError(err)
	}

	out := make([]kv.GeoLocation, len(locs))
	for i, loc := range locs {
		out[i] = kv.GeoLocation{Name: loc.Name, Longitude: loc.Longitude, Latitude: loc.Latitude, Dist: loc.Dist}
	}
	return out, nil
}

// Cardinality estimation

func (s *Store) PFAdd(ctx context.Context, key string, elements ...string) (bool, error) {
	args := make([]interface{}, len(elements))
	for i, e := range elements {
		args[i] = e
	}
	n, err := s.client.PFAdd(ctx, key, args...).Result()
	return n > 0, mapError(err)
}

func (s *Store) PFCount(ctx context.Context, keys ...string) (int64, error) {
	if err := needArgs(len(keys), "pfcount needs at least one key"); err != nil {
		return 0, err
	}
	n, err := s.client.PFCount(ctx, keys...).Result()
	return n, mapError(err)
}

func (s *Store) PFMerge(ctx context.Context, dest string, sources ...string) error {
	return mapError(s.client.PFMerge(ctx, dest, sources...).Err())
}

// isHyperLogLog reports whether a raw string value carries the Redis
// HyperLogLog header
func isHyperLogLog(raw string) bool {
	return strings.HasPrefix(raw, "HYLL")
}
