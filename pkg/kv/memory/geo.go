package memory

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/arbi/kvengine/pkg/kv"
)

// Geo members live in a sorted set scored by a 52-bit interleaved geohash,
// the same layout Redis uses, so distances are computed from the cell center
// of each stored point.
const (
	geoStep          = 26
	earthRadiusMeter = 6372797.560856
)

func geoEncode(lon, lat float64) uint64 {
	latOffset := (lat - kv.GeoLatMin) / (kv.GeoLatMax - kv.GeoLatMin)
	lonOffset := (lon - kv.GeoLonMin) / (kv.GeoLonMax - kv.GeoLonMin)
	latBits := uint32(latOffset * (1 << geoStep))
	lonBits := uint32(lonOffset * (1 << geoStep))
	const maxCell = 1<<geoStep - 1
	if latBits > maxCell {
		latBits = maxCell
	}
	if lonBits > maxCell {
		lonBits = maxCell
	}
	return interleave(latBits, lonBits)
}

func geoDecode(hash uint64) (lon, lat float64) {
	latBits, lonBits := deinterleave(hash)
	cells := float64(uint64(1) << geoStep)

	latScale := kv.GeoLatMax - kv.GeoLatMin
	latMin := kv.GeoLatMin + float64(latBits)/cells*latScale
	latMax := kv.GeoLatMin + float64(latBits+1)/cells*latScale

	lonScale := kv.GeoLonMax - kv.GeoLonMin
	lonMin := kv.GeoLonMin + float64(lonBits)/cells*lonScale
	lonMax := kv.GeoLonMin + float64(lonBits+1)/cells*lonScale

	lon = clamp((lonMin+lonMax)/2, kv.GeoLonMin, kv.GeoLonMax)
	lat = clamp((latMin+latMax)/2, kv.GeoLatMin, kv.GeoLatMax)
	return lon, lat
}

// interleave puts x bits on even positions and y bits on odd positions
func interleave(x, y uint32) uint64 {
	var out uint64
	for i := 0; i < geoStep; i++ {
		out |= uint64(x>>i&1) << (2 * i)
		out |= uint64(y>>i&1) << (2*i + 1)
	}
	return out
}

func deinterleave(h uint64) (x, y uint32) {
	for i := 0; i < geoStep; i++ {
		x |= uint32(h>>(2*i)&1) << i
		y |= uint32(h>>(2*i+1)&1) << i
	}
	return x, y
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// haversine returns the great-circle distance in meters
func haversine(lon1, lat1, lon2, lat2 float64) float64 {
	lat1r := lat1 * math.Pi / 180
	lat2r := lat2 * math.Pi / 180
	lon1r := lon1 * math.Pi / 180
	lon2r := lon2 * math.Pi / 180
	u := math.Sin((lat2r - lat1r) / 2)
	v := math.Sin((lon2r - lon1r) / 2)
	return 2 * earthRadiusMeter * math.Asin(math.Sqrt(u*u+math.Cos(lat1r)*math.Cos(lat2r)*v*v))
}

func round4(f float64) float64 {
	return math.Round(f*10000) / 10000
}

func geoPos(v view, key, member string) (kv.GeoLocation, error) {
	zv, e, err := lookupAs[*zsetValue](v, key)
	if err != nil {
		return kv.GeoLocation{}, err
	}
	if e == nil {
		return kv.GeoLocation{}, kv.ErrNotFound
	}
	score, ok := zv.scores[member]
	if !ok {
		return kv.GeoLocation{}, kv.ErrNotFound
	}
	lon, lat := geoDecode(uint64(score))
	return kv.GeoLocation{Name: member, Longitude: lon, Latitude: lat}, nil
}

// Geospatial operations

// GeoAdd indexes locations and returns how many members were new
func (s *Store) GeoAdd(ctx context.Context, key string, locations ...kv.GeoLocation) (int64, error) {
	if len(locations) == 0 {
		return 0, fmt.Errorf("%w: geoadd needs at least one location", kv.ErrSyntax)
	}
	members := make([]kv.Z, 0, len(locations))
	for _, loc := range locations {
		if err := kv.ValidateCoordinates(loc.Longitude, loc.Latitude); err != nil {
			return 0, err
		}
		members = append(members, kv.Z{Member: loc.Name, Score: float64(geoEncode(loc.Longitude, loc.Latitude))})
	}
	return s.ZAdd(ctx, key, members...)
}

// GeoPos returns the indexed position of member, quantized to its geohash cell
func (s *Store) GeoPos(ctx context.Context, key string, member string) (kv.GeoLocation, error) {
	var loc kv.GeoLocation
	err := s.withKey(key, func(v view) error {
		var err error
		loc, err = geoPos(v, key, member)
		return err
	})
	return loc, err
}

// GeoDist returns the distance between two members in unit, rounded to four
// decimals
func (s *Store) GeoDist(ctx context.Context, key string, member1, member2 string, unit kv.GeoUnit) (float64, error) {
	var meters float64
	err := s.withKey(key, func(v view) error {
		a, err := geoPos(v, key, member1)
		if err != nil {
			return err
		}
		b, err := geoPos(v, key, member2)
		if err != nil {
			return err
		}
		meters = haversine(a.Longitude, a.Latitude, b.Longitude, b.Latitude)
		return nil
	})
	if err != nil {
		return 0, err
	}
	d, err := unit.FromMeters(meters)
	if err != nil {
		return 0, err
	}
	return round4(d), nil
}

// GeoSearch returns members within the query radius. Without a sort order
// matches come back in geohash order; a Count without a sort implies
// ascending distance so the nearest members are kept.
func (s *Store) GeoSearch(ctx context.Context, key string, q kv.GeoSearchQuery) ([]kv.GeoLocation, error) {
	if err := kv.ValidateCoordinates(q.Longitude, q.Latitude); err != nil {
		return nil, err
	}
	radius, err := q.Unit.ToMeters(q.Radius)
	if err != nil {
		return nil, err
	}
	if radius < 0 {
		return nil, fmt.Errorf("%w: negative radius", kv.ErrSyntax)
	}

	type match struct {
		loc    kv.GeoLocation
		meters float64
	}
	var matches []match
	err = s.withKey(key, func(v view) error {
		zv, e, err := lookupAs[*zsetValue](v, key)
		if err != nil || e == nil {
			return err
		}
		for n := zv.sl.first(); n != nil; n = n.next() {
			lon, lat := geoDecode(uint64(n.score))
			d := haversine(q.Longitude, q.Latitude, lon, lat)
			if d <= radius {
				matches = append(matches, match{
					loc:    kv.GeoLocation{Name: n.member, Longitude: lon, Latitude: lat},
					meters: d,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	order := q.Sort
	if q.Count > 0 && order == kv.GeoSortNone {
		order = kv.GeoSortAsc
	}
	switch order {
	case kv.GeoSortAsc:
		sort.SliceStable(matches, func(i, j int) bool { return matches[i].meters < matches[j].meters })
	case kv.GeoSortDesc:
		sort.SliceStable(matches, func(i, j int) bool { return matches[i].meters > matches[j].meters })
	}
	if q.Count > 0 && len(matches) > q.Count {
		matches = matches[:q.Count]
	}

	out := make([]kv.GeoLocation, 0, len(matches))
	for _, m := range matches {
		loc := m.loc
		d, err := q.Unit.FromMeters(m.meters)
		if err != nil {
			return nil, err
		}
		loc.Dist = round4(d)
		out = append(out, loc)
	}
	return out, nil
}
