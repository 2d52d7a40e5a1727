package kv

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind names the variant a key currently holds
type Kind string

const (
	KindNone        Kind = "none"
	KindString      Kind = "string"
	KindList        Kind = "list"
	KindSet         Kind = "set"
	KindZSet        Kind = "zset"
	KindHash        Kind = "hash"
	KindStream      Kind = "stream"
	KindHyperLogLog Kind = "hyperloglog"
)

// Z is a sorted set member with its score
type Z struct {
	Member string  `json:"member"`
	Score  float64 `json:"score"`
}

// GeoUnit is a distance unit accepted by the geo operations
type GeoUnit string

const (
	Meters     GeoUnit = "m"
	Kilometers GeoUnit = "km"
	Miles      GeoUnit = "mi"
	Feet       GeoUnit = "ft"
)

// ToMeters converts a distance expressed in u to meters
func (u GeoUnit) ToMeters(d float64) (float64, error) {
	switch u {
	case Meters, "":
		return d, nil
	case Kilometers:
		return d * 1000, nil
	case Miles:
		return d * 1609.34, nil
	case Feet:
		return d * 0.3048, nil
	default:
		return 0, fmt.Errorf("%w: unsupported unit %q", ErrSyntax, string(u))
	}
}

// FromMeters converts meters into u
func (u GeoUnit) FromMeters(m float64) (float64, error) {
	factor, err := u.ToMeters(1)
	if err != nil {
		return 0, err
	}
	return m / factor, nil
}

// GeoLocation is a named point. Dist is only populated by GeoSearch and is
// expressed in the query unit.
type GeoLocation struct {
	Name      string
	Longitude float64
	Latitude  float64
	Dist      float64
}

// GeoSort controls GeoSearch result ordering
type GeoSort int

const (
	// GeoSortNone returns matches in index (geohash) order
	GeoSortNone GeoSort = iota
	GeoSortAsc
	GeoSortDesc
)

// GeoSearchQuery searches a radius around a point
type GeoSearchQuery struct {
	Longitude float64
	Latitude  float64
	Radius    float64
	Unit      GeoUnit
	Sort      GeoSort
	Count     int
}

// Geo coordinate limits (EPSG:3857 usable range)
const (
	GeoLatMin = -85.05112878
	GeoLatMax = 85.05112878
	GeoLonMin = -180.0
	GeoLonMax = 180.0
)

// ValidateCoordinates reports whether lon/lat can be indexed
func ValidateCoordinates(lon, lat float64) error {
	if math.IsNaN(lon) || math.IsNaN(lat) || lon < GeoLonMin || lon > GeoLonMax || lat < GeoLatMin || lat > GeoLatMax {
		return fmt.Errorf("%w: invalid longitude,latitude pair %f,%f", ErrSyntax, lon, lat)
	}
	return nil
}

// Field is one name/value pair of a stream record. Records keep field order.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// StreamID identifies a stream record: a millisecond timestamp plus a sequence
// number that breaks ties within the same millisecond.
type StreamID struct {
	Ms  uint64
	Seq uint64
}

// LastConsumed reads entries never delivered to the group
const LastConsumed = ">"

func (id StreamID) String() string {
	return strconv.FormatUint(id.Ms, 10) + "-" + strconv.FormatUint(id.Seq, 10)
}

// IsZero reports whether id is 0-0
func (id StreamID) IsZero() bool {
	return id.Ms == 0 && id.Seq == 0
}

// Compare returns -1, 0 or 1
func (id StreamID) Compare(other StreamID) int {
	switch {
	case id.Ms < other.Ms:
		return -1
	case id.Ms > other.Ms:
		return 1
	case id.Seq < other.Seq:
		return -1
	case id.Seq > other.Seq:
		return 1
	}
	return 0
}

// Next returns the smallest id strictly greater than id
func (id StreamID) Next() StreamID {
	if id.Seq == math.MaxUint64 {
		return StreamID{Ms: id.Ms + 1}
	}
	return StreamID{Ms: id.Ms, Seq: id.Seq + 1}
}

// ParseStreamID parses "ms-seq" or "ms". A bare ms takes defaultSeq.
// "-" and "+" map to the minimum and maximum ids.
func ParseStreamID(s string, defaultSeq uint64) (StreamID, error) {
	switch s {
	case "-":
		return StreamID{}, nil
	case "+":
		return StreamID{Ms: math.MaxUint64, Seq: math.MaxUint64}, nil
	}
	msPart, seqPart, hasSeq := strings.Cut(s, "-")
	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		return StreamID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	if !hasSeq {
		return StreamID{Ms: ms, Seq: defaultSeq}, nil
	}
	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return StreamID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return StreamID{Ms: ms, Seq: seq}, nil
}

// StreamRecord is one appended entry
type StreamRecord struct {
	ID     StreamID
	Fields []Field
}

// Value returns the value of the named field
func (r StreamRecord) Value(name string) (string, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// FieldsFromMap builds a field list from a map in sorted name order
func FieldsFromMap(m map[string]string) []Field {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	fields := make([]Field, 0, len(m))
	for _, name := range names {
		fields = append(fields, Field{Name: name, Value: m[name]})
	}
	return fields
}

// XReadGroupArgs describes a consumer-group read. From is LastConsumed or an
// explicit id; Count <= 0 means no limit.
type XReadGroupArgs struct {
	Stream   string
	Group    string
	Consumer string
	From     string
	Count    int64
}

// GroupInfo is the cursor state of a consumer group
type GroupInfo struct {
	Name            string
	LastDeliveredID StreamID
	Consumers       []string
}

// GroupLister is implemented by stores that can report consumer group state
type GroupLister interface {
	XInfoGroups(ctx context.Context, key string) ([]GroupInfo, error)
}
