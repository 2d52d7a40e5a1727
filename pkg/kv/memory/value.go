package memory

import (
	"github.com/arbi/kvengine/pkg/kv"
)

// value is one variant of the keyspace. clone returns a deep copy suitable
// for staging transactional writes; byte slices are treated as immutable and
// may be shared.
type value interface {
	kind() kv.Kind
	clone() value
}

type stringValue struct {
	b []byte
}

func (v *stringValue) kind() kv.Kind { return kv.KindString }
func (v *stringValue) clone() value  { return &stringValue{b: v.b} }

type listValue struct {
	items [][]byte
}

func (v *listValue) kind() kv.Kind { return kv.KindList }
func (v *listValue) clone() value {
	items := make([][]byte, len(v.items))
	copy(items, v.items)
	return &listValue{items: items}
}

type setValue struct {
	members map[string]struct{}
}

func newSetValue() *setValue {
	return &setValue{members: make(map[string]struct{})}
}

func (v *setValue) kind() kv.Kind { return kv.KindSet }
func (v *setValue) clone() value {
	c := &setValue{members: make(map[string]struct{}, len(v.members))}
	for m := range v.members {
		c.members[m] = struct{}{}
	}
	return c
}

type hashValue struct {
	fields map[string][]byte
}

func newHashValue() *hashValue {
	return &hashValue{fields: make(map[string][]byte)}
}

func (v *hashValue) kind() kv.Kind { return kv.KindHash }
func (v *hashValue) clone() value {
	c := &hashValue{fields: make(map[string][]byte, len(v.fields))}
	for f, b := range v.fields {
		c.fields[f] = b
	}
	return c
}

// zsetValue pairs a member->score map with a skiplist ordered by
// (score, member). Geo sets are zsets whose scores are geohashes.
type zsetValue struct {
	scores map[string]float64
	sl     *skiplist
}

func newZSetValue() *zsetValue {
	return &zsetValue{scores: make(map[string]float64), sl: newSkiplist()}
}

func (v *zsetValue) kind() kv.Kind { return kv.KindZSet }
func (v *zsetValue) clone() value {
	c := newZSetValue()
	for n := v.sl.first(); n != nil; n = n.next() {
		c.scores[n.member] = n.score
		c.sl.insert(n.member, n.score)
	}
	return c
}

// add sets member's score and reports whether the member is new
func (v *zsetValue) add(member string, score float64) bool {
	old, ok := v.scores[member]
	if ok {
		if old == score {
			return false
		}
		v.sl.remove(member, old)
	}
	v.scores[member] = score
	v.sl.insert(member, score)
	return !ok
}

func (v *zsetValue) rem(member string) bool {
	score, ok := v.scores[member]
	if !ok {
		return false
	}
	delete(v.scores, member)
	v.sl.remove(member, score)
	return true
}

func (v *zsetValue) card() int {
	return len(v.scores)
}

type streamGroup struct {
	lastDelivered kv.StreamID
	consumers     map[string]struct{}
}

type streamValue struct {
	records []kv.StreamRecord
	lastID  kv.StreamID
	groups  map[string]*streamGroup
}

func newStreamValue() *streamValue {
	return &streamValue{groups: make(map[string]*streamGroup)}
}

func (v *streamValue) kind() kv.Kind { return kv.KindStream }
func (v *streamValue) clone() value {
	c := &streamValue{
		records: make([]kv.StreamRecord, len(v.records)),
		lastID:  v.lastID,
		groups:  make(map[string]*streamGroup, len(v.groups)),
	}
	copy(c.records, v.records)
	for name, g := range v.groups {
		consumers := make(map[string]struct{}, len(g.consumers))
		for cn := range g.consumers {
			consumers[cn] = struct{}{}
		}
		c.groups[name] = &streamGroup{lastDelivered: g.lastDelivered, consumers: consumers}
	}
	return c
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

// lookupAs returns the live value at key as T. Absent keys yield the zero T
// and a nil entry; a value of another kind yields ErrWrongType.
func lookupAs[T value](v view, key string) (T, *entry, error) {
	var zero T
	e := v.lookup(key)
	if e == nil {
		return zero, nil, nil
	}
	t, ok := e.value.(T)
	if !ok {
		return zero, nil, kv.ErrWrongType
	}
	return t, e, nil
}

// lookupOrCreate is lookupAs that builds a fresh entry when key is absent.
// The caller must put the entry back after mutating it.
func lookupOrCreate[T value](v view, key string, mk func() T) (T, *entry, error) {
	t, e, err := lookupAs[T](v, key)
	if err != nil {
		return t, nil, err
	}
	if e == nil {
		t = mk()
		e = &entry{value: t}
	}
	return t, e, nil
}
