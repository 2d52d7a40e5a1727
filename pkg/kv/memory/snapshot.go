package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/arbi/kvengine/pkg/kv"
)

type streamPayload struct {
	LastID  string          `json:"last_id"`
	Records []recordPayload `json:"records"`
	Groups  []groupPayload  `json:"groups,omitempty"`
}

type recordPayload struct {
	ID     string     `json:"id"`
	Fields []kv.Field `json:"fields"`
}

type groupPayload struct {
	Name          string   `json:"name"`
	LastDelivered string   `json:"last_delivered"`
	Consumers     []string `json:"consumers,omitempty"`
}

type hllPayload struct {
	Sparse    []uint64 `json:"sparse,omitempty"`
	Registers []byte   `json:"registers,omitempty"`
}

func encodeValue(val value) (json.RawMessage, error) {
	var payload any
	switch v := val.(type) {
	case *stringValue:
		payload = v.b
	case *listValue:
		payload = v.items
	case *setValue:
		members := make([]string, 0, len(v.members))
		for m := range v.members {
			members = append(members, m)
		}
		sort.Strings(members)
		payload = members
	case *hashValue:
		payload = v.fields
	case *zsetValue:
		zs := make([]kv.Z, 0, v.card())
		for n := v.sl.first(); n != nil; n = n.next() {
			zs = append(zs, kv.Z{Member: n.member, Score: n.score})
		}
		payload = zs
	case *streamValue:
		sp := streamPayload{LastID: v.lastID.String(), Records: make([]recordPayload, 0, len(v.records))}
		for _, r := range v.records {
			sp.Records = append(sp.Records, recordPayload{ID: r.ID.String(), Fields: r.Fields})
		}
		for name, g := range v.groups {
			gp := groupPayload{Name: name, LastDelivered: g.lastDelivered.String()}
			for c := range g.consumers {
				gp.Consumers = append(gp.Consumers, c)
			}
			sort.Strings(gp.Consumers)
			sp.Groups = append(sp.Groups, gp)
		}
		sort.Slice(sp.Groups, func(i, j int) bool { return sp.Groups[i].Name < sp.Groups[j].Name })
		payload = sp
	case *hllValue:
		hp := hllPayload{Registers: v.registers}
		for h := range v.sparse {
			hp.Sparse = append(hp.Sparse, h)
		}
		payload = hp
	default:
		return nil, fmt.Errorf("unsupported value %T", val)
	}
	return json.Marshal(payload)
}

func decodeValue(kind kv.Kind, raw json.RawMessage) (value, error) {
	switch kind {
	case kv.KindString:
		var b []byte
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return &stringValue{b: b}, nil
	case kv.KindList:
		lv := &listValue{}
		if err := json.Unmarshal(raw, &lv.items); err != nil {
			return nil, err
		}
		return lv, nil
	case kv.KindSet:
		var members []string
		if err := json.Unmarshal(raw, &members); err != nil {
			return nil, err
		}
		sv := newSetValue()
		for _, m := range members {
			sv.members[m] = struct{}{}
		}
		return sv, nil
	case kv.KindHash:
		hv := newHashValue()
		if err := json.Unmarshal(raw, &hv.fields); err != nil {
			return nil, err
		}
		return hv, nil
	case kv.KindZSet:
		var zs []kv.Z
		if err := json.Unmarshal(raw, &zs); err != nil {
			return nil, err
		}
		zv := newZSetValue()
		for _, z := range zs {
			zv.add(z.Member, z.Score)
		}
		return zv, nil
	case kv.KindStream:
		var sp streamPayload
		if err := json.Unmarshal(raw, &sp); err != nil {
			return nil, err
		}
		return decodeStream(sp)
	case kv.KindHyperLogLog:
		var hp hllPayload
		if err := json.Unmarshal(raw, &hp); err != nil {
			return nil, err
		}
		if len(hp.Registers) > 0 {
			if len(hp.Registers) != hllRegisters {
				return nil, fmt.Errorf("hyperloglog with %d registers", len(hp.Registers))
			}
			return &hllValue{registers: hp.Registers}, nil
		}
		hv := newHLLValue()
		for _, h := range hp.Sparse {
			hv.sparse[h] = struct{}{}
		}
		return hv, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", kv.ErrSyntax, kind)
	}
}

func decodeStream(sp streamPayload) (*streamValue, error) {
	sv := newStreamValue()
	var err error
	if sp.LastID != "" {
		if sv.lastID, err = kv.ParseStreamID(sp.LastID, 0); err != nil {
			return nil, err
		}
	}
	for _, r := range sp.Records {
		id, err := kv.ParseStreamID(r.ID, 0)
		if err != nil {
			return nil, err
		}
		sv.records = append(sv.records, kv.StreamRecord{ID: id, Fields: r.Fields})
	}
	for _, g := range sp.Groups {
		cursor, err := kv.ParseStreamID(g.LastDelivered, 0)
		if err != nil {
			return nil, err
		}
		group := &streamGroup{lastDelivered: cursor, consumers: make(map[string]struct{})}
		for _, c := range g.Consumers {
			group.consumers[c] = struct{}{}
		}
		sv.groups[g.Name] = group
	}
	return sv, nil
}

// Snapshot copies every live key under all shard locks, so the result is a
// consistent point in time. Encoding happens after the locks are released.
func (s *Store) Snapshot(ctx context.Context) ([]kv.SnapshotEntry, error) {
	type item struct {
		key       string
		val       value
		expiresAt time.Time
	}
	var items []item

	unlock := s.lockAll()
	now := s.clock()
	for i := range s.shards {
		for key, e := range s.shards[i].entries {
			if e.expired(now) {
				continue
			}
			items = append(items, item{key: key, val: e.value.clone(), expiresAt: e.expiresAt})
		}
	}
	unlock()

	sort.Slice(items, func(i, j int) bool { return items[i].key < items[j].key })
	out := make([]kv.SnapshotEntry, 0, len(items))
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		payload, err := encodeValue(it.val)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", it.key, err)
		}
		se := kv.SnapshotEntry{Key: it.key, Kind: it.val.kind(), Payload: payload}
		if !it.expiresAt.IsZero() {
			at := it.expiresAt
			se.ExpiresAt = &at
		}
		out = append(out, se)
	}
	return out, nil
}

// Restore decodes every entry first and only then installs them, so a bad
// entry leaves the store untouched
func (s *Store) Restore(ctx context.Context, entries []kv.SnapshotEntry) error {
	now := s.clock()
	decoded := make(map[string]*entry, len(entries))
	keys := make([]string, 0, len(entries))
	for _, se := range entries {
		if se.ExpiresAt != nil && !now.Before(*se.ExpiresAt) {
			continue
		}
		val, err := decodeValue(se.Kind, se.Payload)
		if err != nil {
			return fmt.Errorf("decode %s: %w", se.Key, err)
		}
		e := &entry{value: val}
		if se.ExpiresAt != nil {
			e.expiresAt = *se.ExpiresAt
		}
		decoded[se.Key] = e
		keys = append(keys, se.Key)
	}
	return s.withKeys(keys, func(v view) error {
		for key, e := range decoded {
			v.put(key, e)
		}
		return nil
	})
}

var _ kv.Snapshotter = (*Store)(nil)
