package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/arbi/kvengine/pkg/kv"
)

// xadd appends a record. Ids are the append time in milliseconds plus a
// sequence number; a clock that stalls or moves backwards keeps the last
// millisecond and bumps the sequence, so ids stay strictly increasing.
func xadd(v view, key string, fields []kv.Field) (kv.StreamID, error) {
	if len(fields) == 0 {
		return kv.StreamID{}, fmt.Errorf("%w: xadd needs at least one field", kv.ErrSyntax)
	}
	sv, e, err := lookupOrCreate(v, key, newStreamValue)
	if err != nil {
		return kv.StreamID{}, err
	}
	nowMs := uint64(v.now().UnixMilli())
	id := kv.StreamID{Ms: nowMs}
	if nowMs <= sv.lastID.Ms {
		id = sv.lastID.Next()
	}
	if id.IsZero() {
		id.Seq = 1
	}
	record := kv.StreamRecord{ID: id, Fields: make([]kv.Field, len(fields))}
	copy(record.Fields, fields)
	sv.records = append(sv.records, record)
	sv.lastID = id
	v.put(key, e)
	return id, nil
}

// after returns the index of the first record with an id greater than id
func (sv *streamValue) after(id kv.StreamID) int {
	return sort.Search(len(sv.records), func(i int) bool {
		return sv.records[i].ID.Compare(id) > 0
	})
}

func copyRecords(records []kv.StreamRecord) []kv.StreamRecord {
	out := make([]kv.StreamRecord, len(records))
	for i, r := range records {
		out[i] = kv.StreamRecord{ID: r.ID, Fields: make([]kv.Field, len(r.Fields))}
		copy(out[i].Fields, r.Fields)
	}
	return out
}

// Stream operations

func (s *Store) XAdd(ctx context.Context, key string, fields []kv.Field) (kv.StreamID, error) {
	var id kv.StreamID
	err := s.withKey(key, func(v view) error {
		var err error
		id, err = xadd(v, key, fields)
		return err
	})
	if err == nil {
		s.stats.streamAppends.Add(1)
	}
	return id, err
}

func (s *Store) XLen(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.withKey(key, func(v view) error {
		sv, e, err := lookupAs[*streamValue](v, key)
		if err != nil || e == nil {
			return err
		}
		n = int64(len(sv.records))
		return nil
	})
	return n, err
}

// XRange returns records with start <= id <= end. "-" and "+" are the open
// bounds; count <= 0 returns everything in range.
func (s *Store) XRange(ctx context.Context, key string, start, end string, count int64) ([]kv.StreamRecord, error) {
	from, err := kv.ParseStreamID(start, 0)
	if err != nil {
		return nil, err
	}
	to, err := kv.ParseStreamID(end, ^uint64(0))
	if err != nil {
		return nil, err
	}
	out := []kv.StreamRecord{}
	err = s.withKey(key, func(v view) error {
		sv, e, err := lookupAs[*streamValue](v, key)
		if err != nil || e == nil {
			return err
		}
		i := sort.Search(len(sv.records), func(i int) bool {
			return sv.records[i].ID.Compare(from) >= 0
		})
		j := i
		for j < len(sv.records) && sv.records[j].ID.Compare(to) <= 0 {
			if count > 0 && int64(j-i) >= count {
				break
			}
			j++
		}
		out = copyRecords(sv.records[i:j])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// XGroupCreate provisions a consumer group, creating the stream if needed.
// start is "$" for only new records, "" or "0" for the whole stream, or an
// explicit id. An existing group fails with ErrGroupExists and keeps its
// cursor.
func (s *Store) XGroupCreate(ctx context.Context, key, group, start string) error {
	if group == "" {
		return fmt.Errorf("%w: empty group name", kv.ErrSyntax)
	}
	return s.withKey(key, func(v view) error {
		sv, e, err := lookupOrCreate(v, key, newStreamValue)
		if err != nil {
			return err
		}
		if _, ok := sv.groups[group]; ok {
			return kv.ErrGroupExists
		}
		var cursor kv.StreamID
		switch start {
		case "$":
			cursor = sv.lastID
		case "", "0", "-":
		default:
			cursor, err = kv.ParseStreamID(start, 0)
			if err != nil {
				return err
			}
		}
		sv.groups[group] = &streamGroup{lastDelivered: cursor, consumers: make(map[string]struct{})}
		v.put(key, e)
		return nil
	})
}

// XReadGroup reads records past the cursor selected by args.From and advances
// the group's last delivered id to the highest id returned.
func (s *Store) XReadGroup(ctx context.Context, args kv.XReadGroupArgs) ([]kv.StreamRecord, error) {
	if args.Consumer == "" {
		return nil, fmt.Errorf("%w: empty consumer name", kv.ErrSyntax)
	}
	out := []kv.StreamRecord{}
	err := s.withKey(args.Stream, func(v view) error {
		sv, e, err := lookupAs[*streamValue](v, args.Stream)
		if err != nil {
			return err
		}
		if e == nil {
			return kv.ErrNoGroup
		}
		g, ok := sv.groups[args.Group]
		if !ok {
			return kv.ErrNoGroup
		}
		cursor := g.lastDelivered
		if args.From != kv.LastConsumed && args.From != "" {
			cursor, err = kv.ParseStreamID(args.From, 0)
			if err != nil {
				return err
			}
		}
		i := sv.after(cursor)
		j := len(sv.records)
		if args.Count > 0 && int64(j-i) > args.Count {
			j = i + int(args.Count)
		}
		out = copyRecords(sv.records[i:j])

		_, known := g.consumers[args.Consumer]
		g.consumers[args.Consumer] = struct{}{}
		advanced := false
		if len(out) > 0 {
			if last := out[len(out)-1].ID; last.Compare(g.lastDelivered) > 0 {
				g.lastDelivered = last
				advanced = true
			}
		}
		if advanced || !known {
			v.put(args.Stream, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// XInfoGroups lists the consumer groups of a stream
func (s *Store) XInfoGroups(ctx context.Context, key string) ([]kv.GroupInfo, error) {
	var out []kv.GroupInfo
	err := s.withKey(key, func(v view) error {
		sv, e, err := lookupAs[*streamValue](v, key)
		if err != nil {
			return err
		}
		if e == nil {
			return kv.ErrNotFound
		}
		for name, g := range sv.groups {
			info := kv.GroupInfo{Name: name, LastDeliveredID: g.lastDelivered}
			for c := range g.consumers {
				info.Consumers = append(info.Consumers, c)
			}
			sort.Strings(info.Consumers)
			out = append(out, info)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return nil
	})
	return out, err
}
