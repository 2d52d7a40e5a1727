package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arbi/kvengine/pkg/kv"
)

func streamValues(fields []kv.Field) []interface{} {
	values := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		values = append(values, f.Name, f.Value)
	}
	return values
}

// fromMessages converts go-redis messages. go-redis decodes record fields
// into a map, so fields come back sorted by name.
func fromMessages(msgs []redis.XMessage) ([]kv.StreamRecord, error) {
	out := make([]kv.StreamRecord, 0, len(msgs))
	for _, m := range msgs {
		id, err := kv.ParseStreamID(m.ID, 0)
		if err != nil {
			return nil, err
		}
		values := make(map[string]string, len(m.Values))
		for k, v := range m.Values {
			values[k] = fmt.Sprint(v)
		}
		out = append(out, kv.StreamRecord{ID: id, Fields: kv.FieldsFromMap(values)})
	}
	return out, nil
}

// Stream operations

func (s *Store) XAdd(ctx context.Context, key string, fields []kv.Field) (kv.StreamID, error) {
	if err := needArgs(len(fields), "xadd needs at least one field"); err != nil {
		return kv.StreamID{}, err
	}
	raw, err := s.client.XAdd(ctx, &redis.XAddArgs{Stream: key, Values: streamValues(fields)}).Result()
	if err != nil {
		return kv.StreamID{}, mapError(err)
	}
	return kv.ParseStreamID(raw, 0)
}

func (s *Store) XLen(ctx context.Context, key string) (int64, error) {
	n, err := s.client.XLen(ctx, key).Result()
	return n, mapError(err)
}

func (s *Store) XRange(ctx context.Context, key string, start, end string, count int64) ([]kv.StreamRecord, error) {
	var (
		msgs []redis.XMessage
		err  error
	)
	if count > 0 {
		msgs, err = s.client.XRangeN(ctx, key, start, end, count).Result()
	} else {
		msgs, err = s.client.XRange(ctx, key, start, end).Result()
	}
	if err != nil {
		return nil, mapError(err)
	}
	return fromMessages(msgs)
}

// XGroupCreate always passes MKSTREAM. An empty start or "-" reads from the
// beginning.
func (s *Store) XGroupCreate(ctx context.Context, key, group, start string) error {
	if group == "" {
		return fmt.Errorf("%w: empty group name", kv.ErrSyntax)
	}
	switch start {
	case "", "-":
		start = "0"
	}
	return mapError(s.client.XGroupCreateMkStream(ctx, key, group, start).Err())
}

// XReadGroup reads with NOACK since the store has no acknowledgement step.
// An explicit From replays records after that id with XRANGE and moves the
// group cursor forward with XGROUP SETID when the replay passes it.
func (s *Store) XReadGroup(ctx context.Context, args kv.XReadGroupArgs) ([]kv.StreamRecord, error) {
	if args.Consumer == "" {
		return nil, fmt.Errorf("%w: empty consumer name", kv.ErrSyntax)
	}
	if args.From == kv.LastConsumed || args.From == "" {
		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    args.Group,
			Consumer: args.Consumer,
			Streams:  []string{args.Stream, kv.LastConsumed},
			Count:    args.Count,
			Block:    -1,
			NoAck:    true,
		}).Result()
		if errors.Is(err, redis.Nil) {
			return []kv.StreamRecord{}, nil
		}
		if err != nil {
			return nil, mapError(err)
		}
		var msgs []redis.XMessage
		for _, st := range streams {
			msgs = append(msgs, st.Messages...)
		}
		return fromMessages(msgs)
	}
	return s.replayGroup(ctx, args)
}

// advanceGroup moves a group's last-delivered ID forward to ARGV[2], never
// back, in one step so a concurrent ">" read cannot be rewound
var advanceGroup = redis.NewScript(`
local function before(a, b)
  local da, db = string.find(a, "-", 1, true), string.find(b, "-", 1, true)
  local ma, mb = tonumber(string.sub(a, 1, da - 1)), tonumber(string.sub(b, 1, db - 1))
  if ma ~= mb then
    return ma < mb
  end
  return tonumber(string.sub(a, da + 1)) < tonumber(string.sub(b, db + 1))
end

local ok, groups = pcall(redis.call, "XINFO", "GROUPS", KEYS[1])
if not ok then
  return redis.error_reply("NOGROUP no such key")
end
for _, g in ipairs(groups) do
  local name, last
  for i = 1, #g, 2 do
    if g[i] == "name" then
      name = g[i + 1]
    elseif g[i] == "last-delivered-id" then
      last = g[i + 1]
    end
  end
  if name == ARGV[1] then
    if before(last, ARGV[2]) then
      redis.call("XGROUP", "SETID", KEYS[1], ARGV[1], ARGV[2])
      return 1
    end
    return 0
  end
end
return redis.error_reply("NOGROUP no such consumer group")
`)

func (s *Store) replayGroup(ctx context.Context, args kv.XReadGroupArgs) ([]kv.StreamRecord, error) {
	from, err := kv.ParseStreamID(args.From, 0)
	if err != nil {
		return nil, err
	}
	if _, err := s.groupCursor(ctx, args.Stream, args.Group); err != nil {
		return nil, err
	}
	if err := s.client.XGroupCreateConsumer(ctx, args.Stream, args.Group, args.Consumer).Err(); err != nil {
		return nil, mapError(err)
	}
	records, err := s.XRange(ctx, args.Stream, "("+from.String(), "+", args.Count)
	if err != nil {
		return nil, err
	}
	if n := len(records); n > 0 {
		last := records[n-1].ID.String()
		if err := advanceGroup.Run(ctx, s.client, []string{args.Stream}, args.Group, last).Err(); err != nil {
			return nil, mapError(err)
		}
	}
	return records, nil
}

func (s *Store) groupCursor(ctx context.Context, stream, group string) (kv.StreamID, error) {
	groups, err := s.client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		if isNoSuchKey(err) {
			return kv.StreamID{}, kv.ErrNoGroup
		}
		return kv.StreamID{}, mapError(err)
	}
	for _, g := range groups {
		if g.Name == group {
			return kv.ParseStreamID(g.LastDeliveredID, 0)
		}
	}
	return kv.StreamID{}, kv.ErrNoGroup
}

// XInfoGroups lists groups with their consumers, sorted by name
func (s *Store) XInfoGroups(ctx context.Context, key string) ([]kv.GroupInfo, error) {
	groups, err := s.client.XInfoGroups(ctx, key).Result()
	if err != nil {
		if isNoSuchKey(err) {
			return nil, kv.ErrNotFound
		}
		return nil, mapError(err)
	}
	out := make([]kv.GroupInfo, 0, len(groups))
	for _, g := range groups {
		id, err := kv.ParseStreamID(g.LastDeliveredID, 0)
		if err != nil {
			return nil, err
		}
		info := kv.GroupInfo{Name: g.Name, LastDeliveredID: id}
		consumers, err := s.client.XInfoConsumers(ctx, key, g.Name).Result()
		if err != nil {
			return nil, mapError(err)
		}
		for _, c := range consumers {
			info.Consumers = append(info.Consumers, c.Name)
		}
		sort.Strings(info.Consumers)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func isNoSuchKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such key")
}

// Pub/Sub

func (s *Store) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	n, err := s.client.Publish(ctx, channel, payload).Result()
	return n, mapError(err)
}

// Subscribe waits for the server to confirm the subscription before
// returning, so a Publish issued afterwards is delivered
func (s *Store) Subscribe(ctx context.Context, channels ...string) (kv.Subscription, error) {
	if err := needArgs(len(channels), "subscribe needs at least one channel"); err != nil {
		return nil, err
	}
	ps := s.client.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, mapError(err)
	}
	sub := &subscription{
		ps:   ps,
		ch:   make(chan *kv.Message, subscriptionBuffer),
		done: make(chan struct{}),
	}
	go sub.forward(ctx)
	return sub, nil
}

const (
	subscriptionBuffer = 100
	// sendTimeout bounds how long a slow reader can hold up the pubsub conn
	sendTimeout = time.Second
)

type subscription struct {
	ps        *redis.PubSub
	ch        chan *kv.Message
	done      chan struct{}
	closeOnce sync.Once
}

func (sub *subscription) forward(ctx context.Context) {
	defer close(sub.ch)
	src := sub.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			sub.Close()
			return
		case <-sub.done:
			return
		case m, ok := <-src:
			if !ok {
				return
			}
			msg := &kv.Message{Channel: m.Channel, Payload: []byte(m.Payload)}
			select {
			case sub.ch <- msg:
			case <-time.After(sendTimeout):
				// dropped
			case <-sub.done:
				return
			}
		}
	}
}

func (sub *subscription) Channel() <-chan *kv.Message {
	return sub.ch
}

func (sub *subscription) Close() error {
	var err error
	sub.closeOnce.Do(func() {
		close(sub.done)
		err = sub.ps.Close()
	})
	return err
}
