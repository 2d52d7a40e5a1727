package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/arbi/kvengine/pkg/kv"
)

// queue adds op to a pipeline and returns the pending command
func queue(ctx context.Context, pipe redis.Pipeliner, op kv.Op) (redis.Cmder, error) {
	key := op.Key()
	switch op.Name {
	case kv.OpSet:
		ttl := op.TTL
		if ttl < 0 {
			ttl = 0
		}
		return pipe.Set(ctx, key, op.Value, ttl), nil
	case kv.OpGet:
		return pipe.Get(ctx, key), nil
	case kv.OpDel:
		return pipe.Del(ctx, op.Keys...), nil
	case kv.OpExpire:
		if op.TTL <= 0 {
			return pipe.Del(ctx, key), nil
		}
		return pipe.PExpire(ctx, key, op.TTL), nil
	case kv.OpIncrBy:
		return pipe.IncrBy(ctx, key, op.N), nil
	case kv.OpHSet:
		return pipe.HSet(ctx, key, op.Field, op.Value), nil
	case kv.OpHMSet:
		return pipe.HSet(ctx, key, fieldArgs(op.Fields)...), nil
	case kv.OpSAdd:
		return pipe.SAdd(ctx, key, byteArgs(op.Values)...), nil
	case kv.OpLPush:
		return pipe.LPush(ctx, key, byteArgs(op.Values)...), nil
	case kv.OpRPush:
		return pipe.RPush(ctx, key, byteArgs(op.Values)...), nil
	case kv.OpLPop:
		return pipe.LPop(ctx, key), nil
	case kv.OpZAdd:
		zs, err := toRedisZ(op.Members)
		if err != nil {
			return nil, err
		}
		return pipe.ZAdd(ctx, key, zs...), nil
	case kv.OpZPopMax:
		return pipe.ZPopMax(ctx, key), nil
	case kv.OpXAdd:
		return pipe.XAdd(ctx, &redis.XAddArgs{Stream: key, Values: streamValues(op.Stream)}), nil
	case kv.OpPFAdd:
		args := make([]interface{}, len(op.Strings))
		for i, e := range op.Strings {
			args[i] = e
		}
		return pipe.PFAdd(ctx, key, args...), nil
	default:
		return nil, fmt.Errorf("%w: unknown command %q", kv.ErrSyntax, op.Name)
	}
}

// result converts a finished command into the value documented on kv.Result
func result(op kv.Op, cmd redis.Cmder) (any, error) {
	switch c := cmd.(type) {
	case *redis.StatusCmd:
		return true, mapError(c.Err())
	case *redis.StringCmd:
		if op.Name == kv.OpXAdd {
			raw, err := c.Result()
			if err != nil {
				return nil, mapError(err)
			}
			return kv.ParseStreamID(raw, 0)
		}
		b, err := c.Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, mapError(err)
		}
		return b, nil
	case *redis.IntCmd:
		n, err := c.Result()
		if err != nil {
			return nil, mapError(err)
		}
		switch op.Name {
		case kv.OpPFAdd, kv.OpExpire:
			return n > 0, nil
		case kv.OpHMSet:
			return true, nil
		}
		return n, nil
	case *redis.BoolCmd:
		ok, err := c.Result()
		return ok, mapError(err)
	case *redis.ZSliceCmd:
		zs, err := c.Result()
		if err != nil {
			return nil, mapError(err)
		}
		if len(zs) == 0 {
			return nil, nil
		}
		z := fromRedisZ(zs)[0]
		return &z, nil
	default:
		return nil, fmt.Errorf("unexpected reply %T for %s", cmd, op.Name)
	}
}

// execPipeline sends every op in one round trip; each op keeps its own error
func (s *Store) execPipeline(ctx context.Context, ops []kv.Op) ([]kv.Result, error) {
	results := make([]kv.Result, len(ops))
	cmds := make([]redis.Cmder, len(ops))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, op := range ops {
			cmd, err := queue(ctx, pipe, op)
			if err != nil {
				results[i].Err = err
				continue
			}
			cmds[i] = cmd
		}
		return nil
	})
	if err != nil && IsConnectionError(err) {
		return nil, wrapConnectionError(err)
	}
	for i, op := range ops {
		results[i].Op = op.Name
		if cmds[i] == nil {
			continue
		}
		results[i].Val, results[i].Err = result(op, cmds[i])
	}
	return results, nil
}

// txBackend runs a transaction on one pinned connection: WATCH, validation
// reads, then MULTI/EXEC. Redis does not roll back a failing command inside
// EXEC, so every op is type-checked against the watched keys first; a change
// between the checks and EXEC aborts the EXEC and surfaces as ErrConflict.
type txBackend struct {
	s    *Store
	mu   sync.Mutex
	conn *redis.Conn
}

func (t *txBackend) pinned() *redis.Conn {
	if t.conn == nil {
		t.conn = t.s.client.Conn()
	}
	return t.conn
}

func (t *txBackend) releaseLocked() {
	if t.conn == nil {
		return
	}
	connDo(context.Background(), t.conn, "unwatch")
	t.conn.Close()
	t.conn = nil
}

// connDo sends a raw command on a pinned connection
func connDo(ctx context.Context, conn *redis.Conn, args ...interface{}) error {
	cmd := redis.NewCmd(ctx, args...)
	_ = conn.Process(ctx, cmd)
	return cmd.Err()
}

func watchArgs(keys []string) []interface{} {
	args := make([]interface{}, 0, len(keys)+1)
	args = append(args, "watch")
	for _, k := range keys {
		args = append(args, k)
	}
	return args
}

func (t *txBackend) Watch(ctx context.Context, keys ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return mapError(connDo(ctx, t.pinned(), watchArgs(keys)...))
}

func (t *txBackend) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.releaseLocked()
}

func (t *txBackend) Commit(ctx context.Context, ops []kv.Op) ([]kv.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.releaseLocked()

	conn := t.pinned()
	if err := validate(ctx, conn, ops); err != nil {
		return nil, err
	}

	cmds := make([]redis.Cmder, len(ops))
	_, err := conn.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, op := range ops {
			cmd, err := queue(ctx, pipe, op)
			if err != nil {
				return fmt.Errorf("command %d (%s): %w", i, op.Name, err)
			}
			cmds[i] = cmd
		}
		return nil
	})
	if errors.Is(err, redis.TxFailedErr) {
		return nil, kv.ErrConflict
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		var first error
		for i, cmd := range cmds {
			if cmd != nil && cmd.Err() != nil && !errors.Is(cmd.Err(), redis.Nil) {
				first = fmt.Errorf("command %d (%s): %w", i, ops[i].Name, mapError(cmd.Err()))
				break
			}
		}
		if first == nil {
			first = mapError(err)
		}
		return nil, first
	}

	results := make([]kv.Result, len(ops))
	for i, op := range ops {
		val, err := result(op, cmds[i])
		if err != nil {
			return nil, fmt.Errorf("command %d (%s): %w", i, op.Name, err)
		}
		results[i] = kv.Result{Op: op.Name, Val: val}
	}
	return results, nil
}

// keyState is the validator's view of one key while walking the batch
type keyState struct {
	kind kv.Kind
	raw  *string // string payload, nil when unknown or not fetched
}

// validate watches every key the batch touches, reads their types and
// replays the batch against that model so type errors surface before EXEC
func validate(ctx context.Context, conn *redis.Conn, ops []kv.Op) error {
	var keys []string
	seen := make(map[string]struct{})
	needValue := make(map[string]struct{})
	for _, op := range ops {
		for _, k := range op.Keys {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}
		if op.Name == kv.OpIncrBy || op.Name == kv.OpPFAdd {
			needValue[op.Key()] = struct{}{}
		}
	}
	if len(keys) == 0 {
		return nil
	}
	if err := connDo(ctx, conn, watchArgs(keys)...); err != nil {
		return mapError(err)
	}

	types := make(map[string]*redis.StatusCmd, len(keys))
	values := make(map[string]*redis.StringCmd, len(needValue))
	_, err := conn.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range keys {
			types[k] = pipe.Type(ctx, k)
		}
		for k := range needValue {
			values[k] = pipe.Get(ctx, k)
		}
		return nil
	})
	if err != nil && IsConnectionError(err) {
		return wrapConnectionError(err)
	}

	state := make(map[string]*keyState, len(keys))
	for _, k := range keys {
		t, err := types[k].Result()
		if err != nil {
			return mapError(err)
		}
		st := &keyState{kind: kv.Kind(t)}
		if cmd, ok := values[k]; ok && st.kind == kv.KindString {
			if raw, err := cmd.Result(); err == nil {
				st.raw = &raw
			}
		}
		state[k] = st
	}

	for i, op := range ops {
		if err := simulate(state, op); err != nil {
			return fmt.Errorf("command %d (%s): %w", i, op.Name, err)
		}
	}
	return nil
}

// simulate checks op against the modeled key state and applies its effect
func simulate(state map[string]*keyState, op kv.Op) error {
	key := op.Key()
	st := state[key]
	expect := func(kind kv.Kind) error {
		if st.kind != kv.KindNone && st.kind != kind {
			return kv.ErrWrongType
		}
		st.kind = kind
		return nil
	}

	switch op.Name {
	case kv.OpSet:
		raw := string(op.Value)
		st.kind, st.raw = kv.KindString, &raw
	case kv.OpGet:
		if st.kind != kv.KindNone && st.kind != kv.KindString {
			return kv.ErrWrongType
		}
	case kv.OpDel:
		for _, k := range op.Keys {
			state[k].kind, state[k].raw = kv.KindNone, nil
		}
	case kv.OpExpire:
		if op.TTL <= 0 {
			st.kind, st.raw = kv.KindNone, nil
		}
	case kv.OpIncrBy:
		if err := expect(kv.KindString); err != nil {
			return err
		}
		cur := int64(0)
		if st.raw != nil {
			n, err := strconv.ParseInt(*st.raw, 10, 64)
			if err != nil {
				return kv.ErrNotInteger
			}
			cur = n
		}
		next := strconv.FormatInt(cur+op.N, 10)
		st.raw = &next
	case kv.OpHSet, kv.OpHMSet:
		return expect(kv.KindHash)
	case kv.OpSAdd:
		return expect(kv.KindSet)
	case kv.OpLPush, kv.OpRPush:
		return expect(kv.KindList)
	case kv.OpLPop:
		if st.kind != kv.KindNone && st.kind != kv.KindList {
			return kv.ErrWrongType
		}
	case kv.OpZAdd:
		return expect(kv.KindZSet)
	case kv.OpZPopMax:
		if st.kind != kv.KindNone && st.kind != kv.KindZSet {
			return kv.ErrWrongType
		}
	case kv.OpXAdd:
		return expect(kv.KindStream)
	case kv.OpPFAdd:
		if st.kind == kv.KindString && st.raw != nil && !isHyperLogLog(*st.raw) {
			return kv.ErrWrongType
		}
		if err := expect(kv.KindString); err != nil {
			return err
		}
		// the payload is rewritten by PFADD; keep the header so later checks pass
		hll := "HYLL"
		st.raw = &hll
	}
	return nil
}
