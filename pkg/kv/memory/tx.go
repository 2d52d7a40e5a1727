package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/arbi/kvengine/pkg/kv"
)

// apply executes one staged op against v
func apply(v view, op kv.Op) (any, error) {
	key := op.Key()
	switch op.Name {
	case kv.OpSet:
		setString(v, key, op.Value, op.TTL)
		return true, nil
	case kv.OpGet:
		b, err := getString(v, key)
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return b, nil
	case kv.OpDel:
		return del(v, op.Keys), nil
	case kv.OpExpire:
		return expire(v, key, op.TTL), nil
	case kv.OpIncrBy:
		return incrBy(v, key, op.N)
	case kv.OpHSet:
		return hset(v, key, map[string][]byte{op.Field: op.Value})
	case kv.OpHMSet:
		if _, err := hset(v, key, op.Fields); err != nil {
			return nil, err
		}
		return true, nil
	case kv.OpSAdd:
		return sadd(v, key, op.Values)
	case kv.OpLPush:
		return push(v, key, op.Values, true)
	case kv.OpRPush:
		return push(v, key, op.Values, false)
	case kv.OpLPop:
		b, ok, err := pop(v, key, true)
		if err != nil || !ok {
			return nil, err
		}
		return b, nil
	case kv.OpZAdd:
		return zadd(v, key, op.Members)
	case kv.OpZPopMax:
		z, ok, err := zpop(v, key, true)
		if err != nil || !ok {
			return nil, err
		}
		return &z, nil
	case kv.OpXAdd:
		return xadd(v, key, op.Stream)
	case kv.OpPFAdd:
		return pfadd(v, key, op.Strings)
	default:
		return nil, fmt.Errorf("%w: unknown command %q", kv.ErrSyntax, op.Name)
	}
}

func countAppends(ops []kv.Op, results []kv.Result) uint64 {
	var n uint64
	for i, op := range ops {
		if op.Name == kv.OpXAdd && results[i].Err == nil {
			n++
		}
	}
	return n
}

// txBackend commits a transaction by locking every shard it touches, checking
// watched versions and applying the ops to a copy-on-write overlay. The
// overlay is installed only when every op succeeded, so readers see either
// none or all of the batch.
type txBackend struct {
	s       *Store
	mu      sync.Mutex
	watched map[string]uint64
}

func (t *txBackend) Watch(ctx context.Context, keys ...string) error {
	unlock := t.s.lockKeys(keys)
	defer unlock()
	now := t.s.clock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.watched == nil {
		t.watched = make(map[string]uint64, len(keys))
	}
	for _, key := range keys {
		if _, ok := t.watched[key]; ok {
			continue
		}
		t.watched[key] = t.s.versionOf(key, now)
	}
	return nil
}

func (t *txBackend) Release() {
	t.mu.Lock()
	t.watched = nil
	t.mu.Unlock()
}

func (t *txBackend) Commit(ctx context.Context, ops []kv.Op) ([]kv.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	watched := t.watched
	t.watched = nil
	t.mu.Unlock()

	keys := make([]string, 0, len(ops)+len(watched))
	for _, op := range ops {
		keys = append(keys, op.Keys...)
	}
	for key := range watched {
		keys = append(keys, key)
	}

	s := t.s
	unlock := s.lockKeys(keys)
	defer unlock()

	ov := s.overlay()
	for key, version := range watched {
		if s.versionOf(key, ov.now()) != version {
			s.stats.conflicts.Add(1)
			return nil, fmt.Errorf("%w: %s", kv.ErrConflict, key)
		}
	}

	results := make([]kv.Result, len(ops))
	for i, op := range ops {
		val, err := apply(ov, op)
		if err != nil {
			return nil, fmt.Errorf("command %d (%s): %w", i, op.Name, err)
		}
		results[i] = kv.Result{Op: op.Name, Val: val}
	}
	ov.commit()
	s.stats.commits.Add(1)
	s.stats.streamAppends.Add(countAppends(ops, results))
	return results, nil
}

// execPipeline runs each op on its own; a failing op does not stop the rest
func (s *Store) execPipeline(ctx context.Context, ops []kv.Op) ([]kv.Result, error) {
	results := make([]kv.Result, len(ops))
	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var val any
		err := s.withKeys(op.Keys, func(v view) error {
			var err error
			val, err = apply(v, op)
			return err
		})
		results[i] = kv.Result{Op: op.Name, Val: val, Err: err}
	}
	s.stats.streamAppends.Add(countAppends(ops, results))
	return results, nil
}
