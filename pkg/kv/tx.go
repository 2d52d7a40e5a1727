package kv

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// OpName identifies a staged command
type OpName string

const (
	OpSet     OpName = "set"
	OpGet     OpName = "get"
	OpDel     OpName = "del"
	OpExpire  OpName = "expire"
	OpIncrBy  OpName = "incrby"
	OpHSet    OpName = "hset"
	OpHMSet   OpName = "hmset"
	OpSAdd    OpName = "sadd"
	OpLPush   OpName = "lpush"
	OpRPush   OpName = "rpush"
	OpLPop    OpName = "lpop"
	OpZAdd    OpName = "zadd"
	OpZPopMax OpName = "zpopmax"
	OpXAdd    OpName = "xadd"
	OpPFAdd   OpName = "pfadd"
)

// Op is a validated, not yet executed command. Only the fields relevant to
// Name are populated.
type Op struct {
	Name    OpName
	Keys    []string
	Field   string
	Value   []byte
	Values  [][]byte
	Fields  map[string][]byte
	Members []Z
	Stream  []Field
	Strings []string
	TTL     time.Duration
	N       int64
}

// Key returns the first key the op touches
func (o Op) Key() string {
	return o.Keys[0]
}

// Result is the outcome of one staged command.
//
//	set, hmset         -> bool (true)
//	get, lpop          -> []byte, nil when absent/empty
//	del, incrby, hset,
//	sadd, lpush, rpush,
//	zadd               -> int64
//	expire, pfadd      -> bool
//	zpopmax            -> *Z, nil when empty
//	xadd               -> StreamID
type Result struct {
	Op  OpName
	Val any
	Err error
}

// batch validates and queues commands. It is shared by Tx and Pipeline.
type batch struct {
	ops []Op
}

func checkKeys(keys ...string) error {
	if len(keys) == 0 {
		return fmt.Errorf("%w: at least one key is required", ErrSyntax)
	}
	for _, k := range keys {
		if k == "" {
			return fmt.Errorf("%w: empty key", ErrSyntax)
		}
	}
	return nil
}

func (b *batch) stage(op Op) error {
	if err := checkKeys(op.Keys...); err != nil {
		return err
	}
	switch op.Name {
	case OpSet, OpExpire:
		if op.TTL < 0 {
			return fmt.Errorf("%w: negative ttl", ErrSyntax)
		}
	case OpHSet:
		if op.Field == "" {
			return fmt.Errorf("%w: empty hash field", ErrSyntax)
		}
	case OpHMSet:
		if len(op.Fields) == 0 {
			return fmt.Errorf("%w: hmset needs at least one field", ErrSyntax)
		}
	case OpSAdd, OpLPush, OpRPush:
		if len(op.Values) == 0 {
			return fmt.Errorf("%w: %s needs at least one value", ErrSyntax, op.Name)
		}
	case OpZAdd:
		if len(op.Members) == 0 {
			return fmt.Errorf("%w: zadd needs at least one member", ErrSyntax)
		}
		for _, z := range op.Members {
			if math.IsNaN(z.Score) {
				return fmt.Errorf("%w: score is not a number", ErrSyntax)
			}
		}
	case OpXAdd:
		if len(op.Stream) == 0 {
			return fmt.Errorf("%w: xadd needs at least one field", ErrSyntax)
		}
	case OpPFAdd:
		if len(op.Strings) == 0 {
			return fmt.Errorf("%w: pfadd needs at least one element", ErrSyntax)
		}
	}
	b.ops = append(b.ops, op)
	return nil
}

func (b *batch) set(key string, value []byte, ttl time.Duration) error {
	return b.stage(Op{Name: OpSet, Keys: []string{key}, Value: value, TTL: ttl})
}

func (b *batch) get(key string) error {
	return b.stage(Op{Name: OpGet, Keys: []string{key}})
}

func (b *batch) del(keys ...string) error {
	return b.stage(Op{Name: OpDel, Keys: keys})
}

func (b *batch) expire(key string, ttl time.Duration) error {
	return b.stage(Op{Name: OpExpire, Keys: []string{key}, TTL: ttl})
}

func (b *batch) incrBy(key string, n int64) error {
	return b.stage(Op{Name: OpIncrBy, Keys: []string{key}, N: n})
}

func (b *batch) hset(key, field string, value []byte) error {
	return b.stage(Op{Name: OpHSet, Keys: []string{key}, Field: field, Value: value})
}

func (b *batch) hmset(key string, fields map[string][]byte) error {
	return b.stage(Op{Name: OpHMSet, Keys: []string{key}, Fields: fields})
}

func (b *batch) sadd(key string, members ...[]byte) error {
	return b.stage(Op{Name: OpSAdd, Keys: []string{key}, Values: members})
}

func (b *batch) lpush(key string, values ...[]byte) error {
	return b.stage(Op{Name: OpLPush, Keys: []string{key}, Values: values})
}

func (b *batch) rpush(key string, values ...[]byte) error {
	return b.stage(Op{Name: OpRPush, Keys: []string{key}, Values: values})
}

func (b *batch) lpop(key string) error {
	return b.stage(Op{Name: OpLPop, Keys: []string{key}})
}

func (b *batch) zadd(key string, members ...Z) error {
	return b.stage(Op{Name: OpZAdd, Keys: []string{key}, Members: members})
}

func (b *batch) zpopmax(key string) error {
	return b.stage(Op{Name: OpZPopMax, Keys: []string{key}})
}

func (b *batch) xadd(key string, fields []Field) error {
	return b.stage(Op{Name: OpXAdd, Keys: []string{key}, Stream: fields})
}

func (b *batch) pfadd(key string, elements ...string) error {
	return b.stage(Op{Name: OpPFAdd, Keys: []string{key}, Strings: elements})
}

// TxState is the lifecycle position of a transaction
type TxState int

const (
	TxIdle TxState = iota
	TxStaging
	TxCommitted
	TxAborted
)

func (s TxState) String() string {
	switch s {
	case TxIdle:
		return "idle"
	case TxStaging:
		return "staging"
	case TxCommitted:
		return "committed"
	case TxAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// TxBackend applies a transaction for a concrete store
type TxBackend interface {
	// Watch records the current version of keys for optimistic conflict detection
	Watch(ctx context.Context, keys ...string) error
	// Commit applies ops atomically: all become visible or none do
	Commit(ctx context.Context, ops []Op) ([]Result, error)
	// Release drops any watch state without applying anything
	Release()
}

// Tx is a one-shot transaction coordinator.
// Idle -> Staging (Begin) -> Committed (Exec) | Aborted (Discard).
type Tx struct {
	mu      sync.Mutex
	state   TxState
	batch   batch
	backend TxBackend
}

// NewTx creates an idle transaction over backend
func NewTx(backend TxBackend) *Tx {
	return &Tx{backend: backend}
}

// State returns the current lifecycle state
func (t *Tx) State() TxState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Watch marks keys for conflict detection. It is only valid before Begin.
func (t *Tx) Watch(ctx context.Context, keys ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TxIdle {
		return fmt.Errorf("%w: watch inside %s transaction", ErrInvalidState, t.state)
	}
	if err := checkKeys(keys...); err != nil {
		return err
	}
	return t.backend.Watch(ctx, keys...)
}

// Begin starts staging. Nested Begin fails with ErrInvalidState.
func (t *Tx) Begin() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TxIdle {
		return fmt.Errorf("%w: begin while %s", ErrInvalidState, t.state)
	}
	t.state = TxStaging
	return nil
}

// Exec commits every staged command atomically and returns their results in order
func (t *Tx) Exec(ctx context.Context) ([]Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TxStaging {
		return nil, fmt.Errorf("%w: exec while %s", ErrInvalidState, t.state)
	}
	results, err := t.backend.Commit(ctx, t.batch.ops)
	t.batch.ops = nil
	if err != nil {
		t.state = TxAborted
		return nil, err
	}
	t.state = TxCommitted
	return results, nil
}

// Discard drops the staged commands without touching the store
func (t *Tx) Discard() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TxIdle && t.state != TxStaging {
		return fmt.Errorf("%w: discard while %s", ErrInvalidState, t.state)
	}
	t.batch.ops = nil
	t.state = TxAborted
	t.backend.Release()
	return nil
}

func (t *Tx) stage(fn func(b *batch) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TxStaging {
		return fmt.Errorf("%w: command outside staging (state %s)", ErrInvalidState, t.state)
	}
	return fn(&t.batch)
}

func (t *Tx) Set(key string, value []byte, ttl time.Duration) error {
	return t.stage(func(b *batch) error { return b.set(key, value, ttl) })
}

func (t *Tx) Get(key string) error {
	return t.stage(func(b *batch) error { return b.get(key) })
}

func (t *Tx) Del(keys ...string) error {
	return t.stage(func(b *batch) error { return b.del(keys...) })
}

func (t *Tx) Expire(key string, ttl time.Duration) error {
	return t.stage(func(b *batch) error { return b.expire(key, ttl) })
}

func (t *Tx) IncrBy(key string, n int64) error {
	return t.stage(func(b *batch) error { return b.incrBy(key, n) })
}

func (t *Tx) HSet(key, field string, value []byte) error {
	return t.stage(func(b *batch) error { return b.hset(key, field, value) })
}

func (t *Tx) HMSet(key string, fields map[string][]byte) error {
	return t.stage(func(b *batch) error { return b.hmset(key, fields) })
}

func (t *Tx) SAdd(key string, members ...[]byte) error {
	return t.stage(func(b *batch) error { return b.sadd(key, members...) })
}

func (t *Tx) LPush(key string, values ...[]byte) error {
	return t.stage(func(b *batch) error { return b.lpush(key, values...) })
}

func (t *Tx) RPush(key string, values ...[]byte) error {
	return t.stage(func(b *batch) error { return b.rpush(key, values...) })
}

func (t *Tx) LPop(key string) error {
	return t.stage(func(b *batch) error { return b.lpop(key) })
}

func (t *Tx) ZAdd(key string, members ...Z) error {
	return t.stage(func(b *batch) error { return b.zadd(key, members...) })
}

func (t *Tx) ZPopMax(key string) error {
	return t.stage(func(b *batch) error { return b.zpopmax(key) })
}

func (t *Tx) XAdd(key string, fields []Field) error {
	return t.stage(func(b *batch) error { return b.xadd(key, fields) })
}

func (t *Tx) PFAdd(key string, elements ...string) error {
	return t.stage(func(b *batch) error { return b.pfadd(key, elements...) })
}

// PipelineExecutor runs ops one by one, collecting a result per op
type PipelineExecutor func(ctx context.Context, ops []Op) ([]Result, error)

// Pipeline batches commands without atomicity; every command reports its own
// result and error.
type Pipeline struct {
	mu    sync.Mutex
	batch batch
	exec  PipelineExecutor
}

// NewPipeline creates a pipeline that flushes through exec
func NewPipeline(exec PipelineExecutor) *Pipeline {
	return &Pipeline{exec: exec}
}

// Len returns the number of queued commands
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.batch.ops)
}

// Exec flushes the queued commands. The pipeline can be reused afterwards.
func (p *Pipeline) Exec(ctx context.Context) ([]Result, error) {
	p.mu.Lock()
	ops := p.batch.ops
	p.batch.ops = nil
	p.mu.Unlock()
	if len(ops) == 0 {
		return []Result{}, nil
	}
	return p.exec(ctx, ops)
}

func (p *Pipeline) stage(fn func(b *batch) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fn(&p.batch)
}

func (p *Pipeline) Set(key string, value []byte, ttl time.Duration) error {
	return p.stage(func(b *batch) error { return b.set(key, value, ttl) })
}

func (p *Pipeline) Get(key string) error {
	return p.stage(func(b *batch) error { return b.get(key) })
}

func (p *Pipeline) Del(keys ...string) error {
	return p.stage(func(b *batch) error { return b.del(keys...) })
}

func (p *Pipeline) Expire(key string, ttl time.Duration) error {
	return p.stage(func(b *batch) error { return b.expire(key, ttl) })
}

func (p *Pipeline) IncrBy(key string, n int64) error {
	return p.stage(func(b *batch) error { return b.incrBy(key, n) })
}

func (p *Pipeline) HSet(key, field string, value []byte) error {
	return p.stage(func(b *batch) error { return b.hset(key, field, value) })
}

func (p *Pipeline) HMSet(key string, fields map[string][]byte) error {
	return p.stage(func(b *batch) error { return b.hmset(key, fields) })
}

func (p *Pipeline) SAdd(key string, members ...[]byte) error {
	return p.stage(func(b *batch) error { return b.sadd(key, members...) })
}

func (p *Pipeline) LPush(key string, values ...[]byte) error {
	return p.stage(func(b *batch) error { return b.lpush(key, values...) })
}

func (p *Pipeline) RPush(key string, values ...[]byte) error {
	return p.stage(func(b *batch) error { return b.rpush(key, values...) })
}

func (p *Pipeline) LPop(key string) error {
	return p.stage(func(b *batch) error { return b.lpop(key) })
}

func (p *Pipeline) ZAdd(key string, members ...Z) error {
	return p.stage(func(b *batch) error { return b.zadd(key, members...) })
}

func (p *Pipeline) ZPopMax(key string) error {
	return p.stage(func(b *batch) error { return b.zpopmax(key) })
}

func (p *Pipeline) XAdd(key string, fields []Field) error {
	return p.stage(func(b *batch) error { return b.xadd(key, fields) })
}

func (p *Pipeline) PFAdd(key string, elements ...string) error {
	return p.stage(func(b *batch) error { return b.pfadd(key, elements...) })
}
