package memory

import (
	"context"
	"fmt"

	"github.com/arbi/kvengine/pkg/kv"
)

func newListValue() *listValue { return &listValue{} }

// push adds values at the head (left) or tail and returns the new length.
// LPUSH a b c leaves c at the head, as in Redis.
func push(v view, key string, values [][]byte, left bool) (int64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("%w: push needs at least one value", kv.ErrSyntax)
	}
	lv, e, err := lookupOrCreate(v, key, newListValue)
	if err != nil {
		return 0, err
	}
	if left {
		items := make([][]byte, 0, len(lv.items)+len(values))
		for i := len(values) - 1; i >= 0; i-- {
			items = append(items, cloneBytes(values[i]))
		}
		lv.items = append(items, lv.items...)
	} else {
		for _, b := range values {
			lv.items = append(lv.items, cloneBytes(b))
		}
	}
	v.put(key, e)
	return int64(len(lv.items)), nil
}

func pop(v view, key string, left bool) ([]byte, bool, error) {
	lv, e, err := lookupAs[*listValue](v, key)
	if err != nil || e == nil || len(lv.items) == 0 {
		return nil, false, err
	}
	var item []byte
	if left {
		item = lv.items[0]
		lv.items[0] = nil
		lv.items = lv.items[1:]
	} else {
		last := len(lv.items) - 1
		item = lv.items[last]
		lv.items[last] = nil
		lv.items = lv.items[:last]
	}
	if len(lv.items) == 0 {
		v.remove(key)
	} else {
		v.put(key, e)
	}
	return item, true, nil
}

// normalizeRange maps inclusive, possibly negative, start/stop indexes onto
// [0, n). ok is false when the range is empty.
func normalizeRange(start, stop int64, n int) (int, int, bool) {
	size := int64(n)
	if start < 0 {
		start += size
	}
	if stop < 0 {
		stop += size
	}
	if start < 0 {
		start = 0
	}
	if stop >= size {
		stop = size - 1
	}
	if size == 0 || start > stop || start >= size {
		return 0, 0, false
	}
	return int(start), int(stop), true
}

// List operations

func (s *Store) LPush(ctx context.Context, key string, values ...[]byte) (int64, error) {
	var n int64
	err := s.withKey(key, func(v view) error {
		var err error
		n, err = push(v, key, values, true)
		return err
	})
	return n, err
}

func (s *Store) RPush(ctx context.Context, key string, values ...[]byte) (int64, error) {
	var n int64
	err := s.withKey(key, func(v view) error {
		var err error
		n, err = push(v, key, values, false)
		return err
	})
	return n, err
}

func (s *Store) LPop(ctx context.Context, key string) ([]byte, bool, error) {
	return s.pop(key, true)
}

func (s *Store) RPop(ctx context.Context, key string) ([]byte, bool, error) {
	return s.pop(key, false)
}

func (s *Store) pop(key string, left bool) ([]byte, bool, error) {
	var (
		item []byte
		ok   bool
	)
	err := s.withKey(key, func(v view) error {
		var err error
		item, ok, err = pop(v, key, left)
		return err
	})
	return item, ok, err
}

// LIndex returns the element at index; negative indexes count from the tail
func (s *Store) LIndex(ctx context.Context, key string, index int64) ([]byte, bool, error) {
	var (
		item []byte
		ok   bool
	)
	err := s.withKey(key, func(v view) error {
		lv, e, err := lookupAs[*listValue](v, key)
		if err != nil || e == nil {
			return err
		}
		n := int64(len(lv.items))
		if index < 0 {
			index += n
		}
		if index < 0 || index >= n {
			return nil
		}
		item, ok = cloneBytes(lv.items[index]), true
		return nil
	})
	return item, ok, err
}

// LRange returns elements start..stop inclusive; -1 is the last element
func (s *Store) LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	out := [][]byte{}
	err := s.withKey(key, func(v view) error {
		lv, e, err := lookupAs[*listValue](v, key)
		if err != nil || e == nil {
			return err
		}
		from, to, ok := normalizeRange(start, stop, len(lv.items))
		if !ok {
			return nil
		}
		for _, b := range lv.items[from : to+1] {
			out = append(out, cloneBytes(b))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) LLen(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.withKey(key, func(v view) error {
		lv, e, err := lookupAs[*listValue](v, key)
		if err != nil || e == nil {
			return err
		}
		n = int64(len(lv.items))
		return nil
	})
	return n, err
}
