package memory

import (
	"context"
	"fmt"

	"github.com/arbi/kvengine/pkg/kv"
)

// hset writes fields and returns how many were newly created
func hset(v view, key string, fields map[string][]byte) (int64, error) {
	if len(fields) == 0 {
		return 0, fmt.Errorf("%w: hset needs at least one field", kv.ErrSyntax)
	}
	hv, e, err := lookupOrCreate(v, key, newHashValue)
	if err != nil {
		return 0, err
	}
	var created int64
	for f, b := range fields {
		if _, ok := hv.fields[f]; !ok {
			created++
		}
		hv.fields[f] = cloneBytes(b)
	}
	v.put(key, e)
	return created, nil
}

// Hash operations

func (s *Store) HSet(ctx context.Context, key string, field string, value []byte) error {
	return s.withKey(key, func(v view) error {
		_, err := hset(v, key, map[string][]byte{field: value})
		return err
	})
}

func (s *Store) HMSet(ctx context.Context, key string, fields map[string][]byte) error {
	return s.withKey(key, func(v view) error {
		_, err := hset(v, key, fields)
		return err
	})
}

func (s *Store) HGet(ctx context.Context, key string, field string) ([]byte, error) {
	var out []byte
	err := s.withKey(key, func(v view) error {
		hv, e, err := lookupAs[*hashValue](v, key)
		if err != nil {
			return err
		}
		if e == nil {
			return kv.ErrNotFound
		}
		b, ok := hv.fields[field]
		if !ok {
			return kv.ErrNotFound
		}
		out = cloneBytes(b)
		return nil
	})
	return out, err
}

func (s *Store) HExists(ctx context.Context, key string, field string) (bool, error) {
	var ok bool
	err := s.withKey(key, func(v view) error {
		hv, e, err := lookupAs[*hashValue](v, key)
		if err != nil || e == nil {
			return err
		}
		_, ok = hv.fields[field]
		return nil
	})
	return ok, err
}

func (s *Store) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	var n int64
	err := s.withKey(key, func(v view) error {
		hv, e, err := lookupAs[*hashValue](v, key)
		if err != nil || e == nil {
			return err
		}
		for _, f := range fields {
			if _, ok := hv.fields[f]; ok {
				delete(hv.fields, f)
				n++
			}
		}
		if len(hv.fields) == 0 {
			v.remove(key)
		} else if n > 0 {
			v.put(key, e)
		}
		return nil
	})
	return n, err
}

// HGetAll returns every field; an absent key yields an empty map
func (s *Store) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := s.withKey(key, func(v view) error {
		hv, e, err := lookupAs[*hashValue](v, key)
		if err != nil || e == nil {
			return err
		}
		for f, b := range hv.fields {
			out[f] = cloneBytes(b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) HLen(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.withKey(key, func(v view) error {
		hv, e, err := lookupAs[*hashValue](v, key)
		if err != nil || e == nil {
			return err
		}
		n = int64(len(hv.fields))
		return nil
	})
	return n, err
}
