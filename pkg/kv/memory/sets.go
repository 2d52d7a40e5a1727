package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/arbi/kvengine/pkg/kv"
)

func sadd(v view, key string, members [][]byte) (int64, error) {
	if len(members) == 0 {
		return 0, fmt.Errorf("%w: sadd needs at least one member", kv.ErrSyntax)
	}
	sv, e, err := lookupOrCreate(v, key, newSetValue)
	if err != nil {
		return 0, err
	}
	var added int64
	for _, m := range members {
		if _, ok := sv.members[string(m)]; !ok {
			sv.members[string(m)] = struct{}{}
			added++
		}
	}
	v.put(key, e)
	return added, nil
}

// Set operations

func (s *Store) SAdd(ctx context.Context, key string, members ...[]byte) (int64, error) {
	var n int64
	err := s.withKey(key, func(v view) error {
		var err error
		n, err = sadd(v, key, members)
		return err
	})
	return n, err
}

func (s *Store) SRem(ctx context.Context, key string, members ...[]byte) (int64, error) {
	var n int64
	err := s.withKey(key, func(v view) error {
		sv, e, err := lookupAs[*setValue](v, key)
		if err != nil || e == nil {
			return err
		}
		for _, m := range members {
			if _, ok := sv.members[string(m)]; ok {
				delete(sv.members, string(m))
				n++
			}
		}
		if len(sv.members) == 0 {
			v.remove(key)
		} else if n > 0 {
			v.put(key, e)
		}
		return nil
	})
	return n, err
}

// SMembers returns the members sorted bytewise; sets carry no order of their own
func (s *Store) SMembers(ctx context.Context, key string) ([][]byte, error) {
	out := [][]byte{}
	err := s.withKey(key, func(v view) error {
		sv, e, err := lookupAs[*setValue](v, key)
		if err != nil || e == nil {
			return err
		}
		names := make([]string, 0, len(sv.members))
		for m := range sv.members {
			names = append(names, m)
		}
		sort.Strings(names)
		for _, m := range names {
			out = append(out, []byte(m))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) SIsMember(ctx context.Context, key string, member []byte) (bool, error) {
	var ok bool
	err := s.withKey(key, func(v view) error {
		sv, e, err := lookupAs[*setValue](v, key)
		if err != nil || e == nil {
			return err
		}
		_, ok = sv.members[string(member)]
		return nil
	})
	return ok, err
}

func (s *Store) SCard(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.withKey(key, func(v view) error {
		sv, e, err := lookupAs[*setValue](v, key)
		if err != nil || e == nil {
			return err
		}
		n = int64(len(sv.members))
		return nil
	})
	return n, err
}
