package memory

import (
	"context"
	"math"
	"math/bits"

	"github.com/arbi/kvengine/pkg/kv"
	"github.com/cespare/xxhash/v2"
)

const (
	hllPrecision = 14
	hllRegisters = 1 << hllPrecision
	// hllSparseLimit is the number of distinct hashes kept exactly before
	// switching to registers. Small sets therefore count without error.
	hllSparseLimit = 3000
)

// hllValue is a HyperLogLog sketch. It starts as an exact hash set and
// promotes itself to 16384 six-bit registers once it grows.
type hllValue struct {
	sparse    map[uint64]struct{}
	registers []uint8
}

func newHLLValue() *hllValue {
	return &hllValue{sparse: make(map[uint64]struct{})}
}

func (v *hllValue) kind() kv.Kind { return kv.KindHyperLogLog }

func (v *hllValue) clone() value {
	c := &hllValue{}
	if v.registers != nil {
		c.registers = make([]uint8, hllRegisters)
		copy(c.registers, v.registers)
		return c
	}
	c.sparse = make(map[uint64]struct{}, len(v.sparse))
	for h := range v.sparse {
		c.sparse[h] = struct{}{}
	}
	return c
}

func (v *hllValue) add(element string) bool {
	h := xxhash.Sum64String(element)
	if v.registers == nil {
		if _, ok := v.sparse[h]; ok {
			return false
		}
		v.sparse[h] = struct{}{}
		if len(v.sparse) > hllSparseLimit {
			v.promote()
		}
		return true
	}
	return v.observe(h)
}

func (v *hllValue) observe(h uint64) bool {
	idx := h & (hllRegisters - 1)
	rho := uint8(bits.TrailingZeros64(h>>hllPrecision|1<<(64-hllPrecision)) + 1)
	if rho > v.registers[idx] {
		v.registers[idx] = rho
		return true
	}
	return false
}

func (v *hllValue) promote() {
	v.registers = make([]uint8, hllRegisters)
	for h := range v.sparse {
		v.observe(h)
	}
	v.sparse = nil
}

// merge folds other into v
func (v *hllValue) merge(other *hllValue) {
	if v.registers == nil && other.registers == nil {
		for h := range other.sparse {
			v.sparse[h] = struct{}{}
		}
		if len(v.sparse) > hllSparseLimit {
			v.promote()
		}
		return
	}
	if v.registers == nil {
		v.promote()
	}
	if other.registers == nil {
		for h := range other.sparse {
			v.observe(h)
		}
		return
	}
	for i, r := range other.registers {
		if r > v.registers[i] {
			v.registers[i] = r
		}
	}
}

func (v *hllValue) count() int64 {
	if v.registers == nil {
		return int64(len(v.sparse))
	}
	m := float64(hllRegisters)
	alpha := 0.7213 / (1 + 1.079/m)
	var sum float64
	zeros := 0
	for _, r := range v.registers {
		sum += 1 / float64(uint64(1)<<r)
		if r == 0 {
			zeros++
		}
	}
	estimate := alpha * m * m / sum
	if estimate <= 2.5*m && zeros > 0 {
		estimate = m * math.Log(m/float64(zeros))
	}
	return int64(estimate + 0.5)
}

// pfadd reports whether the sketch changed or the key was created
func pfadd(v view, key string, elements []string) (bool, error) {
	hv, e, err := lookupAs[*hllValue](v, key)
	if err != nil {
		return false, err
	}
	changed := false
	if e == nil {
		hv = newHLLValue()
		e = &entry{value: hv}
		changed = true
	}
	for _, el := range elements {
		if hv.add(el) {
			changed = true
		}
	}
	if changed {
		v.put(key, e)
	}
	return changed, nil
}

// Cardinality estimation

func (s *Store) PFAdd(ctx context.Context, key string, elements ...string) (bool, error) {
	var changed bool
	err := s.withKey(key, func(v view) error {
		var err error
		changed, err = pfadd(v, key, elements)
		return err
	})
	return changed, err
}

// PFCount returns the approximate cardinality of the union of keys
func (s *Store) PFCount(ctx context.Context, keys ...string) (int64, error) {
	var n int64
	err := s.withKeys(keys, func(v view) error {
		union := newHLLValue()
		for _, key := range keys {
			hv, e, err := lookupAs[*hllValue](v, key)
			if err != nil {
				return err
			}
			if e != nil {
				union.merge(hv)
			}
		}
		n = union.count()
		return nil
	})
	return n, err
}

// PFMerge stores the union of dest and sources into dest
func (s *Store) PFMerge(ctx context.Context, dest string, sources ...string) error {
	keys := append([]string{dest}, sources...)
	return s.withKeys(keys, func(v view) error {
		target, e, err := lookupOrCreate(v, dest, newHLLValue)
		if err != nil {
			return err
		}
		merged := make([]*hllValue, 0, len(sources))
		for _, key := range sources {
			hv, se, err := lookupAs[*hllValue](v, key)
			if err != nil {
				return err
			}
			if se != nil {
				merged = append(merged, hv)
			}
		}
		for _, hv := range merged {
			target.merge(hv)
		}
		v.put(dest, e)
		return nil
	})
}
