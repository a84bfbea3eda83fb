// Copyright 2018 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package signal provides types for working with feedback signal.
// Signal maps an edge to the set of hit-count buckets observed for it,
// one bit per bucket.
package signal

import (
	"math/bits"
	"slices"
)

type Signal map[uint32]uint32

type Serial struct {
	Elems []uint32
	Masks []uint32
}

func (s Signal) Len() int {
	return len(s)
}

func (s Signal) Empty() bool {
	return len(s) == 0
}

// Bits returns the total number of edge/bucket pairs.
func (s Signal) Bits() int {
	n := 0
	for _, m := range s {
		n += bits.OnesCount32(m)
	}
	return n
}

func (s Signal) Copy() Signal {
	c := make(Signal, len(s))
	for e, m := range s {
		c[e] = m
	}
	return c
}

func (s *Signal) Split(n int) Signal {
	if n >= s.Len() {
		ret := *s
		*s = nil
		return ret
	}
	c := make(Signal, n)
	for e, m := range *s {
		delete(*s, e)
		c[e] = m
		n--
		if n == 0 {
			break
		}
	}
	if len(*s) == 0 {
		*s = nil
	}
	return c
}

// FromEdges returns signal with the same mask for all edges.
func FromEdges(edges []uint32, mask uint32) Signal {
	if len(edges) == 0 {
		return nil
	}
	s := make(Signal, len(edges))
	for _, e := range edges {
		s[e] |= mask
	}
	return s
}

// Edges returns sorted edges of the signal.
func (s Signal) Edges() []uint32 {
	res := make([]uint32, 0, len(s))
	for e := range s {
		res = append(res, e)
	}
	slices.Sort(res)
	return res
}

func (s Signal) Serialize() Serial {
	if s.Empty() {
		return Serial{}
	}
	res := Serial{
		Elems: s.Edges(),
		Masks: make([]uint32, len(s)),
	}
	for i, e := range res.Elems {
		res.Masks[i] = s[e]
	}
	return res
}

func (ser Serial) Deserialize() Signal {
	if len(ser.Elems) != len(ser.Masks) {
		panic("corrupted Serial")
	}
	if len(ser.Elems) == 0 {
		return nil
	}
	s := make(Signal, len(ser.Elems))
	for i, e := range ser.Elems {
		s[e] |= ser.Masks[i]
	}
	return s
}

// Diff returns the part of s1 that is not present in s.
func (s Signal) Diff(s1 Signal) Signal {
	if s1.Empty() {
		return nil
	}
	var res Signal
	for e, m1 := range s1 {
		m1 &^= s[e]
		if m1 == 0 {
			continue
		}
		if res == nil {
			res = make(Signal)
		}
		res[e] = m1
	}
	return res
}

// Intersection returns edge/bucket pairs present in both signals.
func (s Signal) Intersection(s1 Signal) Signal {
	if s1.Empty() {
		return nil
	}
	res := make(Signal, len(s))
	for e, m := range s {
		if m &= s1[e]; m != 0 {
			res[e] = m
		}
	}
	return res
}

// IntersectsWith returns whether the signals share an edge/bucket pair.
func (s Signal) IntersectsWith(other Signal) bool {
	for e, m := range other {
		if s[e]&m != 0 {
			return true
		}
	}
	return false
}

func (s *Signal) Merge(s1 Signal) {
	if s1.Empty() {
		return
	}
	s0 := *s
	if s0 == nil {
		s0 = make(Signal, len(s1))
		*s = s0
	}
	for e, m1 := range s1 {
		s0[e] |= m1
	}
}

type Context struct {
	Signal  Signal
	Context interface{}
}

// Minimize returns a subset of contexts that covers all edge/bucket pairs
// of the corpus. For each pair the first context in the corpus order is kept,
// so callers should order the corpus by preference.
func Minimize(corpus []Context) []interface{} {
	type key struct {
		elem uint32
		bit  int
	}
	covered := make(map[key]int)
	for i, inp := range corpus {
		for e, m := range inp.Signal {
			for ; m != 0; m &= m - 1 {
				k := key{e, bits.TrailingZeros32(m)}
				if _, ok := covered[k]; !ok {
					covered[k] = i
				}
			}
		}
	}
	indices := make(map[int]struct{}, len(corpus))
	for _, idx := range covered {
		indices[idx] = struct{}{}
	}
	sorted := make([]int, 0, len(indices))
	for idx := range indices {
		sorted = append(sorted, idx)
	}
	slices.Sort(sorted)
	result := make([]interface{}, 0, len(sorted))
	for _, idx := range sorted {
		result = append(result, corpus[idx].Context)
	}
	return result
}
