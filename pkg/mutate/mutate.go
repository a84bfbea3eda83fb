// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package mutate implements byte-level input mutations, comparison hints
// and input minimization.
package mutate

import (
	"math/bits"
	"math/rand"
)

type Config struct {
	// Inputs never grow beyond MaxLen bytes.
	MaxLen int
	Dict   *Dict
}

const (
	DefaultMaxLen = 4 << 10

	MinDepth = 2
	MaxDepth = 64
	// Every stagnationStep executions without new coverage double the stacking depth.
	stagnationStep = 1000

	maxInc   = 35
	maxChunk = 32
)

// Splicer returns another input to splice with, or nil if there is none.
type Splicer func(r *rand.Rand) []byte

type Mutator struct {
	maxLen int
	dict   *Dict
	ops    []mutation
	total  int
}

type mutation struct {
	weight int
	fn     func(m *Mutator, r *randGen, data []byte, splice Splicer) ([]byte, bool)
}

func New(cfg Config) *Mutator {
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = DefaultMaxLen
	}
	if cfg.Dict == nil {
		cfg.Dict = NewDict(0)
	}
	m := &Mutator{
		maxLen: cfg.MaxLen,
		dict:   cfg.Dict,
		ops: []mutation{
			{10, flipBit},
			{10, randomByte},
			{6, insertBytes},
			{6, removeBytes},
			{2, appendBytes},
			{3, duplicateRange},
			{3, overwriteRange},
			{3, spliceInput},
			{8, arithInt},
			{6, interestingInt},
			{3, insertToken},
			{3, overwriteToken},
		},
	}
	for _, op := range m.ops {
		m.total += op.weight
	}
	return m
}

func (m *Mutator) Dict() *Dict {
	return m.dict
}

func (m *Mutator) MaxLen() int {
	return m.maxLen
}

// StackDepth returns the maximum number of stacked mutations
// after the given number of executions without new coverage.
func StackDepth(stagnation int64) int {
	if stagnation < stagnationStep {
		return MinDepth
	}
	return min(MinDepth<<bits.Len64(uint64(stagnation/stagnationStep)), MaxDepth)
}

// Mutate returns a mutated copy of data with 1 to depth stacked mutations.
// splice may be nil.
func (m *Mutator) Mutate(rnd *rand.Rand, data []byte, depth int, splice Splicer) []byte {
	r := &randGen{rnd}
	data = append(make([]byte, 0, len(data)+maxChunk), data...)
	if len(data) > m.maxLen {
		data = data[:m.maxLen]
	}
	n := 1 + r.Intn(max(depth, 1))
	for applied, tries := 0, 0; applied < n && tries < 16*n; tries++ {
		var ok bool
		data, ok = m.choose(r).fn(m, r, data, splice)
		if ok {
			applied++
		}
	}
	return data
}

func (m *Mutator) choose(r *randGen) mutation {
	v := r.Intn(m.total)
	for _, op := range m.ops {
		if v < op.weight {
			return op
		}
		v -= op.weight
	}
	panic("unreachable")
}

func (m *Mutator) room(data []byte) int {
	return m.maxLen - len(data)
}

func flipBit(m *Mutator, r *randGen, data []byte, splice Splicer) ([]byte, bool) {
	if len(data) == 0 {
		return data, false
	}
	data[r.Intn(len(data))] ^= 1 << uint(r.Intn(8))
	return data, true
}

func randomByte(m *Mutator, r *randGen, data []byte, splice Splicer) ([]byte, bool) {
	if len(data) == 0 {
		return data, false
	}
	pos := r.Intn(len(data))
	// Xor with a non-zero value, so that the byte always changes.
	data[pos] ^= byte(r.Intn(255) + 1)
	return data, true
}

func insertBytes(m *Mutator, r *randGen, data []byte, splice Splicer) ([]byte, bool) {
	n := min(r.Intn(maxChunk)+1, m.room(data))
	if n <= 0 {
		return data, false
	}
	pos := r.Intn(len(data) + 1)
	data = insertAt(data, pos, n)
	if r.bin() {
		b := byte(r.Int31())
		for i := 0; i < n; i++ {
			data[pos+i] = b
		}
	} else {
		for i := 0; i < n; i++ {
			data[pos+i] = byte(r.Int31())
		}
	}
	return data, true
}

func removeBytes(m *Mutator, r *randGen, data []byte, splice Splicer) ([]byte, bool) {
	if len(data) == 0 {
		return data, false
	}
	n := min(r.Intn(maxChunk)+1, len(data))
	pos := r.Intn(len(data) - n + 1)
	return append(data[:pos], data[pos+n:]...), true
}

// Append a bunch of bytes.
func appendBytes(m *Mutator, r *randGen, data []byte, splice Splicer) ([]byte, bool) {
	if m.room(data) <= 0 {
		return data, false
	}
	const maxAppend = 256
	n := min(maxAppend-r.biasedRand(maxAppend, 10), m.room(data))
	for i := 0; i < n; i++ {
		data = append(data, byte(r.rand(256)))
	}
	return data, true
}

func duplicateRange(m *Mutator, r *randGen, data []byte, splice Splicer) ([]byte, bool) {
	if len(data) == 0 || m.room(data) <= 0 {
		return data, false
	}
	n := min(r.Intn(maxChunk)+1, len(data), m.room(data))
	src := r.Intn(len(data) - n + 1)
	chunk := append([]byte{}, data[src:src+n]...)
	dst := r.Intn(len(data) + 1)
	data = insertAt(data, dst, n)
	copy(data[dst:], chunk)
	return data, true
}

func overwriteRange(m *Mutator, r *randGen, data []byte, splice Splicer) ([]byte, bool) {
	if len(data) < 2 {
		return data, false
	}
	n := min(r.Intn(maxChunk)+1, len(data)-1)
	src := r.Intn(len(data) - n + 1)
	dst := r.Intn(len(data) - n + 1)
	if src == dst {
		return data, false
	}
	copy(data[dst:dst+n], data[src:src+n])
	return data, true
}

// spliceInput joins a prefix of data with a suffix of another input.
func spliceInput(m *Mutator, r *randGen, data []byte, splice Splicer) ([]byte, bool) {
	if splice == nil {
		return data, false
	}
	other := splice(r.Rand)
	if len(other) == 0 {
		return data, false
	}
	head := r.Intn(len(data) + 1)
	tail := r.Intn(len(other))
	res := append(data[:head], other[tail:]...)
	if len(res) > m.maxLen {
		res = res[:m.maxLen]
	}
	return res, true
}

// Add/subtract a small delta to an int8/int16/int32/int64 of either endianness.
func arithInt(m *Mutator, r *randGen, data []byte, splice Splicer) ([]byte, bool) {
	width := intWidths[r.Intn(len(intWidths))]
	if len(data) < width {
		return data, false
	}
	pos := r.Intn(len(data) - width + 1)
	bigEndian := width > 1 && r.oneOf(3)
	v := loadInt(data[pos:], width, bigEndian)
	delta := r.rand(2*maxInc+1) - maxInc
	if delta == 0 {
		delta = 1
	}
	storeInt(data[pos:], v+delta, width, bigEndian)
	return data, true
}

// Set an int8/int16/int32/int64 to an interesting value.
func interestingInt(m *Mutator, r *randGen, data []byte, splice Splicer) ([]byte, bool) {
	width := intWidths[r.Intn(len(intWidths))]
	if len(data) < width {
		return data, false
	}
	pos := r.Intn(len(data) - width + 1)
	var v uint64
	if r.bin() {
		v = specialInts[r.Intn(specialIntIndex[width])]
	} else {
		v = r.randInt(uint64(8 * width))
	}
	storeInt(data[pos:], v, width, width > 1 && r.bin())
	return data, true
}

func insertToken(m *Mutator, r *randGen, data []byte, splice Splicer) ([]byte, bool) {
	tok := m.dict.random(r.Rand)
	if tok == nil || len(tok) > m.room(data) {
		return data, false
	}
	pos := r.Intn(len(data) + 1)
	data = insertAt(data, pos, len(tok))
	copy(data[pos:], tok)
	return data, true
}

func overwriteToken(m *Mutator, r *randGen, data []byte, splice Splicer) ([]byte, bool) {
	tok := m.dict.random(r.Rand)
	if tok == nil || len(tok) > len(data) {
		return data, false
	}
	pos := r.Intn(len(data) - len(tok) + 1)
	copy(data[pos:], tok)
	return data, true
}

// insertAt makes room for n bytes at pos.
func insertAt(data []byte, pos, n int) []byte {
	for i := 0; i < n; i++ {
		data = append(data, 0)
	}
	copy(data[pos+n:], data[pos:])
	return data
}
