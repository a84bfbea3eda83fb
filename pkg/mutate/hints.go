// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mutate

// A hint is a position in the input and a value that should be stored there
// (we call it a replacer). The hints workflow:
//  1. The fuzzer runs an input (the hint seed) collecting comparison operands.
//  2. Integers of every width and byte order in the input are matched
//     against the operands.
//  3. For every match a new input is produced with the integer replaced by
//     the other operand of the comparison.
//  4. The fuzzer runs the new inputs and checks them for new coverage.

import (
	"github.com/google/bcfuzz/pkg/hash"
)

type uint64Set map[uint64]bool

// CompMap maps an operand to the set of operands it was compared with.
type CompMap map[uint64]uint64Set

func MakeCompMap(pairs [][2]uint64) CompMap {
	m := make(CompMap)
	for _, pair := range pairs {
		m.AddComp(pair[0], pair[1])
		m.AddComp(pair[1], pair[0])
	}
	return m
}

func (m CompMap) AddComp(arg1, arg2 uint64) {
	if arg1 == arg2 || specialIntsSet[arg2] {
		// Special values are tried by the integer mutations anyway.
		return
	}
	if _, ok := m[arg1]; !ok {
		m[arg1] = make(uint64Set)
	}
	m[arg1][arg2] = true
}

// MutateWithHints calls exec for every distinct input obtained by replacing an integer
// in data that matches a comparison operand. It stops once exec returns false.
// Returns the number of exec calls.
func MutateWithHints(data []byte, comps CompMap, exec func(input []byte) bool) int {
	if len(comps) == 0 {
		return 0
	}
	seen := map[hash.Sig]bool{hash.Hash(data): true}
	calls := 0
	for _, width := range intWidths {
		for pos := 0; pos+width <= len(data); pos++ {
			for _, bigEndian := range []bool{false, true} {
				if width == 1 && bigEndian {
					continue
				}
				v := loadInt(data[pos:], width, bigEndian)
				for repl := range replacersForVal(v, width, comps) {
					mutant := append([]byte{}, data...)
					storeInt(mutant[pos:], repl, width, bigEndian)
					sig := hash.Hash(mutant)
					if seen[sig] {
						continue
					}
					seen[sig] = true
					calls++
					if !exec(mutant) {
						return calls
					}
				}
			}
		}
	}
	return calls
}

// replacersForVal returns values that should be stored instead of v.
// Besides v itself it looks up the narrower values the program might have
// compared after a truncation (shrink), and the sign-extended value after a
// widening conversion (expand).
func replacersForVal(v uint64, width int, comps CompMap) uint64Set {
	res := make(uint64Set)
	mask := widthMask(width)
	add := func(key uint64, apply func(uint64) uint64) {
		for other := range comps[key] {
			repl := apply(other) & mask
			if repl != v {
				res[repl] = true
			}
		}
	}
	add(v, func(x uint64) uint64 { return x })
	if ext := signExtend(v, width); ext != v {
		add(ext, func(x uint64) uint64 { return x })
	}
	for _, w := range intWidths {
		if w >= width {
			break
		}
		low := widthMask(w)
		add(v&low, func(x uint64) uint64 {
			return v&^low | x&low
		})
	}
	return res
}
