// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mutate

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHints(t *testing.T) {
	type Test struct {
		name  string
		in    []byte
		comps [][2]uint64
		res   []string
	}
	tests := []Test{
		{
			name:  "byte",
			in:    []byte{0x41},
			comps: [][2]uint64{{0x41, 0x5a}},
			res:   []string{"5a"},
		},
		{
			name:  "both-endianness",
			in:    []byte{0x12, 0x34},
			comps: [][2]uint64{{0x3412, 0xabcd}, {0x1234, 0x1122}},
			res:   []string{"1122", "cdab"},
		},
		{
			name:  "shrink",
			in:    []byte{0x12, 0x34, 0x56, 0x78},
			comps: [][2]uint64{{0x3412, 0x4444}},
			// The first 2 bytes are replaced both as a 16-bit and as the low half of a 32-bit value.
			res: []string{"44445678"},
		},
		{
			name:  "expand",
			in:    []byte{0xfe},
			comps: [][2]uint64{{0xfffffffffffffffe, 0xffffffffffffff00}},
			res:   []string{"00"},
		},
		{
			name:  "special-values-skipped",
			in:    []byte{0x41},
			comps: [][2]uint64{{0x41, 0}, {0x41, 0xff}},
		},
		{
			name:  "no-match",
			in:    []byte{1, 2, 3},
			comps: [][2]uint64{{0x77, 0x99}},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var got []string
			MutateWithHints(test.in, MakeCompMap(test.comps), func(input []byte) bool {
				got = append(got, fmt.Sprintf("%x", input))
				return true
			})
			sort.Strings(got)
			assert.Equal(t, test.res, got)
		})
	}
}

func TestHintsStop(t *testing.T) {
	in := []byte{1, 1, 1, 1}
	calls := 0
	n := MutateWithHints(in, MakeCompMap([][2]uint64{{1, 0x42}}), func([]byte) bool {
		calls++
		return false
	})
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, n)
}

func TestDictAddComps(t *testing.T) {
	dict := NewDict(0)
	added := dict.AddComps([][2]uint64{{0x1234, 7}, {0xdeadbeef, 0x100}})
	// 0x100 is special, 7 fits into a byte.
	assert.Equal(t, 4, added)
	assert.ElementsMatch(t, [][]byte{
		{0x34, 0x12}, {0x12, 0x34},
		{0xef, 0xbe, 0xad, 0xde}, {0xde, 0xad, 0xbe, 0xef},
	}, dict.Tokens())
}
