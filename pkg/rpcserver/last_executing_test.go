// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package rpcserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLastExecutingEmpty(t *testing.T) {
	last := MakeLastExecuting(10, 10)
	assert.Empty(t, last.Collect())
	assert.Empty(t, last.For(3))
}

func TestLastExecuting(t *testing.T) {
	last := MakeLastExecuting(10, 3)
	last.Note(1, 0, []byte("input1"), 1)

	last.Note(2, 1, []byte("input2"), 2)
	last.Note(3, 1, []byte("input3"), 3)

	last.Note(4, 3, []byte("input4"), 4)
	last.Note(5, 3, []byte("input5"), 5)
	last.Note(6, 3, []byte("input6"), 6)

	last.Note(7, 7, []byte("input7"), 7)
	last.Note(8, 7, []byte("input8"), 8)
	last.Note(9, 7, []byte("input9"), 9)
	last.Note(10, 7, []byte("input10"), 10)
	last.Note(11, 7, []byte("input11"), 11)

	last.Note(12, 9, []byte("input12"), 12)

	last.Note(13, 8, []byte("input13"), 13)

	assert.Equal(t, []ExecRecord{
		{ID: 9, Proc: 7, Input: []byte("input9"), Time: 2},
		{ID: 10, Proc: 7, Input: []byte("input10"), Time: 1},
		{ID: 11, Proc: 7, Input: []byte("input11"), Time: 0},
	}, last.For(7))

	assert.Equal(t, []ExecRecord{
		{ID: 1, Proc: 0, Input: []byte("input1"), Time: 12},

		{ID: 2, Proc: 1, Input: []byte("input2"), Time: 11},
		{ID: 3, Proc: 1, Input: []byte("input3"), Time: 10},

		{ID: 4, Proc: 3, Input: []byte("input4"), Time: 9},
		{ID: 5, Proc: 3, Input: []byte("input5"), Time: 8},
		{ID: 6, Proc: 3, Input: []byte("input6"), Time: 7},

		{ID: 9, Proc: 7, Input: []byte("input9"), Time: 4},
		{ID: 10, Proc: 7, Input: []byte("input10"), Time: 3},
		{ID: 11, Proc: 7, Input: []byte("input11"), Time: 2},

		{ID: 12, Proc: 9, Input: []byte("input12"), Time: 1},

		{ID: 13, Proc: 8, Input: []byte("input13"), Time: 0},
	}, last.Collect())
	assert.Contains(t, string(FormatExecuting(last.For(0))), `"input1"`)
}
