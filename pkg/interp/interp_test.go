// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package interp

import (
	"context"
	"errors"
	"testing"

	"github.com/google/bcfuzz/pkg/bytecode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func asm(t *testing.T, text string) []byte {
	mod, err := bytecode.Assemble([]byte(text))
	require.NoError(t, err)
	return mod.Serialize()
}

type testRecorder struct {
	edges []uint32
	cmps  [][2]int64
}

func (r *testRecorder) Record(edge uint32)   { r.edges = append(r.edges, edge) }
func (r *testRecorder) RecordCmp(a, b int64) { r.cmps = append(r.cmps, [2]int64{a, b}) }

func TestCall(t *testing.T) {
	src := MapSource{
		"main": asm(t, `
module main
globals 1
method fuzz
	inlen
	jz empty
	push 0
	inbyte
	push 7
	mul
	gload 0
	add
	dup
	gstore 0
	ret
empty:
	push 2
	push 3
	invoke lib.sum 2
	ret
end
`),
		"lib": asm(t, `
module lib
method sum args=2 locals=2
	load 0
	load 1
	add
	ret
end
`),
	}
	vm := NewMachine(Config{Source: src})
	ctx := context.Background()
	res, err := vm.Call(ctx, "main", "fuzz", []byte{3}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(21), res)
	res, err = vm.Call(ctx, "main", "fuzz", []byte{3}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(42), res, "globals persist across calls")
	vm.Reset()
	res, err = vm.Call(ctx, "main", "fuzz", []byte{3}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(21), res)

	assert.Equal(t, []string{"main"}, vm.Loaded())
	res, err = vm.Call(ctx, "main", "fuzz", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res)
	assert.Equal(t, []string{"main", "lib"}, vm.Loaded())
}

func TestFaults(t *testing.T) {
	src := MapSource{
		"main": asm(t, `
module main
method fuzz
	push 0
	call check
	ret
end
method check args=1 locals=1
try:
	push 0
	inbyte
	push 0
	div
	pop
	inlen
	push 1
	gt
	jz end
	throw Boom
end:
	push 0
	ret
handler:
	push 100
	ret
	catch try end handler IndexError
end
`),
	}
	vm := NewMachine(Config{Source: src})
	ctx := context.Background()

	// IndexError is caught.
	res, err := vm.Call(ctx, "main", "fuzz", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(100), res)

	// Division by zero is not.
	_, err = vm.Call(ctx, "main", "fuzz", []byte{1}, 0)
	var fault *Fault
	require.True(t, errors.As(err, &fault), "%v", err)
	assert.Equal(t, ArithmeticError, fault.Type)
	require.Len(t, fault.Frames, 2)
	assert.Equal(t, Frame{"main", "check", 19}, fault.Frames[0])
	assert.Equal(t, "fuzz", fault.Frames[1].Method)
}

func TestThrowAndLinkage(t *testing.T) {
	src := MapSource{
		"main": asm(t, `
module main
method fuzz
	inlen
	jnz missing
	throw Boom
missing:
	invoke nosuch.method 0
	ret
end
`),
		"broken": []byte("garbage"),
	}
	vm := NewMachine(Config{Source: src})
	ctx := context.Background()
	_, err := vm.Call(ctx, "main", "fuzz", nil, 0)
	var fault *Fault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, "Boom", fault.Type)

	_, err = vm.Call(ctx, "main", "fuzz", []byte{1}, 0)
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, LinkageError, fault.Type)

	_, err = vm.Call(ctx, "broken", "fuzz", nil, 0)
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, LinkageError, fault.Type)
}

func TestStackOverflow(t *testing.T) {
	src := MapSource{
		"main": asm(t, `
module main
method fuzz
	call fuzz
	ret
end
`),
	}
	vm := NewMachine(Config{Source: src, MaxDepth: 10})
	_, err := vm.Call(context.Background(), "main", "fuzz", nil, 0)
	var fault *Fault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, StackOverflowError, fault.Type)
	assert.Len(t, fault.Frames, 10)
}

const loop = `
module main
method fuzz
loop:
	jmp loop
end
`

func TestStepBudget(t *testing.T) {
	vm := NewMachine(Config{Source: MapSource{"main": asm(t, loop)}})
	_, err := vm.Call(context.Background(), "main", "fuzz", nil, 1000)
	var intr *Interrupted
	require.True(t, errors.As(err, &intr), "%v", err)
	assert.Equal(t, "fuzz", intr.Frames[0].Method)
}

func TestContextCancel(t *testing.T) {
	vm := NewMachine(Config{Source: MapSource{"main": asm(t, loop)}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := vm.Call(ctx, "main", "fuzz", nil, 0)
	var intr *Interrupted
	require.True(t, errors.As(err, &intr), "%v", err)
}

func TestRecorder(t *testing.T) {
	src := MapSource{
		"main": asm(t, `
module main
method fuzz
	probe 3
	inlen
	push 5
	eq
	probe 4
	ret
end
`),
	}
	vm := NewMachine(Config{Source: src})
	rec := new(testRecorder)
	vm.SetRecorder(rec, true)
	_, err := vm.Call(context.Background(), "main", "fuzz", []byte{1, 2}, 0)
	require.NoError(t, err)
	assert.Equal(t, []uint32{3, 4}, rec.edges)
	assert.Equal(t, [][2]int64{{2, 5}}, rec.cmps)
}

func TestTransform(t *testing.T) {
	orig := asm(t, "module main\nmethod fuzz\n\tpush 1\n\tret\nend\n")
	repl := asm(t, "module main\nmethod fuzz\n\tpush 2\n\tret\nend\n")
	var seen []string
	vm := NewMachine(Config{
		Source: MapSource{"main": orig},
		Transform: func(name string, data []byte) []byte {
			seen = append(seen, name)
			return repl
		},
	})
	res, err := vm.Call(context.Background(), "main", "fuzz", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res)
	_, err = vm.Call(context.Background(), "main", "fuzz", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, seen)
}
