// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/bcfuzz/pkg/bytecode"
	"github.com/google/bcfuzz/pkg/cover"
	"github.com/google/bcfuzz/pkg/flatrpc"
	"github.com/google/bcfuzz/pkg/interp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The global detects state leaking from a previous execution.
const targetText = `
module target
globals 1
method fuzz
	gload 0
	jnz leaked
	push 1
	gstore 0
	inlen
	jz done
	push 0
	inbyte
	push 104 ; 'h'
	eq
	jnz hang
	push 0
	inbyte
	push 102 ; 'f'
	eq
	jnz fault
done:
	push 0
	ret
hang:
	jmp hang
fault:
	push 100
	inbyte
	ret
leaked:
	throw StateError
end
`

func testTarget(t *testing.T, maxSteps int64) *VMTarget {
	mod, err := bytecode.Assemble([]byte(targetText))
	require.NoError(t, err)
	target, err := NewVMTarget(VMConfig{
		Source: interp.MapSource{
			"target": mod.Serialize(),
			"broken": []byte("garbage"),
		},
		Entry:    "target.fuzz",
		MaxSteps: maxSteps,
		Logf: func(level int, msg string, args ...any) {
			t.Logf(msg, args...)
		},
	})
	require.NoError(t, err)
	return target
}

func testCoordinator(t *testing.T, maxSteps int64) *Coordinator {
	target := testTarget(t, maxSteps)
	return NewCoordinator(target, target.Recorder(), Config{Grace: time.Second})
}

func TestRunSuccess(t *testing.T) {
	coord := testCoordinator(t, 0)
	assert.Equal(t, []string{"broken"}, coord.Blind())
	assert.NotZero(t, coord.Edges())
	for i := 0; i < 3; i++ {
		res := coord.Run(context.Background(), []byte("x"), time.Second, 0)
		require.Equal(t, flatrpc.ExecStatusSuccess, res.Status, res.FaultDetail)
		assert.NotEmpty(t, res.Edges)
		assert.Len(t, res.Counts, len(res.Edges))
		assert.Equal(t, int32(coord.Edges()), res.TotalEdges)
		assert.Empty(t, res.FaultSignature)
		if i == 0 {
			assert.Equal(t, []string{"broken"}, res.Blind)
		} else {
			assert.Empty(t, res.Blind)
		}
	}
	empty := coord.Run(context.Background(), nil, time.Second, 0)
	require.Equal(t, flatrpc.ExecStatusSuccess, empty.Status)
	assert.NotEqual(t, empty.Edges, coord.Run(context.Background(), []byte("x"), time.Second, 0).Edges)
}

func TestRunFault(t *testing.T) {
	coord := testCoordinator(t, 0)
	res1 := coord.Run(context.Background(), []byte("f"), time.Second, 0)
	require.Equal(t, flatrpc.ExecStatusFault, res1.Status)
	assert.Equal(t, interp.IndexError, res1.FaultCategory)
	assert.NotEmpty(t, res1.FaultSignature)
	assert.NotEmpty(t, res1.FaultDetail)
	// Coverage up to the fault is reported.
	assert.NotEmpty(t, res1.Edges)

	res2 := coord.Run(context.Background(), []byte("fxyz"), time.Second, 0)
	require.Equal(t, flatrpc.ExecStatusFault, res2.Status)
	assert.Equal(t, res1.FaultSignature, res2.FaultSignature)
}

func TestTimeoutThenSuccess(t *testing.T) {
	coord := testCoordinator(t, 0)
	start := time.Now()
	res := coord.Run(context.Background(), []byte("h"), 50*time.Millisecond, 0)
	require.Equal(t, flatrpc.ExecStatusTimeout, res.Status)
	assert.Equal(t, CategoryHang, res.FaultCategory)
	assert.NotEmpty(t, res.FaultSignature)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, coord.Fatal())

	res2 := coord.Run(context.Background(), []byte("h"), 50*time.Millisecond, 0)
	assert.Equal(t, res.FaultSignature, res2.FaultSignature)

	// The coordinator stays usable.
	res = coord.Run(context.Background(), []byte("x"), time.Second, 0)
	require.Equal(t, flatrpc.ExecStatusSuccess, res.Status, res.FaultDetail)
	assert.NotEmpty(t, res.Edges)
}

func TestCancelled(t *testing.T) {
	coord := testCoordinator(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	res := coord.Run(ctx, []byte("h"), time.Minute, 0)
	require.Equal(t, flatrpc.ExecStatusCancelled, res.Status)
	assert.Empty(t, res.FaultCategory)
	assert.Empty(t, res.FaultSignature)
	assert.False(t, coord.Fatal())

	res = coord.Run(context.Background(), []byte("x"), time.Second, 0)
	require.Equal(t, flatrpc.ExecStatusSuccess, res.Status, res.FaultDetail)
}

func TestStepBudget(t *testing.T) {
	coord := testCoordinator(t, 10000)
	start := time.Now()
	res := coord.Run(context.Background(), []byte("h"), time.Minute, 0)
	require.Equal(t, flatrpc.ExecStatusTimeout, res.Status)
	assert.Equal(t, CategoryHang, res.FaultCategory)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestFatal(t *testing.T) {
	unblock := make(chan struct{})
	defer close(unblock)
	target := FuncTarget(func(ctx context.Context, input []byte) error {
		if len(input) != 0 {
			// Ignores ctx, so the coordinator can't reclaim control.
			<-unblock
		}
		return nil
	})
	coord := NewCoordinator(target, cover.NewRecorder(0), Config{Grace: 50 * time.Millisecond})
	res := coord.Run(context.Background(), nil, 10*time.Millisecond, 0)
	require.Equal(t, flatrpc.ExecStatusSuccess, res.Status)

	res = coord.Run(context.Background(), []byte("x"), 10*time.Millisecond, 0)
	require.Equal(t, flatrpc.ExecStatusFatal, res.Status)
	assert.Equal(t, CategoryHang, res.FaultCategory)
	assert.True(t, coord.Fatal())

	// No further work is accepted.
	res = coord.Run(context.Background(), nil, 10*time.Millisecond, 0)
	assert.Equal(t, flatrpc.ExecStatusFatal, res.Status)
}

func TestPanic(t *testing.T) {
	target := FuncTarget(func(ctx context.Context, input []byte) error {
		if len(input) > 2 {
			panic("boom")
		}
		return errors.New("plain error")
	})
	coord := NewCoordinator(target, cover.NewRecorder(0), Config{})
	res := coord.Run(context.Background(), []byte("abc"), time.Second, 0)
	require.Equal(t, flatrpc.ExecStatusFault, res.Status)
	assert.Equal(t, CategoryPanic, res.FaultCategory)
	assert.Equal(t, "boom", res.FaultDetail)

	res = coord.Run(context.Background(), nil, time.Second, 0)
	require.Equal(t, flatrpc.ExecStatusFault, res.Status)
	assert.Equal(t, CategoryError, res.FaultCategory)
	assert.Equal(t, "plain error", res.FaultDetail)
}

func TestComps(t *testing.T) {
	coord := testCoordinator(t, 0)
	res := coord.Run(context.Background(), []byte("x"), time.Second, flatrpc.ExecFlagCollectComps)
	require.Equal(t, flatrpc.ExecStatusSuccess, res.Status)
	pairs := res.CompPairs()
	assert.True(t, containsPair(pairs, 'x', 'h'), "%v", pairs)
	assert.True(t, containsPair(pairs, 'x', 'f'), "%v", pairs)

	res = coord.Run(context.Background(), []byte("x"), time.Second, 0)
	assert.Empty(t, res.Comps)
}

func containsPair(pairs [][2]uint64, a, b uint64) bool {
	for _, p := range pairs {
		if p == [2]uint64{a, b} || p == [2]uint64{b, a} {
			return true
		}
	}
	return false
}

func TestSignature(t *testing.T) {
	frames := []interp.Frame{{Module: "m", Method: "a", PC: 1}, {Module: "m", Method: "b", PC: 2}, {Module: "m", Method: "c", PC: 3}}
	sig := Classify(&interp.Fault{Type: "T", Frames: frames}, false, 2).Signature
	// Frames beyond the limit do not matter.
	assert.Equal(t, sig, Classify(&interp.Fault{Type: "T", Frames: append(frames[:2:2],
		interp.Frame{Module: "x", Method: "y", PC: 9})}, false, 2).Signature)
	assert.NotEqual(t, sig, Classify(&interp.Fault{Type: "U", Frames: frames}, false, 2).Signature)
	assert.NotEqual(t, sig, Classify(&interp.Fault{Type: "T", Frames: frames[1:]}, false, 2).Signature)

	// Hangs ignore pcs.
	hang1 := Classify(&interp.Interrupted{Frames: []interp.Frame{{Module: "m", Method: "a", PC: 1}}}, true, 2)
	hang2 := Classify(&interp.Interrupted{Frames: []interp.Frame{{Module: "m", Method: "a", PC: 7}}}, true, 2)
	assert.Equal(t, CategoryHang, hang1.Category)
	assert.Equal(t, hang1.Signature, hang2.Signature)
}
