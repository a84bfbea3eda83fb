// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/bcfuzz/pkg/corpus"
	"github.com/google/bcfuzz/pkg/cover"
	"github.com/google/bcfuzz/pkg/executor"
	"github.com/google/bcfuzz/pkg/fuzzer/queue"
	"github.com/google/bcfuzz/pkg/grammar"
	"github.com/google/bcfuzz/pkg/mutate"
	"github.com/google/bcfuzz/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const (
	testCapacity = 64
	branchMagic  = 0xdeadbeef
)

// branchyTarget has a few easy branches and one that is only reachable
// with the help of comparison operands.
func branchyTarget(rec *cover.Recorder) executor.FuncTarget {
	return func(ctx context.Context, input []byte) error {
		rec.Record(0)
		if len(input) == 0 {
			return nil
		}
		rec.Record(1)
		if input[0]&1 != 0 {
			rec.Record(2)
		}
		if input[0] >= 0x80 {
			rec.Record(3)
		}
		if len(input) >= 16 {
			rec.Record(4)
		}
		if len(input) < 4 {
			return nil
		}
		rec.Record(5)
		v := binary.LittleEndian.Uint32(input)
		rec.RecordCmp(int64(v), branchMagic)
		if v == branchMagic {
			rec.Record(6)
		}
		return nil
	}
}

var errBug = errors.New("BUGX reached")

// bugTarget fails on inputs starting with the BUGX marker.
func bugTarget(rec *cover.Recorder) executor.FuncTarget {
	marker := binary.LittleEndian.Uint32([]byte("BUGX"))
	return func(ctx context.Context, input []byte) error {
		rec.Record(0)
		if len(input) < 4 {
			return nil
		}
		rec.Record(1)
		v := binary.LittleEndian.Uint32(input)
		rec.RecordCmp(int64(v), int64(marker))
		if v == marker {
			rec.Record(2)
			return errBug
		}
		return nil
	}
}

type testEnv struct {
	t      *testing.T
	ctx    context.Context
	fuzzer *Fuzzer
	corpus *corpus.Corpus
	coord  *executor.Coordinator
	execs  atomic.Int64
	// Number of concurrent workers, 4 if zero.
	workers int
}

func newTestEnv(t *testing.T, ctx context.Context, cfg *Config,
	makeTarget func(*cover.Recorder) executor.FuncTarget) *testEnv {
	rec := cover.NewRecorder(testCapacity)
	rec.SetEdges(testCapacity)
	corp := corpus.NewCorpus(ctx, corpus.Config{Capacity: testCapacity})
	t.Cleanup(corp.Close)
	cfg.Corpus = corp
	if cfg.Logf == nil {
		cfg.Logf = func(level int, msg string, args ...any) {
			if level > 0 {
				return
			}
			t.Logf(msg, args...)
		}
	}
	return &testEnv{
		t:      t,
		ctx:    ctx,
		fuzzer: NewFuzzer(ctx, cfg, rand.New(testutil.RandSource(t))),
		corpus: corp,
		coord:  executor.NewCoordinator(makeTarget(rec), rec, executor.Config{Grace: time.Second}),
	}
}

// run executes requests of the fuzzer with several workers until done returns true,
// the fuzzer stops or the iteration limit is reached.
func (env *testEnv) run(iterLimit int64, done func() bool) {
	workers := env.workers
	if workers == 0 {
		workers = 4
	}
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for env.execs.Add(1) <= iterLimit {
				if done != nil && done() {
					return nil
				}
				req, stop := env.fuzzer.Next()
				if stop {
					return nil
				}
				info := env.coord.Run(env.ctx, req.Input, req.Budget, req.Flags)
				req.Done(&queue.Result{
					Info:   info,
					Status: queue.StatusOf(info.Status),
				})
			}
			return nil
		})
	}
	require.NoError(env.t, g.Wait())
}

func TestFuzzCoversBranches(t *testing.T) {
	defer checkGoroutineLeaks()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(t, ctx, &Config{
		Debug:          true,
		Comparisons:    true,
		MinimizeInputs: true,
	}, branchyTarget)
	const allEdges = 7
	env.run(200000, func() bool {
		return env.corpus.Stats().Edges == allEdges
	})
	stats := env.corpus.Stats()
	t.Logf("execs %v, corpus %v, edges %v, signal %v, dict %v",
		env.execs.Load(), stats.Items, stats.Edges, stats.Signal, env.fuzzer.Config.Mutator.Dict().Len())
	assert.Equal(t, allEdges, stats.Edges)
	assert.Zero(t, stats.Crashes)

	// Every corpus entry brought some coverage that was new at the time.
	for _, item := range env.corpus.Items() {
		assert.NotZero(t, item.NewBits)
		assert.False(t, item.Signal.Empty())
	}
	found := false
	for _, input := range env.corpus.Inputs() {
		if len(input) >= 4 && binary.LittleEndian.Uint32(input) == branchMagic {
			found = true
		}
	}
	assert.True(t, found, "no input reaches the magic branch")
}

func TestFuzzCrashDedup(t *testing.T) {
	defer checkGoroutineLeaks()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(t, ctx, &Config{
		Comparisons:     true,
		MinimizeCrashes: true,
	}, bugTarget)
	env.run(200000, func() bool {
		return len(env.corpus.Crashes()) != 0
	})
	require.Len(t, env.corpus.Crashes(), 1)

	// Keep going, the same bug must not produce new records.
	env.execs.Store(0)
	env.run(5000, func() bool {
		crash := env.corpus.Crashes()[0]
		return crash.Minimized != nil && crash.Hits > 1
	})
	crashes := env.corpus.Crashes()
	require.Len(t, crashes, 1)
	crash := crashes[0]
	assert.Equal(t, executor.CategoryError, crash.Category)
	assert.Equal(t, errBug.Error(), crash.Detail)
	assert.True(t, bytes.HasPrefix(crash.Input, []byte("BUGX")), "input %q", crash.Input)
	assert.GreaterOrEqual(t, crash.Hits, 1)
	if crash.Minimized != nil {
		assert.Equal(t, []byte("BUGX"), crash.Minimized)
	}
}

func TestFuzzIterationBudget(t *testing.T) {
	defer checkGoroutineLeaks()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const budget = 500
	env := newTestEnv(t, ctx, &Config{MaxExecs: budget}, branchyTarget)
	assert.Equal(t, PhaseIdle, env.fuzzer.State())
	env.run(budget*10, nil)

	assert.Equal(t, PhaseStop, env.fuzzer.State())
	assert.Equal(t, int64(budget), env.fuzzer.issued.Load())
	assert.Contains(t, env.fuzzer.StopReason(), "iteration budget")
	select {
	case <-env.fuzzer.Stopped():
	default:
		t.Fatal("the fuzzer is not stopped")
	}
	_, stop := env.fuzzer.Next()
	assert.True(t, stop)
	assert.Equal(t, PhaseStop, env.fuzzer.State())
}

func TestFuzzTimeBudget(t *testing.T) {
	defer checkGoroutineLeaks()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(t, ctx, &Config{Duration: 50 * time.Millisecond}, branchyTarget)
	env.run(1<<40, nil)
	assert.Equal(t, PhaseStop, env.fuzzer.State())
	assert.Contains(t, env.fuzzer.StopReason(), "time budget")
}

func TestFuzzCancel(t *testing.T) {
	defer checkGoroutineLeaks()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(t, ctx, &Config{}, branchyTarget)
	env.run(100, nil)
	cancel()
	_, stop := env.fuzzer.Next()
	assert.True(t, stop)
	assert.Equal(t, "stopped", env.fuzzer.StopReason())
}

func TestCandidates(t *testing.T) {
	defer checkGoroutineLeaks()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(t, ctx, &Config{}, branchyTarget)
	// Candidates must be evaluated before any fuzzing input.
	env.workers = 1
	env.fuzzer.AddCandidates([]Candidate{
		{Input: []byte{}},
		{Input: []byte{0x81}, Flags: InputMinimized},
		{Input: []byte("0123456789abcdef")},
	})
	assert.Equal(t, 3, env.fuzzer.StatCandidates.Val())
	env.run(10000, func() bool {
		return env.fuzzer.CandidateTriageFinished() && env.execs.Load() > 3
	})
	assert.True(t, env.fuzzer.CandidateTriageFinished())
	assert.Zero(t, env.fuzzer.StatCandidates.Val())
	inputs := env.corpus.Inputs()
	assert.Contains(t, inputs, []byte{0x81})
	// Edges 0, 1, 2, 3, 4, 5 are covered by the candidates alone.
	assert.GreaterOrEqual(t, env.corpus.Stats().Edges, 6)
}

func TestCandidatesDeduplicated(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(t, ctx, &Config{}, branchyTarget)
	dup := []byte("dup!")
	env.fuzzer.AddCandidates([]Candidate{{Input: dup}, {Input: dup}, {Input: dup}})
	first, stop := env.fuzzer.Next()
	require.False(t, stop)
	require.Equal(t, dup, first.Input)
	// The copies wait for the first result and are never dispatched.
	for i := 0; i < 10; i++ {
		req, _ := env.fuzzer.Next()
		require.NotNil(t, req)
		assert.NotEqual(t, dup, req.Input)
	}
	assert.Equal(t, 3, env.fuzzer.StatCandidates.Val())
	first.Done(fakeResult())
	assert.Zero(t, env.fuzzer.StatCandidates.Val())
}

func TestFuzzFeedback(t *testing.T) {
	defer checkGoroutineLeaks()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(t, ctx, &Config{}, branchyTarget)
	env.run(3000, nil)
	var chosen, children int64
	for _, item := range env.corpus.Items() {
		stats := item.Stats()
		chosen += stats.Chosen
		children += stats.Children
	}
	assert.NotZero(t, chosen)
	assert.NotZero(t, children)
	// Some fuzzed inputs were novel, so at least one strategy got rewarded.
	strategies := env.fuzzer.Strategies()
	assert.Len(t, strategies, 2)
	assert.Greater(t, strategies["havoc"]+strategies["splice"], 0.0)
	assert.Greater(t, env.fuzzer.novelty.Load(), 0.0)
}

const commandGrammar = `
Input -> {Cmd}
Input -> {Cmd};{Input}
Cmd -> open
Cmd -> read
Cmd -> write
Cmd -> close
`

// commandTarget covers an edge per known command and one more
// if the input contains the open, read, close sequence.
func commandTarget(rec *cover.Recorder) executor.FuncTarget {
	cmds := []string{"open", "read", "close"}
	return func(ctx context.Context, input []byte) error {
		rec.Record(0)
		var seq []string
		for _, cmd := range strings.Split(string(input), ";") {
			for i, known := range cmds {
				if cmd == known {
					rec.Record(uint32(1 + i))
					seq = append(seq, cmd)
				}
			}
		}
		if strings.Contains(strings.Join(seq, ","), "open,read,close") {
			rec.Record(4)
		}
		return nil
	}
}

func TestFuzzGrammar(t *testing.T) {
	defer checkGoroutineLeaks()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, err := grammar.Parse([]byte(commandGrammar))
	require.NoError(t, err)
	env := newTestEnv(t, ctx, &Config{
		Grammar:        g,
		MaxTreeSize:    30,
		MinimizeInputs: true,
	}, commandTarget)
	const allEdges = 5
	env.run(200000, func() bool {
		return env.corpus.Stats().Edges == allEdges
	})
	assert.Equal(t, allEdges, env.corpus.Stats().Edges)
	strategies := env.fuzzer.Strategies()
	assert.Len(t, strategies, 3)
	assert.Contains(t, strategies, "grammar")
	assert.NotZero(t, env.fuzzer.trees.Len())
}

func TestGrammarFuzz(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, err := grammar.Parse([]byte(commandGrammar))
	require.NoError(t, err)
	env := newTestEnv(t, ctx, &Config{
		Grammar: g,
		Mutator: mutate.New(mutate.Config{MaxLen: 64}),
	}, commandTarget)
	r := rand.New(testutil.RandSource(t))
	for i := 0; i < testutil.IterCount(); i++ {
		input, tree := env.fuzzer.grammarFuzz(r, []byte("seed"))
		require.LessOrEqual(t, len(input), 64)
		if tree == nil {
			continue
		}
		require.Equal(t, tree.Unparse(), input)
		require.LessOrEqual(t, tree.Size(), grammar.DefaultMaxSize)
		for _, cmd := range strings.Split(string(input), ";") {
			require.Contains(t, []string{"open", "read", "write", "close"}, cmd)
		}
		// Mutations of a known tree stay in the grammar.
		env.fuzzer.trees.Add(input, tree)
		next, nextTree := env.fuzzer.grammarFuzz(r, input)
		if nextTree != nil {
			require.NoError(t, nextTree.Validate(g))
			require.Equal(t, nextTree.Unparse(), next)
		}
	}
}

func TestStackDepthGrowsWithStagnation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newTestEnv(t, ctx, &Config{}, branchyTarget)
	assert.Equal(t, mutate.MinDepth, env.fuzzer.stackDepth())
	env.fuzzer.completed.Store(100000)
	assert.Equal(t, mutate.MaxDepth, env.fuzzer.stackDepth())
	env.fuzzer.lastNovel.Store(100000)
	assert.Equal(t, mutate.MinDepth, env.fuzzer.stackDepth())
}

func BenchmarkFuzzer(b *testing.B) {
	b.ReportAllocs()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := cover.NewRecorder(testCapacity)
	rec.SetEdges(testCapacity)
	corp := corpus.NewCorpus(ctx, corpus.Config{Capacity: testCapacity})
	defer corp.Close()
	fuzzer := NewFuzzer(ctx, &Config{Corpus: corp}, rand.New(rand.NewSource(time.Now().UnixNano())))
	coord := executor.NewCoordinator(branchyTarget(rec), rec, executor.Config{})

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			req, _ := fuzzer.Next()
			info := coord.Run(ctx, req.Input, req.Budget, req.Flags)
			req.Done(&queue.Result{Info: info, Status: queue.StatusOf(info.Status)})
		}
	})
}

func checkGoroutineLeaks() {
	// Inspired by src/net/http/main_test.go.
	buf := make([]byte, 2<<20)
	err := ""
	for i := 0; i < 3; i++ {
		buf = buf[:runtime.Stack(buf, true)]
		err = ""
		for _, g := range strings.Split(string(buf), "\n\n") {
			if !strings.Contains(g, "pkg/fuzzer/fuzzer.go") {
				continue
			}
			err = fmt.Sprintf("%sLeaked goroutine:\n%s", err, g)
		}
		if err == "" {
			return
		}
		// Give ctx.Done() a chance to propagate to all goroutines.
		time.Sleep(100 * time.Millisecond)
	}
	if err != "" {
		panic(err)
	}
}
