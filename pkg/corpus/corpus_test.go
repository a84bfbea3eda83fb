// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/bcfuzz/pkg/signal"
	"github.com/google/bcfuzz/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCapacity = 1 << 10

func newTestCorpus(t *testing.T, cfg Config) *Corpus {
	if cfg.Capacity == 0 {
		cfg.Capacity = testCapacity
	}
	corpus := NewCorpus(context.Background(), cfg)
	t.Cleanup(corpus.Close)
	return corpus
}

func TestConsider(t *testing.T) {
	corpus := newTestCorpus(t, Config{})

	ok, item := corpus.Consider([]byte("a"), signal.Signal{1: 1, 2: 1})
	require.True(t, ok)
	assert.Equal(t, 2, item.NewBits)
	assert.Equal(t, int64(1), item.Seq)

	// Same edges, same buckets.
	ok, _ = corpus.Consider([]byte("b"), signal.Signal{1: 1})
	assert.False(t, ok)

	// Same edge, but a higher hit-count bucket.
	ok, item = corpus.Consider([]byte("c"), signal.Signal{1: 4})
	require.True(t, ok)
	assert.Equal(t, 1, item.NewBits)

	assert.Equal(t, Stats{Items: 2, Edges: 2, Signal: 3}, corpus.Stats())
	assert.Equal(t, signal.Signal{1: 5, 2: 1}, corpus.Signal())
	assert.False(t, corpus.HasNew(signal.Signal{2: 1, 1: 4}))
	assert.True(t, corpus.HasNew(signal.Signal{3: 1}))
}

func TestConsiderIdempotent(t *testing.T) {
	corpus := newTestCorpus(t, Config{})
	sig := signal.Signal{7: 2, 9: 1}
	ok, _ := corpus.Consider([]byte("x"), sig)
	require.True(t, ok)
	ok, _ = corpus.Consider([]byte("x"), sig)
	assert.False(t, ok)
	assert.Len(t, corpus.Items(), 1)
}

func TestConsiderSameInput(t *testing.T) {
	corpus := newTestCorpus(t, Config{})
	_, first := corpus.Consider([]byte("x"), signal.Signal{1: 1})
	ok, second := corpus.Consider([]byte("x"), signal.Signal{2: 1})
	require.True(t, ok)
	assert.Equal(t, first.Sig, second.Sig)
	assert.Equal(t, first.Seq, second.Seq)
	assert.Equal(t, signal.Signal{1: 1}, first.Signal, "old version must not change")
	assert.Equal(t, signal.Signal{1: 1, 2: 1}, second.Signal)
	assert.Len(t, corpus.Items(), 1)
}

func TestCoverageMonotonic(t *testing.T) {
	corpus := newTestCorpus(t, Config{})
	r := rand.New(testutil.RandSource(t))
	prevEdges, prevBits := 0, 0
	for i := 0; i < testutil.IterCount(); i++ {
		sig := make(signal.Signal)
		for j := r.Intn(5); j >= 0; j-- {
			sig[uint32(r.Intn(testCapacity))] = 1 << r.Intn(8)
		}
		ok, _ := corpus.Consider(testutil.RandInput(r, 16), sig)
		stats := corpus.Stats()
		assert.GreaterOrEqual(t, stats.Edges, prevEdges)
		assert.GreaterOrEqual(t, stats.Signal, prevBits)
		assert.Equal(t, ok, stats.Signal > prevBits)
		assert.False(t, corpus.HasNew(sig))
		prevEdges, prevBits = stats.Edges, stats.Signal
	}
}

func TestConsiderConcurrent(t *testing.T) {
	corpus := newTestCorpus(t, Config{})
	const workers, perWorker = 8, 200
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := rand.New(rand.NewSource(int64(w)))
			for i := 0; i < perWorker; i++ {
				e := uint32(r.Intn(testCapacity))
				sig := signal.Signal{e: 1 << r.Intn(8)}
				corpus.Consider([]byte(fmt.Sprintf("%v-%v", w, i)), sig)
				if r.Intn(4) == 0 {
					corpus.Select(r)
				}
			}
		}()
	}
	wg.Wait()
	want := make(signal.Signal)
	for _, item := range corpus.Items() {
		want.Merge(item.Signal)
	}
	assert.Equal(t, want, corpus.Signal())
	assert.Equal(t, len(want), corpus.Stats().Edges)
	assert.Equal(t, want.Bits(), corpus.Stats().Signal)
}

func TestConsiderSameEdgeRace(t *testing.T) {
	for round := 0; round < 100; round++ {
		corpus := newTestCorpus(t, Config{})
		var wg sync.WaitGroup
		var accepted [2]bool
		start := make(chan struct{})
		for w := 0; w < 2; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				accepted[w], _ = corpus.Consider([]byte{byte(w)}, signal.Signal{42: 1})
			}()
		}
		close(start)
		wg.Wait()
		// Both may be accepted, but the edge is never lost or counted twice.
		assert.True(t, accepted[0] || accepted[1])
		assert.Equal(t, Stats{Items: corpus.Stats().Items, Edges: 1, Signal: 1}, corpus.Stats())
		assert.Equal(t, signal.Signal{42: 1}, corpus.Signal())
		assert.False(t, corpus.HasNew(signal.Signal{42: 1}))
	}
}

func TestMonitoredCorpus(t *testing.T) {
	ch := make(chan NewItemEvent, 4)
	corpus := NewMonitoredCorpus(context.Background(), Config{Capacity: testCapacity}, ch)
	defer corpus.Close()
	corpus.Consider([]byte("a"), signal.Signal{1: 1})
	corpus.Consider([]byte("a"), signal.Signal{2: 1})
	corpus.Consider([]byte("b"), signal.Signal{2: 1})
	require.Len(t, ch, 2)
	ev := <-ch
	assert.False(t, ev.Exists)
	assert.Equal(t, []byte("a"), ev.Input)
	ev = <-ch
	assert.True(t, ev.Exists)
	assert.Equal(t, 1, ev.NewBits)
}

func TestSelectEmpty(t *testing.T) {
	corpus := newTestCorpus(t, Config{})
	assert.Nil(t, corpus.Select(rand.New(testutil.RandSource(t))))
}

func TestSelectPrefersSmall(t *testing.T) {
	corpus := newTestCorpus(t, Config{})
	_, small := corpus.Consider([]byte("s"), signal.Signal{1: 1})
	_, large := corpus.Consider(make([]byte, 4096), signal.Signal{2: 1})
	assert.Greater(t, corpus.Energy(small), corpus.Energy(large))

	r := rand.New(testutil.RandSource(t))
	counts := map[string]int{}
	for i := 0; i < 1000; i++ {
		counts[corpus.Select(r).Sig]++
	}
	assert.Greater(t, counts[small.Sig], counts[large.Sig])
	assert.NotZero(t, counts[large.Sig])
	assert.Equal(t, int64(counts[small.Sig]), small.Stats().Chosen)
}

func TestFeedbackDecay(t *testing.T) {
	corpus := newTestCorpus(t, Config{DecayWindow: 4, MaxDecay: 2})
	_, item := corpus.Consider([]byte("x"), signal.Signal{1: 1})
	fresh := corpus.Energy(item)
	for i := 0; i < 4; i++ {
		corpus.Feedback(item, false)
	}
	assert.Equal(t, 1, item.Stats().Decay)
	assert.Less(t, corpus.Energy(item), fresh)
	for i := 0; i < 100; i++ {
		corpus.Feedback(item, false)
	}
	assert.Equal(t, 2, item.Stats().Decay)
	assert.Positive(t, corpus.Energy(item))

	corpus.Feedback(item, true)
	stats := item.Stats()
	assert.Equal(t, 0, stats.Decay)
	assert.Equal(t, int64(1), stats.Novel)
	assert.Equal(t, int64(105), stats.Children)
}

func TestFeedbackSharedAcrossVersions(t *testing.T) {
	corpus := newTestCorpus(t, Config{})
	_, v1 := corpus.Consider([]byte("x"), signal.Signal{1: 1})
	_, v2 := corpus.Consider([]byte("x"), signal.Signal{2: 1})
	corpus.Feedback(v1, true)
	assert.Equal(t, int64(1), v2.Stats().Novel)
	assert.Equal(t, v2, corpus.Item(v1.Sig))
}

func TestMinimize(t *testing.T) {
	corpus := newTestCorpus(t, Config{})
	corpus.Consider([]byte("long input"), signal.Signal{1: 1})
	corpus.Consider([]byte("other"), signal.Signal{2: 1})
	corpus.Consider([]byte("xy"), signal.Signal{1: 1, 2: 1, 3: 1})
	before := corpus.Signal()
	assert.Equal(t, 2, corpus.Minimize())
	items := corpus.Items()
	require.Len(t, items, 1)
	assert.Equal(t, []byte("xy"), items[0].Input)
	assert.Equal(t, before, corpus.Signal())
}

func TestCrashDedup(t *testing.T) {
	dir := t.TempDir()
	corpus := NewCorpus(context.Background(), Config{Capacity: testCapacity, CrashDir: dir})
	fault := Fault{Category: "panic", Signature: "abcd", Detail: "index out of range"}
	assert.True(t, corpus.RecordCrash([]byte("in1"), fault))
	assert.False(t, corpus.RecordCrash([]byte("in2"), fault))
	assert.True(t, corpus.RecordCrash([]byte("in3"), Fault{Category: "hang", Signature: "ef01"}))
	assert.True(t, corpus.UpdateRepro("abcd", []byte("i")))
	assert.False(t, corpus.UpdateRepro("none", []byte("i")))

	crash, ok := corpus.Crash("abcd")
	require.True(t, ok)
	assert.Equal(t, 2, crash.Hits)
	assert.Equal(t, []byte("in1"), crash.Input)
	assert.Equal(t, []byte("i"), crash.Minimized)
	assert.Len(t, corpus.Crashes(), 2)
	assert.Equal(t, 2, corpus.Stats().Crashes)

	corpus.Close()
	data, err := os.ReadFile(filepath.Join(dir, "abcd", "input"))
	require.NoError(t, err)
	assert.Equal(t, []byte("in1"), data)
	data, err = os.ReadFile(filepath.Join(dir, "abcd", "repro.min"))
	require.NoError(t, err)
	assert.Equal(t, []byte("i"), data)

	// Crashes survive a restart.
	corpus = NewCorpus(context.Background(), Config{Capacity: testCapacity, CrashDir: dir})
	defer corpus.Close()
	crash, ok = corpus.Crash("abcd")
	require.True(t, ok)
	assert.Equal(t, fault, crash.Fault)
	assert.Equal(t, 2, crash.Hits)
	assert.False(t, corpus.RecordCrash([]byte("in4"), fault))
}

func TestCrashDirFailure(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(dir, nil, 0o600))
	corpus := NewCorpus(context.Background(), Config{Capacity: testCapacity, CrashDir: dir})
	// Writes fail, but the crash is still recorded in memory.
	assert.True(t, corpus.RecordCrash([]byte("x"), Fault{Signature: "s"}))
	corpus.Close()
	_, ok := corpus.Crash("s")
	assert.True(t, ok)
}

func TestPersistence(t *testing.T) {
	dir := t.TempDir()
	corpus := newTestCorpus(t, Config{})
	_, a := corpus.Consider([]byte("a"), signal.Signal{1: 1, 5: 2})
	_, b := corpus.Consider([]byte("b"), signal.Signal{6: 8})
	corpus.Feedback(a, true)
	for i := 0; i < 3; i++ {
		corpus.Feedback(b, false)
	}
	corpus.Select(rand.New(testutil.RandSource(t)))
	require.NoError(t, corpus.Save(dir))
	corpus.Consider([]byte("c"), signal.Signal{7: 1})
	require.NoError(t, corpus.Save(dir))
	corpus.Minimize()
	require.NoError(t, corpus.Save(dir))

	restored := newTestCorpus(t, Config{})
	n, err := restored.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, len(corpus.Items()), n)
	assert.Equal(t, corpus.Signal(), restored.Signal())
	for _, item := range corpus.Items() {
		got := restored.Item(item.Sig)
		require.NotNil(t, got, "missing %q", item.Input)
		assert.Equal(t, item.Input, got.Input)
		assert.Equal(t, item.Signal, got.Signal)
		assert.Equal(t, item.Stats(), got.Stats())
		assert.NotZero(t, got.NewBits)
		assert.Equal(t, item.NewBits, got.NewBits)
		assert.Equal(t, item.Found.UnixNano(), got.Found.UnixNano())
	}
	assert.Equal(t, int64(3), restored.Item(b.Sig).Stats().Fruitless)
	ok, _ := restored.Consider([]byte("d"), signal.Signal{1: 1})
	assert.False(t, ok)
}

func TestLoadEmpty(t *testing.T) {
	corpus := newTestCorpus(t, Config{})
	n, err := corpus.Load(t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, n)
}
