// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"sort"
	"sync"

	"github.com/google/bcfuzz/pkg/cover"
	"github.com/google/bcfuzz/pkg/flatrpc"
	"github.com/google/bcfuzz/pkg/signal"
)

// Cover keeps track of the signal known to the fuzzer.
// Unlike the corpus map it also includes signal that has not passed triage,
// so that the same flaky signal is not triaged over and over.
type Cover struct {
	buckets *cover.Buckets
	maxMap  *cover.Map

	mu    sync.RWMutex
	flaky map[uint32]bool // edges that were not reproducible, never chased again
}

func newCover(capacity int, buckets *cover.Buckets) *Cover {
	if buckets == nil {
		buckets = cover.DefaultBuckets
	}
	return &Cover{
		buckets: buckets,
		maxMap:  cover.NewMap(capacity),
		flaky:   make(map[uint32]bool),
	}
}

// Signal converts the execution coverage into bucketed signal without flaky edges.
func (c *Cover) Signal(info *flatrpc.ExecResult) signal.Signal {
	if info == nil {
		return nil
	}
	sig := c.buckets.Signal(cover.Snapshot{Edges: info.Edges, Counts: info.Counts})
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.flaky) == 0 {
		return sig
	}
	for e := range sig {
		if c.flaky[e] {
			delete(sig, e)
		}
	}
	return sig
}

// addMaxSignal merges sig into the max signal and returns the part that was new.
func (c *Cover) addMaxSignal(sig signal.Signal) signal.Signal {
	diff := c.maxMap.NewBits(sig)
	if diff.Empty() {
		return nil
	}
	c.maxMap.Merge(diff)
	return diff
}

// AddMaxSignal marks signal that should no longer be chased after, e.g. the corpus signal.
func (c *Cover) AddMaxSignal(sig signal.Signal) {
	c.maxMap.Merge(sig)
}

// addFlaky excludes edges from all future signal. Returns the number of newly excluded edges.
func (c *Cover) addFlaky(edges []uint32) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	added := 0
	for _, e := range edges {
		if !c.flaky[e] {
			c.flaky[e] = true
			added++
		}
	}
	return added
}

func (c *Cover) FlakyEdges() []uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ret := make([]uint32, 0, len(c.flaky))
	for e := range c.flaky {
		ret = append(ret, e)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret
}

type CoverStats struct {
	MaxSignal int
	Flaky     int
}

func (c *Cover) Stats() CoverStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CoverStats{
		MaxSignal: c.maxMap.Bits(),
		Flaky:     len(c.flaky),
	}
}
