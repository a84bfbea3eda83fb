// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package cover implements the runtime coverage recorder, hit-count buckets
// and the global coverage map.
package cover

import (
	"cmp"
	"slices"
)

const (
	DefaultCapacity = 1 << 16
	maxComps        = 1 << 10
)

// Recorder is a fixed-size table of saturating 8-bit counters indexed by edge.
// Probes of one execution run on a single goroutine, so the table is not
// synchronized. The execution coordinator never overlaps two executions
// without an intervening SnapshotAndReset.
type Recorder struct {
	counters []uint8
	edges    int
	comps    map[Comp]struct{}
	collect  bool
	blind    []string
}

// Comp is a pair of operands of a comparison instruction.
type Comp struct {
	Op1 uint64
	Op2 uint64
}

// Snapshot holds non-zero counters of one execution sorted by edge.
type Snapshot struct {
	Edges  []uint32
	Counts []uint8
	Comps  []Comp
}

func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{
		counters: make([]uint8, capacity),
		comps:    make(map[Comp]struct{}),
	}
}

func (r *Recorder) Capacity() int {
	return len(r.counters)
}

// SetEdges sets the number of assigned edge IDs. Only [0, n) is scanned by snapshots.
func (r *Recorder) SetEdges(n int) {
	r.edges = min(n, len(r.counters))
}

func (r *Recorder) Edges() int {
	return r.edges
}

func (r *Recorder) Record(edge uint32) {
	if int(edge) >= r.edges {
		return
	}
	if c := r.counters[edge]; c != 0xff {
		r.counters[edge] = c + 1
	}
}

// CollectComps enables collection of comparison operands for the next executions.
func (r *Recorder) CollectComps(enable bool) {
	r.collect = enable
}

func (r *Recorder) RecordCmp(a, b int64) {
	if !r.collect || a == b || len(r.comps) >= maxComps {
		return
	}
	r.comps[Comp{uint64(a), uint64(b)}] = struct{}{}
}

// SnapshotAndReset returns coverage of the current execution and zeroes the table.
func (r *Recorder) SnapshotAndReset() Snapshot {
	var snap Snapshot
	counters := r.counters[:r.edges]
	for e, c := range counters {
		if c == 0 {
			continue
		}
		snap.Edges = append(snap.Edges, uint32(e))
		snap.Counts = append(snap.Counts, c)
		counters[e] = 0
	}
	if len(r.comps) != 0 {
		for c := range r.comps {
			snap.Comps = append(snap.Comps, c)
		}
		slices.SortFunc(snap.Comps, func(a, b Comp) int {
			if a.Op1 != b.Op1 {
				return cmp.Compare(a.Op1, b.Op1)
			}
			return cmp.Compare(a.Op2, b.Op2)
		})
		clear(r.comps)
	}
	return snap
}

// MarkBlind records a module that runs without coverage.
func (r *Recorder) MarkBlind(module string) {
	if !slices.Contains(r.blind, module) {
		r.blind = append(r.blind, module)
	}
}

func (r *Recorder) Blind() []string {
	return slices.Clone(r.blind)
}
