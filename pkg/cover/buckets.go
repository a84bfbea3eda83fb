// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package cover

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/bcfuzz/pkg/signal"
)

// DefaultBucketBounds are the classic AFL hit-count classes:
// 1, 2, 3, 4-7, 8-15, 16-31, 32-127, 128+.
var DefaultBucketBounds = []int{1, 2, 3, 4, 8, 16, 32, 128}

// Buckets maps 8-bit hit counts to bucket bits.
// Bucket i holds counts in [bounds[i], bounds[i+1]).
type Buckets struct {
	bounds []int
	table  [256]uint32
}

var DefaultBuckets = mustBuckets(DefaultBucketBounds)

func NewBuckets(bounds []int) (*Buckets, error) {
	if len(bounds) == 0 || len(bounds) > 32 {
		return nil, fmt.Errorf("want 1-32 bucket bounds, got %v", len(bounds))
	}
	if bounds[0] != 1 {
		return nil, fmt.Errorf("the first bucket must start at 1")
	}
	for i := 1; i < len(bounds); i++ {
		if bounds[i] <= bounds[i-1] || bounds[i] > 255 {
			return nil, fmt.Errorf("bucket bounds must be increasing and within 1-255: %v", bounds)
		}
	}
	b := &Buckets{bounds: append([]int(nil), bounds...)}
	bucket := 0
	for count := 1; count < 256; count++ {
		if bucket+1 < len(bounds) && count >= bounds[bucket+1] {
			bucket++
		}
		b.table[count] = 1 << bucket
	}
	return b, nil
}

// ParseBuckets parses comma-separated bucket lower bounds, e.g. "1,2,4,8".
// Empty string means default buckets.
func ParseBuckets(str string) (*Buckets, error) {
	if strings.TrimSpace(str) == "" {
		return DefaultBuckets, nil
	}
	var bounds []int
	for _, s := range strings.Split(str, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("bad bucket bound %q: %w", s, err)
		}
		bounds = append(bounds, v)
	}
	return NewBuckets(bounds)
}

func mustBuckets(bounds []int) *Buckets {
	b, err := NewBuckets(bounds)
	if err != nil {
		panic(err)
	}
	return b
}

// Mask returns the bucket bit of the count, 0 for 0.
func (b *Buckets) Mask(count uint8) uint32 {
	return b.table[count]
}

// Signal converts a snapshot into a bucketed signal.
// Edges without a matching count are ignored.
func (b *Buckets) Signal(snap Snapshot) signal.Signal {
	n := min(len(snap.Edges), len(snap.Counts))
	if n == 0 {
		return nil
	}
	s := make(signal.Signal, n)
	for i, e := range snap.Edges[:n] {
		s[e] |= b.table[snap.Counts[i]]
	}
	return s
}

func (b *Buckets) String() string {
	var parts []string
	for _, v := range b.bounds {
		parts = append(parts, strconv.Itoa(v))
	}
	return strings.Join(parts, ",")
}
