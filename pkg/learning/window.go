// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package learning

import "sync"

type Number interface {
	int | int64 | float64
}

// RunningSum is the sum of the last size saved values.
type RunningSum[T Number] struct {
	mu     sync.Mutex
	window []T
	pos    int
	total  T
}

func NewRunningSum[T Number](size int) *RunningSum[T] {
	return &RunningSum[T]{
		window: make([]T, size),
	}
}

func (rs *RunningSum[T]) Save(val T) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.total += val - rs.window[rs.pos]
	rs.window[rs.pos] = val
	rs.pos = (rs.pos + 1) % len(rs.window)
}

func (rs *RunningSum[T]) Load() T {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.total
}

// RunningRatio is the ratio of two running sums over the same window,
// e.g. novel executions per execution.
type RunningRatio[T Number] struct {
	mu    sync.Mutex
	num   *RunningSum[T]
	denom *RunningSum[T]
}

func NewRunningRatio[T Number](size int) *RunningRatio[T] {
	return &RunningRatio[T]{
		num:   NewRunningSum[T](size),
		denom: NewRunningSum[T](size),
	}
}

func (rr *RunningRatio[T]) Save(num, denom T) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	rr.num.Save(num)
	rr.denom.Save(denom)
}

func (rr *RunningRatio[T]) Load() float64 {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	denom := rr.denom.Load()
	if denom == 0 {
		return 0
	}
	return float64(rr.num.Load()) / float64(denom)
}
