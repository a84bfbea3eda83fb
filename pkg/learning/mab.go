// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package learning has small online learners that let the fuzzer adapt
// its choices to the target while a session runs.
package learning

import (
	"math/rand"
	"sync"
)

// Action is a choice made by a bandit, it is passed back with the reward.
type Action[T comparable] struct {
	Arm   T
	index int
}

// estimate is an exponentially weighted mean of the observed rewards.
type estimate struct {
	mean  float64
	count int64
}

func (e *estimate) update(reward, minStep float64) {
	// Plain averaging while there are few samples, then a fixed step,
	// so that the estimate follows rewards that change over time.
	e.count++
	step := max(1/float64(e.count), minStep)
	e.mean += (reward - e.mean) * step
}

// PlainMAB is an epsilon-greedy multi-armed bandit.
type PlainMAB[T comparable] struct {
	// Lower bound of the update step of the reward estimates.
	MinLearningRate float64
	// Probability to choose a random arm instead of the best one.
	ExplorationRate float64

	mu        sync.RWMutex
	arms      []T
	estimates []estimate
}

func (p *PlainMAB[T]) AddArms(arms ...T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, arm := range arms {
		p.arms = append(p.arms, arm)
		p.estimates = append(p.estimates, estimate{})
	}
}

func (p *PlainMAB[T]) Action(r *rand.Rand) Action[T] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	best := 0
	if r.Float64() < p.ExplorationRate {
		best = r.Intn(len(p.arms))
	} else {
		for i := range p.estimates {
			if p.estimates[i].mean > p.estimates[best].mean {
				best = i
			}
		}
	}
	return Action[T]{Arm: p.arms[best], index: best}
}

func (p *PlainMAB[T]) SaveReward(action Action[T], reward float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.estimates[action.index].update(reward, p.MinLearningRate)
}

// Estimates returns the current mean reward of every arm.
func (p *PlainMAB[T]) Estimates() map[T]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	res := make(map[T]float64, len(p.arms))
	for i, arm := range p.arms {
		res[arm] = p.estimates[i].mean
	}
	return res
}
