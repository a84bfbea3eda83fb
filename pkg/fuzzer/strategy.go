// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"math/rand"

	"github.com/google/bcfuzz/pkg/grammar"
	"github.com/google/bcfuzz/pkg/learning"
)

// strategy is the way a fuzzed input is derived from its parent.
type strategy int

const (
	// Stacked mutations of the parent only.
	strategyHavoc strategy = iota
	// Mutations may also splice in parts of other corpus inputs.
	strategySplice
	// Derivation trees of the parent are mutated, or fresh ones are generated.
	strategyGrammar
)

func (s strategy) String() string {
	switch s {
	case strategySplice:
		return "splice"
	case strategyGrammar:
		return "grammar"
	}
	return "havoc"
}

const (
	// Executions the novelty rate is averaged over.
	noveltyWindow = 10000
	// Derivation trees remembered for the grammar strategy.
	maxGrammarTrees = 10000
)

func newStrategies(withGrammar bool) *learning.PlainMAB[strategy] {
	mab := &learning.PlainMAB[strategy]{
		MinLearningRate: 0.001,
		ExplorationRate: 0.1,
	}
	mab.AddArms(strategyHavoc, strategySplice)
	if withGrammar {
		mab.AddArms(strategyGrammar)
	}
	return mab
}

// grammarFuzz mutates the derivation tree of the seed, or generates a fresh tree
// if the seed was not derived from the grammar. The tree is nil if the input
// had to be truncated.
func (fuzzer *Fuzzer) grammarFuzz(rnd *rand.Rand, seed []byte) ([]byte, *grammar.Node) {
	g, maxSize := fuzzer.Config.Grammar, fuzzer.Config.MaxTreeSize
	var tree *grammar.Node
	if parent := fuzzer.trees.Get(seed); parent != nil {
		tree = g.Mutate(rnd, parent, fuzzer.trees.Random(rnd), maxSize)
	} else {
		tree = g.Generate(rnd, g.Start, 1+rnd.Intn(maxSize))
	}
	input := tree.Unparse()
	if maxLen := fuzzer.Config.Mutator.MaxLen(); len(input) > maxLen {
		return input[:maxLen], nil
	}
	return input, tree
}

func (fuzzer *Fuzzer) saveReward(action learning.Action[strategy], novel bool) {
	reward := 0
	if novel {
		reward = 1
	}
	fuzzer.strategies.SaveReward(action, float64(reward))
	fuzzer.novelty.Save(reward, 1)
}

// Strategies returns the estimated novelty rate of every fuzzing strategy.
func (fuzzer *Fuzzer) Strategies() map[string]float64 {
	res := make(map[string]float64)
	for arm, est := range fuzzer.strategies.Estimates() {
		res[arm.String()] = est
	}
	return res
}
