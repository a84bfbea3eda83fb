// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package grammar

import (
	"math/rand"
)

// DefaultMaxSize is the default limit on the number of nodes in generated trees.
const DefaultMaxSize = 100

// Generate returns a random derivation of nt with at most size nodes.
// If nt has no derivation that small, the smallest one is returned.
func (g *Grammar) Generate(r *rand.Rand, nt string, size int) *Node {
	rule := g.pickRule(r, nt, size)
	if rule == nil {
		return g.smallest[nt]
	}
	refs := rule.NonTerminals()
	reserve := 0
	for _, ref := range refs {
		reserve += g.MinSize(ref)
	}
	budget := size - 1
	children := make([]*Node, 0, len(refs))
	for _, ref := range refs {
		reserve -= g.MinSize(ref)
		// Leave enough room for the remaining siblings.
		child := g.Generate(r, ref, budget-reserve)
		budget -= child.Size()
		children = append(children, child)
	}
	return newNode(rule, children)
}

func (g *Grammar) pickRule(r *rand.Rand, nt string, size int) *Rule {
	var fits []*Rule
	for _, rule := range g.rules[nt] {
		if rule.minSize <= size {
			fits = append(fits, rule)
		}
	}
	if len(fits) == 0 {
		return nil
	}
	return fits[r.Intn(len(fits))]
}
