// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package grammar

import (
	"math/rand"
)

const mutateAttempts = 10

// Mutate returns a mutated copy of tree with at most maxSize nodes. The tree itself
// is not changed. Splicing takes subtrees from donor, which may be nil.
func (g *Grammar) Mutate(r *rand.Rand, tree, donor *Node, maxSize int) *Node {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	for i := 0; i < mutateAttempts; i++ {
		var res *Node
		switch x := r.Intn(10); {
		case x < 4:
			res = g.regenerate(r, tree, maxSize)
		case x < 6:
			res = g.swapRule(r, tree, maxSize)
		case x < 8:
			res = g.repeatRecursion(r, tree, maxSize)
		default:
			res = g.splice(r, tree, donor)
		}
		if res != nil && res != tree && res.Size() <= maxSize {
			return res
		}
	}
	return g.Generate(r, tree.NT(), maxSize)
}

func randomNode(r *rand.Rand, tree *Node) *Node {
	nodes := tree.nodes()
	return nodes[r.Intn(len(nodes))]
}

// regenerate replaces a random subtree with a fresh derivation of the same non-terminal.
func (g *Grammar) regenerate(r *rand.Rand, tree *Node, maxSize int) *Node {
	target := randomNode(r, tree)
	budget := maxSize - tree.Size() + target.Size()
	if budget > 1 {
		budget = 1 + r.Intn(budget)
	}
	return replace(tree, target, g.Generate(r, target.NT(), budget))
}

// swapRule derives a random node with another rule of its non-terminal.
// Children of the old rule are reused where the new rule refers to the same non-terminals.
func (g *Grammar) swapRule(r *rand.Rand, tree *Node, maxSize int) *Node {
	var targets []*Node
	for _, n := range tree.nodes() {
		if len(g.rules[n.NT()]) > 1 {
			targets = append(targets, n)
		}
	}
	if len(targets) == 0 {
		return nil
	}
	target := targets[r.Intn(len(targets))]
	alts := g.rules[target.NT()]
	rule := alts[r.Intn(len(alts))]
	if rule == target.Rule {
		return nil
	}
	old := make(map[string][]*Node)
	for _, c := range target.Children {
		old[c.NT()] = append(old[c.NT()], c)
	}
	var children []*Node
	for _, ref := range rule.NonTerminals() {
		if prev := old[ref]; len(prev) != 0 {
			children = append(children, prev[0])
			old[ref] = prev[1:]
			continue
		}
		children = append(children, g.Generate(r, ref, r.Intn(maxSize/4+1)))
	}
	return replace(tree, target, newNode(rule, children))
}

// repeatRecursion finds a node with a descendant of the same non-terminal
// and repeats the part of the tree between them a few times.
func (g *Grammar) repeatRecursion(r *rand.Rand, tree *Node, maxSize int) *Node {
	nodes := tree.nodes()
	r.Shuffle(len(nodes), func(i, j int) { nodes[i], nodes[j] = nodes[j], nodes[i] })
	for _, outer := range nodes {
		var inners []*Node
		for _, n := range outer.nodes()[1:] {
			if n.NT() == outer.NT() {
				inners = append(inners, n)
			}
		}
		if len(inners) == 0 {
			continue
		}
		inner := inners[r.Intn(len(inners))]
		cur := outer
		for repeats := 1 << r.Intn(4); repeats > 0; repeats-- {
			next := replace(outer, inner, cur)
			if tree.Size()-outer.Size()+next.Size() > maxSize {
				break
			}
			cur = next
		}
		if cur == outer {
			return nil
		}
		return replace(tree, outer, cur)
	}
	return nil
}

// splice replaces a random subtree with a subtree of donor with the same non-terminal.
func (g *Grammar) splice(r *rand.Rand, tree, donor *Node) *Node {
	if donor == nil {
		return nil
	}
	byNT := make(map[string][]*Node)
	for _, n := range donor.nodes() {
		byNT[n.NT()] = append(byNT[n.NT()], n)
	}
	nodes := tree.nodes()
	r.Shuffle(len(nodes), func(i, j int) { nodes[i], nodes[j] = nodes[j], nodes[i] })
	for _, target := range nodes {
		if cands := byNT[target.NT()]; len(cands) != 0 {
			return replace(tree, target, cands[r.Intn(len(cands))])
		}
	}
	return nil
}
