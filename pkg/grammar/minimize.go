// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package grammar

// Minimize shrinks the tree while pred holds for the input it derives.
// First subtrees are replaced with the smallest derivations of their non-terminals,
// then recursions are collapsed. pred is called at most maxCalls times.
func (g *Grammar) Minimize(tree *Node, maxCalls int, pred func(input []byte) bool) *Node {
	calls := 0
	tried := map[string]bool{string(tree.Unparse()): true}
	try := func(cand *Node) bool {
		input := cand.Unparse()
		if tried[string(input)] || calls >= maxCalls {
			return false
		}
		tried[string(input)] = true
		calls++
		return pred(input)
	}
	// Subtree minimization.
	for changed := true; changed && calls < maxCalls; {
		changed = false
		for _, n := range tree.nodes() {
			smallest := g.smallest[n.NT()]
			if n.Size() <= smallest.Size() {
				continue
			}
			if cand := replace(tree, n, smallest); try(cand) {
				tree = cand
				changed = true
				break
			}
		}
	}
	// Recursive minimization.
	for changed := true; changed && calls < maxCalls; {
		changed = false
	loop:
		for _, n := range tree.nodes() {
			for _, inner := range n.nodes()[1:] {
				if inner.NT() != n.NT() {
					continue
				}
				if cand := replace(tree, n, inner); try(cand) {
					tree = cand
					changed = true
					break loop
				}
			}
		}
	}
	return tree
}
