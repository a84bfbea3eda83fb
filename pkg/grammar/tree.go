// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package grammar

import (
	"bytes"
	"fmt"
)

// Node is a derivation tree node. Children hold one subtree per non-terminal
// of the rule in order. Nodes are immutable once built, so trees share subtrees.
type Node struct {
	Rule     *Rule
	Children []*Node
	size     int
}

func newNode(rule *Rule, children []*Node) *Node {
	n := &Node{
		Rule:     rule,
		Children: children,
		size:     1,
	}
	for _, c := range children {
		n.size += c.size
	}
	return n
}

func (n *Node) NT() string {
	return n.Rule.NT
}

// Size returns the number of nodes in the tree.
func (n *Node) Size() int {
	return n.size
}

// Unparse returns the input the tree derives.
func (n *Node) Unparse() []byte {
	return n.appendTo(nil)
}

func (n *Node) appendTo(buf []byte) []byte {
	child := 0
	for _, sym := range n.Rule.RHS {
		if sym.NT == "" {
			buf = append(buf, sym.Literal...)
			continue
		}
		buf = n.Children[child].appendTo(buf)
		child++
	}
	return buf
}

// Validate checks that the tree is a derivation in g.
func (n *Node) Validate(g *Grammar) error {
	found := false
	for _, rule := range g.Rules(n.NT()) {
		found = found || rule == n.Rule
	}
	if !found {
		return fmt.Errorf("rule %q does not belong to the grammar", n.Rule)
	}
	refs := n.Rule.NonTerminals()
	if len(refs) != len(n.Children) {
		return fmt.Errorf("rule %q has %v children, want %v", n.Rule, len(n.Children), len(refs))
	}
	size := 1
	for i, c := range n.Children {
		if c.NT() != refs[i] {
			return fmt.Errorf("rule %q child %v is %v, want %v", n.Rule, i, c.NT(), refs[i])
		}
		if err := c.Validate(g); err != nil {
			return err
		}
		size += c.size
	}
	if size != n.size {
		return fmt.Errorf("rule %q has size %v, want %v", n.Rule, n.size, size)
	}
	return nil
}

func (n *Node) String() string {
	var buf bytes.Buffer
	n.dump(&buf, 0)
	return buf.String()
}

func (n *Node) dump(buf *bytes.Buffer, depth int) {
	fmt.Fprintf(buf, "%*s%v\n", depth*2, "", n.Rule)
	for _, c := range n.Children {
		c.dump(buf, depth+1)
	}
}

// nodes returns all nodes of the tree in pre-order.
func (n *Node) nodes() []*Node {
	res := make([]*Node, 0, n.size)
	var walk func(n *Node)
	walk = func(n *Node) {
		res = append(res, n)
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(n)
	return res
}

// replace returns a copy of the tree rooted at n with target replaced by repl.
// Only the path from n to target is copied.
func replace(n, target, repl *Node) *Node {
	if n == target {
		return repl
	}
	var children []*Node
	for i, c := range n.Children {
		nc := replace(c, target, repl)
		if nc != c && children == nil {
			children = append([]*Node{}, n.Children...)
		}
		if children != nil {
			children[i] = nc
		}
	}
	if children == nil {
		return n
	}
	return newNode(n.Rule, children)
}
