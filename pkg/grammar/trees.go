// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package grammar

import (
	"math/rand"
	"sync"

	"github.com/google/bcfuzz/pkg/hash"
)

// Trees remembers derivation trees of inputs, so that inputs can be mutated
// as trees later. Once full, the oldest trees are forgotten first.
// It is safe for concurrent use.
type Trees struct {
	mu    sync.Mutex
	trees map[hash.Sig]*Node
	order []hash.Sig
	size  int
}

func NewTrees(size int) *Trees {
	return &Trees{
		trees: make(map[hash.Sig]*Node),
		size:  max(size, 1),
	}
}

func (t *Trees) Add(input []byte, tree *Node) {
	sig := hash.Hash(input)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.trees[sig]; ok {
		t.trees[sig] = tree
		return
	}
	for len(t.trees) >= t.size && len(t.order) != 0 {
		delete(t.trees, t.order[0])
		t.order = t.order[1:]
	}
	t.trees[sig] = tree
	t.order = append(t.order, sig)
}

func (t *Trees) Remove(input []byte) {
	sig := hash.Hash(input)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.trees[sig]; !ok {
		return
	}
	delete(t.trees, sig)
	for i, s := range t.order {
		if s == sig {
			t.order = append(t.order[:i:i], t.order[i+1:]...)
			break
		}
	}
}

// Get returns the tree of the input, or nil if it's not known.
func (t *Trees) Get(input []byte) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trees[hash.Hash(input)]
}

// Random returns a random known tree, or nil if there are none.
func (t *Trees) Random(r *rand.Rand) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.order) == 0 {
		return nil
	}
	return t.trees[t.order[r.Intn(len(t.order))]]
}

func (t *Trees) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.trees)
}
