// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"sort"

	"github.com/google/bcfuzz/pkg/signal"
)

// Minimize drops items whose signal is covered by other items.
// Smaller inputs are preferred, then older ones. The global coverage map is not changed.
// Returns the number of dropped items.
func (corpus *Corpus) Minimize() int {
	corpus.mu.Lock()
	defer corpus.mu.Unlock()

	inputs := make([]signal.Context, 0, len(corpus.items))
	for _, item := range corpus.items {
		inputs = append(inputs, signal.Context{
			Signal:  item.Signal,
			Context: item,
		})
	}
	sort.Slice(inputs, func(i, j int) bool {
		a, b := inputs[i].Context.(*Item), inputs[j].Context.(*Item)
		if len(a.Input) != len(b.Input) {
			return len(a.Input) < len(b.Input)
		}
		return a.Seq < b.Seq
	})

	before := len(corpus.items)
	corpus.items = make(map[string]*Item)
	for _, ctx := range signal.Minimize(inputs) {
		item := ctx.(*Item)
		corpus.items[item.Sig] = item
	}
	corpus.energyList.invalidate()
	dropped := before - len(corpus.items)
	corpus.cfg.Logf(0, "corpus minimization: %v -> %v items", before, len(corpus.items))
	return dropped
}
