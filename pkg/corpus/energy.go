// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"math"
	"math/rand"
	"sort"
)

// energyList is a cumulative distribution of item energies for weighted selection.
// It is rebuilt lazily when items are added or after enough feedback has arrived.
type energyList struct {
	list      []*Item
	sumPrios  int64
	accPrios  []int64
	stale     bool
	feedbacks int
}

// Energy of an item is scaled by energyScale and is never below 1.
const (
	energyScale   = 1000
	rebuildPeriod = 128
)

func (el *energyList) invalidate() {
	el.stale = true
}

func (el *energyList) chooseItem(r *rand.Rand) *Item {
	if len(el.list) == 0 {
		return nil
	}
	randVal := r.Int63n(el.sumPrios)
	idx := sort.Search(len(el.accPrios), func(i int) bool {
		return el.accPrios[i] > randVal
	})
	return el.list[idx]
}

func (el *energyList) rebuild(items map[string]*Item, seq int64) {
	el.list = el.list[:0]
	for _, item := range items {
		el.list = append(el.list, item)
	}
	// Map iteration order is random, sort for reproducible choices given the same rand.
	sort.Slice(el.list, func(i, j int) bool {
		return el.list[i].Seq < el.list[j].Seq
	})
	el.accPrios = el.accPrios[:0]
	el.sumPrios = 0
	for _, item := range el.list {
		el.sumPrios += energy(item, seq, len(el.list))
		el.accPrios = append(el.accPrios, el.sumPrios)
	}
	el.stale = false
	el.feedbacks = 0
}

// energy favors items that are small, new and productive (novel children per child),
// and halves for every decay step.
func energy(item *Item, seq int64, total int) int64 {
	size := 1 / (1 + float64(len(item.Input))/256)
	age := 0.0
	if total > 1 {
		age = float64(seq-item.Seq) / float64(total)
	}
	recency := 2 - min(age, 1)
	fb := item.fb
	productivity := (1 + 4*float64(fb.novel.Load())) / (1 + float64(fb.children.Load())/32)
	productivity = max(0.25, min(productivity, 8))
	decay := math.Ldexp(1, -int(fb.decay.Load()))
	return max(1, int64(energyScale*size*recency*productivity*decay))
}

// Select makes a weighted random choice among the corpus items, nil if the corpus is empty.
func (corpus *Corpus) Select(r *rand.Rand) *Item {
	corpus.mu.Lock()
	defer corpus.mu.Unlock()
	if corpus.stale || corpus.feedbacks >= rebuildPeriod {
		corpus.rebuild(corpus.items, corpus.seq)
	}
	item := corpus.chooseItem(r)
	if item != nil {
		item.fb.chosen.Add(1)
	}
	return item
}

// Feedback accounts one executed child of item. Decay grows after DecayWindow fruitless
// children in a row and is reset by a novel child. Energy never drops to zero,
// so a decayed item can still be selected after the coverage map shifts.
func (corpus *Corpus) Feedback(item *Item, novel bool) {
	fb := item.fb
	fb.children.Add(1)
	changed := false
	if novel {
		fb.novel.Add(1)
		fb.fruitless.Store(0)
		changed = fb.decay.Swap(0) != 0
	} else if fb.fruitless.Add(1)%int64(corpus.cfg.DecayWindow) == 0 {
		for {
			old := fb.decay.Load()
			if int(old) >= corpus.cfg.MaxDecay || fb.decay.CompareAndSwap(old, old+1) {
				changed = int(old) < corpus.cfg.MaxDecay
				break
			}
		}
	}
	corpus.mu.Lock()
	if changed {
		corpus.invalidate()
	} else {
		corpus.feedbacks++
	}
	corpus.mu.Unlock()
}

// Energy returns the current selection weight of the item.
func (corpus *Corpus) Energy(item *Item) int64 {
	corpus.mu.RLock()
	defer corpus.mu.RUnlock()
	return energy(item, corpus.seq, len(corpus.items))
}
